package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

const fileInputBinding = "__fileInputActivated"

// rodPage adapts a rod page. Event streams run on a private context that is
// cancelled when the page closes.
type rodPage struct {
	page   *rod.Page
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.Logger

	screencastOnce sync.Once
}

func newRodPage(b *rod.Browser, opts PageOptions, log *zap.Logger) (*rodPage, error) {
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &rodPage{
		page:   page,
		ctx:    ctx,
		cancel: cancel,
		log:    log.With(zap.String("target", string(page.TargetID))),
	}

	if err := p.setup(opts); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *rodPage) setup(opts PageOptions) error {
	if err := p.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	if err := (proto.PageEnable{}).Call(p.page); err != nil {
		return fmt.Errorf("enable page domain: %w", err)
	}
	if err := (proto.RuntimeEnable{}).Call(p.page); err != nil {
		return fmt.Errorf("enable runtime domain: %w", err)
	}

	p.harden(opts.UserAgent)

	if opts.OnFileInput != nil {
		notify := opts.OnFileInput
		if _, err := p.page.Expose(fileInputBinding, func(gson.JSON) (interface{}, error) {
			notify()
			return nil, nil
		}); err != nil {
			return fmt.Errorf("expose file input binding: %w", err)
		}
		if _, err := p.page.EvalOnNewDocument(onNewDocument(fileInputWatcherJS(fileInputBinding))); err != nil {
			return fmt.Errorf("install file input watcher: %w", err)
		}
	}

	if opts.OnResponse != nil && opts.WantBody != nil {
		if err := (proto.NetworkEnable{}).Call(p.page); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		go p.watchResponses(opts.WantBody, opts.OnResponse)
	}
	return nil
}

// harden applies the user agent and navigator masking. Failures are logged and ignored.
func (p *rodPage) harden(userAgent string) {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if err := p.page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: "en-US,en;q=0.9",
	}); err != nil {
		p.log.Debug("user agent override failed", zap.Error(err))
	}
	if _, err := p.page.EvalOnNewDocument(onNewDocument(stealthJS)); err != nil {
		p.log.Debug("stealth script install failed", zap.Error(err))
	}
}

func (p *rodPage) watchResponses(want func(http.Header) bool, deliver func(Response)) {
	type pending struct {
		url     string
		headers http.Header
	}
	var (
		mu      sync.Mutex
		waiting = make(map[proto.NetworkRequestID]pending)
	)

	wait := p.page.Context(p.ctx).EachEvent(
		func(ev *proto.NetworkResponseReceived) {
			if ev.Response == nil {
				return
			}
			headers := toHTTPHeader(ev.Response.Headers)
			if !want(headers) {
				return
			}
			mu.Lock()
			waiting[ev.RequestID] = pending{url: ev.Response.URL, headers: headers}
			mu.Unlock()
		},
		func(ev *proto.NetworkLoadingFinished) {
			mu.Lock()
			entry, ok := waiting[ev.RequestID]
			delete(waiting, ev.RequestID)
			mu.Unlock()
			if !ok {
				return
			}

			res, err := proto.NetworkGetResponseBody{RequestID: ev.RequestID}.Call(p.page)
			if err != nil {
				p.log.Warn("response body unavailable", zap.String("url", entry.url), zap.Error(err))
				return
			}
			body := []byte(res.Body)
			if res.Base64Encoded {
				body, err = base64.StdEncoding.DecodeString(res.Body)
				if err != nil {
					p.log.Warn("response body decode failed", zap.String("url", entry.url), zap.Error(err))
					return
				}
			}
			deliver(Response{URL: entry.url, Headers: entry.headers, Body: body})
		},
		func(ev *proto.NetworkLoadingFailed) {
			mu.Lock()
			delete(waiting, ev.RequestID)
			mu.Unlock()
		},
	)
	wait()
}

func toHTTPHeader(h proto.NetworkHeaders) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out.Add(k, v.Str())
	}
	return out
}

func (p *rodPage) with(ctx context.Context) *rod.Page {
	return p.page.Context(ctx)
}

// Navigate loads url and waits for the network to settle. Hitting idleTimeout is not an error.
func (p *rodPage) Navigate(ctx context.Context, url string, idleTimeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, idleTimeout)
	defer cancel()

	page := p.with(navCtx)
	waitIdle := page.WaitRequestIdle(500*time.Millisecond, nil, nil, nil)
	if err := page.Navigate(url); err != nil {
		if navCtx.Err() != nil {
			return nil
		}
		return fmt.Errorf("navigate: %w", err)
	}
	waitIdle()
	return nil
}

func (p *rodPage) SetViewport(ctx context.Context, width, height int) error {
	return p.with(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
}

func (p *rodPage) MouseMove(ctx context.Context, x, y float64) error {
	return p.with(ctx).Mouse.MoveTo(proto.Point{X: x, Y: y})
}

func (p *rodPage) MouseDown(ctx context.Context, button string, clickCount int) error {
	return p.with(ctx).Mouse.Down(proto.InputMouseButton(button), clickCount)
}

func (p *rodPage) MouseUp(ctx context.Context, button string, clickCount int) error {
	return p.with(ctx).Mouse.Up(proto.InputMouseButton(button), clickCount)
}

func (p *rodPage) MouseClick(ctx context.Context, button string, clickCount int) error {
	return p.with(ctx).Mouse.Click(proto.InputMouseButton(button), clickCount)
}

func (p *rodPage) Wheel(ctx context.Context, deltaX, deltaY float64) error {
	return p.with(ctx).Mouse.Scroll(deltaX, deltaY, 1)
}

func (p *rodPage) DispatchWheelAtCenter(ctx context.Context, deltaX, deltaY float64) error {
	_, err := p.with(ctx).Evaluate(rod.Eval(centerWheelJS, deltaX, deltaY))
	return err
}

func (p *rodPage) ScrollPosition(ctx context.Context) (float64, float64, error) {
	res, err := p.with(ctx).Evaluate(rod.Eval(scrollPositionJS))
	if err != nil {
		return 0, 0, err
	}
	return res.Value.Get("scrollX").Num(), res.Value.Get("scrollY").Num(), nil
}

// Key events go through the page's rod keyboard, which tracks held keys so
// modifiers apply to later key and mouse events.
func (p *rodPage) KeyDown(ctx context.Context, key string) error {
	k, err := ResolveKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Keyboard.Press(k)
}

func (p *rodPage) KeyUp(ctx context.Context, key string) error {
	k, err := ResolveKey(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.page.Keyboard.Release(k)
}

func (p *rodPage) KeyPress(ctx context.Context, key string, delay time.Duration) error {
	k, err := ResolveKey(key)
	if err != nil {
		return err
	}
	if err := p.page.Keyboard.Press(k); err != nil {
		return err
	}
	if err := sleep(ctx, delay); err != nil {
		p.page.Keyboard.Release(k)
		return err
	}
	return p.page.Keyboard.Release(k)
}

// KeyType types each character, inserting characters that have no key on the layout.
func (p *rodPage) KeyType(ctx context.Context, text string, delay time.Duration) error {
	for i, r := range text {
		if i > 0 {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
		k, err := ResolveKey(string(r))
		if err != nil {
			if err := p.with(ctx).InsertText(string(r)); err != nil {
				return err
			}
			continue
		}
		if err := p.page.Keyboard.Type(k); err != nil {
			return err
		}
	}
	return nil
}

type rodFileInput struct {
	el *rod.Element
}

func (f rodFileInput) SetFiles(ctx context.Context, paths []string) error {
	return f.el.Context(ctx).SetFiles(paths)
}

func (p *rodPage) FocusedFileInput(ctx context.Context) (FileInput, error) {
	el, err := p.with(ctx).Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(focusedFileInputJS))
	var notFound *rod.ElementNotFoundError
	if errors.As(err, &notFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rodFileInput{el: el}, nil
}

func (p *rodPage) FirstFileInput(ctx context.Context) (FileInput, error) {
	els, err := p.with(ctx).Elements("input[type=file]")
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, nil
	}
	return rodFileInput{el: els.First()}, nil
}

// StartScreencast begins continuous frame capture. onFrame runs sequentially on
// one goroutine per page, and must acknowledge every frame through AckFrame.
func (p *rodPage) StartScreencast(ctx context.Context, quality int, onFrame func(Frame)) error {
	p.screencastOnce.Do(func() {
		wait := p.page.Context(p.ctx).EachEvent(func(ev *proto.PageScreencastFrame) {
			onFrame(Frame{SessionID: ev.SessionID, Data: ev.Data})
		})
		go wait()
	})

	return proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       gson.Int(quality),
		EveryNthFrame: gson.Int(1),
	}.Call(p.with(ctx))
}

func (p *rodPage) AckFrame(ctx context.Context, sessionID int) error {
	return proto.PageScreencastFrameAck{SessionID: sessionID}.Call(p.with(ctx))
}

func (p *rodPage) StopScreencast(ctx context.Context) error {
	return proto.PageStopScreencast{}.Call(p.with(ctx))
}

func (p *rodPage) Close() error {
	p.cancel()
	return p.page.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
