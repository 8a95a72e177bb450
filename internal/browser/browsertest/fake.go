// Package browsertest provides an in-memory browser.Page for tests that
// exercise sessions and handlers without launching Chrome.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shehryarbajwa/browserbase-live/internal/browser"
)

// FileInput records the files set on it.
type FileInput struct {
	mu    sync.Mutex
	files []string
}

func (f *FileInput) SetFiles(_ context.Context, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append([]string(nil), paths...)
	return nil
}

func (f *FileInput) Files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files
}

// Page records every call made to it. Wheel deltas accumulate into the
// scroll position it reports.
type Page struct {
	Opts browser.PageOptions

	// Focused and First back the file input lookups; nil means none.
	Focused *FileInput
	First   *FileInput

	NavigateErr error

	mu        sync.Mutex
	calls     []string
	url       string
	width     int
	height    int
	scrollX   float64
	scrollY   float64
	acks      []int
	onFrame   func(browser.Frame)
	capturing bool
	closed    bool
}

func (p *Page) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls in order.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Viewport() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

func (p *Page) Acks() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.acks...)
}

func (p *Page) Capturing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capturing
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Emit delivers a frame as the capture session would.
func (p *Page) Emit(f browser.Frame) {
	p.mu.Lock()
	fn := p.onFrame
	p.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

// FileInputActivated simulates page script reporting a file input click.
func (p *Page) FileInputActivated() {
	if p.Opts.OnFileInput != nil {
		p.Opts.OnFileInput()
	}
}

// Respond simulates a completed network response.
func (p *Page) Respond(res browser.Response) {
	if p.Opts.WantBody != nil && p.Opts.WantBody(res.Headers) && p.Opts.OnResponse != nil {
		p.Opts.OnResponse(res)
	}
}

func (p *Page) Navigate(_ context.Context, url string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate %s", url)
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.url = url
	p.scrollX, p.scrollY = 0, 0
	return nil
}

func (p *Page) SetViewport(_ context.Context, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("viewport %dx%d", width, height)
	p.width, p.height = width, height
	return nil
}

func (p *Page) MouseMove(_ context.Context, x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("move %g,%g", x, y)
	return nil
}

func (p *Page) MouseDown(_ context.Context, button string, clickCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("down %s %d", button, clickCount)
	return nil
}

func (p *Page) MouseUp(_ context.Context, button string, clickCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("up %s %d", button, clickCount)
	return nil
}

func (p *Page) MouseClick(_ context.Context, button string, clickCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("click %s %d", button, clickCount)
	return nil
}

func (p *Page) Wheel(_ context.Context, deltaX, deltaY float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("wheel %g,%g", deltaX, deltaY)
	p.scrollX = max(0, p.scrollX+deltaX)
	p.scrollY = max(0, p.scrollY+deltaY)
	return nil
}

func (p *Page) DispatchWheelAtCenter(_ context.Context, deltaX, deltaY float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("center-wheel %g,%g", deltaX, deltaY)
	return nil
}

func (p *Page) ScrollPosition(context.Context) (float64, float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrollX, p.scrollY, nil
}

func (p *Page) KeyPress(_ context.Context, key string, delay time.Duration) error {
	if _, err := browser.ResolveKey(key); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("press %s %s", key, delay)
	return nil
}

func (p *Page) KeyType(_ context.Context, text string, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("type %s %s", text, delay)
	return nil
}

func (p *Page) KeyDown(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("keydown %s", key)
	return nil
}

func (p *Page) KeyUp(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("keyup %s", key)
	return nil
}

func (p *Page) FocusedFileInput(context.Context) (browser.FileInput, error) {
	if p.Focused == nil {
		return nil, nil
	}
	return p.Focused, nil
}

func (p *Page) FirstFileInput(context.Context) (browser.FileInput, error) {
	if p.First == nil {
		return nil, nil
	}
	return p.First, nil
}

func (p *Page) StartScreencast(_ context.Context, quality int, onFrame func(browser.Frame)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screencast start %d", quality)
	p.onFrame = onFrame
	p.capturing = true
	return nil
}

func (p *Page) AckFrame(_ context.Context, sessionID int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acks = append(p.acks, sessionID)
	return nil
}

func (p *Page) StopScreencast(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screencast stop")
	p.capturing = false
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Opener hands out a new Page for every request.
type Opener struct {
	// Prepare, when set, configures each page before it is returned.
	Prepare func(*Page)
	Err     error

	mu    sync.Mutex
	pages []*Page
}

func (o *Opener) NewPage(_ context.Context, opts browser.PageOptions) (browser.Page, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return nil, o.Err
	}
	p := &Page{Opts: opts, width: opts.Width, height: opts.Height, url: "about:blank"}
	if o.Prepare != nil {
		o.Prepare(p)
	}
	o.pages = append(o.pages, p)
	return p, nil
}

// Pages returns every page opened so far, oldest first.
func (o *Opener) Pages() []*Page {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*Page(nil), o.pages...)
}

// Last returns the most recently opened page, or nil.
func (o *Opener) Last() *Page {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pages) == 0 {
		return nil
	}
	return o.pages[len(o.pages)-1]
}
