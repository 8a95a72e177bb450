// Package screencast decides, frame by frame, what a tab's capture stream
// forwards to its client.
package screencast

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shehryarbajwa/browserbase-live/internal/browser"
	"github.com/shehryarbajwa/browserbase-live/internal/metrics"
)

// Outcome is what happened to one captured frame.
type Outcome string

const (
	Forwarded Outcome = "forwarded"
	Inactive  Outcome = "inactive"
	RateLimit Outcome = "rate"
	Busy      Outcome = "busy"
	SendError Outcome = "send_error"
)

// Acker acknowledges frames back to the capture session.
type Acker interface {
	AckFrame(ctx context.Context, sessionID int) error
}

// Sink transmits one binary frame and returns once it has been written.
type Sink interface {
	SendBinary(data []byte) error
}

// defaultInterval caps forwarding at 15 fps.
var defaultInterval = time.Duration(math.Ceil(float64(time.Second) / 15))

// Options tune a Pipeline. Zero values fall back to a 15 fps cap and the wall clock.
type Options struct {
	Interval time.Duration
	Now      func() time.Time
	Metrics  *metrics.Metrics
	Log      *zap.Logger
}

// Pipeline gates one tab's frames. Every frame is acknowledged; at most one
// forwarded frame is in flight and forwarded frames are spaced by Interval.
type Pipeline struct {
	acker  Acker
	sink   Sink
	active func() bool

	limiter  *rate.Limiter
	inFlight atomic.Bool
	sends    sync.WaitGroup

	now     func() time.Time
	metrics *metrics.Metrics
	log     *zap.Logger
}

func New(acker Acker, sink Sink, active func() bool, opts Options) *Pipeline {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Pipeline{
		acker:   acker,
		sink:    sink,
		active:  active,
		limiter: rate.NewLimiter(rate.Every(opts.Interval), 1),
		now:     opts.Now,
		metrics: opts.Metrics,
		log:     opts.Log,
	}
}

// HandleFrame acknowledges f and forwards it if the tab is active, the
// interval has elapsed and no earlier frame is still being sent.
func (p *Pipeline) HandleFrame(ctx context.Context, f browser.Frame) Outcome {
	err := p.acker.AckFrame(ctx, f.SessionID)
	if err != nil {
		p.log.Debug("frame ack failed", zap.Int("session", f.SessionID), zap.Error(err))
	}
	if p.metrics != nil {
		p.metrics.ObserveAck(err)
	}

	outcome := p.gate(f)
	p.observe(outcome)
	return outcome
}

func (p *Pipeline) gate(f browser.Frame) Outcome {
	if !p.active() {
		return Inactive
	}
	now := p.now()
	if p.limiter.TokensAt(now) < 1 {
		return RateLimit
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		return Busy
	}
	p.limiter.AllowN(now, 1)

	p.sends.Add(1)
	go func() {
		defer p.sends.Done()
		defer p.inFlight.Store(false)
		if err := p.sink.SendBinary(f.Data); err != nil {
			p.log.Debug("frame send failed", zap.Error(err))
			p.observe(SendError)
		}
	}()
	return Forwarded
}

func (p *Pipeline) observe(o Outcome) {
	if p.metrics != nil {
		p.metrics.ObserveFrame(string(o))
	}
}

// InFlight reports whether a forwarded frame is still being transmitted.
func (p *Pipeline) InFlight() bool {
	return p.inFlight.Load()
}

// Wait blocks until every forwarded frame has finished sending.
func (p *Pipeline) Wait() {
	p.sends.Wait()
}
