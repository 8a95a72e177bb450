package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
)

// Process owns the one automation process shared by every session.
// Pages may be opened concurrently; Start and Close are exclusive.
type Process struct {
	launcher Launcher
	log      *zap.Logger

	mu        sync.RWMutex
	browser   *rod.Browser
	startedAt time.Time
}

func NewProcess(l Launcher, log *zap.Logger) *Process {
	return &Process{launcher: l, log: log.Named("browser")}
}

// Start launches the process if it is not already running.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(ctx)
}

func (p *Process) startLocked(ctx context.Context) error {
	if p.browser != nil {
		return nil
	}

	controlURL, err := p.launcher.Launch(ctx)
	if err != nil {
		return err
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		p.launcher.Kill()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	p.browser = b
	p.startedAt = time.Now()
	p.log.Info("browser started", zap.String("executable", p.launcher.Describe()))
	return nil
}

// Close shuts the process down. Closing a stopped process is a no-op.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Process) closeLocked() error {
	if p.browser == nil {
		return nil
	}
	if err := p.browser.Close(); err != nil {
		p.log.Warn("browser close failed", zap.Error(err))
	}
	p.browser = nil
	if err := p.launcher.Kill(); err != nil {
		return fmt.Errorf("failed to stop browser: %w", err)
	}
	p.log.Info("browser stopped")
	return nil
}

func (p *Process) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.browser != nil
}

// NewPage opens a tab in the running process.
func (p *Process) NewPage(_ context.Context, opts PageOptions) (Page, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.browser == nil {
		return nil, ErrNotRunning
	}
	return newRodPage(p.browser, opts, p.log)
}

// Executable names the binary or image backing the process.
func (p *Process) Executable() string {
	return p.launcher.Describe()
}

// Uptime reports how long the current process has been running, zero when stopped.
func (p *Process) Uptime() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.browser == nil {
		return 0
	}
	return time.Since(p.startedAt)
}
