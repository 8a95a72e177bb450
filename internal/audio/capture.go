// Package audio runs the capture subprocess whose stdout is raw PCM.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// ErrUnavailable is returned when the capture command is not installed.
var ErrUnavailable = errors.New("audio capture command not found")

// DefaultArgs captures the default pulse source as mono 48kHz s16le on stdout.
var DefaultArgs = []string{"-f", "pulse", "-i", "default", "-ac", "1", "-ar", "48000", "-f", "s16le", "pipe:1"}

const chunkSize = 4096

type Options struct {
	Command string
	Args    []string
	// OnChunk receives each PCM chunk; the slice is not reused.
	OnChunk func([]byte)
	// OnState is called whenever availability changes.
	OnState func(available bool)
}

type Capture struct {
	opts Options
	log  *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	available bool
}

func New(opts Options, log *zap.Logger) *Capture {
	if opts.Command == "" {
		opts.Command = "ffmpeg"
	}
	if opts.Args == nil {
		opts.Args = DefaultArgs
	}
	return &Capture{opts: opts, log: log.Named("audio")}
}

func (c *Capture) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

func (c *Capture) setAvailable(v bool) {
	c.available = v
	if c.opts.OnState != nil {
		c.opts.OnState(v)
	}
}

// Start launches the subprocess unless it is already running.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	bin, err := exec.LookPath(c.opts.Command)
	if err != nil {
		c.setAvailable(false)
		return fmt.Errorf("%w: %s", ErrUnavailable, c.opts.Command)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, bin, c.opts.Args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		c.setAvailable(false)
		return fmt.Errorf("start %s: %w", c.opts.Command, err)
	}

	done := make(chan struct{})
	c.cancel, c.done = cancel, done
	c.setAvailable(true)
	c.log.Info("audio capture started", zap.String("command", bin), zap.Int("pid", cmd.Process.Pid))

	go c.pump(cmd, stdout, done)
	return nil
}

func (c *Capture) pump(cmd *exec.Cmd, stdout io.Reader, done chan struct{}) {
	defer close(done)

	buf := make([]byte, chunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 && c.opts.OnChunk != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.opts.OnChunk(chunk)
		}
		if err != nil {
			break
		}
	}
	err := cmd.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	// Stop already reset state when it was the one that ended the process.
	if c.done != done {
		return
	}
	c.cancel()
	c.cancel, c.done = nil, nil
	c.setAvailable(false)
	c.log.Info("audio capture exited", zap.Error(err))
}

// Stop terminates the subprocess and waits for it to exit.
func (c *Capture) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.setAvailable(false)
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.log.Info("audio capture stopped")
}
