// Package browser owns the single shared automation process and adapts its
// pages to the narrow Page interface the rest of the server drives.
package browser

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNotRunning is returned when a page is requested while the automation process is down.
var ErrNotRunning = errors.New("automation process is not running")

// Frame is one screencast image delivered by the capture session.
type Frame struct {
	SessionID int
	Data      []byte
}

// Response is a completed network response whose body was buffered.
type Response struct {
	URL     string
	Headers http.Header
	Body    []byte
}

// FileInput is an <input type=file> element that can receive server-side files.
type FileInput interface {
	SetFiles(ctx context.Context, paths []string) error
}

// Page is one tab inside the automation process.
type Page interface {
	Navigate(ctx context.Context, url string, idleTimeout time.Duration) error
	SetViewport(ctx context.Context, width, height int) error

	MouseMove(ctx context.Context, x, y float64) error
	MouseDown(ctx context.Context, button string, clickCount int) error
	MouseUp(ctx context.Context, button string, clickCount int) error
	MouseClick(ctx context.Context, button string, clickCount int) error
	Wheel(ctx context.Context, deltaX, deltaY float64) error
	DispatchWheelAtCenter(ctx context.Context, deltaX, deltaY float64) error
	ScrollPosition(ctx context.Context) (x, y float64, err error)

	KeyPress(ctx context.Context, key string, delay time.Duration) error
	KeyType(ctx context.Context, text string, delay time.Duration) error
	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error

	// FocusedFileInput returns nil when the focused element is not a file input.
	FocusedFileInput(ctx context.Context) (FileInput, error)
	// FirstFileInput returns nil when the page has no file input.
	FirstFileInput(ctx context.Context) (FileInput, error)

	StartScreencast(ctx context.Context, quality int, onFrame func(Frame)) error
	AckFrame(ctx context.Context, sessionID int) error
	StopScreencast(ctx context.Context) error

	Close() error
}

// PageOptions configures a freshly opened page before its first navigation.
type PageOptions struct {
	Width     int
	Height    int
	UserAgent string

	// OnFileInput fires when page script reports a file input being focused or clicked.
	OnFileInput func()

	// WantBody decides from headers alone whether a response body should be buffered.
	WantBody func(http.Header) bool
	// OnResponse receives responses accepted by WantBody once their body is complete.
	OnResponse func(Response)
}

// DefaultUserAgent is presented by every page instead of the headless default.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.0.0 Safari/537.36"
