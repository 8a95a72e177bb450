package browser

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
)

// ErrChromeNotFound means no usable Chrome or Chromium binary exists on this host.
var ErrChromeNotFound = errors.New("chrome executable not found")

// Launcher starts the automation process and returns its DevTools control URL.
type Launcher interface {
	Launch(ctx context.Context) (string, error)
	Kill() error
	// Describe returns the executable (or image) backing the process.
	Describe() string
}

var chromeCandidates = []string{
	"/usr/bin/google-chrome-stable",
	"/usr/bin/google-chrome",
	"/opt/google/chrome/google-chrome",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	"/usr/bin/chrome",
}

// FindChrome resolves the browser binary: an explicit path wins, then the
// well-known install locations, then whatever the launcher can discover.
func FindChrome(explicit string) (string, error) {
	if explicit != "" {
		if !isExecutable(explicit) {
			return "", fmt.Errorf("%w: %s is not executable", ErrChromeNotFound, explicit)
		}
		return explicit, nil
	}
	for _, p := range chromeCandidates {
		if isExecutable(p) {
			return p, nil
		}
	}
	if p, ok := launcher.LookPath(); ok {
		return p, nil
	}
	return "", ErrChromeNotFound
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}

// LocalOptions configures a Chrome process on this host.
type LocalOptions struct {
	Bin         string
	UserDataDir string
	Headful     bool
	NoSandbox   bool
}

// LaunchFlags returns the switches passed to Chrome on every start.
func LaunchFlags(noSandbox bool) map[flags.Flag][]string {
	f := map[flags.Flag][]string{
		"disable-dev-shm-usage":        nil,
		"autoplay-policy":              {"no-user-gesture-required"},
		"use-fake-ui-for-media-stream": nil,
		"disable-gpu":                  nil,
		"enable-logging":               nil,
		"disable-blink-features":       {"AutomationControlled"},
		"disable-infobars":             nil,
		"no-default-browser-check":     nil,
		"disable-extensions":           nil,
		"start-maximized":              nil,
	}
	if noSandbox {
		f[flags.NoSandbox] = nil
		f["disable-setuid-sandbox"] = nil
	}
	return f
}

// LocalLauncher runs Chrome as a child process against a persistent profile directory.
type LocalLauncher struct {
	opts LocalOptions
	l    *launcher.Launcher
}

func NewLocalLauncher(opts LocalOptions) *LocalLauncher {
	return &LocalLauncher{opts: opts}
}

// Launch ignores ctx for the process lifetime; the child must outlive the request that started it.
func (ll *LocalLauncher) Launch(_ context.Context) (string, error) {
	if err := os.MkdirAll(ll.opts.UserDataDir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create user data directory: %w", err)
	}

	l := launcher.New().
		Bin(ll.opts.Bin).
		Headless(!ll.opts.Headful).
		UserDataDir(ll.opts.UserDataDir).
		Delete("enable-automation")
	if !ll.opts.NoSandbox {
		l = l.Delete(flags.NoSandbox)
	}
	for name, values := range LaunchFlags(ll.opts.NoSandbox) {
		l = l.Set(name, values...)
	}

	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("failed to launch chrome: %w", err)
	}
	ll.l = l
	return u, nil
}

// Kill stops the child process. The profile directory is left in place.
func (ll *LocalLauncher) Kill() error {
	if ll.l != nil {
		ll.l.Kill()
		ll.l = nil
	}
	return nil
}

func (ll *LocalLauncher) Describe() string {
	return ll.opts.Bin
}
