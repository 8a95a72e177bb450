// Package upload stores files submitted out of band and attaches them to a
// page's file input.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserbase-live/internal/browser"
	"github.com/shehryarbajwa/browserbase-live/internal/metrics"
)

// ErrNoFileInput means the page has neither a focused nor any file input.
var ErrNoFileInput = errors.New("no file input found on the page")

// Store persists uploaded files under one directory.
type Store struct {
	dir     string
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

func NewStore(dir string, m *metrics.Metrics, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &Store{dir: dir, metrics: m, log: log.Named("uploads"), now: time.Now}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Save copies r to a new file keyed by time, a random suffix and the original name.
func (s *Store) Save(originalName string, r io.Reader) (string, error) {
	name := filepath.Base(originalName)
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	key := fmt.Sprintf("%d-%s-%s", s.now().UnixMilli(), uuid.NewString()[:6], name)
	path := filepath.Join(s.dir, key)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	return path, nil
}

// Target picks the element an upload goes to: the focused file input, else
// the first file input on the page.
func Target(ctx context.Context, page browser.Page) (browser.FileInput, error) {
	in, err := page.FocusedFileInput(ctx)
	if err != nil {
		return nil, err
	}
	if in != nil {
		return in, nil
	}
	in, err = page.FirstFileInput(ctx)
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, ErrNoFileInput
	}
	return in, nil
}

// Attach sets path on the page's target file input.
func (s *Store) Attach(ctx context.Context, page browser.Page, path string) error {
	err := s.attach(ctx, page, path)
	if s.metrics != nil {
		s.metrics.ObserveUpload(err)
	}
	if err != nil {
		s.log.Info("upload not attached", zap.String("path", path), zap.Error(err))
		return err
	}
	s.log.Info("upload attached", zap.String("path", path))
	return nil
}

func (s *Store) attach(ctx context.Context, page browser.Page, path string) error {
	in, err := Target(ctx, page)
	if err != nil {
		return err
	}
	if err := in.SetFiles(ctx, []string{path}); err != nil {
		return fmt.Errorf("failed to set files: %w", err)
	}
	return nil
}
