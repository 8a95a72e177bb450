// Package download captures attachment responses to disk and hands them out by token.
package download

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserbase-live/internal/browser"
	"github.com/shehryarbajwa/browserbase-live/internal/metrics"
)

var (
	// ErrTokenNotFound is returned for unknown or expired tokens.
	ErrTokenNotFound = errors.New("download token not found")
	// ErrFileMissing means the token is live but its file is gone from disk.
	ErrFileMissing = errors.New("download file missing")
)

// Token describes one captured download.
type Token struct {
	Token     string
	Path      string
	Filename  string
	MIME      string
	Size      int64
	CreatedAt time.Time
}

// Store keeps captured downloads for a bounded time. Evicted entries lose their file.
type Store struct {
	dir     string
	tokens  *expirable.LRU[string, Token]
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewStore creates dir if needed. maxEntries of zero means no size cap.
func NewStore(dir string, maxEntries int, ttl time.Duration, m *metrics.Metrics, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create downloads directory: %w", err)
	}
	s := &Store{dir: dir, metrics: m, log: log.Named("downloads"), now: time.Now}
	s.tokens = expirable.NewLRU[string, Token](maxEntries, s.evicted, ttl)
	return s, nil
}

func (s *Store) evicted(key string, t Token) {
	if err := os.Remove(t.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("failed to remove evicted download", zap.String("token", key), zap.Error(err))
	}
}

// IsAttachment reports whether the response headers mark an attachment.
func (s *Store) IsAttachment(h http.Header) bool {
	return IsAttachment(h)
}

func IsAttachment(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Content-Disposition")), "attachment")
}

// Capture writes the response body to disk and registers a token for it.
func (s *Store) Capture(res browser.Response) (Token, error) {
	t, err := s.capture(res)
	if s.metrics != nil {
		s.metrics.ObserveDownload(err)
	}
	return t, err
}

func (s *Store) capture(res browser.Response) (Token, error) {
	filename := ParseFilename(res.Headers.Get("Content-Disposition"))
	id := uuid.NewString()
	now := s.now()

	path := filepath.Join(s.dir, fmt.Sprintf("%d-%s-%s", now.UnixMilli(), id[:8], SanitizeFilename(filename)))
	if err := os.WriteFile(path, res.Body, 0o644); err != nil {
		return Token{}, fmt.Errorf("failed to store download: %w", err)
	}

	contentType := res.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = mimetype.Detect(res.Body).String()
	}

	t := Token{
		Token:     id,
		Path:      path,
		Filename:  filename,
		MIME:      contentType,
		Size:      int64(len(res.Body)),
		CreatedAt: now,
	}
	s.tokens.Add(id, t)
	s.log.Info("download captured",
		zap.String("token", id),
		zap.String("filename", filename),
		zap.String("url", res.URL),
		zap.Int64("size", t.Size),
	)
	return t, nil
}

// Lookup returns the token without consuming it.
func (s *Store) Lookup(token string) (Token, error) {
	t, ok := s.tokens.Get(token)
	if !ok {
		return Token{}, ErrTokenNotFound
	}
	return t, nil
}

// Open returns the stored file for a live token. The caller closes it.
func (s *Store) Open(token string) (*os.File, Token, error) {
	t, err := s.Lookup(token)
	if err != nil {
		return nil, Token{}, err
	}
	f, err := os.Open(t.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Token{}, ErrFileMissing
		}
		return nil, Token{}, err
	}
	return f, t, nil
}

func (s *Store) Len() int {
	return s.tokens.Len()
}

var (
	extendedFilename = regexp.MustCompile(`(?i)filename\*=UTF-8''([^;]+)`)
	plainFilename    = regexp.MustCompile(`(?i)filename="?([^";]+)"?`)
	unsafeChars      = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// ParseFilename extracts the attachment filename, preferring the RFC 5987
// extended parameter. It returns "download" when none is present.
func ParseFilename(contentDisposition string) string {
	if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
		if name := params["filename"]; name != "" {
			return name
		}
	}
	if m := extendedFilename.FindStringSubmatch(contentDisposition); m != nil {
		if name, err := url.PathUnescape(strings.TrimSpace(m[1])); err == nil && name != "" {
			return name
		}
	}
	if m := plainFilename.FindStringSubmatch(contentDisposition); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}
	return "download"
}

// SanitizeFilename maps anything outside [a-zA-Z0-9._-] to an underscore.
func SanitizeFilename(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// ContentDisposition formats an attachment header for name.
func ContentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return `attachment; filename="` + SanitizeFilename(name) + `"`
}
