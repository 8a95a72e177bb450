package download

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserbase-live/internal/browser"
	"github.com/shehryarbajwa/browserbase-live/internal/metrics"
)

func newTestStore(t *testing.T, maxEntries int) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "downloads"), maxEntries, time.Hour, metrics.New(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func response(disposition, contentType string, body []byte) browser.Response {
	h := http.Header{}
	if disposition != "" {
		h.Set("Content-Disposition", disposition)
	}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return browser.Response{URL: "https://example.com/file", Headers: h, Body: body}
}

func TestParseFilename(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{`attachment; filename="report.pdf"`, "report.pdf"},
		{`attachment; filename=report.pdf`, "report.pdf"},
		{`attachment; filename*=UTF-8''r%C3%A9sum%C3%A9.pdf`, "résumé.pdf"},
		{`attachment; filename="fallback.pdf"; filename*=UTF-8''preferred.pdf`, "preferred.pdf"},
		{`attachment`, "download"},
		{`attachment; filename="broken`, "broken"},
		{``, "download"},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFilename(tt.header))
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", SanitizeFilename("report.pdf"))
	assert.Equal(t, "my_report__1_.pdf", SanitizeFilename("my report (1).pdf"))
	assert.Equal(t, ".._.._etc_passwd", SanitizeFilename("../../etc/passwd"))
}

func TestIsAttachment(t *testing.T) {
	h := http.Header{}
	assert.False(t, IsAttachment(h))
	h.Set("Content-Disposition", "inline")
	assert.False(t, IsAttachment(h))
	h.Set("Content-Disposition", `ATTACHMENT; filename="x"`)
	assert.True(t, IsAttachment(h))
}

func TestCaptureAndOpen(t *testing.T) {
	s := newTestStore(t, 10)
	body := []byte("%PDF-1.4 report body")

	tok, err := s.Capture(response(`attachment; filename="report.pdf"`, "application/pdf", body))
	require.NoError(t, err)

	assert.NotEmpty(t, tok.Token)
	assert.Equal(t, "report.pdf", tok.Filename)
	assert.Equal(t, "application/pdf", tok.MIME)
	assert.Equal(t, int64(len(body)), tok.Size)
	assert.True(t, strings.HasSuffix(tok.Path, "-report.pdf"))

	f, got, err := s.Open(tok.Token)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, body, data)
	assert.Equal(t, tok, got)

	// Retrieval does not consume the token.
	_, err = s.Lookup(tok.Token)
	assert.NoError(t, err)
}

func TestCaptureSniffsMissingContentType(t *testing.T) {
	s := newTestStore(t, 10)

	tok, err := s.Capture(response(`attachment; filename="image.png"`, "", []byte("\x89PNG\r\n\x1a\n0000")))
	require.NoError(t, err)
	assert.Equal(t, "image/png", tok.MIME)
}

func TestUnknownToken(t *testing.T) {
	s := newTestStore(t, 10)

	_, err := s.Lookup("nope")
	assert.ErrorIs(t, err, ErrTokenNotFound)
	_, _, err = s.Open("nope")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestMissingFile(t *testing.T) {
	s := newTestStore(t, 10)
	tok, err := s.Capture(response(`attachment; filename="a.txt"`, "text/plain", []byte("a")))
	require.NoError(t, err)
	require.NoError(t, os.Remove(tok.Path))

	_, _, err = s.Open(tok.Token)
	assert.ErrorIs(t, err, ErrFileMissing)
}

func TestEvictionRemovesFile(t *testing.T) {
	s := newTestStore(t, 1)
	first, err := s.Capture(response(`attachment; filename="a.txt"`, "text/plain", []byte("a")))
	require.NoError(t, err)
	second, err := s.Capture(response(`attachment; filename="b.txt"`, "text/plain", []byte("b")))
	require.NoError(t, err)

	assert.Equal(t, 1, s.Len())
	_, err = s.Lookup(first.Token)
	assert.ErrorIs(t, err, ErrTokenNotFound)
	assert.NoFileExists(t, first.Path)
	assert.FileExists(t, second.Path)
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, `attachment; filename=report.pdf`, ContentDisposition("report.pdf"))
	assert.Contains(t, ContentDisposition("my report.pdf"), `filename="my report.pdf"`)
	assert.Contains(t, ContentDisposition("résumé.pdf"), "filename*=utf-8''r%C3%A9sum%C3%A9.pdf")
}
