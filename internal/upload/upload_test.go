package upload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserbase-live/internal/browser"
	"github.com/shehryarbajwa/browserbase-live/internal/metrics"
)

type fakeInput struct {
	name  string
	files []string
}

func (f *fakeInput) SetFiles(_ context.Context, paths []string) error {
	f.files = paths
	return nil
}

// inputPage only implements the file input lookups.
type inputPage struct {
	browser.Page
	focused *fakeInput
	first   *fakeInput
}

func (p *inputPage) FocusedFileInput(context.Context) (browser.FileInput, error) {
	if p.focused == nil {
		return nil, nil
	}
	return p.focused, nil
}

func (p *inputPage) FirstFileInput(context.Context) (browser.FileInput, error) {
	if p.first == nil {
		return nil, nil
	}
	return p.first, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "uploads"), metrics.New(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestSave(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Save("photo.jpg", strings.NewReader("jpeg bytes"))
	require.NoError(t, err)
	b, err := s.Save("photo.jpg", strings.NewReader("other bytes"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, s.Dir(), filepath.Dir(a))
	assert.True(t, strings.HasSuffix(a, "-photo.jpg"))

	data, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))
}

func TestSaveStripsDirectories(t *testing.T) {
	s := newTestStore(t)

	path, err := s.Save("../../evil.sh", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, s.Dir(), filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, "-evil.sh"))
}

func TestAttachPrefersFocusedInput(t *testing.T) {
	s := newTestStore(t)
	page := &inputPage{focused: &fakeInput{name: "focused"}, first: &fakeInput{name: "first"}}

	require.NoError(t, s.Attach(context.Background(), page, "/tmp/file"))
	assert.Equal(t, []string{"/tmp/file"}, page.focused.files)
	assert.Nil(t, page.first.files)
}

func TestAttachFallsBackToFirstInput(t *testing.T) {
	s := newTestStore(t)
	page := &inputPage{first: &fakeInput{name: "first"}}

	require.NoError(t, s.Attach(context.Background(), page, "/tmp/file"))
	assert.Equal(t, []string{"/tmp/file"}, page.first.files)
}

func TestAttachWithoutInput(t *testing.T) {
	s := newTestStore(t)

	err := s.Attach(context.Background(), &inputPage{}, "/tmp/file")
	assert.ErrorIs(t, err, ErrNoFileInput)
}
