package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/browserbase-live/pkg/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "session_state.json"))
	require.NoError(t, err)
	return s
}

func TestLoadMissingFile(t *testing.T) {
	s := newStore(t)

	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, models.SessionState{}, st)
	assert.NoFileExists(t, s.Path())
}

func TestSaveAndLoad(t *testing.T) {
	s := newStore(t)
	want := models.SessionState{URL: "https://example.com", ScrollX: 10, ScrollY: 250}

	require.NoError(t, s.Save(want))
	assert.FileExists(t, s.Path())

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestUpdateKeepsOtherFields(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(models.SessionState{URL: "https://example.com"}))

	require.NoError(t, s.Update(func(st *models.SessionState) {
		st.ScrollY = 42
	}))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", got.URL)
	assert.Equal(t, float64(42), got.ScrollY)
}

func TestUpdateRecoversFromCorruptFile(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("{not json"), 0644))

	_, err := s.Load()
	assert.Error(t, err)

	require.NoError(t, s.Update(func(st *models.SessionState) {
		st.URL = "https://example.org"
	}))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://example.org", got.URL)
}

func TestReplaceFrom(t *testing.T) {
	s := newStore(t)
	src := filepath.Join(t.TempDir(), "imported.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"url":"https://imported.test","scrollX":1,"scrollY":2}`), 0644))

	require.NoError(t, s.ReplaceFrom(src))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, models.SessionState{URL: "https://imported.test", ScrollX: 1, ScrollY: 2}, got)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0644))
	assert.Error(t, s.ReplaceFrom(bad))
}
