package profile

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserbase-live/internal/metrics"
	"github.com/shehryarbajwa/browserbase-live/internal/state"
	"github.com/shehryarbajwa/browserbase-live/pkg/models"
)

type fakeProcess struct {
	mu       sync.Mutex
	closes   int
	starts   int
	startErr error
}

func (p *fakeProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakeProcess) Start(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	return p.startErr
}

type recorder struct {
	mu   sync.Mutex
	msgs []any
}

func (r *recorder) Broadcast(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, v)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		switch v := m.(type) {
		case models.ExportStartMessage:
			out = append(out, v.Type)
		case models.ExportProgressMessage:
			out = append(out, v.Type)
		case models.SimpleMessage:
			out = append(out, v.Type)
		case models.ImportStartMessage:
			out = append(out, v.Type)
		case models.ImportProgressMessage:
			out = append(out, v.Type)
		case models.ImportExtractedMessage:
			out = append(out, v.Type)
		case models.ImportFinishMessage:
			out = append(out, v.Type)
		case models.NoticeMessage:
			out = append(out, v.Type)
		}
	}
	return out
}

type instance struct {
	engine  *Engine
	state   *state.Store
	process *fakeProcess
	notify  *recorder
	profile string
}

func newInstance(t *testing.T) *instance {
	t.Helper()
	dir := t.TempDir()
	st, err := state.NewStore(filepath.Join(dir, "session_state.json"))
	require.NoError(t, err)
	proc := &fakeProcess{}
	rec := &recorder{}
	profileDir := filepath.Join(dir, "chrome-profile")
	e := NewEngine(Options{
		ProfileDir: profileDir,
		Archivers:  Resolve(NativeTarGz{}, NativeZip{}),
	}, st, proc, rec, metrics.New(), zap.NewNop())
	return &instance{engine: e, state: st, process: proc, notify: rec, profile: profileDir}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func seedProfile(t *testing.T, dir string) {
	writeFile(t, filepath.Join(dir, "Default", "Preferences"), `{"homepage":"x"}`)
	writeFile(t, filepath.Join(dir, "Default", "Bookmarks"), `{}`)
	writeFile(t, filepath.Join(dir, "Default", "Cache", "data_0"), "cache")
	writeFile(t, filepath.Join(dir, "Default", "Notes.txt"), "notes")
	writeFile(t, filepath.Join(dir, "SingletonLock"), "lock")
}

func export(t *testing.T, in *instance, full bool, format Format) []byte {
	t.Helper()
	job, err := in.engine.PrepareExport(full, format)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, job.Run(context.Background(), &buf))
	return buf.Bytes()
}

func TestExportImportRoundTrip(t *testing.T) {
	for _, format := range []Format{TarGz, Zip} {
		t.Run(string(format), func(t *testing.T) {
			src := newInstance(t)
			seedProfile(t, src.profile)
			want := models.SessionState{URL: "https://example.com/page", ScrollX: 3, ScrollY: 240}
			require.NoError(t, src.state.Save(want))

			data := export(t, src, true, format)
			sent := src.notify.types()
			require.GreaterOrEqual(t, len(sent), 3)
			assert.Equal(t, models.TypeExportStart, sent[0])
			assert.Equal(t, models.TypeExportProgress, sent[len(sent)-2])
			assert.Equal(t, models.TypeExportComplete, sent[len(sent)-1])

			dst := newInstance(t)
			archive := filepath.Join(t.TempDir(), format.Filename())
			require.NoError(t, os.WriteFile(archive, data, 0o644))

			res, err := dst.engine.Import(context.Background(), archive, format.Filename())
			require.NoError(t, err)
			assert.True(t, res.OK)
			assert.Equal(t, "import applied and browser restarted", res.Message)
			assert.Equal(t, models.ImportApplied{Profile: true, Session: true}, res.Applied)

			got, err := dst.state.Load()
			require.NoError(t, err)
			assert.Equal(t, want, got)

			assert.FileExists(t, filepath.Join(dst.profile, "Default", "Preferences"))
			assert.FileExists(t, filepath.Join(dst.profile, "Default", "Notes.txt"))
			assert.NoFileExists(t, filepath.Join(dst.profile, "Default", "Cache", "data_0"))
			assert.NoFileExists(t, filepath.Join(dst.profile, "SingletonLock"))

			info, err := os.Stat(dst.profile)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())

			assert.Equal(t, 1, dst.process.closes)
			assert.Equal(t, 1, dst.process.starts)
			types := dst.notify.types()
			assert.Equal(t, models.TypeImportStart, types[0])
			assert.Contains(t, types, models.TypeImportExtract)
			assert.Equal(t, models.TypeImportFinish, types[len(types)-1])
		})
	}
}

func TestMinimalExportUsesAllowList(t *testing.T) {
	in := newInstance(t)
	seedProfile(t, in.profile)

	entries, err := CollectEntries(in.profile, in.state.Path(), false)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"profile/Default/Bookmarks", "profile/Default/Preferences"}, names)
}

func TestExportNothing(t *testing.T) {
	in := newInstance(t)
	_, err := in.engine.PrepareExport(true, TarGz)
	assert.ErrorIs(t, err, ErrNothingToExport)

	// The failed attempt must not hold the engine.
	require.NoError(t, in.state.Save(models.SessionState{URL: "https://example.com"}))
	job, err := in.engine.PrepareExport(true, TarGz)
	require.NoError(t, err)
	job.Cancel()
}

func TestExportIsExclusive(t *testing.T) {
	in := newInstance(t)
	require.NoError(t, in.state.Save(models.SessionState{URL: "https://example.com"}))

	job, err := in.engine.PrepareExport(false, Zip)
	require.NoError(t, err)

	_, err = in.engine.PrepareExport(false, Zip)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = in.engine.Import(context.Background(), "missing.zip", "missing.zip")
	assert.ErrorIs(t, err, ErrBusy)

	job.Cancel()
	job.Cancel()
	again, err := in.engine.PrepareExport(false, Zip)
	require.NoError(t, err)
	again.Cancel()
}

func TestExportWithoutArchiver(t *testing.T) {
	in := newInstance(t)
	in.engine.archivers = Resolve(NativeTarGz{})
	require.NoError(t, in.state.Save(models.SessionState{URL: "https://example.com"}))

	_, err := in.engine.PrepareExport(true, Zip)
	assert.ErrorIs(t, err, ErrNoArchiver)
	assert.Equal(t, []Format{TarGz}, in.engine.Formats())
}

func TestImportRestartFailureIsDegradedSuccess(t *testing.T) {
	src := newInstance(t)
	seedProfile(t, src.profile)
	data := export(t, src, true, TarGz)

	dst := newInstance(t)
	dst.process.startErr = errors.New("chrome exited")
	archive := filepath.Join(t.TempDir(), "bundle.tar.gz")
	require.NoError(t, os.WriteFile(archive, data, 0o644))

	res, err := dst.engine.Import(context.Background(), archive, "bundle.tar.gz")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "import applied but browser restart failed. Please restart the server manually.", res.Message)
	assert.True(t, res.Applied.Profile)
	assert.False(t, res.Applied.Session)
	assert.Contains(t, res.Notes, "no session state found in archive")
}

func TestImportRejectsGarbage(t *testing.T) {
	in := newInstance(t)
	archive := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(archive, []byte("plain text"), 0o644))

	_, err := in.engine.Import(context.Background(), archive, "notes.txt")
	assert.ErrorIs(t, err, ErrUnknownFormat)
	assert.Equal(t, []string{models.TypeImportStart, models.TypeImportError}, in.notify.types())
	assert.Zero(t, in.process.closes)
}

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestExtractSkipsTraversal(t *testing.T) {
	base := t.TempDir()
	archive := filepath.Join(base, "evil.tar.gz")
	require.NoError(t, os.WriteFile(archive, tarGz(t, map[string]string{
		"../escape.txt":               "x",
		"profile/../../also.txt":      "x",
		"/abs.txt":                    "x",
		"profile/Default/Preferences": "{}",
	}), 0o644))

	dest := filepath.Join(base, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	stats, err := NativeTarGz{}.Extract(context.Background(), archive, dest, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 3, stats.Skipped)
	assert.FileExists(t, filepath.Join(dest, "profile", "Default", "Preferences"))
	assert.NoFileExists(t, filepath.Join(base, "escape.txt"))
	assert.NoFileExists(t, filepath.Join(base, "also.txt"))
}

func TestImportNotesSkippedEntries(t *testing.T) {
	in := newInstance(t)
	archive := filepath.Join(t.TempDir(), "bundle.tar.gz")
	require.NoError(t, os.WriteFile(archive, tarGz(t, map[string]string{
		"../escape.txt":              "x",
		"wrapper/SESSION_STATE.JSON": `{"url":"https://example.org","scrollX":0,"scrollY":9}`,
		"wrapper/inner/Preferences":  "{}",
	}), 0o644))

	res, err := in.engine.Import(context.Background(), archive, "bundle.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, models.ImportApplied{Profile: true, Session: true}, res.Applied)
	assert.Contains(t, res.Notes, "skipped 1 unsafe or unsupported entries")
	assert.FileExists(t, filepath.Join(in.profile, "Preferences"))

	st, err := in.state.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://example.org", st.URL)
	assert.Equal(t, 9.0, st.ScrollY)
}

func TestSafeEntryName(t *testing.T) {
	tests := []struct {
		in   string
		want string
		bad  bool
	}{
		{in: "profile/Default/Preferences", want: "profile/Default/Preferences"},
		{in: "./profile//x", want: "profile/x"},
		{in: "./", want: ""},
		{in: "../x", bad: true},
		{in: "a/../../x", bad: true},
		{in: "/etc/passwd", bad: true},
		{in: `C:\Windows`, bad: true},
		{in: `a\..\b`, bad: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := safeEntryName(tt.in)
			if tt.bad {
				assert.ErrorIs(t, err, ErrUnsafePath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocateProfileRoot(t *testing.T) {
	t.Run("named child", func(t *testing.T) {
		base := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(base, "profile"), 0o755))
		got, ok := LocateProfileRoot(base, MaxSearchDepth)
		require.True(t, ok)
		assert.Equal(t, filepath.Join(base, "profile"), got)
	})
	t.Run("marker below wrapper", func(t *testing.T) {
		base := t.TempDir()
		writeFile(t, filepath.Join(base, "export", "data", "Bookmarks"), "{}")
		got, ok := LocateProfileRoot(base, MaxSearchDepth)
		require.True(t, ok)
		assert.Equal(t, filepath.Join(base, "export", "data"), got)
	})
	t.Run("too deep", func(t *testing.T) {
		base := t.TempDir()
		writeFile(t, filepath.Join(base, "a", "b", "c", "d", "Preferences"), "{}")
		_, ok := LocateProfileRoot(base, MaxSearchDepth)
		assert.False(t, ok)
	})
	t.Run("nothing", func(t *testing.T) {
		base := t.TempDir()
		writeFile(t, filepath.Join(base, "readme.txt"), "hi")
		_, ok := LocateProfileRoot(base, MaxSearchDepth)
		assert.False(t, ok)
	})
}

func TestFindSessionStatePrefersShallowest(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "a", "b", "session_state.json"), "{}")
	writeFile(t, filepath.Join(base, "z", "Session_State.json"), "{}")

	got, ok := FindSessionState(base)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(base, "z", "Session_State.json"), got)

	_, ok = FindSessionState(t.TempDir())
	assert.False(t, ok)
}

func TestReplaceDirKeepsBackupOnFailure(t *testing.T) {
	base := t.TempDir()
	dst := filepath.Join(base, "live")
	writeFile(t, filepath.Join(dst, "Preferences"), "old")

	err := replaceDir(filepath.Join(base, "does-not-exist"), dst)
	require.Error(t, err)
	data, err := os.ReadFile(filepath.Join(dst, "Preferences"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestCopyTree(t *testing.T) {
	base := t.TempDir()
	src := filepath.Join(base, "src")
	writeFile(t, filepath.Join(src, "Default", "Preferences"), "prefs")
	writeFile(t, filepath.Join(src, "Local State"), "state")

	dst := filepath.Join(base, "dst")
	require.NoError(t, copyTree(src, dst))
	data, err := os.ReadFile(filepath.Join(dst, "Default", "Preferences"))
	require.NoError(t, err)
	assert.Equal(t, "prefs", string(data))
	assert.FileExists(t, filepath.Join(dst, "Local State"))
}

func TestCLIArchiversRoundTrip(t *testing.T) {
	for _, a := range []Archiver{CLITarGz{}, CLIZip{}} {
		t.Run(a.Name(), func(t *testing.T) {
			if !a.Available() {
				t.Skipf("%s not installed", a.Name())
			}
			base := t.TempDir()
			src := filepath.Join(base, "Preferences")
			writeFile(t, src, "prefs")

			var buf bytes.Buffer
			require.NoError(t, a.Write(context.Background(), &buf, []Entry{{Name: "profile/Default/Preferences", Path: src}}, nil))
			archive := filepath.Join(base, a.Format().Filename())
			require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

			dest := filepath.Join(base, "out")
			require.NoError(t, os.MkdirAll(dest, 0o755))
			var seen []string
			_, err := a.Extract(context.Background(), archive, dest, func(n string) { seen = append(seen, n) })
			require.NoError(t, err)
			assert.Contains(t, seen, "profile/Default/Preferences")
			data, err := os.ReadFile(filepath.Join(dest, "profile", "Default", "Preferences"))
			require.NoError(t, err)
			assert.Equal(t, "prefs", string(data))
		})
	}
}
