// Package profile exports and imports the browser profile together with the
// persisted session state, restarting the shared browser process on import.
package profile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/shehryarbajwa/browserbase-live/internal/metrics"
	"github.com/shehryarbajwa/browserbase-live/internal/state"
	"github.com/shehryarbajwa/browserbase-live/pkg/models"
)

const (
	msgImportRestarted    = "import applied and browser restarted"
	msgImportRestartAbort = "import applied but browser restart failed. Please restart the server manually."
)

// Process is the part of the browser process lifecycle an import needs.
type Process interface {
	Close() error
	Start(ctx context.Context) error
}

// Broadcaster delivers a notice to every connected session.
type Broadcaster interface {
	Broadcast(v any)
}

type Options struct {
	ProfileDir string
	// Archivers maps each format to its resolved implementation.
	Archivers map[Format]Archiver
	// ProgressInterval throttles progress broadcasts.
	ProgressInterval time.Duration
}

// Engine runs at most one export or import at a time.
type Engine struct {
	profileDir string
	archivers  map[Format]Archiver
	interval   time.Duration

	state   *state.Store
	process Process
	notify  Broadcaster
	metrics *metrics.Metrics
	log     *zap.Logger

	sem *semaphore.Weighted
}

func NewEngine(opts Options, st *state.Store, proc Process, notify Broadcaster, m *metrics.Metrics, log *zap.Logger) *Engine {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 250 * time.Millisecond
	}
	if opts.Archivers == nil {
		opts.Archivers = Resolve(DefaultArchivers()...)
	}
	return &Engine{
		profileDir: opts.ProfileDir,
		archivers:  opts.Archivers,
		interval:   opts.ProgressInterval,
		state:      st,
		process:    proc,
		notify:     notify,
		metrics:    m,
		log:        log.Named("profile"),
		sem:        semaphore.NewWeighted(1),
	}
}

// Formats lists the formats an archiver was resolved for.
func (e *Engine) Formats() []Format {
	var out []Format
	for _, f := range []Format{TarGz, Zip} {
		if _, ok := e.archivers[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func (e *Engine) archiver(f Format) (Archiver, error) {
	a, ok := e.archivers[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoArchiver, f)
	}
	return a, nil
}

// ExportJob is a reserved export. Exactly one of Run or Cancel must be called.
type ExportJob struct {
	Filename string
	Format   Format

	engine   *Engine
	archiver Archiver
	entries  []Entry
	full     bool
	release  sync.Once
}

// PrepareExport reserves the engine and collects the entries to archive so
// callers can reject the request before writing any response.
func (e *Engine) PrepareExport(full bool, format Format) (*ExportJob, error) {
	if !e.sem.TryAcquire(1) {
		return nil, ErrBusy
	}
	a, err := e.archiver(format)
	if err != nil {
		e.sem.Release(1)
		return nil, err
	}
	entries, err := CollectEntries(e.profileDir, e.state.Path(), full)
	if err != nil {
		e.sem.Release(1)
		return nil, err
	}
	return &ExportJob{
		Filename: format.Filename(),
		Format:   format,
		engine:   e,
		archiver: a,
		entries:  entries,
		full:     full,
	}, nil
}

func (j *ExportJob) done() {
	j.release.Do(func() { j.engine.sem.Release(1) })
}

// Cancel releases a job that will not be run.
func (j *ExportJob) Cancel() {
	j.done()
}

// Run streams the archive to w and broadcasts progress.
func (j *ExportJob) Run(ctx context.Context, w io.Writer) (err error) {
	e := j.engine
	defer j.done()
	defer func() { e.metrics.ObserveProfileOp("export", err) }()

	e.notify.Broadcast(models.ExportStartMessage{
		Type:     models.TypeExportStart,
		Filename: j.Filename,
		WantFull: j.full,
		Format:   string(j.Format),
	})

	progress := func(p Progress) models.ExportProgressMessage {
		return models.ExportProgressMessage{
			Type:           models.TypeExportProgress,
			ProcessedBytes: p.Bytes,
			Entries:        models.ExportEntries{Processed: p.Processed, Total: p.Total},
		}
	}
	var last Progress
	throttle := rate.Sometimes{Interval: e.interval}
	err = j.archiver.Write(ctx, w, j.entries, func(p Progress) {
		last = p
		throttle.Do(func() { e.notify.Broadcast(progress(p)) })
	})
	if err != nil {
		e.log.Error("export failed", zap.String("archiver", j.archiver.Name()), zap.Error(err))
		return fmt.Errorf("export: %w", err)
	}

	e.notify.Broadcast(progress(last))
	e.notify.Broadcast(models.SimpleMessage{Type: models.TypeExportComplete})
	e.log.Info("export complete",
		zap.String("format", string(j.Format)),
		zap.Int("entries", last.Processed),
		zap.Int64("bytes", last.Bytes))
	return nil
}

// DetectFormat identifies an uploaded archive by content, then by name.
func DetectFormat(path, name string) (Format, error) {
	if m, err := mimetype.DetectFile(path); err == nil {
		for t := m; t != nil; t = t.Parent() {
			switch {
			case t.Is("application/zip"):
				return Zip, nil
			case t.Is("application/gzip"):
				return TarGz, nil
			}
		}
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return Zip, nil
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return TarGz, nil
	}
	return "", ErrUnknownFormat
}

// Import applies an uploaded bundle and restarts the browser process. A failed
// restart still returns an OK result since the bundle was applied.
func (e *Engine) Import(ctx context.Context, archivePath, name string) (models.ImportResult, error) {
	if !e.sem.TryAcquire(1) {
		return models.ImportResult{}, ErrBusy
	}
	defer e.sem.Release(1)

	res, err := e.runImport(ctx, archivePath, name)
	e.metrics.ObserveProfileOp("import", err)
	if err != nil {
		e.log.Error("import failed", zap.String("name", name), zap.Error(err))
		e.notify.Broadcast(models.Notice(models.TypeImportError, err.Error()))
		return models.ImportResult{}, err
	}
	e.notify.Broadcast(models.ImportFinishMessage{Type: models.TypeImportFinish, ImportResult: res})
	return res, nil
}

func (e *Engine) runImport(ctx context.Context, archivePath, name string) (models.ImportResult, error) {
	var res models.ImportResult
	e.notify.Broadcast(models.ImportStartMessage{Type: models.TypeImportStart, Name: name})

	format, err := DetectFormat(archivePath, name)
	if err != nil {
		return res, err
	}
	a, err := e.archiver(format)
	if err != nil {
		return res, err
	}

	// Extract next to the live profile so the final rename stays on one device.
	parent := filepath.Dir(filepath.Clean(e.profileDir))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return res, err
	}
	tmp, err := os.MkdirTemp(parent, ".profile-import-*")
	if err != nil {
		return res, fmt.Errorf("create import dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	processed := 0
	throttle := rate.Sometimes{Interval: e.interval}
	stats, err := a.Extract(ctx, archivePath, tmp, func(entry string) {
		processed++
		throttle.Do(func() {
			e.notify.Broadcast(models.ImportProgressMessage{
				Type:             models.TypeImportProgress,
				EntriesProcessed: processed,
				Name:             entry,
			})
		})
	})
	if err != nil {
		return res, fmt.Errorf("extract %s: %w", format, err)
	}
	e.notify.Broadcast(models.ImportExtractedMessage{Type: models.TypeImportExtract, Entries: stats.Entries})
	if stats.Skipped > 0 {
		res.Notes = append(res.Notes, fmt.Sprintf("skipped %d unsafe or unsupported entries", stats.Skipped))
	}

	// The state file may live inside the profile tree, so read it before the tree moves.
	if p, ok := FindSessionState(tmp); ok {
		if err := e.state.ReplaceFrom(p); err != nil {
			res.Notes = append(res.Notes, "session state not applied: "+err.Error())
		} else {
			res.Applied.Session = true
		}
	} else {
		res.Notes = append(res.Notes, "no session state found in archive")
	}

	if err := e.process.Close(); err != nil {
		e.log.Warn("close browser before import", zap.Error(err))
	}

	if root, ok := LocateProfileRoot(tmp, MaxSearchDepth); ok {
		if err := replaceDir(root, e.profileDir); err != nil {
			e.restart(ctx)
			return res, fmt.Errorf("replace profile: %w", err)
		}
		res.Applied.Profile = true
	} else {
		res.Notes = append(res.Notes, "no profile directory found in archive")
	}

	res.OK = true
	if err := e.restart(ctx); err != nil {
		res.Message = msgImportRestartAbort
	} else {
		res.Message = msgImportRestarted
	}
	e.log.Info("import applied",
		zap.Bool("profile", res.Applied.Profile),
		zap.Bool("session", res.Applied.Session),
		zap.Int("entries", stats.Entries))
	return res, nil
}

func (e *Engine) restart(ctx context.Context) error {
	err := e.process.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.log.Error("browser restart after import failed", zap.Error(err))
	}
	return err
}
