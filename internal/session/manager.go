// Package session owns connected clients, their tabs, and the translation of
// client commands into page actions.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/browserbase-live/internal/browser"
	"github.com/shehryarbajwa/browserbase-live/internal/download"
	"github.com/shehryarbajwa/browserbase-live/internal/metrics"
	"github.com/shehryarbajwa/browserbase-live/internal/screencast"
	"github.com/shehryarbajwa/browserbase-live/internal/state"
	"github.com/shehryarbajwa/browserbase-live/pkg/models"
)

// PageOpener creates pages in the shared automation process.
type PageOpener interface {
	NewPage(ctx context.Context, opts browser.PageOptions) (browser.Page, error)
}

// Downloads captures attachment responses and resolves tokens.
type Downloads interface {
	IsAttachment(h http.Header) bool
	Capture(res browser.Response) (download.Token, error)
	Lookup(token string) (download.Token, error)
}

// Options are the per-tab defaults applied by the manager. A zero
// FrameInterval keeps the screencast pipeline's default spacing.
type Options struct {
	DefaultURL        string
	Width             int
	Height            int
	MaxFPS            int
	FrameInterval     time.Duration
	JPEGQuality       int
	NavigationTimeout time.Duration
	UserAgent         string
}

// Manager handles all session operations
type Manager struct {
	opener    PageOpener
	state     *state.Store
	downloads Downloads
	opts      Options
	metrics   *metrics.Metrics
	log       *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a new session manager
func NewManager(opener PageOpener, st *state.Store, downloads Downloads, opts Options, m *metrics.Metrics, log *zap.Logger) *Manager {
	if opts.DefaultURL == "" {
		opts.DefaultURL = "https://www.google.com"
	}
	if opts.MaxFPS <= 0 {
		opts.MaxFPS = 15
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	return &Manager{
		opener:    opener,
		state:     st,
		downloads: downloads,
		opts:      opts,
		metrics:   m,
		log:       log.Named("sessions"),
		sessions:  make(map[string]*Session),
	}
}

func newID() string {
	return uuid.NewString()[:8]
}

// CreateSession registers a client and opens its first tab at the persisted
// URL, or the default URL when none was saved.
func (m *Manager) CreateSession(ctx context.Context, client Client) (*Session, error) {
	s := newSession(newID(), client, m.log)

	startURL := m.opts.DefaultURL
	if st, err := m.state.Load(); err != nil {
		m.log.Warn("failed to load session state", zap.Error(err))
	} else if st.URL != "" {
		startURL = st.URL
	}

	if _, err := m.openTab(ctx, s, startURL); err != nil {
		return nil, fmt.Errorf("failed to open first tab: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.SessionsActive.Inc()
	}

	m.log.Info("session created", zap.String("session", s.ID), zap.String("url", startURL))
	return s, nil
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// CloseSession discards the session and closes every tab it owned.
func (m *Manager) CloseSession(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if m.metrics != nil {
		m.metrics.SessionsActive.Dec()
	}

	err := m.closeTabs(ctx, s.detachAll())
	if err != nil {
		m.log.Warn("session teardown incomplete", zap.String("session", id), zap.Error(err))
	}
	m.log.Info("session closed", zap.String("session", id))
	return err
}

func (m *Manager) closeTabs(ctx context.Context, tabs []*Tab) error {
	var g errgroup.Group
	for _, t := range tabs {
		t := t
		g.Go(func() error {
			return m.closeTab(ctx, t)
		})
	}
	return g.Wait()
}

func (m *Manager) closeTab(ctx context.Context, t *Tab) error {
	if m.metrics != nil {
		m.metrics.TabsActive.Dec()
	}
	if err := t.close(ctx); err != nil {
		return fmt.Errorf("tab %s: %w", t.ID, err)
	}
	return nil
}

// openTab creates a page, navigates it, adds it to s as the active tab and
// starts its screencast.
func (m *Manager) openTab(ctx context.Context, s *Session, url string) (*Tab, error) {
	id := newID()
	tabLog := s.log.With(zap.String("tab", id))

	page, err := m.opener.NewPage(ctx, browser.PageOptions{
		Width:     m.opts.Width,
		Height:    m.opts.Height,
		UserAgent: m.opts.UserAgent,
		OnFileInput: func() {
			s.Send(models.FileRequestMessage{Type: models.TypeFileRequest, TabID: id})
		},
		WantBody: m.wantBody,
		OnResponse: func(res browser.Response) {
			m.offerDownload(s, res)
		},
	})
	if err != nil {
		return nil, err
	}

	t := &Tab{ID: id, page: page, url: url}
	t.pipeline = screencast.New(page, s.client, func() bool { return s.ActiveTabID() == id }, screencast.Options{
		Interval: m.opts.FrameInterval,
		Metrics:  m.metrics,
		Log:      tabLog,
	})

	if err := page.Navigate(ctx, url, m.opts.NavigationTimeout); err != nil {
		tabLog.Warn("initial navigation failed", zap.String("url", url), zap.Error(err))
	}

	s.addTab(t)
	if m.metrics != nil {
		m.metrics.TabsActive.Inc()
	}

	frameCtx := context.Background()
	if err := page.StartScreencast(ctx, m.opts.JPEGQuality, func(f browser.Frame) {
		t.pipeline.HandleFrame(frameCtx, f)
	}); err != nil {
		tabLog.Warn("screencast start failed", zap.Error(err))
	}
	return t, nil
}

func (m *Manager) wantBody(h http.Header) bool {
	return m.downloads != nil && m.downloads.IsAttachment(h)
}

func (m *Manager) offerDownload(s *Session, res browser.Response) {
	tok, err := m.downloads.Capture(res)
	if err != nil {
		s.log.Warn("download capture failed", zap.String("url", res.URL), zap.Error(err))
		return
	}
	s.Send(models.DownloadOffer{
		Type:     models.TypeDownloadOffer,
		Token:    tok.Token,
		Filename: tok.Filename,
		MIME:     tok.MIME,
		Size:     tok.Size,
	})
}

// NewTab opens url (about:blank when empty) in a new active tab.
func (m *Manager) NewTab(ctx context.Context, s *Session, url string) (*Tab, error) {
	if url == "" {
		url = "about:blank"
	}
	return m.openTab(ctx, s, url)
}

// SwitchTab only moves the active pointer; every tab keeps capturing.
func (m *Manager) SwitchTab(s *Session, tabID string) error {
	return s.activate(tabID)
}

// CloseTab closes tabID. Closing the active tab promotes the next one, or
// opens a fresh default tab when it was the last.
func (m *Manager) CloseTab(ctx context.Context, s *Session, tabID string) error {
	t, wasActive, promoted, err := s.removeTab(tabID)
	if err != nil {
		return err
	}
	if err := m.closeTab(ctx, t); err != nil {
		s.log.Warn("tab close incomplete", zap.Error(err))
	}
	if wasActive && !promoted {
		if _, err := m.openTab(ctx, s, m.opts.DefaultURL); err != nil {
			return fmt.Errorf("failed to open replacement tab: %w", err)
		}
	}
	return nil
}

// Broadcast sends v to every connected session.
func (m *Manager) Broadcast(v any) {
	for _, s := range m.snapshot() {
		s.Send(v)
	}
}

func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Counts returns the number of sessions and the number of tabs across them.
func (m *Manager) Counts() (sessions, tabs int) {
	for _, s := range m.snapshot() {
		sessions++
		tabs += s.TabCount()
	}
	return sessions, tabs
}

func (m *Manager) ListSessions() []models.SessionSummary {
	sessions := m.snapshot()
	out := make([]models.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	return out
}

// InitMessage is the first message a freshly created session receives.
func (m *Manager) InitMessage(s *Session, audioAvailable bool) models.InitMessage {
	tabs := s.TabsMessage()
	return models.InitMessage{
		Type:           models.TypeInit,
		Width:          m.opts.Width,
		Height:         m.opts.Height,
		MaxFPS:         m.opts.MaxFPS,
		ConnID:         s.ID,
		Tabs:           tabs.Tabs,
		ActiveTabID:    tabs.ActiveTabID,
		AudioAvailable: audioAvailable,
	}
}

// Shutdown notifies every client that the server is going away, then closes
// their tabs and connections.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Broadcast(models.Notice(models.TypeServerShutdown, "server is shutting down"))

	var errs []error
	for _, s := range m.snapshot() {
		s.Send(models.Notice(models.TypeWarning, "Server shutting down"))
		s.markWarned()
		if err := m.CloseSession(ctx, s.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
		s.client.Close()
	}
	return errors.Join(errs...)
}
