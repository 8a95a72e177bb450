package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserbase-live/internal/browser"
	"github.com/shehryarbajwa/browserbase-live/internal/screencast"
	"github.com/shehryarbajwa/browserbase-live/pkg/models"
)

var (
	ErrSessionNotFound = errors.New("connection not found")
	ErrTabNotFound     = errors.New("tab not found")
)

// Client is the connection a session reports to. Implementations must be
// safe for concurrent use: frames, replies and broadcasts interleave.
type Client interface {
	SendJSON(v any) error
	SendBinary(data []byte) error
	Close() error
}

// Tab is one page exclusively owned by a session.
type Tab struct {
	ID       string
	page     browser.Page
	pipeline *screencast.Pipeline

	mu  sync.Mutex
	url string
}

func (t *Tab) Page() browser.Page {
	return t.page
}

func (t *Tab) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.url
}

func (t *Tab) setURL(u string) {
	t.mu.Lock()
	t.url = u
	t.mu.Unlock()
}

// close stops capture and closes the page. Both steps run even if the first fails.
func (t *Tab) close(ctx context.Context) error {
	stopErr := t.page.StopScreencast(ctx)
	closeErr := t.page.Close()
	if t.pipeline != nil {
		t.pipeline.Wait()
	}
	return errors.Join(stopErr, closeErr)
}

// Session is one connected client and the tabs it owns.
type Session struct {
	ID        string
	CreatedAt time.Time

	client Client
	log    *zap.Logger

	mu           sync.RWMutex
	lastActivity time.Time
	activeTabID  string
	warnSent     bool
	order        []string
	tabs         map[string]*Tab
}

func newSession(id string, client Client, log *zap.Logger) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		client:       client,
		log:          log.With(zap.String("session", id)),
		lastActivity: now,
		tabs:         make(map[string]*Tab),
	}
}

// Send writes a JSON message to the client. Failures are logged and returned.
func (s *Session) Send(v any) error {
	err := s.client.SendJSON(v)
	if err != nil {
		s.log.Debug("send failed", zap.Error(err))
	}
	return err
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) ActiveTabID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeTabID
}

// Tab returns the tab with id.
func (s *Session) Tab(id string) (*Tab, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tabs[id]
	if !ok {
		return nil, ErrTabNotFound
	}
	return t, nil
}

// target resolves the tab a command addresses: the named tab if it exists,
// otherwise the active one. It returns nil when the session has no tabs.
func (s *Session) target(id string) *Tab {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tabs[id]; ok {
		return t
	}
	return s.tabs[s.activeTabID]
}

// Tabs lists tabs in creation order.
func (s *Session) Tabs() []models.TabInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tabsLocked()
}

func (s *Session) tabsLocked() []models.TabInfo {
	out := make([]models.TabInfo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, models.TabInfo{ID: id, URL: s.tabs[id].URL()})
	}
	return out
}

// TabsMessage is the full tab list reply sent after every tab-set change.
func (s *Session) TabsMessage() models.TabsMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.TabsMessage{Type: models.TypeTabs, Tabs: s.tabsLocked(), ActiveTabID: s.activeTabID}
}

func (s *Session) TabCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Session) Summary() models.SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.SessionSummary{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
		ActiveTabID:  s.activeTabID,
		Tabs:         s.tabsLocked(),
		WarningSent:  s.warnSent,
	}
}

// addTab appends t and makes it active.
func (s *Session) addTab(t *Tab) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[t.ID] = t
	s.order = append(s.order, t.ID)
	s.activeTabID = t.ID
}

func (s *Session) activate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tabs[id]; !ok {
		return ErrTabNotFound
	}
	s.activeTabID = id
	return nil
}

// removeTab detaches id. If it was active, the next tab in creation order is
// promoted; promoted is false when no tab remains to take over.
func (s *Session) removeTab(id string) (t *Tab, wasActive, promoted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tabs[id]
	if !ok {
		return nil, false, false, ErrTabNotFound
	}
	delete(s.tabs, id)
	for i, tid := range s.order {
		if tid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if s.activeTabID != id {
		return t, false, false, nil
	}
	if len(s.order) == 0 {
		s.activeTabID = ""
		return t, true, false, nil
	}
	s.activeTabID = s.order[0]
	return t, true, true, nil
}

// detachAll empties the session and returns every tab it owned.
func (s *Session) detachAll() []*Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Tab, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tabs[id])
	}
	s.tabs = make(map[string]*Tab)
	s.order = nil
	s.activeTabID = ""
	return out
}

func (s *Session) markWarned() {
	s.mu.Lock()
	s.warnSent = true
	s.mu.Unlock()
}
