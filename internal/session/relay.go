package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserbase-live/pkg/models"
)

// Dispatch handles one control message from s. Handler failures are reported
// to the client as an error notice; they never end the session.
func (m *Manager) Dispatch(ctx context.Context, s *Session, raw []byte) {
	s.touch()

	var msg models.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.Send(models.Notice(models.TypeError, fmt.Sprintf("invalid message: %v", err)))
		return
	}

	if err := m.handle(ctx, s, msg); err != nil {
		s.log.Debug("command failed", zap.String("type", msg.Type), zap.Error(err))
		s.Send(models.Notice(models.TypeError, err.Error()))
	}
}

func (m *Manager) handle(ctx context.Context, s *Session, msg models.ClientMessage) error {
	switch msg.Type {
	case models.TypeMouse:
		return m.handleMouse(ctx, s, msg)
	case models.TypeScroll:
		return m.handleScroll(ctx, s, msg)
	case models.TypeKeyboard:
		return m.handleKeyboard(ctx, s, msg)
	case models.TypeNavigate:
		return m.handleNavigate(ctx, s, msg)
	case models.TypeResize:
		return m.handleResize(ctx, s, msg)
	case models.TypePing:
		return s.Send(models.SimpleMessage{Type: models.TypePong})
	case models.TypeNewTab:
		if _, err := m.NewTab(ctx, s, msg.URL); err != nil {
			return fmt.Errorf("failed to open tab: %w", err)
		}
		return s.Send(s.TabsMessage())
	case models.TypeSwitchTab:
		if err := m.SwitchTab(s, msg.TabID); err != nil {
			return err
		}
		return s.Send(s.TabsMessage())
	case models.TypeCloseTab:
		if err := m.CloseTab(ctx, s, msg.TabID); err != nil {
			return err
		}
		return s.Send(s.TabsMessage())
	case models.TypeDownloadAccept:
		return m.handleDownloadAccept(s, msg)
	default:
		s.log.Debug("ignoring unknown message type", zap.String("type", msg.Type))
		return nil
	}
}

func mouseButton(b string) string {
	if b == "" {
		return "left"
	}
	return b
}

func clickCount(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (m *Manager) handleMouse(ctx context.Context, s *Session, msg models.ClientMessage) error {
	t := s.target(msg.TabID)
	if t == nil {
		return nil
	}
	page := t.page
	x, y := math.Round(msg.X), math.Round(msg.Y)
	button, count := mouseButton(msg.Button), clickCount(msg.ClickCount)

	switch msg.Action {
	case "move":
		return page.MouseMove(ctx, x, y)
	case "down":
		if err := page.MouseMove(ctx, x, y); err != nil {
			return err
		}
		return page.MouseDown(ctx, button, count)
	case "up":
		if err := page.MouseMove(ctx, x, y); err != nil {
			return err
		}
		return page.MouseUp(ctx, button, count)
	case "click":
		if err := page.MouseMove(ctx, x, y); err != nil {
			return err
		}
		return page.MouseClick(ctx, button, count)
	}
	return nil
}

// handleScroll wheels at the pointer and at the viewport centre, then
// persists wherever the page actually ended up.
func (m *Manager) handleScroll(ctx context.Context, s *Session, msg models.ClientMessage) error {
	t := s.target(msg.TabID)
	if t == nil {
		return nil
	}
	dx, dy := msg.DeltaX, msg.DeltaY
	if dy == 0 {
		dy = msg.Delta
	}

	if err := t.page.Wheel(ctx, dx, dy); err != nil {
		s.log.Debug("native wheel failed", zap.Error(err))
	}
	if err := t.page.DispatchWheelAtCenter(ctx, dx, dy); err != nil {
		s.log.Debug("synthetic wheel failed", zap.Error(err))
	}

	x, y, err := t.page.ScrollPosition(ctx)
	if err != nil {
		s.log.Debug("scroll position unavailable", zap.Error(err))
		return nil
	}
	if err := m.state.Update(func(st *models.SessionState) {
		st.ScrollX, st.ScrollY = x, y
	}); err != nil {
		s.log.Warn("failed to persist scroll position", zap.Error(err))
	}
	return nil
}

func (m *Manager) handleKeyboard(ctx context.Context, s *Session, msg models.ClientMessage) error {
	t := s.target(msg.TabID)
	if t == nil {
		return nil
	}
	delay := time.Duration(msg.Delay) * time.Millisecond

	switch msg.Action {
	case "press":
		return t.page.KeyPress(ctx, msg.Key, delay)
	case "type":
		return t.page.KeyType(ctx, msg.Text, delay)
	case "down":
		return t.page.KeyDown(ctx, msg.Key)
	case "up":
		return t.page.KeyUp(ctx, msg.Key)
	}
	return nil
}

// handleNavigate treats a navigation that never settles as done: the tab
// still records the URL and the client is told it navigated.
func (m *Manager) handleNavigate(ctx context.Context, s *Session, msg models.ClientMessage) error {
	t := s.target(msg.TabID)
	if t == nil {
		return nil
	}
	if msg.URL == "" {
		return errors.New("navigate requires a url")
	}

	if err := t.page.Navigate(ctx, msg.URL, m.opts.NavigationTimeout); err != nil {
		s.log.Warn("navigation failed", zap.String("tab", t.ID), zap.String("url", msg.URL), zap.Error(err))
	}
	t.setURL(msg.URL)

	if err := m.state.Save(models.SessionState{URL: msg.URL}); err != nil {
		s.log.Warn("failed to persist navigation", zap.Error(err))
	}
	return s.Send(models.NavigatedMessage{Type: models.TypeNavigated, URL: msg.URL, TabID: t.ID})
}

// MinViewport is the smallest width or height a tab may be resized to.
const MinViewport = 100

func (m *Manager) handleResize(ctx context.Context, s *Session, msg models.ClientMessage) error {
	t := s.target(msg.TabID)
	if t == nil || msg.Width == 0 || msg.Height == 0 {
		return nil
	}
	w := max(MinViewport, int(math.Round(msg.Width)))
	h := max(MinViewport, int(math.Round(msg.Height)))

	if err := t.page.SetViewport(ctx, w, h); err != nil {
		return err
	}
	return s.Send(models.ResizeAckMessage{Type: models.TypeResizeAck, Width: w, Height: h})
}

func (m *Manager) handleDownloadAccept(s *Session, msg models.ClientMessage) error {
	if m.downloads == nil || msg.Token == "" {
		return errors.New("download not found or expired")
	}
	tok, err := m.downloads.Lookup(msg.Token)
	if err != nil {
		return errors.New("download not found or expired")
	}
	return s.Send(models.DownloadReadyMessage{
		Type:     models.TypeDownloadReady,
		Token:    tok.Token,
		URL:      "/download?token=" + url.QueryEscape(tok.Token),
		Filename: tok.Filename,
	})
}
