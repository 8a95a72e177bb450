package proxy

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserbase-live/internal/session"
	"github.com/shehryarbajwa/browserbase-live/pkg/models"
)

const (
	writeTimeout    = 10 * time.Second
	teardownTimeout = 15 * time.Second
	maxMessageSize  = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsClient serialises writes; gorilla connections allow one concurrent writer.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn}
}

func (c *wsClient) SendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) SendBinary(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsClient) Close() error {
	c.mu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
	c.mu.Unlock()
	return c.conn.Close()
}

// Server terminates the control/video channel and the audio channel.
type Server struct {
	sessions *session.Manager
	audio    *AudioHub
	log      *zap.Logger
}

func NewServer(sessions *session.Manager, audio *AudioHub, log *zap.Logger) *Server {
	return &Server{
		sessions: sessions,
		audio:    audio,
		log:      log.Named("ws"),
	}
}

// HandleControl serves one client session: JSON commands in, JSON notices and
// binary frames out. Commands are handled strictly in arrival order.
func (s *Server) HandleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)
	client := newClient(conn)
	defer conn.Close()

	ctx := r.Context()
	sess, err := s.sessions.CreateSession(ctx, client)
	if err != nil {
		s.log.Error("create session failed", zap.Error(err))
		client.SendJSON(models.Notice(models.TypeError, "failed to open browser tab: "+err.Error()))
		return
	}
	log := s.log.With(zap.String("session", sess.ID))
	log.Info("client connected", zap.String("remote", r.RemoteAddr))

	defer func() {
		teardown, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()
		if err := s.sessions.CloseSession(teardown, sess.ID); err != nil {
			log.Debug("session teardown", zap.Error(err))
		}
		log.Info("client disconnected")
	}()

	if err := client.SendJSON(s.sessions.InitMessage(sess, s.audio.Available())); err != nil {
		log.Warn("send init failed", zap.Error(err))
		return
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		s.sessions.Dispatch(ctx, sess, message)
	}
}

// HandleAudio subscribes a client to the PCM stream.
func (s *Server) HandleAudio(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("audio upgrade failed", zap.Error(err))
		return
	}
	client := newClient(conn)
	s.audio.add(client)
	defer func() {
		s.audio.remove(client)
		conn.Close()
	}()

	// No client messages are defined; read only to notice the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
