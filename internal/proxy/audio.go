package proxy

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// AudioHub fans PCM chunks out to every audio channel subscriber.
type AudioHub struct {
	log *zap.Logger

	mu        sync.RWMutex
	clients   map[*wsClient]struct{}
	available atomic.Bool
}

func NewAudioHub(log *zap.Logger) *AudioHub {
	return &AudioHub{
		log:     log.Named("audio-hub"),
		clients: make(map[*wsClient]struct{}),
	}
}

func (h *AudioHub) add(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *AudioHub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Subscribers reports how many audio clients are attached.
func (h *AudioHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SetAvailable records whether a capture source is currently running.
func (h *AudioHub) SetAvailable(v bool) {
	h.available.Store(v)
}

func (h *AudioHub) Available() bool {
	return h.available.Load()
}

// Publish sends one chunk to every subscriber. Failed writes are dropped; the
// subscriber's read loop notices the broken connection and unregisters it.
func (h *AudioHub) Publish(chunk []byte) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.SendBinary(chunk); err != nil {
			h.log.Debug("audio send failed", zap.Error(err))
		}
	}
}
