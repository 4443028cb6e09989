package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/journey-matching/internal/models"
)

// WSSession is one connected event feed subscriber.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(e)
}

// EventHub broadcasts match events to websocket subscribers.
type EventHub struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{sessions: make(map[string]*WSSession), logger: logger}
}

func (h *EventHub) Add(id string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[id] = &WSSession{conn: conn}
}

func (h *EventHub) Remove(id string) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	delete(h.sessions, id)
	h.mu.Unlock()
	if ok {
		_ = s.conn.Close()
	}
}

func (h *EventHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Publish sends e to every subscriber. Subscribers whose write fails are
// dropped; the error is not returned since the feed is best-effort.
func (h *EventHub) Publish(_ context.Context, e models.Event) error {
	h.mu.RLock()
	targets := make(map[string]*WSSession, len(h.sessions))
	for id, s := range h.sessions {
		targets[id] = s
	}
	h.mu.RUnlock()

	for id, s := range targets {
		if err := s.Send(e); err != nil {
			h.logger.Warn("ws send error", "session", id, "error", err)
			h.Remove(id)
		}
	}
	return nil
}
