package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
)

const writeWait = 5 * time.Second

// wsSession is one subscriber connection. Writes are serialized because
// gorilla/websocket allows a single concurrent writer.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(ctx context.Context, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	return s.conn.WriteJSON(n)
}

// Hub fans notifications out to websocket subscribers keyed by channel name
// (booking:<id>, rider:<id>, driver:<id>, dispatch).
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*wsSession]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{subs: make(map[string]map[*wsSession]struct{}), logger: logger}
}

// Subscribe registers conn on channel. The returned func removes it.
func (h *Hub) Subscribe(channel string, conn *websocket.Conn) func() {
	s := &wsSession{conn: conn}
	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*wsSession]struct{})
	}
	h.subs[channel][s] = struct{}{}
	h.mu.Unlock()
	return func() { h.remove(channel, s) }
}

func (h *Hub) remove(channel string, s *wsSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, channel)
		}
	}
}

func (h *Hub) Count(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Publish delivers n to every subscriber of n.Channel. Sessions that fail
// the write are dropped; an error is returned only when nobody received it.
// A channel without subscribers is not an error.
func (h *Hub) Publish(ctx context.Context, n models.Notification) error {
	h.mu.RLock()
	targets := make([]*wsSession, 0, len(h.subs[n.Channel]))
	for s := range h.subs[n.Channel] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var errs []error
	for _, s := range targets {
		if err := s.send(ctx, n); err != nil {
			h.logger.Warn("ws send failed, dropping session", "channel", n.Channel, "error", err)
			h.remove(n.Channel, s)
			_ = s.conn.Close()
			errs = append(errs, err)
		}
	}
	if len(errs) == len(targets) && len(errs) > 0 {
		return fmt.Errorf("ws %s: %w", n.Channel, errors.Join(errs...))
	}
	return nil
}
