package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
)

// WSSession is one connected worker app.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(offer models.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(offer)
}

// WSRegistry holds live worker sessions keyed by worker id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
	logger   *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]*WSSession), logger: logger}
}

func (r *WSRegistry) Add(workerID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[workerID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, workerID)
}

// Offer pushes an offer over the worker's websocket if one is connected.
func (r *WSRegistry) Offer(workerID string, offer models.Offer) error {
	r.mu.RLock()
	s, ok := r.sessions[workerID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoWSSession
	}
	if err := s.Send(offer); err != nil {
		r.logger.Warn("ws send failed", "worker_id", workerID, "error", err)
		return err
	}
	return nil
}

var ErrNoWSSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
