package dispatch

import (
	"sync"

	"github.com/gorilla/websocket"
)

// WSSession represents a connected rider device.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) write(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// WSRegistry holds live rider sessions keyed by rider id.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(riderID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[riderID] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(riderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, riderID)
}

// Send writes v to the rider's session, if one is connected. A dead
// connection is dropped from the registry so the next notice goes to
// the push fallback immediately.
func (r *WSRegistry) Send(riderID string, v interface{}) error {
	r.mu.RLock()
	s, ok := r.sessions[riderID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.write(v); err != nil {
		r.Remove(riderID)
		return err
	}
	return nil
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
