package dispatch

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Channels is the fan-out surface the dispatcher and ride service write to.
// The WS registry implements it; tests substitute a recorder.
type Channels interface {
	SendToDriver(driverID string, ev Event) error
	SendToRider(riderID string, ev Event) error
	// BroadcastDiscovery pushes to every connected rider (public channel).
	BroadcastDiscovery(ev Event)
}

// Session wraps one websocket connection. gorilla/websocket allows a single
// concurrent writer, hence the per-session mutex.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// WSRegistry holds connected driver and rider sessions.
type WSRegistry struct {
	mu      sync.RWMutex
	drivers map[string]*Session
	riders  map[string]*Session
	logger  *slog.Logger
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{
		drivers: make(map[string]*Session),
		riders:  make(map[string]*Session),
		logger:  logger,
	}
}

// AddDriver installs a fresh session for driverID, replacing any previous
// one. The returned session identifies this connection for teardown.
func (r *WSRegistry) AddDriver(driverID string, conn *websocket.Conn) *Session {
	s := &Session{conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[driverID] = s
	return s
}

func (r *WSRegistry) AddRider(riderID string, conn *websocket.Conn) *Session {
	s := &Session{conn: conn}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.riders[riderID] = s
	return s
}

// RemoveDriver drops driverID's session only when the registry still holds
// sess. A reconnect replaces the session, and the stale connection's
// teardown must not evict the live one. Reports whether it removed.
func (r *WSRegistry) RemoveDriver(driverID string, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drivers[driverID] != sess {
		return false
	}
	delete(r.drivers, driverID)
	return true
}

func (r *WSRegistry) RemoveRider(riderID string, sess *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.riders[riderID] != sess {
		return false
	}
	delete(r.riders, riderID)
	return true
}

func (r *WSRegistry) SendToDriver(driverID string, ev Event) error {
	r.mu.RLock()
	s, ok := r.drivers[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(ev); err != nil {
		if r.logger != nil {
			r.logger.Warn("ws_send_failed", "driver_id", driverID, "event", ev.Name, "error", err)
		}
		return err
	}
	return nil
}

func (r *WSRegistry) SendToRider(riderID string, ev Event) error {
	r.mu.RLock()
	s, ok := r.riders[riderID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(ev); err != nil {
		if r.logger != nil {
			r.logger.Warn("ws_send_failed", "rider_id", riderID, "event", ev.Name, "error", err)
		}
		return err
	}
	return nil
}

func (r *WSRegistry) BroadcastDiscovery(ev Event) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.riders))
	for _, s := range r.riders {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		_ = s.Send(ev)
	}
}

var ErrNoSession = &NoSessionError{}

type NoSessionError struct{}

func (n *NoSessionError) Error() string { return "no ws session" }
