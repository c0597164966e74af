package registry

import (
	"sync"
)

// Conn is the slice of a websocket connection the registry needs. Satisfied
// by *websocket.Conn; tests plug in fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one driver's live channel. A mutex serializes frames because
// gorilla allows only one concurrent writer.
type Session struct {
	conn   Conn
	connID string
	mu     sync.Mutex
}

func (s *Session) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry is the authoritative in-process map of driver id to live
// session. It is process-local: running several protocol-handler instances
// needs a shared pub/sub layer in front of it.
type Registry struct {
	mu       sync.RWMutex
	byDriver map[int64]*Session
	byConn   map[string]int64
}

func New() *Registry {
	return &Registry{
		byDriver: make(map[int64]*Session),
		byConn:   make(map[string]int64),
	}
}

// Register binds the driver to a new session and returns it so the
// protocol handler can reply over the same write lock. A driver holds at
// most one channel, so any superseded session is explicitly closed rather
// than left orphaned.
func (r *Registry) Register(driverID int64, connID string, c Conn) *Session {
	s := &Session{conn: c, connID: connID}
	r.mu.Lock()
	prev := r.byDriver[driverID]
	r.byDriver[driverID] = s
	r.byConn[connID] = driverID
	if prev != nil {
		delete(r.byConn, prev.connID)
	}
	r.mu.Unlock()
	if prev != nil {
		_ = prev.conn.Close()
	}
	return s
}

// Unregister removes the session by its connection id. Idempotent; a stale
// id from an already-superseded session is a no-op.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	driverID, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(r.byConn, connID)
	if s := r.byDriver[driverID]; s != nil && s.connID == connID {
		delete(r.byDriver, driverID)
	}
}

// Send delivers iff the driver has an open channel. It never surfaces an
// error: offline drivers simply miss the push and fall back to polling the
// notification ledger.
func (r *Registry) Send(driverID int64, v any) bool {
	r.mu.RLock()
	s, ok := r.byDriver[driverID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return s.Send(v) == nil
}

// Broadcast is a best-effort fan-out to every open channel.
func (r *Registry) Broadcast(v any) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byDriver))
	for _, s := range r.byDriver {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		_ = s.Send(v)
	}
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDriver)
}
