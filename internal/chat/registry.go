package chat

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/xxxsen/ragchat/internal/model"
	appErr "github.com/xxxsen/ragchat/internal/pkg/errors"
)

// Websocket close codes used by the server.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// Conn is the outbound side of one client transport.
type Conn interface {
	Send(ctx context.Context, event model.StreamEvent) error
	Close(code int, reason string) error
}

type Handle string

type entry struct {
	conn      Conn
	userID    string
	sessionID string
	writeMu   sync.Mutex
}

// Registry tracks live connections. Lookups happen on every streamed delta,
// hence the read lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[Handle]*entry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[Handle]*entry)}
}

func (r *Registry) Connect(conn Conn, userID, sessionID string) Handle {
	h := Handle(uuid.NewString())
	r.mu.Lock()
	r.conns[h] = &entry{conn: conn, userID: userID, sessionID: sessionID}
	r.mu.Unlock()
	return h
}

// Disconnect removes h and closes its transport. Calling it again, or for a
// handle that was never connected, does nothing.
func (r *Registry) Disconnect(h Handle, code int, reason string) {
	r.mu.Lock()
	e, ok := r.conns[h]
	delete(r.conns, h)
	r.mu.Unlock()
	if !ok {
		return
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_ = e.conn.Close(code, reason)
}

// Send writes event to h. Unknown handles are ignored; writes to one handle
// are serialized.
func (r *Registry) Send(ctx context.Context, h Handle, event model.StreamEvent) error {
	r.mu.RLock()
	e, ok := r.conns[h]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.conn.Send(ctx, event); err != nil {
		return &appErr.TransportError{Cause: err}
	}
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CountForSession returns how many connections are attached to sessionID.
func (r *Registry) CountForSession(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.conns {
		if e.sessionID == sessionID {
			n++
		}
	}
	return n
}

// CloseAll disconnects every handle, used on shutdown.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.RLock()
	handles := make([]Handle, 0, len(r.conns))
	for h := range r.conns {
		handles = append(handles, h)
	}
	r.mu.RUnlock()
	for _, h := range handles {
		r.Disconnect(h, code, reason)
	}
}
