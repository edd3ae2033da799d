// Package registry implements eddi's ClientRegistry (spec.md §4.4): the
// live set of sessions attached to one ServerInstance, with authenticated
// broadcast fan-out.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/opd-ai/eddi/internal/wire"
)

// Session is one registered client's outbound handle. The registry never
// writes to a transport directly; it only enqueues onto Outbound, matching
// the broker's "never sends directly to a transport" rule (spec.md §4.5).
type Session struct {
	ID            string
	Outbound      chan<- wire.ProtocolMessage
	authenticated bool
}

// Registry holds the live set of ClientSessions keyed by session id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers outbound under a freshly minted session id.
func (r *Registry) Add(outbound chan<- wire.ProtocolMessage) string {
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &Session{ID: id, Outbound: outbound}
	return id
}

// Remove drops a session from the registry. Removing an unknown id is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Authenticate promotes a session to authenticated. It reports false if id
// is not registered.
func (r *Registry) Authenticate(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	s.authenticated = true
	return true
}

// IsAuthenticated reports whether id is registered and authenticated.
func (r *Registry) IsAuthenticated(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return ok && s.authenticated
}

// Broadcast enqueues msg to every authenticated session's outbound queue.
// Sessions whose enqueue fails (outbound closed or full) are recorded and
// removed from the registry in a single write-locked pass afterward, per
// spec.md §4.4's "acquire a write hold once, not once per id".
func (r *Registry) Broadcast(msg wire.ProtocolMessage) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.authenticated {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	var failed []string
	for _, s := range targets {
		if !tryEnqueue(s.Outbound, msg) {
			failed = append(failed, s.ID)
		}
	}

	if len(failed) == 0 {
		return
	}

	r.mu.Lock()
	for _, id := range failed {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
}

// tryEnqueue performs a non-blocking send so one slow or dead session never
// stalls the broadcast of every other session.
func tryEnqueue(outbound chan<- wire.ProtocolMessage, msg wire.ProtocolMessage) (ok bool) {
	defer func() {
		// A send on a closed channel panics; treat it as an enqueue failure.
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case outbound <- msg:
		return true
	default:
		return false
	}
}

// SendTo enqueues msg directly to a single session's outbound queue,
// regardless of authentication state — used for direct replies (AuthResponse,
// ReceiveResponse, Pong, Error) to the originating session (spec.md §4.5:
// "the broker never sends directly to a transport; it enqueues via the
// registry's per-session outbound queue"). It reports false if the session
// is unknown or the enqueue failed; a failed enqueue evicts the session,
// matching Broadcast's failure handling.
func (r *Registry) SendTo(id string, msg wire.ProtocolMessage) bool {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	if tryEnqueue(s.Outbound, msg) {
		return true
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return false
}

// ClientCount returns the number of registered sessions, authenticated or not.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AuthenticatedCount returns the number of authenticated sessions.
func (r *Registry) AuthenticatedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if s.authenticated {
			n++
		}
	}
	return n
}
