package broker

import "sync"

// TokenRegistry tracks currently-valid access tokens, grounded on the Rust
// source's FortressBroker.valid_tokens (add_token/revoke_token/validate_token).
//
// It is wired into ServerInstance construction and exercised end to end, but
// Broker.handleAuth authenticates on short code alone — nothing in the
// current wire protocol consults a token on Auth. This mirrors the Rust
// source's own behavior; treat tokens here as reserved for a future
// handshake step, not as an active authorization check.
type TokenRegistry struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

// NewTokenRegistry constructs an empty TokenRegistry.
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{tokens: make(map[string]struct{})}
}

// Add marks token as currently valid.
func (t *TokenRegistry) Add(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[token] = struct{}{}
}

// Revoke marks token as no longer valid.
func (t *TokenRegistry) Revoke(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.tokens, token)
}

// Validate reports whether token is currently valid.
func (t *TokenRegistry) Validate(token string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tokens[token]
	return ok
}
