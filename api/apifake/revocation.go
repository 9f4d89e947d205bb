package apifake

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/clock"
)

// revokedTokens remembers revoked token ids until the token would have
// expired anyway.
type revokedTokens struct {
	clock   clock.Clock
	mu      sync.RWMutex
	revoked map[string]time.Time
}

func newRevokedTokens(c clock.Clock) *revokedTokens {
	return &revokedTokens{clock: c, revoked: make(map[string]time.Time)}
}

func (r *revokedTokens) add(jti string, exp time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[jti] = exp
	r.cleanupLocked()
}

func (r *revokedTokens) isRevoked(jti string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.revoked[jti]
	return ok
}

func (r *revokedTokens) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.revoked)
}

func (r *revokedTokens) cleanupLocked() {
	now := r.clock.Now()
	for jti, exp := range r.revoked {
		if now.After(exp) {
			delete(r.revoked, jti)
		}
	}
}
