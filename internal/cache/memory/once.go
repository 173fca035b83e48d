// Package memory implements the domain cache interfaces in process memory
// for single-instance deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// OnceGuard remembers claimed keys for their TTL. It is safe for
// concurrent use.
type OnceGuard struct {
	seen map[string]time.Time // key -> expiry
	mu   sync.Mutex
	now  func() time.Time
}

// NewOnceGuard creates an empty OnceGuard.
func NewOnceGuard() *OnceGuard {
	return &OnceGuard{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Claim returns true if key has not been claimed within its TTL, recording
// the claim.
func (g *OnceGuard) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.seen[key] = now.Add(ttl)
	return true, nil
}

// Cleanup removes expired keys. Call it periodically to bound memory.
func (g *OnceGuard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for key, exp := range g.seen {
		if !now.Before(exp) {
			delete(g.seen, key)
		}
	}
}

var _ domain.OnceGuard = (*OnceGuard)(nil)
