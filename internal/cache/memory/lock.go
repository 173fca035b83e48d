package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

type lease struct {
	token   string
	expires time.Time
}

// LockManager implements domain.LockManager with TTL leases, matching the
// semantics of the Redis lock.
type LockManager struct {
	mu     sync.Mutex
	leases map[string]lease
}

// NewLockManager creates a LockManager.
func NewLockManager() *LockManager {
	return &LockManager{leases: make(map[string]lease)}
}

// Acquire takes key for ttl or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := time.Now()
	if l, ok := lm.leases[key]; ok && now.Before(l.expires) {
		return nil, domain.ErrLockHeld
	}
	token := uuid.New().String()
	lm.leases[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.leases[key]; ok && l.token == token {
				delete(lm.leases, key)
			}
		})
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
