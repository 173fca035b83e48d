package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/consensusbot/internal/domain"
)

// OnceGuard implements domain.OnceGuard with SET NX. Claims expire with
// their TTL, so a key may fire again after the window it guards.
type OnceGuard struct {
	rdb *redis.Client
}

// NewOnceGuard creates a OnceGuard backed by c.
func NewOnceGuard(c *Client) *OnceGuard {
	return &OnceGuard{rdb: c.Underlying()}
}

func onceKey(key string) string { return "once:" + key }

func (g *OnceGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, onceKey(key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim %s: %w", key, err)
	}
	return ok, nil
}

var _ domain.OnceGuard = (*OnceGuard)(nil)
