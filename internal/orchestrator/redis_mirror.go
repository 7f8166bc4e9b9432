package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisMirrorTTL bounds how long a run's mirrored counters live in Redis;
// ingestion runs are not long-lived daemons, so counters from a finished or
// abandoned run should age out rather than accumulate forever.
const redisMirrorTTL = 24 * time.Hour

// RedisMirror implements Mirror over a go-redis client: INCR on every
// recorded outcome, with an EXPIRE refreshed on each write (SPEC_FULL.md
// §5's optional Redis extension). It mirrors the *count*, not the window contents -
// the rolling-window rate computation itself still runs in-process against
// each process's own ring buffer; the mirror only gives operators one place
// to see aggregate ingestion volume across processes, and is a seam future
// work could extend into a truly shared breaker without touching
// ProcessingMonitor's public API.
type RedisMirror struct {
	client *redis.Client
}

// NewRedisMirror dials addr eagerly with a short ping timeout so a
// misconfigured address fails fast at orchestrator construction rather than
// silently no-op'ing mid-run.
func NewRedisMirror(addr string) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis mirror: ping %s: %w", addr, err)
	}
	return &RedisMirror{client: client}, nil
}

// Incr implements Mirror.
func (m *RedisMirror) Incr(ctx context.Context, key string) (int64, error) {
	n, err := m.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	m.client.Expire(ctx, key, redisMirrorTTL)
	return n, nil
}

// Close releases the underlying Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
