// Package redislease backs queue.LeaseCounter with Redis so
// maxConcurrentRuns is enforced across multiple AgentGate instances
// sharing one queue, instead of only within one process. Grounded on
// the pack's use of github.com/redis/go-redis/v9 to back goa.design/pulse's
// distributed event delivery (features/stream/pulse/clients/pulse).
package redislease

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// releaseScript decrements the counter but never below zero, so a
// double Release (already idempotent at the queue.Queue layer) can never
// push the shared counter negative if called directly.
const releaseScript = `
local v = tonumber(redis.call("GET", KEYS[1]) or "0")
if v > 0 then
  return redis.call("DECR", KEYS[1])
end
return 0
`

// Counter implements queue.LeaseCounter over a Redis INCR/DECR counter
// guarded by a max value, shared by key across every AgentGate instance
// pointed at the same Redis deployment.
type Counter struct {
	client *redis.Client
	key    string
	max    int
}

// New constructs a Counter. key should be unique per AgentGate
// deployment (e.g. "agentgate:leases:<env>"); max is the cluster-wide
// maxConcurrentRuns.
func New(client *redis.Client, key string, max int) *Counter {
	return &Counter{client: client, key: key, max: max}
}

// TryAcquire increments the shared counter; if the new value exceeds max
// it decrements the counter again and returns false, so the counter can
// briefly read above max.
func (c *Counter) TryAcquire() (bool, error) {
	ctx := context.Background()
	v, err := c.client.Incr(ctx, c.key).Result()
	if err != nil {
		return false, fmt.Errorf("redislease: incr: %w", err)
	}
	if int(v) > c.max {
		if _, derr := c.client.Decr(ctx, c.key).Result(); derr != nil {
			return false, fmt.Errorf("redislease: rollback decr: %w", derr)
		}
		return false, nil
	}
	return true, nil
}

// Release decrements the shared counter, never below zero.
func (c *Counter) Release() error {
	ctx := context.Background()
	if err := redis.NewScript(releaseScript).Run(ctx, c.client, []string{c.key}).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redislease: release: %w", err)
	}
	return nil
}

// InFlight reads the current shared counter value.
func (c *Counter) InFlight() (int, error) {
	ctx := context.Background()
	v, err := c.client.Get(ctx, c.key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redislease: get: %w", err)
	}
	return v, nil
}
