package giveaway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// throttle keeps one token bucket per user for button presses. Idle buckets
// are dropped once the map grows past maxUsers.
type throttle struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	users    map[int64]*userBucket
	maxUsers int
}

type userBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newThrottle(perSec float64, burst int) *throttle {
	return &throttle{limit: rate.Limit(perSec), burst: burst, users: map[int64]*userBucket{}, maxUsers: 10000}
}

func (t *throttle) setLimit(perSec float64, burst int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limit, t.burst = rate.Limit(perSec), burst
	for _, b := range t.users {
		b.lim.SetLimit(t.limit)
		b.lim.SetBurst(burst)
	}
}

func (t *throttle) allow(userID int64, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.users[userID]
	if !ok {
		if len(t.users) >= t.maxUsers {
			t.pruneLocked(now)
		}
		b = &userBucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.users[userID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (t *throttle) pruneLocked(now time.Time) {
	for id, b := range t.users {
		if now.Sub(b.seen) > time.Minute {
			delete(t.users, id)
		}
	}
	if len(t.users) >= t.maxUsers {
		clear(t.users)
	}
}

// nameCache remembers display names seen on button presses so winner
// mentions read as names. Entries only store user ids.
type nameCache struct {
	mu    sync.RWMutex
	names map[int64]string
	limit int
}

func newNameCache(limit int) *nameCache { return &nameCache{names: map[int64]string{}, limit: limit} }

func (c *nameCache) put(id int64, name string) {
	if name == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.names[id]; !ok && len(c.names) >= c.limit {
		clear(c.names)
	}
	c.names[id] = name
}

func (c *nameCache) get(id int64) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.names[id]
}
