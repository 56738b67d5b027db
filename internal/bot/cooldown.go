package bot

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// cooldown allows one heavy request per user per period.
type cooldown struct {
	mu     sync.Mutex
	every  time.Duration
	users  map[int64]*rate.Limiter
	now    func() time.Time
	maxLen int
}

func newCooldown(every time.Duration) *cooldown {
	return &cooldown{every: every, users: map[int64]*rate.Limiter{}, now: time.Now, maxLen: 4096}
}

// Allow reports whether user may proceed, or how long to wait.
// A denied call does not push the window forward.
func (c *cooldown) Allow(user int64) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.every <= 0 {
		return true, 0
	}
	now := c.now()
	lim, ok := c.users[user]
	if !ok {
		if len(c.users) >= c.maxLen {
			c.prune(now)
		}
		lim = rate.NewLimiter(rate.Every(c.every), 1)
		c.users[user] = lim
	}
	r := lim.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// SetEvery changes the period. Existing windows are dropped.
func (c *cooldown) SetEvery(d time.Duration) {
	c.mu.Lock()
	c.every = d
	c.users = map[int64]*rate.Limiter{}
	c.mu.Unlock()
}

// prune drops limiters that are full again; they carry no state.
func (c *cooldown) prune(now time.Time) {
	for id, lim := range c.users {
		if lim.TokensAt(now) >= 1 {
			delete(c.users, id)
		}
	}
}

func waitSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
