package discord

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxIdleLimiters bounds the limiter map before idle entries are pruned.
const maxIdleLimiters = 1024

// cooldowns rate limits mutating commands per user and command.
type cooldowns struct {
	mu       sync.Mutex
	every    time.Duration
	limiters map[string]*rate.Limiter
}

func newCooldowns(every time.Duration) *cooldowns {
	return &cooldowns{every: every, limiters: make(map[string]*rate.Limiter)}
}

// allow reports whether userID may run command now, and otherwise how long
// until they may.
func (c *cooldowns) allow(userID, command string) (bool, time.Duration) {
	if c.every <= 0 {
		return true, 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := userID + "/" + command
	lim, ok := c.limiters[key]
	if !ok {
		if len(c.limiters) >= maxIdleLimiters {
			c.prune()
		}
		lim = rate.NewLimiter(rate.Every(c.every), 1)
		c.limiters[key] = lim
	}

	r := lim.Reserve()
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return false, d
	}
	return true, 0
}

// prune drops limiters whose bucket refilled.
func (c *cooldowns) prune() {
	for k, lim := range c.limiters {
		if lim.Tokens() >= 1 {
			delete(c.limiters, k)
		}
	}
}
