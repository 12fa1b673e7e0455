package server

import (
	"sync"
	"time"
)

// RateLimiter applies a sliding one-minute quota per username: up to
// sustained+burst admissions inside the window, then a cooldown during which
// every attempt is refused. A nil limiter admits everything.
type RateLimiter struct {
	mu        sync.Mutex
	sustained int
	burst     int
	cooldown  time.Duration
	users     map[string]*userQuota
	now       func() time.Time
}

type userQuota struct {
	admitted      []time.Time
	cooldownUntil time.Time
}

func NewRateLimiter(sustained, burst int, cooldown time.Duration) *RateLimiter {
	return &RateLimiter{
		sustained: sustained,
		burst:     burst,
		cooldown:  cooldown,
		users:     make(map[string]*userQuota),
		now:       time.Now,
	}
}

// Admit decides whether a user's next chat action is allowed. Refusals start
// (or extend) the cooldown from the moment of refusal.
func (rl *RateLimiter) Admit(username string) bool {
	if rl == nil {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	q := rl.users[username]
	if q == nil {
		q = &userQuota{}
		rl.users[username] = q
	}

	if now.Before(q.cooldownUntil) {
		return false
	}

	cutoff := now.Add(-time.Minute)
	kept := q.admitted[:0]
	for _, t := range q.admitted {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	q.admitted = kept

	if len(q.admitted) >= rl.sustained+rl.burst {
		q.cooldownUntil = now.Add(rl.cooldown)
		return false
	}

	q.admitted = append(q.admitted, now)
	return true
}
