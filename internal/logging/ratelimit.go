package logging

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rjsadow/webssh2/internal/config"
)

// RateLimiter applies token-bucket rules keyed by event name. A rule
// with target "*" provides a single shared bucket for every event
// without its own rule.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rules   map[string]config.RateLimitRule
}

// NewRateLimiter builds a limiter from config rules. Rules with
// non-positive limit or interval are ignored.
func NewRateLimiter(rules []config.RateLimitRule) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*rate.Limiter),
		rules:   make(map[string]config.RateLimitRule),
	}
	for _, r := range rules {
		if r.Limit <= 0 || r.IntervalMs <= 0 {
			continue
		}
		rl.rules[r.Target] = r
	}
	return rl
}

// Allow reports whether a record for the given event may pass. Events
// with no matching rule always pass.
func (rl *RateLimiter) Allow(event string) bool {
	rule, target, ok := rl.match(event)
	if !ok {
		return true
	}

	rl.mu.Lock()
	b, exists := rl.buckets[target]
	if !exists {
		interval := time.Duration(rule.IntervalMs) * time.Millisecond
		b = rate.NewLimiter(rate.Every(interval/time.Duration(rule.Limit)), rule.Limit)
		rl.buckets[target] = b
	}
	rl.mu.Unlock()

	return b.Allow()
}

// match resolves the rule for an event: exact target first, then the
// shared "*" bucket.
func (rl *RateLimiter) match(event string) (config.RateLimitRule, string, bool) {
	if r, ok := rl.rules[event]; ok {
		return r, event, true
	}
	if r, ok := rl.rules["*"]; ok {
		return r, "*", true
	}
	return config.RateLimitRule{}, "", false
}
