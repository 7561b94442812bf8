package tools

import (
	"sync"

	"golang.org/x/time/rate"
)

// ToolRateLimiter caps how many tool calls a single agent can make per
// hour, independent of which specific tool it's calling — a last line of
// defense against a runaway or compromised agent hammering the pipeline.
type ToolRateLimiter struct {
	perHour int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewToolRateLimiter returns a limiter allowing perHour calls per hour per
// agent, with a burst equal to perHour so a quiet agent can still make a
// full hour's worth of calls back-to-back. perHour <= 0 disables limiting.
func NewToolRateLimiter(perHour int) *ToolRateLimiter {
	return &ToolRateLimiter{perHour: perHour, limiters: map[string]*rate.Limiter{}}
}

// Allow reports whether agentID may make another tool call right now.
func (l *ToolRateLimiter) Allow(agentID string) bool {
	if l == nil || l.perHour <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[agentID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.perHour)/3600.0), l.perHour)
		l.limiters[agentID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
