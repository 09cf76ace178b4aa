package actors

import (
	"time"

	"backend/entities"
)

// RateRule is the quota for one action category.
type RateRule struct {
	MaxRequests int
	Window      time.Duration
}

// Per-user quotas. Ping/pong frames are never counted.
var defaultRateRules = map[string]RateRule{
	"message": {MaxRequests: 60, Window: 60 * time.Second},
	"typing":  {MaxRequests: 20, Window: 10 * time.Second},
	"default": {MaxRequests: 100, Window: 60 * time.Second},
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// RateLimiter keeps fixed-window counters per action category. It is owned
// by a single registry instance and accessed under that instance's lock,
// so it needs no locking of its own.
type RateLimiter struct {
	rules   map[string]RateRule
	windows map[string]*rateWindow
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		rules:   defaultRateRules,
		windows: make(map[string]*rateWindow),
	}
}

// Allow records one request in the category's window. The sliding window is
// implemented as a fixed-window reset: the count restarts at 1 whenever the
// window has elapsed. Returns nil, or the RateLimitError to surface.
func (rl *RateLimiter) Allow(category string, now time.Time) *entities.RateLimitError {
	rule, ok := rl.rules[category]
	if !ok {
		category = "default"
		rule = rl.rules[category]
	}

	window, ok := rl.windows[category]
	if !ok || !now.Before(window.resetAt) {
		rl.windows[category] = &rateWindow{count: 1, resetAt: now.Add(rule.Window)}
		return nil
	}

	if window.count >= rule.MaxRequests {
		return &entities.RateLimitError{Category: category, ResetIn: window.resetAt.Sub(now)}
	}
	window.count++
	return nil
}

// PurgeExpired drops windows whose reset instant has passed. Called from
// the registry's recurring timer.
func (rl *RateLimiter) PurgeExpired(now time.Time) {
	for category, window := range rl.windows {
		if !now.Before(window.resetAt) {
			delete(rl.windows, category)
		}
	}
}

// rateCategory maps a frame type to its quota category.
func rateCategory(frameType string) string {
	switch frameType {
	case entities.FrameMessage:
		return "message"
	case entities.FrameTyping:
		return "typing"
	default:
		return "default"
	}
}
