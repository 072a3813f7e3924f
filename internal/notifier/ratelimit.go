package notifier

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds outgoing notifications. MaxPerWindow is shared by
// every rule; PerRule, when set, additionally caps each rule so one noisy
// rule cannot spend the whole budget.
type RateLimitConfig struct {
	MaxPerWindow int           `yaml:"max_per_window"` // default: 10
	PerRule      int           `yaml:"per_rule"`       // 0 = no per-rule cap
	Window       time.Duration `yaml:"window"`         // default: 1m
	Enabled      bool          `yaml:"enabled"`
}

// DefaultRateLimitConfig allows 10 notifications a minute, at most 5 of
// them for one rule.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{MaxPerWindow: 10, PerRule: 5, Window: time.Minute, Enabled: true}
}

// maxRuleBuckets triggers pruning of refilled per-rule buckets.
const maxRuleBuckets = 1024

// bucket is a token bucket that can take a token back. rate.Limiter only
// restores tokens for reservations still in the future, so refunds are
// kept as credit next to it and spent first.
type bucket struct {
	lim    *rate.Limiter
	credit int
}

func newBucket(size int, window time.Duration) *bucket {
	return &bucket{lim: rate.NewLimiter(rate.Every(window/time.Duration(size)), size)}
}

// settle drops credit the limiter has since refilled on its own, so the
// total never passes the burst by a whole token.
func (b *bucket) settle(now time.Time) {
	room := int(math.Ceil(float64(b.lim.Burst()) - b.lim.TokensAt(now)))
	b.credit = max(0, min(b.credit, room))
}

func (b *bucket) tokens(now time.Time) float64 {
	b.settle(now)
	return b.lim.TokensAt(now) + float64(b.credit)
}

func (b *bucket) take(now time.Time) bool {
	b.settle(now)
	if b.credit > 0 {
		b.credit--
		return true
	}
	return b.lim.AllowN(now, 1)
}

func (b *bucket) refund(now time.Time) {
	if b.tokens(now) < float64(b.lim.Burst()) {
		b.credit++
	}
}

// RateLimiter is a token bucket refilling MaxPerWindow tokens per Window,
// plus one smaller bucket per rule.
type RateLimiter struct {
	cfg     RateLimitConfig
	dropped atomic.Int64
	now     func() time.Time

	mu     sync.Mutex
	global *bucket
	rules  map[string]*bucket
}

// NewRateLimiter fills in defaults for non-positive sizes.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.MaxPerWindow <= 0 {
		cfg.MaxPerWindow = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.PerRule > cfg.MaxPerWindow {
		cfg.PerRule = cfg.MaxPerWindow
	}
	return &RateLimiter{
		cfg:    cfg,
		now:    time.Now,
		global: newBucket(cfg.MaxPerWindow, cfg.Window),
		rules:  make(map[string]*bucket),
	}
}

// Acquire takes a token for one alert instance of ruleID. When ok is true,
// release hands the tokens back; call it when every delivery attempt
// failed. Calling release more than once refunds once.
func (r *RateLimiter) Acquire(ruleID string) (release func(), ok bool) {
	if r == nil || !r.cfg.Enabled {
		return func() {}, true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()

	var rule *bucket
	if r.cfg.PerRule > 0 && ruleID != "" {
		rule = r.ruleBucketLocked(ruleID, now)
		if !rule.take(now) {
			r.dropped.Add(1)
			return nil, false
		}
	}
	if !r.global.take(now) {
		if rule != nil {
			rule.refund(now)
		}
		r.dropped.Add(1)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			now := r.now()
			r.global.refund(now)
			if rule != nil {
				rule.refund(now)
			}
		})
	}, true
}

func (r *RateLimiter) ruleBucketLocked(ruleID string, now time.Time) *bucket {
	if b, ok := r.rules[ruleID]; ok {
		return b
	}
	if len(r.rules) >= maxRuleBuckets {
		r.pruneLocked(now)
	}
	b := newBucket(r.cfg.PerRule, r.cfg.Window)
	r.rules[ruleID] = b
	return b
}

// pruneLocked drops buckets that have refilled; a fresh bucket behaves the
// same.
func (r *RateLimiter) pruneLocked(now time.Time) {
	full := float64(r.cfg.PerRule)
	for id, b := range r.rules {
		if b.tokens(now) >= full {
			delete(r.rules, id)
		}
	}
}

// Dropped counts instances refused since start.
func (r *RateLimiter) Dropped() int64 {
	return r.dropped.Load()
}

// RateLimitStats is exposed on the dispatcher for diagnostics.
type RateLimitStats struct {
	Dropped         int64         `json:"dropped"`
	AvailableTokens float64       `json:"available_tokens"`
	MaxPerWindow    int           `json:"max_per_window"`
	PerRule         int           `json:"per_rule"`
	TrackedRules    int           `json:"tracked_rules"`
	Window          time.Duration `json:"window"`
	Enabled         bool          `json:"enabled"`
}

// Stats snapshots the limiter.
func (r *RateLimiter) Stats() RateLimitStats {
	r.mu.Lock()
	tracked := len(r.rules)
	available := r.global.tokens(r.now())
	r.mu.Unlock()

	return RateLimitStats{
		Dropped:         r.dropped.Load(),
		AvailableTokens: available,
		MaxPerWindow:    r.cfg.MaxPerWindow,
		PerRule:         r.cfg.PerRule,
		TrackedRules:    tracked,
		Window:          r.cfg.Window,
		Enabled:         r.cfg.Enabled,
	}
}
