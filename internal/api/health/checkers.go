package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// pingChecker adapts a dependency's ping call to a Checker.
type pingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func (c pingChecker) Name() string { return c.name }

func (c pingChecker) Check(ctx context.Context) error {
	if c.ping == nil {
		return fmt.Errorf("%s not configured", c.name)
	}
	return c.ping(ctx)
}

// NewSQLiteChecker checks the metadata database.
func NewSQLiteChecker(db *sql.DB) Checker {
	c := pingChecker{name: "sqlite"}
	if db != nil {
		c.ping = db.PingContext
	}
	return c
}

// Pinger is implemented by the ClickHouse log store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewClickHouseChecker checks the columnar log store.
func NewClickHouseChecker(p Pinger) Checker {
	c := pingChecker{name: "clickhouse"}
	if p != nil {
		c.ping = p.Ping
	}
	return c
}

// RedisPinger is the subset of redis.UniversalClient the checker needs.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// NewRedisChecker checks the redis server used for cross-instance fan-out.
func NewRedisChecker(client RedisPinger) Checker {
	c := pingChecker{name: "redis"}
	if client != nil {
		c.ping = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return c
}

// loopStallFactor is how many intervals a loop may miss before readiness
// fails.
const loopStallFactor = 3

// LoopChecker fails readiness when a tracked background loop stops
// completing ticks. Its Observe method is a scheduler observer.
type LoopChecker struct {
	mu       sync.Mutex
	started  time.Time
	interval map[string]time.Duration
	grace    map[string]time.Duration
	last     map[string]time.Time
	now      func() time.Time
}

// NewLoopChecker creates an empty checker.
func NewLoopChecker() *LoopChecker {
	return &LoopChecker{
		started:  time.Now(),
		interval: make(map[string]time.Duration),
		grace:    make(map[string]time.Duration),
		last:     make(map[string]time.Time),
		now:      time.Now,
	}
}

// Track expects loop to tick every interval. startup is extra slack before
// the first tick, covering initial delays.
func (c *LoopChecker) Track(loop string, interval, startup time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interval[loop] = interval
	c.grace[loop] = startup
}

// Observe records a completed tick.
func (c *LoopChecker) Observe(loop string, _ time.Duration, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[loop] = c.now()
}

// Name returns "loops".
func (c *LoopChecker) Name() string { return "loops" }

// Check reports every tracked loop whose last tick is older than
// loopStallFactor intervals.
func (c *LoopChecker) Check(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var stalled []string
	for loop, iv := range c.interval {
		limit := time.Duration(loopStallFactor) * iv
		since, ok := c.last[loop]
		if !ok {
			since = c.started
			limit += c.grace[loop]
		}
		if age := now.Sub(since); age > limit {
			stalled = append(stalled, fmt.Sprintf("%s (no tick for %s)", loop, age.Round(time.Second)))
		}
	}
	if len(stalled) == 0 {
		return nil
	}
	sort.Strings(stalled)
	return errors.New("stalled: " + strings.Join(stalled, ", "))
}
