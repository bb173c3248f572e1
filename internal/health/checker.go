// Package health checks the store and data directory on a ticker and
// keeps the latest result per check for GET /health.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/coachpoints/coachpoints/internal/infra/logger"
)

const (
	defaultInterval = time.Minute
	checkTimeout    = 5 * time.Second
)

// Pinger is the store dependency of the sqlite check.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Check is one named health test.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Status is the last outcome of a check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs the checks. Failures are logged once when a check goes
// down and once when it recovers.
type Checker struct {
	checks   []Check
	interval time.Duration
	log      *zap.Logger

	mu   sync.RWMutex
	last map[string]Status
}

// NewChecker checks the store connection and the data directory.
func NewChecker(db Pinger, dataDir string, log *zap.Logger) *Checker {
	return newChecker(log,
		Check{Name: "sqlite", Fn: db.PingContext},
		Check{Name: "data_dir", Fn: func(context.Context) error { return writableDir(dataDir) }},
	)
}

func newChecker(log *zap.Logger, checks ...Check) *Checker {
	return &Checker{
		checks:   checks,
		interval: defaultInterval,
		log:      logger.OrNop(log),
		last:     make(map[string]Status, len(checks)),
	}
}

// Run checks immediately, then on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check with its own timeout.
func (c *Checker) RunOnce(ctx context.Context) {
	for _, p := range c.checks {
		s := c.check(ctx, p)

		c.mu.Lock()
		prev, seen := c.last[p.Name]
		c.last[p.Name] = s
		c.mu.Unlock()

		switch {
		case !s.Healthy && (!seen || prev.Healthy):
			c.log.Warn("health check failing", zap.String("check", p.Name), zap.String("error", s.Error))
		case s.Healthy && seen && !prev.Healthy:
			c.log.Info("health check recovered", zap.String("check", p.Name))
		}
	}
}

func (c *Checker) check(ctx context.Context, p Check) Status {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := p.Fn(ctx)
	s := Status{
		Name:      p.Name,
		Healthy:   err == nil,
		LatencyMS: time.Since(start).Milliseconds(),
		CheckedAt: start,
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// Statuses returns the latest results in check order. Checks that have
// not run yet are omitted.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Status, 0, len(c.checks))
	for _, p := range c.checks {
		if s, ok := c.last[p.Name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// IsHealthy reports whether no check is failing. Before the first run
// there is nothing failing.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.last {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// writableDir creates and removes a temp file in dir.
func writableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return fmt.Errorf("data dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
