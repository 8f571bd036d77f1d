// Package memguard implements the Memory Guard of spec.md §4.6: a
// background task that samples process RSS, evicts registered in-memory
// caches under pressure, and self-terminates on a runaway process, plus
// the supplemental fd-count diagnostic folded in from
// original_source/tools/check_fd_usage.py per SPEC_FULL.md §4.
package memguard

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/zhenzou/executors"

	"github.com/looplj/guardianbridge/internal/log"
)

// Config tunes the guard's sampling interval and thresholds (process-level
// config, loaded by internal/config).
type Config struct {
	IntervalSeconds int   `conf:"interval_seconds" yaml:"interval_seconds" json:"interval_seconds"`
	SoftLimitBytes  int64 `conf:"soft_limit_bytes" yaml:"soft_limit_bytes" json:"soft_limit_bytes"`
	HardLimitBytes  int64 `conf:"hard_limit_bytes" yaml:"hard_limit_bytes" json:"hard_limit_bytes"`
	// LogFDCount gates the supplemental fd-count diagnostic, default off
	// (SPEC_FULL.md §4 "gated by a config flag, default off").
	LogFDCount bool `conf:"log_fd_count" yaml:"log_fd_count" json:"log_fd_count"`
}

func (c Config) interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return 30 * time.Second
	}

	return time.Duration(c.IntervalSeconds) * time.Second
}

// cron renders the interval as a `*/N * * * *` cron expression, the
// smallest unit the pack's only scheduling primitive,
// ScheduleFuncAtCronRate, supports (see internal/training.Config.cron).
// Sub-minute sampling intervals are rounded up to one minute.
func (c Config) cron() string {
	n := int(c.interval() / time.Minute)
	if n < 1 {
		n = 1
	}

	if n > 59 {
		n = 59
	}

	return fmt.Sprintf("*/%d * * * *", n)
}

// Cache is any container-cache the guard can measure and clear under
// pressure (spec.md §4.6 "re-measures a small set of registered
// container-cache sizes and clears them when over threshold").
type Cache interface {
	Name() string
	Len() int
	Clear()
}

// Guard is the background RSS/fd sampler.
type Guard struct {
	config Config
	caches []Cache

	sampler   func() (rssBytes int64, err error)
	executor  executors.ScheduledExecutor
	cancel    context.CancelFunc
	onHardCap func(ctx context.Context) // overridable in tests; defaults to log.Fatal
}

// New builds a Guard over the given registered caches.
func New(config Config, caches ...Cache) *Guard {
	return &Guard{
		config:   config,
		caches:   caches,
		sampler:  readRSS,
		executor: executors.NewPoolScheduleExecutor(executors.WithMaxConcurrent(1)),
		onHardCap: func(ctx context.Context) {
			log.Fatal(ctx, "memory guard: hard cap exceeded, terminating process")
		},
	}
}

// Register adds another cache to watch; safe to call before Start only
// (the guard's cache list is not mutated concurrently with a tick).
func (g *Guard) Register(c Cache) {
	g.caches = append(g.caches, c)
}

func (g *Guard) Start(ctx context.Context) error {
	cancel, err := g.executor.ScheduleFuncAtCronRate(g.tick, executors.CRONRule{Expr: g.config.cron()})
	if err != nil {
		return err
	}

	g.cancel = cancel

	log.Info(ctx, "memory guard started",
		log.Duration("interval", g.config.interval()),
		log.Int64("soft_limit_bytes", g.config.SoftLimitBytes),
		log.Int64("hard_limit_bytes", g.config.HardLimitBytes))

	return nil
}

// Stop cancels the ticker. Storage handles, HTTP clients and moderation
// clients are released by their own owners after Stop returns, in the
// order spec.md §4.6 specifies ("On normal shutdown, the guard cancels
// cleanly and the request path's upstream clients, moderation clients, and
// storage handles are released in a defined order").
func (g *Guard) Stop(ctx context.Context) error {
	if g.cancel != nil {
		g.cancel()
	}

	return g.executor.Shutdown(ctx)
}

func (g *Guard) tick(ctx context.Context) {
	rss, err := g.sampler()
	if err != nil {
		log.Warn(ctx, "memory guard: failed to sample RSS", log.Cause(err))
		return
	}

	fields := []log.Field{log.Int64("rss_bytes", rss)}

	if g.config.LogFDCount {
		if n, err := countOpenFDs(); err == nil {
			fields = append(fields, log.Int("open_fds", n))
		}
	}

	log.Debug(ctx, "memory guard sample", fields...)

	if g.config.HardLimitBytes > 0 && rss > g.config.HardLimitBytes {
		log.Error(ctx, "memory guard: RSS exceeds hard cap",
			log.Int64("rss_bytes", rss), log.Int64("hard_limit_bytes", g.config.HardLimitBytes))
		g.onHardCap(ctx)

		return
	}

	if g.config.SoftLimitBytes > 0 && rss > g.config.SoftLimitBytes {
		g.evictCaches(ctx, rss)
	}
}

func (g *Guard) evictCaches(ctx context.Context, rss int64) {
	for _, c := range g.caches {
		n := c.Len()
		if n == 0 {
			continue
		}

		c.Clear()
		log.Info(ctx, "memory guard: evicted cache over soft limit",
			log.String("cache", c.Name()), log.Int("entries", n), log.Int64("rss_bytes", rss))
	}
}

// readRSS reads the process's resident set size from /proc/self/status
// (Linux-only; the teacher pack carries no cross-platform process-metrics
// library, and this is a single well-known file read).
func readRSS() (int64, error) {
	return readRSSFrom("/proc/self/status")
}

// countOpenFDs counts entries under /proc/self/fd, the supplemental
// diagnostic from original_source/tools/check_fd_usage.py.
func countOpenFDs() (int, error) {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return 0, err
	}

	return len(entries), nil
}
