// Package eviction runs the memory store's periodic cleanup sweep: TTL
// expiry, per-scope LRU trim, and a global LRU trim, on startup and then
// on a fixed schedule.
package eviction

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Johnsonbros/Zeke-sub000/internal/domain/memorystore"
	"github.com/Johnsonbros/Zeke-sub000/pkg/safego"
)

// Config controls the daemon's schedule and the caps it enforces.
type Config struct {
	Interval      time.Duration
	ScopeCaps     []memorystore.ScopeCap
	GlobalMaxRows int
	Enabled       bool
}

// DefaultInterval matches the source lineage's "every 6 hours" cadence.
const DefaultInterval = 6 * time.Hour

// Daemon runs Store.Evict on Config.Interval, logging a summary after
// every sweep and a stats snapshot alongside it.
type Daemon struct {
	store  *memorystore.Store
	cfg    Config
	logger *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.Mutex
}

// New builds a Daemon over store. A zero Config.Interval defaults to
// DefaultInterval.
func New(store *memorystore.Store, cfg Config, logger *zap.Logger) *Daemon {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{store: store, cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}
}

// Start launches the background sweep loop, running one sweep immediately
// before the first tick. A no-op if the daemon is disabled or already
// running.
func (d *Daemon) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.cfg.Enabled || d.running {
		return
	}
	d.running = true

	d.logger.Info("starting memory eviction daemon",
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("global_max_rows", d.cfg.GlobalMaxRows),
	)

	safego.Go(d.logger, "memory-eviction-loop", d.loop)
}

// Stop halts the sweep loop.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		d.cancel()
		d.running = false
		d.logger.Info("stopped memory eviction daemon")
	}
}

func (d *Daemon) loop() {
	d.sweep()

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

func (d *Daemon) sweep() {
	summary, err := d.store.Evict(d.ctx, memorystore.EvictionConfig{
		ScopeCaps:     d.cfg.ScopeCaps,
		GlobalMaxRows: d.cfg.GlobalMaxRows,
	})
	if err != nil {
		d.logger.Error("memory eviction sweep failed", zap.Error(err))
		return
	}

	d.logger.Info("memory eviction sweep complete",
		zap.Int("ttl_expired", summary.TTLExpired),
		zap.Int("lru_evicted", summary.LRUEvicted),
		zap.Strings("scopes_cleaned", summary.ScopesCleaned),
	)

	prefixes := make([]string, len(d.cfg.ScopeCaps))
	for i, sc := range d.cfg.ScopeCaps {
		prefixes[i] = sc.Prefix
	}
	stats, err := d.store.ScopeStats(d.ctx, prefixes, d.cfg.GlobalMaxRows)
	if err != nil {
		d.logger.Warn("memory stats snapshot failed", zap.Error(err))
		return
	}
	d.logger.Info("memory store stats",
		zap.Int64("total", stats.Total),
		zap.Int64("with_ttl", stats.WithTTL),
		zap.Int64("with_embedding", stats.WithEmbedding),
		zap.Int("max_rows", stats.MaxRows),
	)
}

// Stats is a synchronous passthrough to the store's read-only snapshot,
// for callers (health checks, admin commands) that want it on demand
// rather than waiting for the next scheduled log line.
func (d *Daemon) Stats(ctx context.Context) (memorystore.Stats, error) {
	prefixes := make([]string, len(d.cfg.ScopeCaps))
	for i, sc := range d.cfg.ScopeCaps {
		prefixes[i] = sc.Prefix
	}
	return d.store.ScopeStats(ctx, prefixes, d.cfg.GlobalMaxRows)
}
