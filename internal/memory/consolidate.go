package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AetharaAI/lotus/internal/types"
)

// ConsolidationStats counts what one or more cycles promoted.
type ConsolidationStats struct {
	WorkingToRecent    int64
	RecentToSemantic   int64
	SemanticToDurable  int64
	CyclesCompleted    int64
	CyclesInterrupted  int64
	LastCycleStartedAt time.Time
}

// Consolidator runs the background promotion cycle: three idempotent
// stages, each an additive copy upward that never mutates or removes the
// source. Every stage checkpoints the last scanned id, so a cancelled cycle
// resumes where it stopped instead of re-scanning from the start; promotion
// re-runs are harmless because every tier's Store is idempotent for an
// existing id.
type Consolidator struct {
	mgr    *Manager
	cfg    ConsolidationConfig
	logger *slog.Logger

	mu          sync.Mutex
	checkpoints map[string]string // stage name -> last scanned id
	stats       ConsolidationStats

	cancel  context.CancelFunc
	done    chan struct{}
	nowFunc func() time.Time
}

// NewConsolidator creates a consolidator over the manager's tiers.
func NewConsolidator(mgr *Manager, cfg ConsolidationConfig, logger *slog.Logger) *Consolidator {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{
		mgr:         mgr,
		cfg:         cfg,
		logger:      logger,
		checkpoints: make(map[string]string),
		nowFunc:     time.Now,
	}
}

// Start launches the periodic cycle. Call Stop to halt it.
func (c *Consolidator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := c.RunOnce(runCtx); err != nil {
					c.logger.Warn("consolidation cycle ended early", "error", err)
				}
			case <-runCtx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and any in-flight cycle, then waits for it.
func (c *Consolidator) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// Stats returns a copy of the counters.
func (c *Consolidator) Stats() ConsolidationStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// RunOnce executes one full consolidation cycle: all three stages in
// order, then a purge of expired recent rows. Safe to call directly; the
// memory module triggers it on demand as well as on the timer.
func (c *Consolidator) RunOnce(ctx context.Context) error {
	c.mu.Lock()
	c.stats.LastCycleStartedAt = c.nowFunc()
	c.mu.Unlock()

	stages := []struct {
		name string
		fn   func(context.Context, string) (string, int64, bool, error)
	}{
		{"working_to_recent", c.promoteWorking},
		{"recent_to_semantic", c.promoteRecent},
		{"semantic_to_persistent", c.promoteSemantic},
	}

	for _, stage := range stages {
		if err := c.runStage(ctx, stage.name, stage.fn); err != nil {
			c.mu.Lock()
			c.stats.CyclesInterrupted++
			c.mu.Unlock()
			return err
		}
	}

	if purged, err := c.mgr.recent.Purge(ctx); err != nil {
		c.logger.Warn("recent log purge failed", "error", err)
	} else if purged > 0 {
		c.logger.Debug("purged expired recent rows", "rows", purged)
	}

	c.mu.Lock()
	c.stats.CyclesCompleted++
	c.mu.Unlock()
	return nil
}

// runStage drives one stage batch by batch, checkpointing between batches
// and honoring cancellation at every batch boundary.
func (c *Consolidator) runStage(ctx context.Context, name string, fn func(context.Context, string) (string, int64, bool, error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return types.WrapError(types.CONSOLIDATION_FAILED,
				"consolidation cancelled during "+name, err)
		}

		c.mu.Lock()
		after := c.checkpoints[name]
		c.mu.Unlock()

		last, promoted, done, err := fn(ctx, after)
		if err != nil {
			return types.WrapError(types.CONSOLIDATION_FAILED, name+" stage failed", err)
		}

		c.mu.Lock()
		if done {
			// Full pass complete; next cycle rescans so items that aged
			// into eligibility are picked up.
			c.checkpoints[name] = ""
		} else {
			c.checkpoints[name] = last
		}
		switch name {
		case "working_to_recent":
			c.stats.WorkingToRecent += promoted
		case "recent_to_semantic":
			c.stats.RecentToSemantic += promoted
		case "semantic_to_persistent":
			c.stats.SemanticToDurable += promoted
		}
		c.mu.Unlock()

		if done {
			return nil
		}
	}
}

// promoteWorking copies aged, sufficiently important working items into the
// recent log and releases them for expiry.
func (c *Consolidator) promoteWorking(ctx context.Context, after string) (string, int64, bool, error) {
	items, err := c.mgr.working.Scan(ctx, after, c.cfg.BatchSize)
	if err != nil {
		return after, 0, false, err
	}
	if len(items) == 0 {
		return after, 0, true, nil
	}

	now := c.nowFunc()
	var promoted int64
	for _, item := range items {
		if item.Age(now) < c.cfg.PromotionAge || item.Importance < c.mgr.cfg.Routing.ExpiryFloor {
			continue
		}
		if err := c.mgr.recent.Store(ctx, item); err != nil {
			return after, promoted, false, err
		}
		c.mgr.working.MarkPromoted(item.ID)
		promoted++
	}

	last := items[len(items)-1].ID
	return last, promoted, len(items) < c.cfg.BatchSize, nil
}

// promoteRecent copies aged, sufficiently important recent rows into the
// semantic tier. Re-embedding is skipped for ids the tier already holds.
func (c *Consolidator) promoteRecent(ctx context.Context, after string) (string, int64, bool, error) {
	items, err := c.mgr.recent.Scan(ctx, after, c.cfg.BatchSize)
	if err != nil {
		return after, 0, false, err
	}
	if len(items) == 0 {
		return after, 0, true, nil
	}

	now := c.nowFunc()
	var promoted int64
	for _, item := range items {
		if item.Age(now) < c.cfg.SemanticAge || item.Importance < c.mgr.cfg.Routing.SemanticThreshold {
			continue
		}
		if c.mgr.semantic.Has(item.ID) {
			continue
		}
		if err := c.mgr.semantic.Store(ctx, item); err != nil {
			return after, promoted, false, err
		}
		promoted++
	}

	last := items[len(items)-1].ID
	return last, promoted, len(items) < c.cfg.BatchSize, nil
}

// promoteSemantic copies high-importance semantic items into the durable
// store when they are not already there.
func (c *Consolidator) promoteSemantic(ctx context.Context, after string) (string, int64, bool, error) {
	items, err := c.mgr.semantic.Scan(ctx, after, c.cfg.BatchSize)
	if err != nil {
		return after, 0, false, err
	}
	if len(items) == 0 {
		return after, 0, true, nil
	}

	var promoted int64
	for _, item := range items {
		if item.Importance < c.mgr.cfg.Routing.PersistentThreshold {
			continue
		}
		present, err := c.mgr.persistent.Has(ctx, item.ID)
		if err != nil {
			return after, promoted, false, err
		}
		if present {
			continue
		}
		if err := c.mgr.persistent.Store(ctx, item); err != nil {
			return after, promoted, false, err
		}
		promoted++
	}

	last := items[len(items)-1].ID
	return last, promoted, len(items) < c.cfg.BatchSize, nil
}
