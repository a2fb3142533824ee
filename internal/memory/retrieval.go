package memory

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/AetharaAI/lotus/internal/types"
)

// RetrievalResult is the merged outcome of a cross-tier query.
type RetrievalResult struct {
	// Items are deduplicated, scored, and ordered best first.
	Items []ScoredItem `json:"items"`

	// DegradedTiers lists tiers that failed or timed out; their results
	// are simply missing, the query still succeeds.
	DegradedTiers []types.TierLevel `json:"degraded_tiers,omitempty"`
}

// Degraded reports whether any tier failed to contribute.
func (r *RetrievalResult) Degraded() bool {
	return len(r.DegradedTiers) > 0
}

// RetrievalEngine fans a query out to all four tiers concurrently, merges
// the results, and ranks them with a composite relevance score. A slow or
// broken tier costs its results, never the query.
type RetrievalEngine struct {
	mgr     *Manager
	cfg     RetrievalConfig
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewRetrievalEngine creates the engine over a manager's tiers.
func NewRetrievalEngine(mgr *Manager, cfg RetrievalConfig, logger *slog.Logger) *RetrievalEngine {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalEngine{
		mgr:     mgr,
		cfg:     cfg,
		logger:  logger,
		nowFunc: time.Now,
	}
}

type tierResult struct {
	level types.TierLevel
	items []ScoredItem
	err   error
}

// RetrieveOption adjusts a single retrieval call.
type RetrieveOption func(*retrieveOptions)

type retrieveOptions struct {
	weights *ScoreWeights
}

// WithWeights overrides the composite score coefficients for one call.
// The configured defaults remain in effect for every other call.
func WithWeights(w ScoreWeights) RetrieveOption {
	return func(o *retrieveOptions) { o.weights = &w }
}

// Retrieve queries every tier concurrently and merges the results. Given
// identical tier contents the output is deterministic: composite score
// descending, then CreatedAt descending, then id.
func (e *RetrievalEngine) Retrieve(ctx context.Context, query string, limit int, opts ...RetrieveOption) (*RetrievalResult, error) {
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}

	var ro retrieveOptions
	for _, opt := range opts {
		opt(&ro)
	}
	weights := e.cfg.Weights
	if ro.weights != nil {
		weights = *ro.weights
	}

	tiers := e.mgr.tiers()
	results := make(chan tierResult, len(tiers))
	for _, tier := range tiers {
		go func(t Tier) {
			tctx, cancel := context.WithTimeout(ctx, e.cfg.TierTimeout)
			defer cancel()

			items, err := t.Retrieve(tctx, query, limit)
			results <- tierResult{level: t.Level(), items: items, err: err}
		}(tier)
	}

	// Dedup by id keeping the instance from the highest tier; similarity
	// survives the merge so a semantic hit still scores as one even when
	// the persistent copy wins.
	best := make(map[string]ScoredItem)
	var degraded []types.TierLevel
	for range tiers {
		res := <-results
		if res.err != nil {
			degraded = append(degraded, res.level)
			e.logger.Warn("tier unavailable during retrieval",
				"tier", res.level.String(), "error", res.err)
			continue
		}
		for _, si := range res.items {
			prev, seen := best[si.Item.ID]
			if !seen {
				best[si.Item.ID] = si
				continue
			}
			keep := prev
			if si.Tier > prev.Tier {
				keep = si
			}
			if prev.Similarity > keep.Similarity {
				keep.Similarity = prev.Similarity
			}
			if si.Similarity > keep.Similarity {
				keep.Similarity = si.Similarity
			}
			best[si.Item.ID] = keep
		}
	}

	now := e.nowFunc()
	merged := make([]ScoredItem, 0, len(best))
	for _, si := range best {
		si.Score = e.scoreWith(si, now, weights)
		merged = append(merged, si)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		if !merged[i].Item.CreatedAt.Equal(merged[j].Item.CreatedAt) {
			return merged[i].Item.CreatedAt.After(merged[j].Item.CreatedAt)
		}
		return merged[i].Item.ID > merged[j].Item.ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}

	sort.Slice(degraded, func(i, j int) bool { return degraded[i] < degraded[j] })

	e.touchServed(merged)

	return &RetrievalResult{Items: merged, DegradedTiers: degraded}, nil
}

// score computes the composite relevance score with the configured weights.
func (e *RetrievalEngine) score(si ScoredItem, now time.Time) float64 {
	return e.scoreWith(si, now, e.cfg.Weights)
}

func (e *RetrievalEngine) scoreWith(si ScoredItem, now time.Time, w ScoreWeights) float64 {
	accessed := si.Item.LastAccessedAt
	if accessed.IsZero() {
		accessed = si.Item.CreatedAt
	}
	age := now.Sub(accessed)
	if age < 0 {
		age = 0
	}
	recency := math.Exp2(-age.Hours() / e.cfg.RecencyHalfLife.Hours())
	frequency := math.Log1p(float64(si.Item.AccessCount))

	return w.Importance*si.Item.Importance +
		w.Recency*recency +
		w.Frequency*frequency +
		w.Similarity*si.Similarity
}

// touchServed bumps access bookkeeping for served items in the background.
// Failures are irrelevant; the counters are advisory.
func (e *RetrievalEngine) touchServed(items []ScoredItem) {
	if len(items) == 0 {
		return
	}
	ids := make([]ScoredItem, len(items))
	copy(ids, items)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.TierTimeout)
		defer cancel()
		for _, si := range ids {
			switch si.Tier {
			case types.TierWorking:
				_ = e.mgr.working.Touch(ctx, si.Item.ID)
			case types.TierRecent:
				_, _, _ = e.mgr.recent.Get(ctx, si.Item.ID)
			case types.TierSemantic:
				_, _, _ = e.mgr.semantic.Get(ctx, si.Item.ID)
			case types.TierPersistent:
				_, _, _ = e.mgr.persistent.Get(ctx, si.Item.ID)
			}
		}
	}()
}
