package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AetharaAI/lotus/internal/memory/embedder"
	"github.com/AetharaAI/lotus/internal/types"
)

// StoreOption modifies a single store operation.
type StoreOption func(*storeOptions)

type storeOptions struct {
	overrideImportance bool
}

// WithImportanceOverride allows this write to lower an item's importance.
// Without it importance is monotone: a lower value is silently ignored.
func WithImportanceOverride() StoreOption {
	return func(o *storeOptions) { o.overrideImportance = true }
}

// Manager owns the four tiers and routes operations across them. Writes
// always land in the working and recent tiers; sufficiently important
// writes also reach the semantic and persistent tiers immediately, without
// waiting for consolidation.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	working    *WorkingTier
	recent     *RecentTier
	semantic   *SemanticTier
	persistent *PersistentTier
	emb        embedder.Embedder

	retrieval *RetrievalEngine
	nowFunc   func() time.Time
}

// NewManager builds the full memory subsystem from configuration.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	emb, err := embedder.New(cfg.Embedder)
	if err != nil {
		return nil, err
	}

	working := NewWorkingTier(cfg.Working, cfg.Routing.ExpiryFloor)

	recent, err := NewRecentTier(cfg.Recent)
	if err != nil {
		return nil, err
	}

	semantic, err := NewSemanticTier(cfg.Semantic, emb)
	if err != nil {
		recent.Close()
		return nil, err
	}

	persistent, err := NewPersistentTier(cfg.Persistent)
	if err != nil {
		recent.Close()
		return nil, err
	}

	m := &Manager{
		cfg:        cfg,
		logger:     logger,
		working:    working,
		recent:     recent,
		semantic:   semantic,
		persistent: persistent,
		emb:        emb,
		nowFunc:    time.Now,
	}
	m.retrieval = NewRetrievalEngine(m, cfg.Retrieval, logger)
	return m, nil
}

// Embedder exposes the manager's embedder.
func (m *Manager) Embedder() embedder.Embedder { return m.emb }

// Store validates, routes, and writes a memory. The returned item carries
// the generated id and the effective importance after the monotonicity
// rule.
func (m *Manager) Store(ctx context.Context, item types.MemoryItem, opts ...StoreOption) (types.MemoryItem, error) {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := item.Validate(); err != nil {
		return types.MemoryItem{}, err
	}
	if item.Kind == "" {
		item.Kind = types.KindEpisodic
	}

	now := m.nowFunc()
	if item.ID == "" {
		item.ID = ulid.Make().String()
		item.CreatedAt = now
	} else {
		existing, found, err := m.lookup(ctx, item.ID)
		if err != nil {
			return types.MemoryItem{}, err
		}
		if found {
			if existing.Content != item.Content {
				return types.MemoryItem{}, types.NewError(types.MEMORY_DUPLICATE_ID,
					fmt.Sprintf("memory id %q already exists with different content", item.ID))
			}
			// CreatedAt is first-write-wins.
			item.CreatedAt = existing.CreatedAt
			if item.AccessCount < existing.AccessCount {
				item.AccessCount = existing.AccessCount
			}
			if !o.overrideImportance && item.Importance < existing.Importance {
				item.Importance = existing.Importance
			}
		} else if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.LastAccessedAt.IsZero() {
		item.LastAccessedAt = item.CreatedAt
	}
	item.TierOrigin = m.routeOrigin(item.Importance)

	// Working and recent always receive the write.
	if err := m.working.Store(ctx, item); err != nil {
		return types.MemoryItem{}, err
	}
	if err := m.recent.Store(ctx, item); err != nil {
		return types.MemoryItem{}, err
	}

	// Importance-gated immediate writes to the upper tiers. The item is
	// already durable in the recent log at this point, so an upper-tier
	// failure is reported without undoing the lower writes.
	if item.Importance >= m.cfg.Routing.SemanticThreshold {
		if err := m.semantic.Store(ctx, item); err != nil {
			return item, err
		}
	}
	if item.Importance >= m.cfg.Routing.PersistentThreshold {
		if err := m.persistent.Store(ctx, item); err != nil {
			return item, err
		}
	}

	m.logger.Debug("memory stored",
		"id", item.ID,
		"kind", item.Kind.String(),
		"importance", item.Importance,
		"tier_origin", item.TierOrigin.String())
	return item, nil
}

// Retrieve runs the cross-tier retrieval engine.
func (m *Manager) Retrieve(ctx context.Context, query string, limit int, opts ...RetrieveOption) (*RetrievalResult, error) {
	return m.retrieval.Retrieve(ctx, query, limit, opts...)
}

// Get fetches an item by id, preferring the highest tier holding it.
func (m *Manager) Get(ctx context.Context, id string) (*types.MemoryItem, bool, error) {
	for _, tier := range []Tier{m.persistent, m.semantic, m.recent, m.working} {
		item, found, err := tier.Get(ctx, id)
		if err != nil {
			m.logger.Warn("tier get failed", "tier", tier.Level().String(), "id", id, "error", err)
			continue
		}
		if found {
			item.TierOrigin = tier.Level()
			return item, true, nil
		}
	}
	return nil, false, nil
}

// Between queries the recent log by time range.
func (m *Manager) Between(ctx context.Context, start, end time.Time, limit int) ([]types.MemoryItem, error) {
	if limit <= 0 {
		limit = m.cfg.Retrieval.DefaultLimit
	}
	return m.recent.Between(ctx, start, end, limit)
}

// Query runs a structured predicate over the persistent tier.
func (m *Manager) Query(ctx context.Context, pred Predicate, limit int) ([]types.MemoryItem, error) {
	if limit <= 0 {
		limit = m.cfg.Retrieval.DefaultLimit
	}
	return m.persistent.Query(ctx, pred, limit)
}

// Forget removes an item from every tier.
func (m *Manager) Forget(ctx context.Context, id string) error {
	var errs []string
	for _, tier := range []Tier{m.working, m.recent, m.semantic, m.persistent} {
		if err := tier.Delete(ctx, id); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", tier.Level().String(), err))
		}
	}
	if len(errs) > 0 {
		return types.NewError(types.DB_QUERY_FAILED,
			"forget incomplete: "+strings.Join(errs, "; "))
	}
	return nil
}

// Health aggregates tier health: unhealthy if any tier is unhealthy,
// degraded if any is degraded.
func (m *Manager) Health(ctx context.Context) types.HealthStatus {
	var degraded []string
	for _, tier := range m.tiers() {
		h := tier.Health(ctx)
		if h.IsUnhealthy() {
			return types.Unhealthyf("%s tier unhealthy: %s", tier.Level().String(), h.Message)
		}
		if h.IsDegraded() {
			degraded = append(degraded, tier.Level().String())
		}
	}
	if len(degraded) > 0 {
		return types.Degraded("degraded tiers: " + strings.Join(degraded, ", "))
	}
	return types.Healthy("all memory tiers ready")
}

// Close closes every tier.
func (m *Manager) Close() error {
	var firstErr error
	for _, tier := range m.tiers() {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// tiers returns the tiers lowest first.
func (m *Manager) tiers() []Tier {
	return []Tier{m.working, m.recent, m.semantic, m.persistent}
}

// lookup finds an item in any tier without access bookkeeping side effects
// where avoidable.
func (m *Manager) lookup(ctx context.Context, id string) (*types.MemoryItem, bool, error) {
	if item, found, err := m.persistent.Get(ctx, id); err == nil && found {
		return item, true, nil
	}
	if m.semantic.Has(id) {
		return m.semantic.Get(ctx, id)
	}
	if item, found, err := m.recent.Get(ctx, id); err == nil && found {
		return item, true, nil
	}
	return m.working.Get(ctx, id)
}

// routeOrigin computes the highest tier a write of this importance reaches.
func (m *Manager) routeOrigin(importance float64) types.TierLevel {
	switch {
	case importance >= m.cfg.Routing.PersistentThreshold:
		return types.TierPersistent
	case importance >= m.cfg.Routing.SemanticThreshold:
		return types.TierSemantic
	default:
		return types.TierRecent
	}
}
