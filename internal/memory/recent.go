package memory

import (
	"context"
	"time"

	"github.com/AetharaAI/lotus/internal/database"
	"github.com/AetharaAI/lotus/internal/types"
)

// RecentTier is the time-indexed log of what happened lately, backed by its
// own SQLite file. Rows are append-only with a TTL; expired rows become
// invisible immediately and are physically purged in the background.
type RecentTier struct {
	db      *database.DB
	dao     database.RecentDAO
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewRecentTier opens the recent log database and migrates its schema.
func NewRecentTier(cfg RecentConfig) (*RecentTier, error) {
	cfg.ApplyDefaults()

	db, err := database.Open(cfg.Path)
	if err != nil {
		return nil, types.WrapError(types.DB_OPEN_FAILED, "failed to open recent log", err)
	}
	if err := database.NewMigrator(db, database.RecentLogMigrations()).Migrate(context.Background()); err != nil {
		db.Close()
		return nil, types.WrapError(types.DB_MIGRATION_FAILED, "failed to migrate recent log", err)
	}

	return &RecentTier{
		db:      db,
		dao:     database.NewRecentDAO(db),
		ttl:     cfg.TTL,
		nowFunc: time.Now,
	}, nil
}

// Level identifies the tier.
func (r *RecentTier) Level() types.TierLevel { return types.TierRecent }

// Store appends an item to the log. Re-storing an existing id is a no-op.
func (r *RecentTier) Store(ctx context.Context, item types.MemoryItem) error {
	expiresAt := item.CreatedAt.Add(r.ttl)
	if err := r.dao.Append(ctx, item, expiresAt); err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "recent tier store failed", err)
	}
	return nil
}

// Retrieve returns unexpired rows matching the keyword, newest first.
func (r *RecentTier) Retrieve(ctx context.Context, query string, limit int) ([]ScoredItem, error) {
	items, err := r.dao.Search(ctx, query, limit, r.nowFunc())
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "recent tier retrieve failed", err)
	}
	return scoreless(items, types.TierRecent), nil
}

// Between returns unexpired rows created within [start, end], newest first.
func (r *RecentTier) Between(ctx context.Context, start, end time.Time, limit int) ([]types.MemoryItem, error) {
	items, err := r.dao.Between(ctx, start, end, limit, r.nowFunc())
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "recent tier range query failed", err)
	}
	return items, nil
}

// Get fetches an unexpired row and bumps its access bookkeeping.
func (r *RecentTier) Get(ctx context.Context, id string) (*types.MemoryItem, bool, error) {
	now := r.nowFunc()
	item, err := r.dao.GetByID(ctx, id, now)
	if err != nil {
		return nil, false, types.WrapError(types.DB_QUERY_FAILED, "recent tier get failed", err)
	}
	if item == nil {
		return nil, false, nil
	}
	// Access bookkeeping is best-effort.
	if err := r.dao.Touch(ctx, id, now); err == nil {
		item.AccessCount++
		item.LastAccessedAt = now
	}
	return item, true, nil
}

// Scan returns rows with id > afterID in id order, for resumable
// consolidation scans. Expired rows stay visible here until the purge
// removes them, so a row that aged past the promotion threshold can still
// be promoted in the same cycle.
func (r *RecentTier) Scan(ctx context.Context, afterID string, batch int) ([]types.MemoryItem, error) {
	items, err := r.dao.ScanAfter(ctx, afterID, batch)
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "recent tier scan failed", err)
	}
	return items, nil
}

// Delete removes a row.
func (r *RecentTier) Delete(ctx context.Context, id string) error {
	if err := r.dao.Delete(ctx, id); err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "recent tier delete failed", err)
	}
	return nil
}

// Purge physically deletes expired rows and returns how many were removed.
func (r *RecentTier) Purge(ctx context.Context) (int64, error) {
	return r.dao.PurgeExpired(ctx, r.nowFunc())
}

// Health probes the underlying database.
func (r *RecentTier) Health(ctx context.Context) types.HealthStatus {
	if err := r.db.Health(ctx); err != nil {
		return types.Unhealthyf("recent log database unavailable: %v", err)
	}
	return types.Healthy("recent tier ready")
}

// Close closes the database.
func (r *RecentTier) Close() error {
	return r.db.Close()
}

func scoreless(items []types.MemoryItem, tier types.TierLevel) []ScoredItem {
	out := make([]ScoredItem, len(items))
	for i, item := range items {
		out[i] = ScoredItem{Item: item, Tier: tier}
	}
	return out
}
