package memory

import (
	"context"
	"time"

	"github.com/AetharaAI/lotus/internal/database"
	"github.com/AetharaAI/lotus/internal/types"
)

// Predicate is a structured query over the persistent tier. Zero-value
// fields are not applied.
type Predicate struct {
	Kind          types.Kind
	MinImportance float64
	Source        string
}

// PersistentTier is the durable store of record for high-importance
// memories: its own SQLite file with full-text search, no TTL, survives
// restarts.
type PersistentTier struct {
	db      *database.DB
	dao     database.MemoryDAO
	nowFunc func() time.Time
}

// NewPersistentTier opens the persistent store and migrates its schema.
func NewPersistentTier(cfg PersistentConfig) (*PersistentTier, error) {
	db, err := database.Open(cfg.Path)
	if err != nil {
		return nil, types.WrapError(types.DB_OPEN_FAILED, "failed to open persistent store", err)
	}
	if err := database.NewMigrator(db, database.PersistentStoreMigrations()).Migrate(context.Background()); err != nil {
		db.Close()
		return nil, types.WrapError(types.DB_MIGRATION_FAILED, "failed to migrate persistent store", err)
	}

	return &PersistentTier{
		db:      db,
		dao:     database.NewMemoryDAO(db),
		nowFunc: time.Now,
	}, nil
}

// Level identifies the tier.
func (p *PersistentTier) Level() types.TierLevel { return types.TierPersistent }

// Store upserts an item. CreatedAt is first-write-wins in the store.
func (p *PersistentTier) Store(ctx context.Context, item types.MemoryItem) error {
	if err := p.dao.Upsert(ctx, item); err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "persistent tier store failed", err)
	}
	return nil
}

// Retrieve runs a full-text search over content.
func (p *PersistentTier) Retrieve(ctx context.Context, query string, limit int) ([]ScoredItem, error) {
	items, err := p.dao.Search(ctx, query, limit)
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "persistent tier retrieve failed", err)
	}
	return scoreless(items, types.TierPersistent), nil
}

// Query applies a structured predicate, most important and newest first.
func (p *PersistentTier) Query(ctx context.Context, pred Predicate, limit int) ([]types.MemoryItem, error) {
	items, err := p.dao.Query(ctx, database.Filter{
		Kind:          pred.Kind,
		MinImportance: pred.MinImportance,
		Source:        pred.Source,
	}, limit)
	if err != nil {
		return nil, types.WrapError(types.DB_QUERY_FAILED, "persistent tier query failed", err)
	}
	return items, nil
}

// Get fetches an item and bumps its access bookkeeping.
func (p *PersistentTier) Get(ctx context.Context, id string) (*types.MemoryItem, bool, error) {
	item, err := p.dao.GetByID(ctx, id)
	if err != nil {
		return nil, false, types.WrapError(types.DB_QUERY_FAILED, "persistent tier get failed", err)
	}
	if item == nil {
		return nil, false, nil
	}
	now := p.nowFunc()
	// Access bookkeeping is best-effort.
	if err := p.dao.Touch(ctx, id, now); err == nil {
		item.AccessCount++
		item.LastAccessedAt = now
	}
	return item, true, nil
}

// Has reports whether an id exists without touching bookkeeping.
func (p *PersistentTier) Has(ctx context.Context, id string) (bool, error) {
	item, err := p.dao.GetByID(ctx, id)
	if err != nil {
		return false, types.WrapError(types.DB_QUERY_FAILED, "persistent tier lookup failed", err)
	}
	return item != nil, nil
}

// Delete removes an item.
func (p *PersistentTier) Delete(ctx context.Context, id string) error {
	if err := p.dao.Delete(ctx, id); err != nil {
		return types.WrapError(types.DB_QUERY_FAILED, "persistent tier delete failed", err)
	}
	return nil
}

// Count returns the number of stored items.
func (p *PersistentTier) Count(ctx context.Context) (int64, error) {
	return p.dao.Count(ctx)
}

// Health probes the underlying database.
func (p *PersistentTier) Health(ctx context.Context) types.HealthStatus {
	if err := p.db.Health(ctx); err != nil {
		return types.Unhealthyf("persistent store unavailable: %v", err)
	}
	return types.Healthy("persistent tier ready")
}

// Close closes the database.
func (p *PersistentTier) Close() error {
	return p.db.Close()
}
