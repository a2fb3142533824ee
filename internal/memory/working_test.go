package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AetharaAI/lotus/internal/types"
)

func newTestWorkingTier(t *testing.T, cfg WorkingConfig, floor float64) (*WorkingTier, *time.Time) {
	t.Helper()
	cfg.ApplyDefaults()
	w := NewWorkingTier(cfg, floor)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	w.nowFunc = func() time.Time { return now }
	return w, &now
}

func workingItem(id, content string, importance float64, createdAt time.Time) types.MemoryItem {
	return types.MemoryItem{
		ID:             id,
		Content:        content,
		Kind:           types.KindWorking,
		Importance:     importance,
		CreatedAt:      createdAt,
		LastAccessedAt: createdAt,
	}
}

func TestWorkingTierStoreAndGet(t *testing.T) {
	w, now := newTestWorkingTier(t, WorkingConfig{TTL: time.Minute}, 0.3)
	ctx := context.Background()

	require.NoError(t, w.Store(ctx, workingItem("a", "remember the port number", 0.1, *now)))

	item, found, err := w.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "remember the port number", item.Content)
	assert.Equal(t, int64(1), item.AccessCount)

	_, found, err = w.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWorkingTierExpiry(t *testing.T) {
	w, now := newTestWorkingTier(t, WorkingConfig{TTL: time.Minute}, 0.3)
	ctx := context.Background()

	require.NoError(t, w.Store(ctx, workingItem("low", "scratch note", 0.1, *now)))
	require.NoError(t, w.Store(ctx, workingItem("high", "production credentials rotated", 0.9, *now)))

	*now = now.Add(2 * time.Minute)

	_, found, err := w.Get(ctx, "low")
	require.NoError(t, err)
	assert.False(t, found, "low-importance item should expire after its ttl")

	item, found, err := w.Get(ctx, "high")
	require.NoError(t, err)
	require.True(t, found, "items at or above the expiry floor outlive the ttl")
	assert.Equal(t, "production credentials rotated", item.Content)
}

func TestWorkingTierPromotedItemsExpire(t *testing.T) {
	w, now := newTestWorkingTier(t, WorkingConfig{TTL: time.Minute}, 0.3)
	ctx := context.Background()

	require.NoError(t, w.Store(ctx, workingItem("a", "kept until promoted", 0.9, *now)))
	w.MarkPromoted("a")

	*now = now.Add(2 * time.Minute)

	_, found, err := w.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found, "promotion releases an important item for expiry")
}

func TestWorkingTierRestoreRefreshesTTL(t *testing.T) {
	w, now := newTestWorkingTier(t, WorkingConfig{TTL: time.Minute}, 0.3)
	ctx := context.Background()

	created := *now
	require.NoError(t, w.Store(ctx, workingItem("a", "same content", 0.1, created)))

	*now = now.Add(45 * time.Second)
	refreshed := workingItem("a", "same content", 0.1, *now)
	require.NoError(t, w.Store(ctx, refreshed))

	*now = now.Add(45 * time.Second)
	item, found, err := w.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, found, "re-store should refresh the ttl")
	assert.True(t, item.CreatedAt.Equal(created), "re-store keeps the original created_at")
}

func TestWorkingTierEviction(t *testing.T) {
	w, now := newTestWorkingTier(t, WorkingConfig{TTL: time.Hour, MaxEntries: 2}, 0.3)
	ctx := context.Background()

	require.NoError(t, w.Store(ctx, workingItem("a", "oldest", 0.1, *now)))
	*now = now.Add(time.Second)
	require.NoError(t, w.Store(ctx, workingItem("b", "newer", 0.1, *now)))

	// Touching "a" makes "b" the least recently used entry.
	*now = now.Add(time.Second)
	require.NoError(t, w.Touch(ctx, "a"))

	*now = now.Add(time.Second)
	require.NoError(t, w.Store(ctx, workingItem("c", "newest", 0.1, *now)))

	_, found, err := w.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, found, "lru entry should be evicted at capacity")

	for _, id := range []string{"a", "c"} {
		_, found, err := w.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, found, "entry %s should survive eviction", id)
	}
}

func TestWorkingTierEvictionTieBreaksByID(t *testing.T) {
	w, now := newTestWorkingTier(t, WorkingConfig{TTL: time.Hour, MaxEntries: 2}, 0.3)
	ctx := context.Background()

	// Same access time: the lowest id loses.
	require.NoError(t, w.Store(ctx, workingItem("b", "tied", 0.1, *now)))
	require.NoError(t, w.Store(ctx, workingItem("a", "tied", 0.1, *now)))

	*now = now.Add(time.Second)
	require.NoError(t, w.Store(ctx, workingItem("c", "newest", 0.1, *now)))

	_, found, err := w.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)

	for _, id := range []string{"b", "c"} {
		_, found, err := w.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, found, "entry %s should survive eviction", id)
	}
}

func TestWorkingTierRetrieve(t *testing.T) {
	w, now := newTestWorkingTier(t, WorkingConfig{TTL: time.Hour}, 0.3)
	ctx := context.Background()

	require.NoError(t, w.Store(ctx, workingItem("a", "Database connection pool sizing", 0.5, *now)))
	*now = now.Add(time.Second)
	require.NoError(t, w.Store(ctx, workingItem("b", "database migration finished", 0.5, *now)))
	require.NoError(t, w.Store(ctx, workingItem("c", "unrelated note", 0.5, *now)))

	results, err := w.Retrieve(ctx, "DATABASE", 10)
	require.NoError(t, err)
	require.Len(t, results, 2, "matching is case-insensitive substring")
	assert.Equal(t, "b", results[0].Item.ID, "newest match first")
	assert.Equal(t, "a", results[1].Item.ID)

	limited, err := w.Retrieve(ctx, "database", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestWorkingTierScan(t *testing.T) {
	w, now := newTestWorkingTier(t, WorkingConfig{TTL: time.Hour}, 0.3)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, w.Store(ctx, workingItem(id, "content "+id, 0.5, *now)))
	}

	first, err := w.Scan(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "a", first[0].ID)
	assert.Equal(t, "b", first[1].ID)

	rest, err := w.Scan(ctx, first[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", rest[0].ID)
}

func TestWorkingTierDelete(t *testing.T) {
	w, now := newTestWorkingTier(t, WorkingConfig{TTL: time.Hour}, 0.3)
	ctx := context.Background()

	require.NoError(t, w.Store(ctx, workingItem("a", "content", 0.5, *now)))
	require.NoError(t, w.Delete(ctx, "a"))
	require.NoError(t, w.Delete(ctx, "a"))

	_, found, err := w.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
}
