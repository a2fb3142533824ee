package memory

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AetharaAI/lotus/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(Config{DataDir: t.TempDir()}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr
}

func TestManagerStoreGeneratesID(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	stored, err := mgr.Store(ctx, types.MemoryItem{Content: "note to self", Importance: 0.2})
	require.NoError(t, err)
	assert.Len(t, stored.ID, 26, "generated ids are ulids")
	assert.Equal(t, types.KindEpisodic, stored.Kind, "kind defaults to episodic")
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestManagerStoreRouting(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		importance float64
		origin     types.TierLevel
		inSemantic bool
		inPersist  bool
	}{
		{"low importance stays in working and recent", 0.2, types.TierRecent, false, false},
		{"semantic threshold reaches the semantic tier", 0.5, types.TierSemantic, true, false},
		{"persistent threshold reaches every tier", 0.8, types.TierPersistent, true, true},
		{"just below semantic threshold", 0.49, types.TierRecent, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := mgr.Store(ctx, types.MemoryItem{
				Content:    "routing check " + tt.name,
				Importance: tt.importance,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.origin, stored.TierOrigin)

			_, inWorking, err := mgr.working.Get(ctx, stored.ID)
			require.NoError(t, err)
			assert.True(t, inWorking, "every write lands in working")

			_, inRecent, err := mgr.recent.Get(ctx, stored.ID)
			require.NoError(t, err)
			assert.True(t, inRecent, "every write lands in recent")

			assert.Equal(t, tt.inSemantic, mgr.semantic.Has(stored.ID))

			inPersist, err := mgr.persistent.Has(ctx, stored.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.inPersist, inPersist)
		})
	}
}

func TestManagerStoreDuplicateID(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Store(ctx, types.MemoryItem{ID: "fixed", Content: "original", Importance: 0.2})
	require.NoError(t, err)

	_, err = mgr.Store(ctx, types.MemoryItem{ID: "fixed", Content: "different", Importance: 0.2})
	require.Error(t, err)
	var lerr *types.LotusError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, types.MEMORY_DUPLICATE_ID, lerr.Code)
}

func TestManagerStoreFirstWriteWinsCreatedAt(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr.nowFunc = func() time.Time { return first }
	stored, err := mgr.Store(ctx, types.MemoryItem{ID: "fixed", Content: "same", Importance: 0.2})
	require.NoError(t, err)
	require.True(t, stored.CreatedAt.Equal(first))

	mgr.nowFunc = func() time.Time { return first.Add(time.Hour) }
	again, err := mgr.Store(ctx, types.MemoryItem{ID: "fixed", Content: "same", Importance: 0.2})
	require.NoError(t, err)
	assert.True(t, again.CreatedAt.Equal(first), "re-store keeps the original created_at")
}

func TestManagerStoreMonotoneImportance(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Store(ctx, types.MemoryItem{ID: "fixed", Content: "same", Importance: 0.7})
	require.NoError(t, err)

	lowered, err := mgr.Store(ctx, types.MemoryItem{ID: "fixed", Content: "same", Importance: 0.4})
	require.NoError(t, err)
	assert.Equal(t, 0.7, lowered.Importance, "lower importance without override is ignored")

	overridden, err := mgr.Store(ctx,
		types.MemoryItem{ID: "fixed", Content: "same", Importance: 0.4},
		WithImportanceOverride())
	require.NoError(t, err)
	assert.Equal(t, 0.4, overridden.Importance)
}

func TestManagerStoreInvalidItem(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name string
		item types.MemoryItem
	}{
		{"empty content", types.MemoryItem{Importance: 0.5}},
		{"importance above one", types.MemoryItem{Content: "x", Importance: 1.5}},
		{"negative importance", types.MemoryItem{Content: "x", Importance: -0.1}},
		{"unknown kind", types.MemoryItem{Content: "x", Kind: "dreams", Importance: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.Store(ctx, tt.item)
			require.Error(t, err)
			var lerr *types.LotusError
			require.ErrorAs(t, err, &lerr)
			assert.Equal(t, types.MEMORY_ITEM_INVALID, lerr.Code)
		})
	}
}

func TestManagerGetPrefersHighestTier(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	stored, err := mgr.Store(ctx, types.MemoryItem{Content: "everywhere", Importance: 0.9})
	require.NoError(t, err)

	item, found, err := mgr.Get(ctx, stored.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.TierPersistent, item.TierOrigin)

	// Once removed from the upper tiers the same id resolves lower down.
	require.NoError(t, mgr.persistent.Delete(ctx, stored.ID))
	require.NoError(t, mgr.semantic.Delete(ctx, stored.ID))

	item, found, err = mgr.Get(ctx, stored.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.TierRecent, item.TierOrigin)
}

func TestManagerGetMissing(t *testing.T) {
	mgr := newTestManager(t)

	_, found, err := mgr.Get(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestManagerForget(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	stored, err := mgr.Store(ctx, types.MemoryItem{Content: "remove everywhere", Importance: 0.9})
	require.NoError(t, err)

	require.NoError(t, mgr.Forget(ctx, stored.ID))

	_, found, err := mgr.Get(ctx, stored.ID)
	require.NoError(t, err)
	assert.False(t, found, "forget removes the item from every tier")
}

func TestManagerBetween(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"first", "second", "third"} {
		at := base.Add(time.Duration(i) * time.Hour)
		mgr.nowFunc = func() time.Time { return at }
		mgr.recent.nowFunc = mgr.nowFunc
		_, err := mgr.Store(ctx, types.MemoryItem{Content: content, Importance: 0.2})
		require.NoError(t, err)
	}

	items, err := mgr.Between(ctx, base.Add(30*time.Minute), base.Add(90*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "second", items[0].Content)
}

func TestManagerQuery(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Store(ctx, types.MemoryItem{
		Content: "schema is canonical", Kind: types.KindSemantic, Importance: 0.9, Source: "planner",
	})
	require.NoError(t, err)
	_, err = mgr.Store(ctx, types.MemoryItem{
		Content: "deploy playbook", Kind: types.KindProcedural, Importance: 0.85, Source: "agent",
	})
	require.NoError(t, err)

	items, err := mgr.Query(ctx, Predicate{Kind: types.KindProcedural}, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "deploy playbook", items[0].Content)

	items, err = mgr.Query(ctx, Predicate{Source: "planner"}, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "schema is canonical", items[0].Content)
}

func TestManagerHealth(t *testing.T) {
	mgr := newTestManager(t)
	status := mgr.Health(context.Background())
	assert.True(t, status.IsHealthy())
}

func TestManagerInvalidConfig(t *testing.T) {
	_, err := NewManager(Config{
		DataDir: t.TempDir(),
		Routing: RoutingConfig{SemanticThreshold: 0.9, PersistentThreshold: 0.5, ExpiryFloor: 0.3},
	}, testLogger())
	require.Error(t, err)
	var lerr *types.LotusError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, types.CONFIG_VALIDATION_FAILED, lerr.Code)
}
