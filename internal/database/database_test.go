package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AetharaAI/lotus/internal/types"
)

func openRecentDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "recent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, NewMigrator(db, RecentLogMigrations()).Migrate(context.Background()))
	return db
}

func openPersistentDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "persistent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, NewMigrator(db, PersistentStoreMigrations()).Migrate(context.Background()))
	return db
}

func TestOpenEnablesWAL(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.Conn().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	assert.NoError(t, db.Health(context.Background()))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openPersistentDB(t)
	ctx := context.Background()

	sentinel := errors.New("boom")
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO persistent_memory (id, content, created_at, last_accessed_at)
			VALUES ('x', 'doomed', ?, ?)`, time.Now(), time.Now())
		require.NoError(t, err)
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	dao := NewMemoryDAO(db)
	item, err := dao.GetByID(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := openPersistentDB(t)
	ctx := context.Background()

	m := NewMigrator(db, PersistentStoreMigrations())
	require.NoError(t, m.Migrate(ctx))
	require.NoError(t, m.Migrate(ctx))

	version, err := m.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func recentItem(id, content string, createdAt time.Time) types.MemoryItem {
	return types.MemoryItem{
		ID:             id,
		Content:        content,
		Kind:           types.KindEpisodic,
		Importance:     0.4,
		Source:         "test",
		CreatedAt:      createdAt,
		LastAccessedAt: createdAt,
	}
}

func TestRecentDAOAppendAndSearch(t *testing.T) {
	db := openRecentDB(t)
	dao := NewRecentDAO(db)
	ctx := context.Background()
	now := time.Now().UTC()
	expires := now.Add(24 * time.Hour)

	require.NoError(t, dao.Append(ctx, recentItem("01A", "deployed service alpha", now.Add(-2*time.Hour)), expires))
	require.NoError(t, dao.Append(ctx, recentItem("01B", "service alpha crashed", now.Add(-time.Hour)), expires))
	require.NoError(t, dao.Append(ctx, recentItem("01C", "restarted beta", now), expires))

	items, err := dao.Search(ctx, "alpha", 10, now)
	require.NoError(t, err)
	require.Len(t, items, 2)
	// Newest first.
	assert.Equal(t, "01B", items[0].ID)
	assert.Equal(t, "01A", items[1].ID)
	assert.Equal(t, types.TierRecent, items[0].TierOrigin)
}

func TestRecentDAOAppendIsIdempotent(t *testing.T) {
	db := openRecentDB(t)
	dao := NewRecentDAO(db)
	ctx := context.Background()
	now := time.Now().UTC()

	original := recentItem("01A", "original content", now.Add(-time.Hour))
	require.NoError(t, dao.Append(ctx, original, now.Add(time.Hour)))

	changed := recentItem("01A", "different content", now)
	require.NoError(t, dao.Append(ctx, changed, now.Add(time.Hour)))

	got, err := dao.GetByID(ctx, "01A", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "original content", got.Content)
}

func TestRecentDAOBetween(t *testing.T) {
	db := openRecentDB(t)
	dao := NewRecentDAO(db)
	ctx := context.Background()
	now := time.Now().UTC()
	expires := now.Add(24 * time.Hour)

	require.NoError(t, dao.Append(ctx, recentItem("01A", "old", now.Add(-10*time.Hour)), expires))
	require.NoError(t, dao.Append(ctx, recentItem("01B", "mid", now.Add(-5*time.Hour)), expires))
	require.NoError(t, dao.Append(ctx, recentItem("01C", "new", now.Add(-1*time.Hour)), expires))

	items, err := dao.Between(ctx, now.Add(-6*time.Hour), now.Add(-2*time.Hour), 10, now)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "01B", items[0].ID)
}

func TestRecentDAOExpiry(t *testing.T) {
	db := openRecentDB(t)
	dao := NewRecentDAO(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, dao.Append(ctx, recentItem("01A", "expired row", now.Add(-25*time.Hour)), now.Add(-time.Hour)))
	require.NoError(t, dao.Append(ctx, recentItem("01B", "live row", now), now.Add(23*time.Hour)))

	// Expired rows are invisible to reads before any purge runs.
	got, err := dao.GetByID(ctx, "01A", now)
	require.NoError(t, err)
	assert.Nil(t, got)

	items, err := dao.Search(ctx, "row", 10, now)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "01B", items[0].ID)

	purged, err := dao.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	count, err := dao.Count(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRecentDAOScanAfter(t *testing.T) {
	db := openRecentDB(t)
	dao := NewRecentDAO(db)
	ctx := context.Background()
	now := time.Now().UTC()
	expires := now.Add(24 * time.Hour)

	for _, id := range []string{"01A", "01B", "01C"} {
		require.NoError(t, dao.Append(ctx, recentItem(id, "batch "+id, now), expires))
	}
	// An expired row not yet purged is still scannable.
	require.NoError(t, dao.Append(ctx, recentItem("01D", "batch 01D", now), now.Add(-time.Minute)))

	first, err := dao.ScanAfter(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "01A", first[0].ID)
	assert.Equal(t, "01B", first[1].ID)

	// Resume from the last seen id.
	second, err := dao.ScanAfter(ctx, first[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "01C", second[0].ID)
	assert.Equal(t, "01D", second[1].ID)
}

func TestMemoryDAOUpsertPreservesCreatedAt(t *testing.T) {
	db := openPersistentDB(t)
	dao := NewMemoryDAO(db)
	ctx := context.Background()

	created := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	item := types.MemoryItem{
		ID:             "01A",
		Content:        "the gateway credential rotates monthly",
		Kind:           types.KindSemantic,
		Importance:     0.85,
		Source:         "planner",
		CreatedAt:      created,
		LastAccessedAt: created,
	}
	require.NoError(t, dao.Upsert(ctx, item))

	item.Importance = 0.9
	item.CreatedAt = created.Add(48 * time.Hour)
	require.NoError(t, dao.Upsert(ctx, item))

	got, err := dao.GetByID(ctx, "01A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.9, got.Importance)
	assert.True(t, got.CreatedAt.Equal(created), "created_at must be first-write-wins")
	assert.Equal(t, types.TierPersistent, got.TierOrigin)
}

func TestMemoryDAOFullTextSearch(t *testing.T) {
	db := openPersistentDB(t)
	dao := NewMemoryDAO(db)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []types.MemoryItem{
		{ID: "01A", Content: "database connection pooling reduces latency", Kind: types.KindSemantic, Importance: 0.9, CreatedAt: now.Add(-time.Hour), LastAccessedAt: now},
		{ID: "01B", Content: "the staging database password was rotated", Kind: types.KindEpisodic, Importance: 0.8, CreatedAt: now, LastAccessedAt: now},
		{ID: "01C", Content: "retry budgets cap cascading failures", Kind: types.KindProcedural, Importance: 0.85, CreatedAt: now, LastAccessedAt: now},
	}
	for _, item := range seed {
		require.NoError(t, dao.Upsert(ctx, item))
	}

	items, err := dao.Search(ctx, "database", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	// Importance-weighted ordering.
	assert.Equal(t, "01A", items[0].ID)
	assert.Equal(t, "01B", items[1].ID)

	// Updates are reflected through the FTS triggers.
	seed[2].Content = "database retry budgets cap cascading failures"
	require.NoError(t, dao.Upsert(ctx, seed[2]))
	items, err = dao.Search(ctx, "database", 10)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	require.NoError(t, dao.Delete(ctx, "01A"))
	items, err = dao.Search(ctx, "pooling", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryDAOQueryFilter(t *testing.T) {
	db := openPersistentDB(t)
	dao := NewMemoryDAO(db)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []types.MemoryItem{
		{ID: "01A", Content: "a", Kind: types.KindSemantic, Importance: 0.95, Source: "planner", CreatedAt: now, LastAccessedAt: now},
		{ID: "01B", Content: "b", Kind: types.KindEpisodic, Importance: 0.85, Source: "planner", CreatedAt: now, LastAccessedAt: now},
		{ID: "01C", Content: "c", Kind: types.KindSemantic, Importance: 0.8, Source: "agent", CreatedAt: now, LastAccessedAt: now},
	}
	for _, item := range seed {
		require.NoError(t, dao.Upsert(ctx, item))
	}

	items, err := dao.Query(ctx, Filter{Kind: types.KindSemantic}, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "01A", items[0].ID)

	items, err = dao.Query(ctx, Filter{Source: "planner", MinImportance: 0.9}, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "01A", items[0].ID)
}

func TestMemoryDAOTouch(t *testing.T) {
	db := openPersistentDB(t)
	dao := NewMemoryDAO(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, dao.Upsert(ctx, types.MemoryItem{
		ID: "01A", Content: "touch me", Kind: types.KindWorking,
		CreatedAt: now.Add(-time.Hour), LastAccessedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, dao.Touch(ctx, "01A", now))

	got, err := dao.GetByID(ctx, "01A")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.AccessCount)
	assert.WithinDuration(t, now, got.LastAccessedAt, time.Second)
}

func TestBuildFTSQuery(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"database", `"database"`},
		{"database pooling", `"database" AND "pooling"`},
		{`odd "quotes"`, `"odd" AND """quotes"""`},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BuildFTSQuery(tt.input), "input %q", tt.input)
	}
}
