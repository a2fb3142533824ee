package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/AetharaAI/lotus/internal/types"
)

// Filter is a structured predicate over the persistent store. Zero-value
// fields are not applied.
type Filter struct {
	Kind          types.Kind
	MinImportance float64
	Source        string
}

// MemoryDAO provides database operations for the durable memory store.
type MemoryDAO interface {
	// Upsert inserts a memory or updates its mutable fields. created_at is
	// first-write-wins: it is never changed by a later upsert of the same
	// id.
	Upsert(ctx context.Context, item types.MemoryItem) error

	// GetByID retrieves a memory by id, nil when absent.
	GetByID(ctx context.Context, id string) (*types.MemoryItem, error)

	// Search runs a full-text query over content, importance-weighted and
	// newest first among equal matches.
	Search(ctx context.Context, text string, limit int) ([]types.MemoryItem, error)

	// Query applies a structured filter, most important and newest first.
	Query(ctx context.Context, filter Filter, limit int) ([]types.MemoryItem, error)

	// Touch bumps access bookkeeping for a row.
	Touch(ctx context.Context, id string, at time.Time) error

	// Delete removes a memory by id.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored memories.
	Count(ctx context.Context) (int64, error)
}

// memoryDAO implements MemoryDAO
type memoryDAO struct {
	db *DB
}

// NewMemoryDAO creates a new persistent memory DAO
func NewMemoryDAO(db *DB) MemoryDAO {
	return &memoryDAO{db: db}
}

const persistentColumns = "id, content, kind, importance, source, access_count, created_at, last_accessed_at"

func (d *memoryDAO) Upsert(ctx context.Context, item types.MemoryItem) error {
	query := `
		INSERT INTO persistent_memory (
			id, content, kind, importance, source, access_count,
			created_at, last_accessed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			kind = excluded.kind,
			importance = excluded.importance,
			source = excluded.source,
			access_count = excluded.access_count,
			last_accessed_at = excluded.last_accessed_at
	`

	_, err := d.db.conn.ExecContext(ctx, query,
		item.ID,
		item.Content,
		string(item.Kind),
		item.Importance,
		item.Source,
		item.AccessCount,
		item.CreatedAt.UTC(),
		item.LastAccessedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert persistent memory: %w", err)
	}
	return nil
}

func (d *memoryDAO) GetByID(ctx context.Context, id string) (*types.MemoryItem, error) {
	query := `SELECT ` + persistentColumns + ` FROM persistent_memory WHERE id = ?`

	item, err := scanPersistentRow(d.db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get persistent memory: %w", err)
	}
	return item, nil
}

func (d *memoryDAO) Search(ctx context.Context, text string, limit int) ([]types.MemoryItem, error) {
	match := BuildFTSQuery(text)
	if match == "" {
		return nil, nil
	}

	query := `
		SELECT ` + qualifiedPersistentColumns() + `
		FROM persistent_memory_fts f
		JOIN persistent_memory m ON m.rowid = f.rowid
		WHERE persistent_memory_fts MATCH ?
		ORDER BY m.importance DESC, m.created_at DESC
		LIMIT ?
	`

	rows, err := d.db.conn.QueryContext(ctx, query, match, limit)
	if err != nil {
		// FTS5 rejects some token streams outright; fall back to substring
		// matching so odd queries still return results.
		return d.searchLike(ctx, text, limit)
	}
	defer rows.Close()

	items, err := collectPersistentRows(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return d.searchLike(ctx, text, limit)
	}
	return items, nil
}

func (d *memoryDAO) searchLike(ctx context.Context, text string, limit int) ([]types.MemoryItem, error) {
	query := `
		SELECT ` + persistentColumns + `
		FROM persistent_memory
		WHERE content LIKE ? ESCAPE '\'
		ORDER BY importance DESC, created_at DESC
		LIMIT ?
	`

	rows, err := d.db.conn.QueryContext(ctx, query, likePattern(text), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search persistent memory: %w", err)
	}
	defer rows.Close()

	return collectPersistentRows(rows)
}

func (d *memoryDAO) Query(ctx context.Context, filter Filter, limit int) ([]types.MemoryItem, error) {
	query := `SELECT ` + persistentColumns + ` FROM persistent_memory WHERE 1=1`
	args := []interface{}{}

	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if filter.MinImportance > 0 {
		query += " AND importance >= ?"
		args = append(args, filter.MinImportance)
	}
	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	query += " ORDER BY importance DESC, created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query persistent memory: %w", err)
	}
	defer rows.Close()

	return collectPersistentRows(rows)
}

func (d *memoryDAO) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := d.db.conn.ExecContext(ctx,
		"UPDATE persistent_memory SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?",
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch persistent memory: %w", err)
	}
	return nil
}

func (d *memoryDAO) Delete(ctx context.Context, id string) error {
	_, err := d.db.conn.ExecContext(ctx, "DELETE FROM persistent_memory WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete persistent memory: %w", err)
	}
	return nil
}

func (d *memoryDAO) Count(ctx context.Context) (int64, error) {
	var count int64
	err := d.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM persistent_memory").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count persistent memory: %w", err)
	}
	return count, nil
}

func qualifiedPersistentColumns() string {
	return "m.id, m.content, m.kind, m.importance, m.source, m.access_count, m.created_at, m.last_accessed_at"
}

func scanPersistentRow(row rowScanner) (*types.MemoryItem, error) {
	var item types.MemoryItem
	var kind string
	if err := row.Scan(
		&item.ID,
		&item.Content,
		&kind,
		&item.Importance,
		&item.Source,
		&item.AccessCount,
		&item.CreatedAt,
		&item.LastAccessedAt,
	); err != nil {
		return nil, err
	}
	item.Kind = types.Kind(kind)
	item.TierOrigin = types.TierPersistent
	return &item, nil
}

func collectPersistentRows(rows *sql.Rows) ([]types.MemoryItem, error) {
	var items []types.MemoryItem
	for rows.Next() {
		item, err := scanPersistentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan persistent memory row: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate persistent memory rows: %w", err)
	}
	return items, nil
}
