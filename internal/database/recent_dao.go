package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/AetharaAI/lotus/internal/types"
)

// RecentDAO provides database operations for the time-indexed recent memory
// log. The log is append-only: rows are never updated in place, only
// appended, touched for access bookkeeping, and purged after expiry.
type RecentDAO interface {
	// Append inserts a memory row with its expiry. Re-appending an existing
	// id is a no-op, which keeps promotion into the log idempotent.
	Append(ctx context.Context, item types.MemoryItem, expiresAt time.Time) error

	// GetByID retrieves a single unexpired row, nil when absent or expired.
	GetByID(ctx context.Context, id string, now time.Time) (*types.MemoryItem, error)

	// Search returns unexpired rows whose content matches the keyword,
	// newest first.
	Search(ctx context.Context, keyword string, limit int, now time.Time) ([]types.MemoryItem, error)

	// Between returns unexpired rows created within [start, end], newest
	// first.
	Between(ctx context.Context, start, end time.Time, limit int, now time.Time) ([]types.MemoryItem, error)

	// ScanAfter returns up to batch rows with id > afterID in id order.
	// Ids are ULIDs, so id order is creation order; consolidation uses
	// this for resumable scans. Expired rows awaiting purge are included:
	// a row can cross the promotion age and its expiry at the same
	// instant, and it must still be promotable until the purge removes it.
	ScanAfter(ctx context.Context, afterID string, batch int) ([]types.MemoryItem, error)

	// Touch bumps access bookkeeping for a row.
	Touch(ctx context.Context, id string, at time.Time) error

	// Delete removes a row by id.
	Delete(ctx context.Context, id string) error

	// PurgeExpired deletes rows whose expiry has passed and returns how
	// many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)

	// Count returns the number of unexpired rows.
	Count(ctx context.Context, now time.Time) (int64, error)
}

// recentDAO implements RecentDAO
type recentDAO struct {
	db *DB
}

// NewRecentDAO creates a new recent log DAO
func NewRecentDAO(db *DB) RecentDAO {
	return &recentDAO{db: db}
}

const recentColumns = "id, content, kind, importance, source, access_count, created_at, last_accessed_at"

func (d *recentDAO) Append(ctx context.Context, item types.MemoryItem, expiresAt time.Time) error {
	query := `
		INSERT INTO recent_memory (
			id, content, kind, importance, source, access_count,
			created_at, last_accessed_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
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
		expiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append recent memory: %w", err)
	}
	return nil
}

func (d *recentDAO) GetByID(ctx context.Context, id string, now time.Time) (*types.MemoryItem, error) {
	query := `SELECT ` + recentColumns + ` FROM recent_memory WHERE id = ? AND expires_at > ?`

	item, err := scanRecentRow(d.db.conn.QueryRowContext(ctx, query, id, now.UTC()))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recent memory: %w", err)
	}
	return item, nil
}

func (d *recentDAO) Search(ctx context.Context, keyword string, limit int, now time.Time) ([]types.MemoryItem, error) {
	query := `
		SELECT ` + recentColumns + `
		FROM recent_memory
		WHERE expires_at > ? AND content LIKE ? ESCAPE '\'
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := d.db.conn.QueryContext(ctx, query, now.UTC(), likePattern(keyword), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search recent memory: %w", err)
	}
	defer rows.Close()

	return collectRecentRows(rows)
}

func (d *recentDAO) Between(ctx context.Context, start, end time.Time, limit int, now time.Time) ([]types.MemoryItem, error) {
	query := `
		SELECT ` + recentColumns + `
		FROM recent_memory
		WHERE expires_at > ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := d.db.conn.QueryContext(ctx, query, now.UTC(), start.UTC(), end.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent memory range: %w", err)
	}
	defer rows.Close()

	return collectRecentRows(rows)
}

func (d *recentDAO) ScanAfter(ctx context.Context, afterID string, batch int) ([]types.MemoryItem, error) {
	query := `
		SELECT ` + recentColumns + `
		FROM recent_memory
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := d.db.conn.QueryContext(ctx, query, afterID, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to scan recent memory: %w", err)
	}
	defer rows.Close()

	return collectRecentRows(rows)
}

func (d *recentDAO) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := d.db.conn.ExecContext(ctx,
		"UPDATE recent_memory SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?",
		at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch recent memory: %w", err)
	}
	return nil
}

func (d *recentDAO) Delete(ctx context.Context, id string) error {
	_, err := d.db.conn.ExecContext(ctx, "DELETE FROM recent_memory WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete recent memory: %w", err)
	}
	return nil
}

func (d *recentDAO) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := d.db.conn.ExecContext(ctx,
		"DELETE FROM recent_memory WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired recent memory: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	return n, nil
}

func (d *recentDAO) Count(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := d.db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM recent_memory WHERE expires_at > ?", now.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent memory: %w", err)
	}
	return count, nil
}

// likePattern wraps a keyword for substring LIKE matching, escaping the
// LIKE metacharacters in user input.
func likePattern(keyword string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(keyword)
	return "%" + escaped + "%"
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan code.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecentRow(row rowScanner) (*types.MemoryItem, error) {
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
	item.TierOrigin = types.TierRecent
	return &item, nil
}

func collectRecentRows(rows *sql.Rows) ([]types.MemoryItem, error) {
	var items []types.MemoryItem
	for rows.Next() {
		item, err := scanRecentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recent memory row: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent memory rows: %w", err)
	}
	return items, nil
}
