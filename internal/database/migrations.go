package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Migrator handles database schema migrations
type Migrator interface {
	// Migrate applies all pending migrations
	Migrate(ctx context.Context) error

	// CurrentVersion returns the current schema version
	CurrentVersion(ctx context.Context) (int, error)
}

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrator implements the Migrator interface
type migrator struct {
	db         *DB
	migrations []Migration
}

// NewMigrator creates a migrator over an explicit migration set. The recent
// log and the persistent store are separate files with separate schemas, so
// each supplies its own set.
func NewMigrator(db *DB, migrations []Migration) Migrator {
	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return &migrator{db: db, migrations: sorted}
}

// RecentLogMigrations returns the schema for the time-indexed recent memory
// log. Every row carries an explicit expiry; reads filter on it and a
// periodic purge deletes behind them.
func RecentLogMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "recent_memory_log",
			Up: `
			CREATE TABLE IF NOT EXISTS recent_memory (
				id TEXT PRIMARY KEY,
				content TEXT NOT NULL,
				kind TEXT NOT NULL DEFAULT 'episodic',
				importance REAL NOT NULL DEFAULT 0,
				source TEXT NOT NULL DEFAULT '',
				access_count INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				last_accessed_at TIMESTAMP NOT NULL,
				expires_at TIMESTAMP NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_recent_memory_created_at
				ON recent_memory(created_at);
			CREATE INDEX IF NOT EXISTS idx_recent_memory_expires_at
				ON recent_memory(expires_at);
			`,
		},
	}
}

// PersistentStoreMigrations returns the schema for the durable memory store:
// the relational table plus its FTS5 index and sync triggers.
func PersistentStoreMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "persistent_memory",
			Up: `
			CREATE TABLE IF NOT EXISTS persistent_memory (
				id TEXT PRIMARY KEY,
				content TEXT NOT NULL,
				kind TEXT NOT NULL DEFAULT 'semantic',
				importance REAL NOT NULL DEFAULT 0,
				source TEXT NOT NULL DEFAULT '',
				access_count INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				last_accessed_at TIMESTAMP NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_persistent_memory_kind
				ON persistent_memory(kind);
			CREATE INDEX IF NOT EXISTS idx_persistent_memory_importance
				ON persistent_memory(importance);
			CREATE INDEX IF NOT EXISTS idx_persistent_memory_source
				ON persistent_memory(source);
			`,
		},
		{
			Version: 2,
			Name:    "persistent_memory_fts",
			Up:      persistentFTSSchema,
		},
	}
}

// Migrate applies all pending migrations in version order, each inside its
// own transaction with its version recorded alongside.
func (m *migrator) Migrate(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		if err := m.applyMigration(ctx, mig); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", mig.Version, mig.Name, err)
		}
	}

	return nil
}

// CurrentVersion returns the highest applied schema version, 0 when none.
func (m *migrator) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return 0, err
	}

	var version int
	err := m.db.conn.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func (m *migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func (m *migrator) applyMigration(ctx context.Context, mig Migration) error {
	tx, err := m.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitSQL(mig.Up) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement failed: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
		mig.Version, mig.Name, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// splitSQL splits a migration script into individual statements. Trigger
// bodies contain semicolons, so BEGIN...END blocks are kept whole.
func splitSQL(script string) []string {
	var stmts []string
	var current strings.Builder
	inTrigger := false

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")

		upper := strings.ToUpper(trimmed)
		if strings.Contains(upper, "CREATE TRIGGER") {
			inTrigger = true
		}
		if inTrigger {
			if strings.HasPrefix(upper, "END;") || upper == "END;" {
				stmts = append(stmts, current.String())
				current.Reset()
				inTrigger = false
			}
			continue
		}
		if strings.HasSuffix(trimmed, ";") {
			stmts = append(stmts, current.String())
			current.Reset()
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}
