package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Migration is one schema change
type Migration struct {
	Version   int
	Name      string
	SQL       string
	AppliedAt time.Time
}

// migrations is the full schema history, applied in order
var migrations = []Migration{
	{
		Version: 1,
		Name:    "events",
		SQL: `
			CREATE TABLE IF NOT EXISTS events (
				id TEXT PRIMARY KEY,
				event_type TEXT NOT NULL,
				alert_level TEXT NOT NULL DEFAULT 'NONE',
				person_count INTEGER NOT NULL DEFAULT 0,
				animal_count INTEGER NOT NULL DEFAULT 0,
				confidence REAL,
				message TEXT,
				snapshot_path TEXT,
				timestamp INTEGER NOT NULL,
				created_at INTEGER NOT NULL
			) STRICT;
			CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
			CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
		`,
	},
	{
		Version: 2,
		Name:    "state_transitions",
		SQL: `
			CREATE TABLE IF NOT EXISTS state_transitions (
				id TEXT PRIMARY KEY,
				from_state TEXT NOT NULL,
				to_state TEXT NOT NULL,
				reason TEXT,
				timestamp INTEGER NOT NULL
			) STRICT;
			CREATE INDEX IF NOT EXISTS idx_transitions_timestamp ON state_transitions(timestamp);
		`,
	},
}

// Migrator applies pending migrations
type Migrator struct {
	db     *DB
	logger *slog.Logger
}

// NewMigrator creates a migrator
func NewMigrator(db *DB) *Migrator {
	return &Migrator{
		db:     db,
		logger: slog.Default().With("component", "migrator"),
	}
}

// Run applies all pending migrations
func (m *Migrator) Run(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if _, ok := applied[migration.Version]; ok {
			continue
		}
		if err := m.runMigration(ctx, migration); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}
		m.logger.Info("Applied migration", "version", migration.Version, "name", migration.Name)
	}
	return nil
}

// Status returns all migrations with their applied time when known
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, 0, len(migrations))
	for _, migration := range migrations {
		if at, ok := applied[migration.Version]; ok {
			migration.AppliedAt = at
		}
		result = append(result, migration)
	}
	return result, nil
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL DEFAULT (unixepoch())
		) STRICT
	`)
	return err
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt int64
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, err
		}
		result[version] = time.Unix(appliedAt, 0)
	}
	return result, rows.Err()
}

func (m *Migrator) runMigration(ctx context.Context, migration Migration) error {
	return m.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version, migration.Name,
		)
		return err
	})
}
