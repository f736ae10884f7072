// Package store keeps a per-run journal of injected faults and restore
// outcomes in a local SQLite database, so an operator can reconstruct
// what a past run did to the lab.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Store wraps the SQLite database holding the run journal.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex // Serialize migrations
	once sync.Once  // Ensure _migrations table created once
}

// Open opens (or creates) a SQLite database at the given path and
// applies recommended pragmas for WAL mode and a single writer.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	// SQLite performs best with a single write connection. WAL enables concurrent readers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}

	// modernc.org/sqlite requires SQL statements, not DSN params.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	return &Store{db: db}, nil
}

// DB returns the underlying *sql.DB for direct queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migration is a single schema step, applied at most once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrate applies pending schema migrations. Already-applied versions
// (tracked in the _migrations table) are skipped.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range journalMigrations {
		applied, err := s.isMigrationApplied(ctx, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		_, err = s.db.ExecContext(ctx, `
			CREATE TABLE IF NOT EXISTS _migrations (
				version     INTEGER  PRIMARY KEY,
				description TEXT     NOT NULL,
				applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)
		`)
	})
	return err
}

func (s *Store) isMigrationApplied(ctx context.Context, version int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM _migrations WHERE version = ?",
		version,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check migration %d: %w", version, err)
	}
	return count > 0, nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO _migrations (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// journalMigrations must stay in ascending Version order.
var journalMigrations = []migration{
	{
		Version:     1,
		Description: "runs, fault_events and restore_outcomes tables",
		SQL: `
			CREATE TABLE runs (
				id         TEXT     PRIMARY KEY,
				command    TEXT     NOT NULL,
				started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE TABLE fault_events (
				id           INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id       TEXT    NOT NULL REFERENCES runs(id),
				device_label TEXT    NOT NULL,
				fault_name   TEXT    NOT NULL,
				target_if    TEXT    NOT NULL DEFAULT '',
				applied      INTEGER NOT NULL DEFAULT 0,
				created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE TABLE restore_outcomes (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				run_id         TEXT    NOT NULL REFERENCES runs(id),
				device_label   TEXT    NOT NULL,
				success        INTEGER NOT NULL,
				reason         TEXT    NOT NULL DEFAULT '',
				boot_id_before TEXT    NOT NULL DEFAULT '',
				boot_id_after  TEXT    NOT NULL DEFAULT '',
				started_at     DATETIME NOT NULL,
				finished_at    DATETIME NOT NULL
			);
			CREATE INDEX idx_fault_events_run ON fault_events(run_id);
			CREATE INDEX idx_restore_outcomes_run ON restore_outcomes(run_id);
		`,
	},
}
