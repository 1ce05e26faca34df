// Package sqlstore persists the provenance index in SQLite or Postgres,
// selectable between the two backends by a config Type field.
package sqlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/git-stunts/git-warp/internal/logging"
)

// Store persists provenance entries to a SQL database and implements
// provenance.Store.
type Store struct {
	db     *sqlx.DB
	driver string
}

const schema = `
CREATE TABLE IF NOT EXISTS provenance (
	entity    TEXT NOT NULL,
	patch_sha TEXT NOT NULL,
	PRIMARY KEY (entity, patch_sha)
);
`

// NewSQLite opens (creating if necessary) a SQLite-backed provenance store.
func NewSQLite(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlstore: create database directory: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: connect sqlite: %w", err)
	}
	db.MustExec("PRAGMA journal_mode = WAL")
	return open(db, "sqlite3")
}

// NewPostgres opens a Postgres-backed provenance store using the pgx stdlib
// driver (database/sql compatible, required by sqlx.Connect).
func NewPostgres(dsn string) (*Store, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: connect postgres: %w", err)
	}
	return open(db, "pgx")
}

func open(db *sqlx.DB, driver string) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: init schema: %w", err)
	}
	logging.Debug("provenance sqlstore opened", "driver", driver)
	return &Store{db: db, driver: driver}, nil
}

func (s *Store) Record(ctx context.Context, patchSha string, reads, writes []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := s.upsertStatement()
	seen := make(map[string]struct{}, len(reads)+len(writes))
	for _, entity := range append(append([]string{}, reads...), writes...) {
		if _, dup := seen[entity]; dup {
			continue
		}
		seen[entity] = struct{}{}
		if _, err := tx.ExecContext(ctx, insert, entity, patchSha); err != nil {
			return fmt.Errorf("sqlstore: record entity %q: %w", entity, err)
		}
	}
	return tx.Commit()
}

func (s *Store) upsertStatement() string {
	if s.driver == "pgx" {
		return `INSERT INTO provenance (entity, patch_sha) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	}
	return `INSERT OR IGNORE INTO provenance (entity, patch_sha) VALUES (?, ?)`
}

func (s *Store) PatchesFor(ctx context.Context, entity string) ([]string, error) {
	query := `SELECT patch_sha FROM provenance WHERE entity = ?`
	if s.driver == "pgx" {
		query = `SELECT patch_sha FROM provenance WHERE entity = $1`
	}
	var shas []string
	if err := s.db.SelectContext(ctx, &shas, query, entity); err != nil {
		return nil, fmt.Errorf("sqlstore: query entity %q: %w", entity, err)
	}
	sort.Strings(shas)
	return shas, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
