// Package store is the coordinator's persistent state: current votes, the
// append-only vote-change history, hotkey↔EVM bindings and cached pool
// metadata, all in a single SQLite file under a single-writer discipline.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ethereum/go-ethereum/log"
)

var (
	// ErrNotFound is returned by point reads with no matching row.
	ErrNotFound = errors.New("store: not found")

	// ErrStaleBlock rejects a vote whose block number does not advance the
	// stored one.
	ErrStaleBlock = errors.New("store: block number is stale")
)

// Store wraps the SQLite handle. All access funnels through one connection
// so writes never contend.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema. Pass ":memory:" for an ephemeral store in tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("Vote store opened", "path", path)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS votes (
			voter        TEXT PRIMARY KEY,
			pools        TEXT NOT NULL,
			signature    TEXT NOT NULL DEFAULT '',
			message      TEXT NOT NULL DEFAULT '',
			block_number INTEGER NOT NULL,
			total_weight INTEGER NOT NULL,
			updated_at   INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vote_changes (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			voter            TEXT NOT NULL,
			old_pools        TEXT NOT NULL DEFAULT '',
			new_pools        TEXT NOT NULL DEFAULT '',
			change_timestamp INTEGER NOT NULL,
			cooldown_until   INTEGER NOT NULL,
			change_count     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_vote_changes_voter_ts
			ON vote_changes (voter, change_timestamp DESC)`,
		`CREATE TABLE IF NOT EXISTS bindings (
			voter       TEXT PRIMARY KEY,
			evm_address TEXT NOT NULL UNIQUE,
			updated_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pools (
			address    TEXT PRIMARY KEY,
			token0     TEXT NOT NULL DEFAULT '',
			token1     TEXT NOT NULL DEFAULT '',
			fee        INTEGER NOT NULL DEFAULT 0,
			liquidity  TEXT NOT NULL DEFAULT '0',
			symbol0    TEXT NOT NULL DEFAULT '',
			symbol1    TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}
