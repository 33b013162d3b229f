// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package persist is the opaque write-through sink: a SQLite-backed
// append-only log of ReplicationEvents plus a periodic snapshot of the live
// map. The in-memory storage.Engine remains authoritative; this package
// only replays what it already decided. Built on
// sqlx+go-sqlite3+sqlhooks+squirrel+golang-migrate.
package persist

import (
	"database/sql"
	"embed"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	driver "github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/merklekv/merklekv/internal/storage"
	"github.com/merklekv/merklekv/pkg/log"
)

//go:embed migrations/*
var migrationFiles embed.FS

var registerOnce sync.Once

// Store is a SQLite-backed write-through sink for the replication log and
// periodic snapshots.
type Store struct {
	db        *sqlx.DB
	stmtCache *sq.StmtCache
}

// Open opens (creating if necessary) the SQLite database at path and
// migrates it to the latest schema.
func Open(path string) (*Store, error) {
	registerOnce.Do(func() {
		sql.Register("sqlite3_merklekv", sqlhooks.Wrap(&driver.SQLiteDriver{}, sqlHooks{}))
	})

	db, err := sqlx.Open("sqlite3_merklekv", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", path, err)
	}
	// SQLite does not support concurrent writers; one connection avoids
	// lock-wait thrash rather than serializing at the driver level.
	db.SetMaxOpenConns(1)

	if err := migrateUp(path, db.DB); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, stmtCache: sq.NewStmtCache(db.DB)}, nil
}

func migrateUp(path string, db *sql.DB) error {
	driverInst, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("persist: migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return fmt.Errorf("persist: migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driverInst)
	if err != nil {
		return fmt.Errorf("persist: migration init: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("persist: migrating %s: %w", path, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendEvent appends e to the replication log. The replication pipeline
// calls it for every locally originated mutation it is handed (before, and
// regardless of, publishing) and for every inbound event it stores,
// independent of snapshotting.
func (s *Store) AppendEvent(e storage.Entry) error {
	_, err := sq.Insert("replication_log").
		Columns("key", "value", "has_value", "timestamp_ms", "node_id", "seq", "is_tombstone").
		Values(e.Key, e.Value, boolToInt(e.HasValue), e.TimestampMs, e.NodeID, e.Seq, boolToInt(e.IsTombstone)).
		RunWith(s.stmtCache).
		Exec()
	if err != nil {
		return fmt.Errorf("persist: append event for key %q: %w", e.Key, err)
	}
	return nil
}

// Checkpoint replaces the snapshot table with entries and truncates the
// replication log behind it, so a future Load only needs to replay the
// snapshot plus whatever log entries postdate it. Runs inside one
// transaction so a crash mid-checkpoint never leaves an inconsistent
// snapshot.
func (s *Store) Checkpoint(entries []storage.Entry) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("persist: checkpoint begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM snapshot_entries"); err != nil {
		return fmt.Errorf("persist: clearing snapshot: %w", err)
	}

	for _, e := range entries {
		if _, err := tx.Exec(
			`INSERT INTO snapshot_entries (key, value, has_value, timestamp_ms, node_id, seq, is_tombstone)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.Key, e.Value, boolToInt(e.HasValue), e.TimestampMs, e.NodeID, e.Seq, boolToInt(e.IsTombstone),
		); err != nil {
			return fmt.Errorf("persist: writing snapshot entry %q: %w", e.Key, err)
		}
	}

	var lastLogID int64
	if err := tx.Get(&lastLogID, "SELECT COALESCE(MAX(id), 0) FROM replication_log"); err != nil {
		return fmt.Errorf("persist: reading last log id: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT INTO snapshot_meta (id, last_log_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET last_log_id = excluded.last_log_id`,
		lastLogID,
	); err != nil {
		return fmt.Errorf("persist: updating snapshot meta: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM replication_log WHERE id <= ?", lastLogID); err != nil {
		return fmt.Errorf("persist: truncating log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist: checkpoint commit: %w", err)
	}
	log.Infof("persist: checkpoint wrote %d entries, truncated log through id %d", len(entries), lastLogID)
	return nil
}

// Load replays the snapshot then the log tail, returning every entry the
// caller should feed back through storage.Engine.ApplyReplication to
// rebuild state under normal LWW/dedup rules.
func (s *Store) Load() ([]storage.Entry, error) {
	var entries []storage.Entry

	// Ordered by seq so that per-origin dedup in ApplyReplication never
	// drops a snapshot entry because a higher seq of its origin came first.
	rows, err := s.db.Queryx("SELECT key, value, has_value, timestamp_ms, node_id, seq, is_tombstone FROM snapshot_entries ORDER BY seq ASC")
	if err != nil {
		return nil, fmt.Errorf("persist: reading snapshot: %w", err)
	}
	if err := scanEntries(rows, &entries); err != nil {
		return nil, err
	}

	tailRows, err := s.db.Queryx("SELECT key, value, has_value, timestamp_ms, node_id, seq, is_tombstone FROM replication_log ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("persist: reading log tail: %w", err)
	}
	if err := scanEntries(tailRows, &entries); err != nil {
		return nil, err
	}

	return entries, nil
}

func scanEntries(rows *sqlx.Rows, into *[]storage.Entry) error {
	defer rows.Close()
	for rows.Next() {
		var (
			key, value, nodeID    string
			hasValue, isTombstone int
			timestampMs, seq      uint64
		)
		if err := rows.Scan(&key, &value, &hasValue, &timestampMs, &nodeID, &seq, &isTombstone); err != nil {
			return fmt.Errorf("persist: scanning row: %w", err)
		}
		*into = append(*into, storage.Entry{
			Key:         key,
			Value:       value,
			HasValue:    hasValue != 0,
			TimestampMs: timestampMs,
			NodeID:      nodeID,
			Seq:         seq,
			IsTombstone: isTombstone != 0,
		})
	}
	return rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
