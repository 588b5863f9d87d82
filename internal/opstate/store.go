// Package opstate provides a namespaced key-value store for the small
// amount of operational state the node keeps across restarts: its boot
// counter, the sensor's serial number and when the last broker session
// started. Nothing in it is needed for telemetry to flow; a node without
// a data directory runs without a store.
package opstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Namespaces and keys used by the node.
const (
	nsSystem = "system"
	nsSensor = "sensor"
	nsBroker = "broker"

	keyBootCount   = "boot_count"
	keySerial      = "serial"
	keyLastSession = "last_session_at"
)

// Store holds node state in a single SQLite table keyed by namespace and
// key. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens the database at dbPath, creating the file and its table
// when they do not exist yet. The parent directory must exist.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opstate: open %s: %w", dbPath, err)
	}
	// One writer keeps SQLITE_BUSY out of the picture.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(nodeStateSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("opstate: create schema in %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const nodeStateSchema = `
CREATE TABLE IF NOT EXISTS node_state (
	ns         TEXT    NOT NULL,
	name       TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	changed_ms INTEGER NOT NULL,
	PRIMARY KEY (ns, name)
)`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func get(ctx context.Context, q querier, ns, name string) (string, error) {
	var value string
	row := q.QueryRowContext(ctx, `SELECT value FROM node_state WHERE ns = ? AND name = ?`, ns, name)
	switch err := row.Scan(&value); {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("opstate: read %s.%s: %w", ns, name, err)
	}
	return value, nil
}

func set(ctx context.Context, q querier, ns, name, value string) error {
	const upsert = `INSERT INTO node_state (ns, name, value, changed_ms) VALUES (?, ?, ?, ?)
ON CONFLICT (ns, name) DO UPDATE SET value = excluded.value, changed_ms = excluded.changed_ms`
	if _, err := q.ExecContext(ctx, upsert, ns, name, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("opstate: write %s.%s: %w", ns, name, err)
	}
	return nil
}

// Get reads one value. A key that was never set reads as "".
func (s *Store) Get(ctx context.Context, namespace, key string) (string, error) {
	return get(ctx, s.db, namespace, key)
}

// Set stores value under namespace and key, replacing any earlier value.
func (s *Store) Set(ctx context.Context, namespace, key, value string) error {
	return set(ctx, s.db, namespace, key, value)
}

// IncrementBootCount bumps the persisted boot counter and returns the new
// value. The first boot returns 1.
func (s *Store) IncrementBootCount(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("opstate: begin boot count: %w", err)
	}
	defer tx.Rollback()

	raw, err := get(ctx, tx, nsSystem, keyBootCount)
	if err != nil {
		return 0, err
	}
	var n int64
	if raw != "" {
		if n, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return 0, fmt.Errorf("opstate: parse boot count %q: %w", raw, err)
		}
	}
	n++
	if err := set(ctx, tx, nsSystem, keyBootCount, strconv.FormatInt(n, 10)); err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// RecordSensorSerial stores serial and reports whether it differs from
// the previously stored one, which means the sensor module was swapped.
// The first recorded serial is not reported as a change.
func (s *Store) RecordSensorSerial(ctx context.Context, serial string) (changed bool, previous string, err error) {
	previous, err = s.Get(ctx, nsSensor, keySerial)
	if err != nil {
		return false, "", err
	}
	if previous == serial {
		return false, previous, nil
	}
	if err := s.Set(ctx, nsSensor, keySerial, serial); err != nil {
		return false, previous, err
	}
	return previous != "", previous, nil
}

// SensorSerial returns the last recorded sensor serial, or "".
func (s *Store) SensorSerial(ctx context.Context) (string, error) {
	return s.Get(ctx, nsSensor, keySerial)
}

// RecordSession stores the start time of the latest broker session.
func (s *Store) RecordSession(ctx context.Context, at time.Time) error {
	return s.Set(ctx, nsBroker, keyLastSession, at.UTC().Format(time.RFC3339Nano))
}

// LastSession returns when the latest broker session started. ok is
// false if no session was ever recorded.
func (s *Store) LastSession(ctx context.Context) (at time.Time, ok bool, err error) {
	raw, err := s.Get(ctx, nsBroker, keyLastSession)
	if err != nil || raw == "" {
		return time.Time{}, false, err
	}
	at, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("opstate: parse last session %q: %w", raw, err)
	}
	return at, true, nil
}
