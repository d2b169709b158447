package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/fish"
	"github.com/Actyx/Actyx-sub006/pkg/retry"
	"github.com/Actyx/Actyx-sub006/snapshot"
)

// Store persists snapshots in a SQLite database. WAL mode plus a busy
// timeout lets several processes on one host share the file.
type Store struct {
	db *sql.DB
}

var _ snapshot.Store = (*Store)(nil)

// Open opens (or creates) the snapshot database at path and initializes
// the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "sqlitestore", "Open", "path is required")
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlitestore", "Open", "open database")
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlitestore", "Open", "create schema")
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		semantics    TEXT NOT NULL,
		name         TEXT NOT NULL,
		version      INTEGER NOT NULL,
		tag          TEXT NOT NULL,
		lamport      INTEGER NOT NULL,
		stream       TEXT NOT NULL,
		event_offset INTEGER NOT NULL,
		offsets      TEXT NOT NULL,
		horizon      TEXT,
		cycle        INTEGER NOT NULL,
		state        BLOB NOT NULL,
		PRIMARY KEY (semantics, name, version, lamport, stream, event_offset)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_key
		ON snapshots(semantics, name, lamport, stream, event_offset);
	`
	_, err := s.db.Exec(schema)
	return err
}

// retryWrite absorbs transient SQLite contention (BUSY, LOCKED) under
// concurrent writers.
func retryWrite(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, retry.Quick(), fn)
}

// Store persists the snapshot unless an equal-or-newer one exists for the
// identity. Accepting a newer codec version purges all older versions.
func (s *Store) Store(ctx context.Context, snap snapshot.Snapshot) (bool, error) {
	offsets, err := json.Marshal(snap.Offsets)
	if err != nil {
		return false, errors.WrapInvalid(err, "sqlitestore", "Store", "encode offsets")
	}
	var horizon any
	if snap.Horizon != nil {
		h, err := json.Marshal(snap.Horizon)
		if err != nil {
			return false, errors.WrapInvalid(err, "sqlitestore", "Store", "encode horizon")
		}
		horizon = string(h)
	}

	accepted := false
	err = retryWrite(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var blocked int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM snapshots
			 WHERE semantics = ? AND name = ?
			   AND (version > ?
			        OR (version = ? AND (lamport, stream, event_offset) >= (?, ?, ?)))`,
			snap.Identity.Semantics, snap.Identity.Name,
			snap.Version, snap.Version,
			int64(snap.Key.Lamport), string(snap.Key.Stream), int64(snap.Key.Offset),
		).Scan(&blocked)
		if err != nil {
			return err
		}
		if blocked > 0 {
			accepted = false
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM snapshots WHERE semantics = ? AND name = ? AND version < ?`,
			snap.Identity.Semantics, snap.Identity.Name, snap.Version,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots
			 (semantics, name, version, tag, lamport, stream, event_offset,
			  offsets, horizon, cycle, state)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.Identity.Semantics, snap.Identity.Name, snap.Version, string(snap.Tag),
			int64(snap.Key.Lamport), string(snap.Key.Stream), int64(snap.Key.Offset),
			string(offsets), horizon, int64(snap.Cycle), snap.State,
		); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	if err != nil {
		return false, errors.WrapTransient(err, "sqlitestore", "Store", "write snapshot")
	}
	return accepted, nil
}

// Retrieve returns the newest snapshot at exactly the given version.
func (s *Store) Retrieve(ctx context.Context, identity fish.Identity, version int) (*snapshot.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT tag, lamport, stream, event_offset, offsets, horizon, cycle, state
		 FROM snapshots
		 WHERE semantics = ? AND name = ? AND version = ?
		 ORDER BY lamport DESC, stream DESC, event_offset DESC
		 LIMIT 1`,
		identity.Semantics, identity.Name, version,
	)

	var (
		tag       string
		lamport   int64
		stream    string
		offset    int64
		offsetsJS string
		horizonJS sql.NullString
		cycle     int64
		state     []byte
	)
	err := row.Scan(&tag, &lamport, &stream, &offset, &offsetsJS, &horizonJS, &cycle, &state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "sqlitestore", "Retrieve", "read snapshot")
	}

	snap := &snapshot.Snapshot{
		Identity: identity,
		Version:  version,
		Tag:      snapshot.Tag(tag),
		Key: event.Key{
			Lamport: event.LamportTimestamp(lamport),
			Stream:  event.StreamID(stream),
			Offset:  event.Offset(offset),
		},
		Cycle: uint64(cycle),
		State: state,
	}
	if err := json.Unmarshal([]byte(offsetsJS), &snap.Offsets); err != nil {
		return nil, errors.WrapFatal(errors.ErrSnapshotCorrupted,
			"sqlitestore", "Retrieve", "decode offsets")
	}
	if horizonJS.Valid {
		var h event.Key
		if err := json.Unmarshal([]byte(horizonJS.String), &h); err != nil {
			return nil, errors.WrapFatal(errors.ErrSnapshotCorrupted,
				"sqlitestore", "Retrieve", "decode horizon")
		}
		snap.Horizon = &h
	}
	return snap, nil
}

// Invalidate removes every snapshot of the identity with Key >= key,
// across all versions.
func (s *Store) Invalidate(ctx context.Context, identity fish.Identity, key event.Key) error {
	err := retryWrite(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM snapshots
			 WHERE semantics = ? AND name = ?
			   AND (lamport, stream, event_offset) >= (?, ?, ?)`,
			identity.Semantics, identity.Name,
			int64(key.Lamport), string(key.Stream), int64(key.Offset),
		)
		return err
	})
	if err != nil {
		return errors.WrapTransient(err, "sqlitestore", "Invalidate", "delete snapshots")
	}
	return nil
}

// InvalidateAll removes every snapshot of every identity.
func (s *Store) InvalidateAll(ctx context.Context) error {
	err := retryWrite(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots`)
		return err
	})
	if err != nil {
		return errors.WrapTransient(err, "sqlitestore", "InvalidateAll", "clear table")
	}
	return nil
}
