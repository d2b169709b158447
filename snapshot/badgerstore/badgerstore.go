package badgerstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/fish"
	"github.com/Actyx/Actyx-sub006/pkg/retry"
	"github.com/Actyx/Actyx-sub006/snapshot"
)

var keyspace = []byte("snap\x00")

// Config holds the Badger database settings.
type Config struct {
	// Path is the directory for the database files. Required unless
	// InMemory is set.
	Path string

	// InMemory keeps everything in process memory. Useful for tests.
	InMemory bool

	// SyncWrites makes every write hit disk before acknowledging.
	SyncWrites bool

	// Logger receives Badger's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns durable settings for the given directory.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns settings for a throwaway in-memory database.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store persists snapshots in an embedded Badger database. Keys encode
// identity, codec version and causal position so that range scans walk
// snapshots in causal order.
type Store struct {
	db *badger.DB
}

// writeUpdate runs a read-write transaction, repeating it on transient
// failures such as transaction conflicts.
func (s *Store) writeUpdate(ctx context.Context, fn func(txn *badger.Txn) error) error {
	policy := errors.DefaultRetryConfig().ToRetryConfig()
	return retry.Do(ctx, policy, func() error {
		err := s.db.Update(fn)
		if err != nil && !errors.IsTransient(err) && !stderrors.Is(err, badger.ErrConflict) {
			return retry.NonRetryable(err)
		}
		return err
	})
}

var _ snapshot.Store = (*Store)(nil)

// Open opens the snapshot database.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"badgerstore", "Open", "path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, errors.Wrap(err, "badgerstore", "Open", "create database directory")
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WrapTransient(err, "badgerstore", "Open", "open database")
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// identityPrefix is "snap\0<semantics>\0<name>\0".
func identityPrefix(id fish.Identity) []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(keyspace)
	buf.WriteString(id.Semantics)
	buf.WriteByte(0)
	buf.WriteString(id.Name)
	buf.WriteByte(0)
	return buf.Bytes()
}

// encodeKey appends version and causal position. Fixed-width big-endian
// integers keep byte order aligned with causal order within a version.
func encodeKey(id fish.Identity, version int, key event.Key) []byte {
	buf := bytes.NewBuffer(identityPrefix(id))
	_ = binary.Write(buf, binary.BigEndian, uint32(version))
	_ = binary.Write(buf, binary.BigEndian, uint64(key.Lamport))
	buf.WriteString(string(key.Stream))
	buf.WriteByte(0)
	_ = binary.Write(buf, binary.BigEndian, uint64(key.Offset))
	return buf.Bytes()
}

// decodeSuffix parses version and causal position from a database key,
// given the identity prefix length.
func decodeSuffix(raw []byte, prefixLen int) (int, event.Key, error) {
	rest := raw[prefixLen:]
	if len(rest) < 4+8+1+8 {
		return 0, event.Key{}, errors.WrapFatal(errors.ErrSnapshotCorrupted,
			"badgerstore", "decodeSuffix", "database key too short")
	}
	version := int(binary.BigEndian.Uint32(rest[:4]))
	lamport := binary.BigEndian.Uint64(rest[4:12])
	rest = rest[12:]
	sep := bytes.IndexByte(rest, 0)
	if sep < 0 || len(rest) < sep+1+8 {
		return 0, event.Key{}, errors.WrapFatal(errors.ErrSnapshotCorrupted,
			"badgerstore", "decodeSuffix", "malformed database key")
	}
	key := event.Key{
		Lamport: event.LamportTimestamp(lamport),
		Stream:  event.StreamID(rest[:sep]),
		Offset:  event.Offset(binary.BigEndian.Uint64(rest[sep+1:])),
	}
	return version, key, nil
}

// Store persists the snapshot unless an equal-or-newer one exists.
// Accepting a newer codec version purges all older versions.
func (s *Store) Store(ctx context.Context, snap snapshot.Snapshot) (bool, error) {
	prefix := identityPrefix(snap.Identity)
	accepted := false

	err := s.writeUpdate(ctx, func(txn *badger.Txn) error {
		var purge [][]byte

		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		for it.Rewind(); it.Valid(); it.Next() {
			raw := it.Item().KeyCopy(nil)
			version, key, err := decodeSuffix(raw, len(prefix))
			if err != nil {
				it.Close()
				return err
			}
			switch {
			case version > snap.Version:
				it.Close()
				return nil // newer format generation wins, reject
			case version == snap.Version && !key.Before(snap.Key):
				it.Close()
				return nil // equal-or-newer snapshot, reject
			case version < snap.Version:
				purge = append(purge, raw)
			}
		}
		it.Close()

		for _, k := range purge {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		value, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		if err := txn.Set(encodeKey(snap.Identity, snap.Version, snap.Key), value); err != nil {
			return err
		}
		accepted = true
		return nil
	})
	if err != nil {
		return false, errors.WrapTransient(err, "badgerstore", "Store", "write snapshot")
	}
	return accepted, nil
}

// Retrieve returns the newest snapshot at exactly the given version.
func (s *Store) Retrieve(_ context.Context, identity fish.Identity, version int) (*snapshot.Snapshot, error) {
	prefix := identityPrefix(identity)
	versionPrefix := bytes.NewBuffer(prefix)
	_ = binary.Write(versionPrefix, binary.BigEndian, uint32(version))

	var newest []byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: versionPrefix.Bytes()})
		defer it.Close()
		// Keys are causally ordered, the last one is the newest.
		for it.Rewind(); it.Valid(); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			newest = v
		}
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "badgerstore", "Retrieve", "read snapshots")
	}
	if newest == nil {
		return nil, nil
	}

	var snap snapshot.Snapshot
	if err := json.Unmarshal(newest, &snap); err != nil {
		return nil, errors.WrapFatal(errors.ErrSnapshotCorrupted,
			"badgerstore", "Retrieve", "decode snapshot record")
	}
	return &snap, nil
}

// Invalidate removes every snapshot of the identity with Key >= key,
// across all versions, in one transaction.
func (s *Store) Invalidate(ctx context.Context, identity fish.Identity, key event.Key) error {
	prefix := identityPrefix(identity)

	err := s.writeUpdate(ctx, func(txn *badger.Txn) error {
		var doomed [][]byte

		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		for it.Rewind(); it.Valid(); it.Next() {
			raw := it.Item().KeyCopy(nil)
			_, stored, err := decodeSuffix(raw, len(prefix))
			if err != nil {
				it.Close()
				return err
			}
			if !stored.Before(key) {
				doomed = append(doomed, raw)
			}
		}
		it.Close()

		for _, k := range doomed {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.WrapTransient(err, "badgerstore", "Invalidate", "delete snapshots")
	}
	return nil
}

// InvalidateAll removes every snapshot of every identity.
func (s *Store) InvalidateAll(context.Context) error {
	if err := s.db.DropPrefix(keyspace); err != nil {
		return errors.WrapTransient(err, "badgerstore", "InvalidateAll", "drop keyspace")
	}
	return nil
}
