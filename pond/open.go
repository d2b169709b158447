package pond

import (
	"context"
	"log/slog"
	"os"

	"github.com/Actyx/Actyx-sub006/config"
	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/eventstore"
	"github.com/Actyx/Actyx-sub006/eventstore/natsstore"
	"github.com/Actyx/Actyx-sub006/eventstore/pgstore"
	"github.com/Actyx/Actyx-sub006/snapshot"
	"github.com/Actyx/Actyx-sub006/snapshot/badgerstore"
	"github.com/Actyx/Actyx-sub006/snapshot/sqlitestore"
)

// Open builds a Pond from configuration: it constructs the configured
// event store and snapshot store, wires the snapshot schedule and source
// id, and ties backend lifetimes to Dispose. Extra options are applied
// after the configured ones and win on conflict.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Pond, error) {
	if cfg == nil {
		cfg = config.Default()
	} else {
		cfg = cfg.Clone()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Pond", "Open", "validate config")
	}

	logger := newLogger(cfg.Pond.LogLevel)
	closers := make([]func() error, 0, 2)
	fail := func(err error) (*Pond, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	store, closeStore, err := openEventStore(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	if closeStore != nil {
		closers = append(closers, closeStore)
	}

	snaps, closeSnaps, err := openSnapshotStore(cfg)
	if err != nil {
		return fail(err)
	}
	if closeSnaps != nil {
		closers = append(closers, closeSnaps)
	}

	configured := []Option{WithLogger(logger)}
	if cfg.Pond.SourceID != "" {
		configured = append(configured, WithSourceID(event.StreamID(cfg.Pond.SourceID)))
	}
	if snaps != nil {
		configured = append(configured, WithSnapshots(snaps, snapshot.Scheduler{
			EventInterval: cfg.Snapshots.EventInterval,
			TimeInterval:  cfg.Snapshots.TimeInterval,
		}))
	}

	p, err := New(store, append(configured, opts...)...)
	if err != nil {
		return fail(err)
	}
	p.closers = closers
	return p, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func openEventStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (eventstore.Store, func() error, error) {
	es := cfg.EventStore
	switch es.Backend {
	case config.EventBackendMemory:
		s := eventstore.NewMemoryStore(logger)
		return s, func() error { s.Close(); return nil }, nil

	case config.EventBackendNATS:
		ncfg := natsstore.DefaultConfig()
		ncfg.URLs = es.NATS.URLs
		ncfg.Username = es.NATS.Username
		ncfg.Password = es.NATS.Password
		ncfg.Token = es.NATS.Token
		if es.NATS.MaxReconnects != 0 {
			ncfg.MaxReconnects = es.NATS.MaxReconnects
		}
		if es.NATS.ReconnectWait > 0 {
			ncfg.ReconnectWait = es.NATS.ReconnectWait
		}
		if es.NATS.Stream != "" {
			ncfg.Stream = es.NATS.Stream
		}
		if es.NATS.SubjectPrefix != "" {
			ncfg.SubjectPrefix = es.NATS.SubjectPrefix
		}
		if es.ChunkSize > 0 {
			ncfg.ChunkSize = es.ChunkSize
		}
		s, err := natsstore.Open(ctx, ncfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.EventBackendPostgres:
		pcfg := pgstore.DefaultConfig(es.Postgres.DSN)
		if es.Postgres.Table != "" {
			pcfg.Table = es.Postgres.Table
		}
		if es.Postgres.MaxOpenConns > 0 {
			pcfg.MaxOpenConns = es.Postgres.MaxOpenConns
		}
		if es.ChunkSize > 0 {
			pcfg.ChunkSize = es.ChunkSize
		}
		s, err := pgstore.Open(ctx, pcfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pond", "Open",
		"unknown event store backend "+es.Backend)
}

func openSnapshotStore(cfg *config.Config) (snapshot.Store, func() error, error) {
	sc := cfg.Snapshots
	switch sc.Backend {
	case config.SnapshotBackendNone:
		return nil, nil, nil

	case config.SnapshotBackendMemory:
		return snapshot.NewMemoryStore(), nil, nil

	case config.SnapshotBackendBadger:
		s, err := badgerstore.Open(badgerstore.DefaultConfig(sc.Path))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.SnapshotBackendSQLite:
		s, err := sqlitestore.Open(sc.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pond", "Open",
		"unknown snapshot backend "+sc.Backend)
}
