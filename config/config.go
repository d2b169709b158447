package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Backend constants for the event store.
const (
	EventBackendMemory   = "memory"   // in-process, single node
	EventBackendNATS     = "nats"     // NATS JetStream
	EventBackendPostgres = "postgres" // PostgreSQL
)

// Backend constants for the snapshot store.
const (
	SnapshotBackendNone   = "none"   // snapshots disabled
	SnapshotBackendMemory = "memory" // in-process, lost on restart
	SnapshotBackendBadger = "badger" // embedded Badger database
	SnapshotBackendSQLite = "sqlite" // embedded SQLite database
)

// Config is the complete runtime configuration.
type Config struct {
	Version    string          `json:"version"`
	Pond       PondConfig      `json:"pond"`
	EventStore EventStoreConfig `json:"event_store"`
	Snapshots  SnapshotConfig  `json:"snapshots"`
}

// PondConfig carries host-level settings.
type PondConfig struct {
	// SourceID is this node's event stream identity. Empty means a
	// random id per start, which is fine for ephemeral nodes but loses
	// stream continuity across restarts.
	SourceID string `json:"source_id,omitempty"`
	LogLevel string `json:"log_level,omitempty"` // debug, info, warn, error
}

// EventStoreConfig selects and configures the event store backend.
type EventStoreConfig struct {
	Backend   string         `json:"backend"`
	ChunkSize int            `json:"chunk_size,omitempty"` // replay batch size
	NATS      NATSConfig     `json:"nats,omitempty"`
	Postgres  PostgresConfig `json:"postgres,omitempty"`
}

// NATSConfig defines the JetStream connection.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
	Stream        string        `json:"stream,omitempty"`
	SubjectPrefix string        `json:"subject_prefix,omitempty"`
}

// PostgresConfig defines the PostgreSQL connection.
type PostgresConfig struct {
	DSN          string `json:"dsn,omitempty"`
	Table        string `json:"table,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
}

// SnapshotConfig selects and configures the snapshot store backend and
// the snapshot schedule.
type SnapshotConfig struct {
	Backend       string        `json:"backend"`
	Path          string        `json:"path,omitempty"` // badger directory or sqlite file
	EventInterval int           `json:"event_interval,omitempty"`
	TimeInterval  time.Duration `json:"time_interval,omitempty"`
}

// Default returns the configuration used when no file is given: an
// in-memory event store with in-memory snapshots on the default schedule.
func Default() *Config {
	return &Config{
		Version: "1.0.0",
		Pond: PondConfig{
			LogLevel: "info",
		},
		EventStore: EventStoreConfig{
			Backend:   EventBackendMemory,
			ChunkSize: 256,
			NATS: NATSConfig{
				URLs:          []string{"nats://localhost:4222"},
				MaxReconnects: -1,
				ReconnectWait: 2 * time.Second,
				Stream:        "POND_EVENTS",
				SubjectPrefix: "pond.events",
			},
			Postgres: PostgresConfig{
				Table: "pond_events",
			},
		},
		Snapshots: SnapshotConfig{
			Backend:       SnapshotBackendMemory,
			EventInterval: 1024,
			TimeInterval:  30 * time.Minute,
		},
	}
}

// Validate checks the configuration for consistency. It normalizes
// backend names to lowercase.
func (c *Config) Validate() error {
	c.EventStore.Backend = strings.ToLower(c.EventStore.Backend)
	c.Snapshots.Backend = strings.ToLower(c.Snapshots.Backend)

	switch c.EventStore.Backend {
	case EventBackendMemory:
	case EventBackendNATS:
		if len(c.EventStore.NATS.URLs) == 0 {
			return errors.New("event_store.nats.urls is required for the nats backend")
		}
		if c.EventStore.NATS.Stream == "" {
			return errors.New("event_store.nats.stream is required for the nats backend")
		}
	case EventBackendPostgres:
		if c.EventStore.Postgres.DSN == "" {
			return errors.New("event_store.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("event_store.backend %q is not one of memory, nats, postgres",
			c.EventStore.Backend)
	}

	if c.EventStore.ChunkSize < 0 {
		return errors.New("event_store.chunk_size must not be negative")
	}

	switch c.Snapshots.Backend {
	case SnapshotBackendNone, SnapshotBackendMemory:
	case SnapshotBackendBadger, SnapshotBackendSQLite:
		if c.Snapshots.Path == "" {
			return fmt.Errorf("snapshots.path is required for the %s backend", c.Snapshots.Backend)
		}
	default:
		return fmt.Errorf("snapshots.backend %q is not one of none, memory, badger, sqlite",
			c.Snapshots.Backend)
	}

	if c.Snapshots.EventInterval < 0 {
		return errors.New("snapshots.event_interval must not be negative")
	}
	if c.Snapshots.TimeInterval < 0 {
		return errors.New("snapshots.time_interval must not be negative")
	}

	switch c.Pond.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("pond.log_level %q is not one of debug, info, warn, error", c.Pond.LogLevel)
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// SafeConfig provides thread-safe access to a configuration that may be
// swapped at runtime.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps a configuration for concurrent access.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Default()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
