package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/eventstore"
)

// Config holds the PostgreSQL connection settings.
type Config struct {
	DSN          string
	Table        string
	MaxOpenConns int
	// PollInterval is how often live subscriptions look for new events.
	PollInterval time.Duration
	// ChunkSize is the replay batch size.
	ChunkSize int
}

// DefaultConfig returns settings for a local database.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:          dsn,
		Table:        "pond_events",
		MaxOpenConns: 8,
		PollInterval: 250 * time.Millisecond,
		ChunkSize:    256,
	}
}

// Store is an event store on PostgreSQL. A BIGSERIAL column provides the
// lamport clock; a per-stream advisory lock serializes appends so that
// offsets stay dense and aligned with lamport order.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
}

var _ eventstore.Store = (*Store)(nil)

// Open connects and creates the events table if needed.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "pgstore", "Open", "dsn is required")
	}
	if cfg.Table == "" {
		cfg.Table = "pond_events"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.WrapTransient(err, "pgstore", "Open", "open database")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.WrapTransient(err, "pgstore", "Open", "ping database")
	}

	s := &Store{db: db, cfg: cfg, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "pgstore", "Open", "create schema")
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *Store) table() string { return quoteIdentifier(s.cfg.Table) }

func (s *Store) initSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		lamport       BIGSERIAL PRIMARY KEY,
		stream_id     VARCHAR(255) NOT NULL,
		stream_offset BIGINT NOT NULL,
		tags          JSONB,
		payload       JSONB NOT NULL,
		timestamp     TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s(stream_id, stream_offset);
	`, s.table(),
		quoteIdentifier("idx_"+s.cfg.Table+"_stream_offset"), s.table())

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Persist appends the proposed events to the given stream.
func (s *Store) Persist(ctx context.Context, stream event.StreamID, proposed []eventstore.Proposed) ([]event.Event, error) {
	if len(proposed) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.WrapTransient(err, "pgstore", "Persist", "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// Serialize appends per stream so offsets stay dense.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, string(stream)); err != nil {
		return nil, errors.WrapTransient(err, "pgstore", "Persist", "acquire stream lock")
	}

	var maxOffset sql.NullInt64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT MAX(stream_offset) FROM %s WHERE stream_id = $1`, s.table()),
		string(stream),
	).Scan(&maxOffset)
	if err != nil {
		return nil, errors.WrapTransient(err, "pgstore", "Persist", "read stream head")
	}
	next := event.Offset(0)
	if maxOffset.Valid {
		next = event.Offset(maxOffset.Int64 + 1)
	}

	now := time.Now().UTC()
	out := make([]event.Event, len(proposed))
	for i, p := range proposed {
		tags, err := json.Marshal(p.Tags)
		if err != nil {
			return nil, errors.WrapInvalid(err, "pgstore", "Persist", "encode tags")
		}
		var lamport int64
		err = tx.QueryRowContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (stream_id, stream_offset, tags, payload, timestamp)
				 VALUES ($1, $2, $3, $4, $5) RETURNING lamport`, s.table()),
			string(stream), int64(next)+int64(i), tags, []byte(p.Payload), now,
		).Scan(&lamport)
		if err != nil {
			return nil, errors.WrapTransient(err, "pgstore", "Persist", "insert event")
		}
		out[i] = event.Event{
			Stream:    stream,
			Offset:    next + event.Offset(i),
			Lamport:   event.LamportTimestamp(lamport),
			Timestamp: now,
			Tags:      p.Tags,
			Payload:   p.Payload,
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.WrapTransient(err, "pgstore", "Persist", "commit transaction")
	}
	return out, nil
}

// Present reads the per-stream high-water marks.
func (s *Store) Present(ctx context.Context) (event.OffsetMap, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT stream_id, MAX(stream_offset) FROM %s GROUP BY stream_id`, s.table()))
	if err != nil {
		return nil, errors.WrapTransient(err, "pgstore", "Present", "read stream heads")
	}
	defer rows.Close()

	present := event.OffsetMap{}
	for rows.Next() {
		var stream string
		var offset int64
		if err := rows.Scan(&stream, &offset); err != nil {
			return nil, errors.WrapTransient(err, "pgstore", "Present", "scan stream head")
		}
		present[event.StreamID(stream)] = event.Offset(offset)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapTransient(err, "pgstore", "Present", "iterate stream heads")
	}
	return present, nil
}

func scanEvent(rows *sql.Rows) (event.Event, error) {
	var (
		lamport int64
		stream  string
		offset  int64
		tags    []byte
		payload []byte
		ts      time.Time
	)
	if err := rows.Scan(&lamport, &stream, &offset, &tags, &payload, &ts); err != nil {
		return event.Event{}, err
	}
	ev := event.Event{
		Stream:    event.StreamID(stream),
		Offset:    event.Offset(offset),
		Lamport:   event.LamportTimestamp(lamport),
		Timestamp: ts,
		Payload:   payload,
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &ev.Tags); err != nil {
			return event.Event{}, err
		}
	}
	return ev, nil
}

// Query replays events with offsets in (from, to], filtered and ordered.
// A failed replay closes the cursor with a non-nil Err.
func (s *Store) Query(ctx context.Context, from, to event.OffsetMap, filter eventstore.Filter,
	order eventstore.Order) (*eventstore.Cursor, error) {

	var clauses []string
	var args []any
	for stream, upper := range to {
		lower := event.Offset(-1)
		if off, ok := from[stream]; ok {
			lower = off
		}
		clauses = append(clauses,
			fmt.Sprintf("(stream_id = $%d AND stream_offset > $%d AND stream_offset <= $%d)",
				len(args)+1, len(args)+2, len(args)+3))
		args = append(args, string(stream), int64(lower), int64(upper))
	}

	cur, out, fail := eventstore.NewCursor(4)
	if len(clauses) == 0 {
		close(out)
		return cur, nil
	}

	direction := "ASC"
	if order == eventstore.OrderDesc {
		direction = "DESC"
	}
	query := fmt.Sprintf(
		`SELECT lamport, stream_id, stream_offset, tags, payload, timestamp
		 FROM %s WHERE %s ORDER BY lamport %s`,
		s.table(), strings.Join(clauses, " OR "), direction)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.WrapTransient(err, "pgstore", "Query", "query events")
	}

	go func() {
		defer close(out)
		defer rows.Close()

		batch := make([]event.Event, 0, s.cfg.ChunkSize)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			chunk := make([]event.Event, len(batch))
			copy(chunk, batch)
			batch = batch[:0]
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for rows.Next() {
			ev, err := scanEvent(rows)
			if err != nil {
				fail(errors.WrapInvalid(err, "pgstore", "Query", "decode event row"))
				return
			}
			if filter != nil && !filter.Matches(ev) {
				continue
			}
			batch = append(batch, ev)
			if len(batch) >= s.cfg.ChunkSize {
				if !flush() {
					return
				}
			}
		}
		if err := rows.Err(); err != nil {
			fail(errors.WrapTransient(err, "pgstore", "Query", "iterate event rows"))
			return
		}
		flush()
	}()
	return cur, nil
}

// Subscribe polls for events past from and delivers them live until the
// context ends or a poll fails for good. Transient poll errors are
// retried on the next tick; the from map is retained for the cursor's
// lifetime.
func (s *Store) Subscribe(ctx context.Context, filter eventstore.Filter, from event.OffsetMap) (*eventstore.Cursor, error) {
	// The lamport cursor starts below everything already covered by
	// from; per-event offset checks below drop the overlap.
	cur, out, fail := eventstore.NewCursor(16)

	go func() {
		defer close(out)

		cursor := int64(0)
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		for {
			events, nextCursor, err := s.pollOnce(ctx, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !errors.IsTransient(err) {
					fail(err)
					return
				}
				s.logger.Warn("live feed poll failed", "error", err)
			} else {
				cursor = nextCursor
				batch := events[:0]
				for _, ev := range events {
					if from.Contains(ev) {
						continue
					}
					if filter != nil && !filter.Matches(ev) {
						continue
					}
					batch = append(batch, ev)
				}
				if len(batch) > 0 {
					select {
					case out <- batch:
					case <-ctx.Done():
						return
					}
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return cur, nil
}

// pollOnce reads all events past the lamport cursor. Decode failures are
// classified invalid so the caller can distinguish them from connection
// trouble.
func (s *Store) pollOnce(ctx context.Context, cursor int64) ([]event.Event, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT lamport, stream_id, stream_offset, tags, payload, timestamp
			 FROM %s WHERE lamport > $1 ORDER BY lamport ASC`, s.table()),
		cursor)
	if err != nil {
		return nil, cursor, errors.WrapTransient(err, "pgstore", "Subscribe", "poll events")
	}
	defer rows.Close()

	var events []event.Event
	next := cursor
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, cursor, errors.WrapInvalid(err, "pgstore", "Subscribe", "decode event row")
		}
		events = append(events, ev)
		if int64(ev.Lamport) > next {
			next = int64(ev.Lamport)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, errors.WrapTransient(err, "pgstore", "Subscribe", "iterate poll rows")
	}
	return events, next, nil
}
