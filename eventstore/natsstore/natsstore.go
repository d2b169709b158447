package natsstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Actyx/Actyx-sub006/errors"
	"github.com/Actyx/Actyx-sub006/event"
	"github.com/Actyx/Actyx-sub006/eventstore"
)

// Config holds the JetStream connection and layout settings.
type Config struct {
	URLs          []string
	Username      string
	Password      string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration

	// Stream is the JetStream stream holding all events.
	Stream string
	// SubjectPrefix maps event streams onto subjects as
	// "<prefix>.<streamID>".
	SubjectPrefix string
	// ChunkSize is the replay batch size.
	ChunkSize int
}

// DefaultConfig returns settings for a local JetStream server.
func DefaultConfig() Config {
	return Config{
		URLs:          []string{"nats://localhost:4222"},
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Stream:        "POND_EVENTS",
		SubjectPrefix: "pond.events",
		ChunkSize:     256,
	}
}

// wireEvent is the message body. The lamport timestamp is not part of
// it: the JetStream stream sequence of the message is the lamport clock,
// assigned on append and strictly increasing across the whole stream.
type wireEvent struct {
	Stream    event.StreamID  `json:"stream"`
	Offset    event.Offset    `json:"offset"`
	Timestamp time.Time       `json:"timestamp"`
	Tags      event.TagSet    `json:"tags,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Store is an event store on NATS JetStream. Offsets are handed out per
// event stream through an atomic KV counter; each event stream is
// expected to have a single writer, which keeps offset order and lamport
// order aligned.
type Store struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	kv     jetstream.KeyValue
	cfg    Config
	logger *slog.Logger
}

var _ eventstore.Store = (*Store)(nil)

// Open connects, materializes the stream and the offset counter bucket.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Stream == "" || cfg.SubjectPrefix == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"natsstore", "Open", "stream and subject prefix are required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, errors.WrapTransient(err, "natsstore", "Open", "connect to NATS")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapTransient(err, "natsstore", "Open", "initialize JetStream")
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, errors.WrapTransient(err, "natsstore", "Open", "materialize stream")
	}

	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Stream + "_OFFSETS",
		Description: "per-stream offset counters",
	})
	if err != nil {
		conn.Close()
		return nil, errors.WrapTransient(err, "natsstore", "Open", "materialize offset bucket")
	}

	logger.Debug("event store ready", "stream", cfg.Stream, "subjects", cfg.SubjectPrefix+".>")
	return &Store{conn: conn, js: js, stream: stream, kv: kv, cfg: cfg, logger: logger}, nil
}

// Close drains the connection.
func (s *Store) Close() error {
	return s.conn.Drain()
}

func (s *Store) subject(stream event.StreamID) string {
	return s.cfg.SubjectPrefix + "." + string(stream)
}

// nextOffsets reserves n consecutive offsets for the stream and returns
// the first one. The KV revision check makes the reservation atomic.
func (s *Store) nextOffsets(ctx context.Context, stream event.StreamID, n int) (event.Offset, error) {
	key := string(stream)
	for {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			if !isKeyNotFound(err) {
				return 0, err
			}
			if _, err := s.kv.Create(ctx, key, []byte(strconv.Itoa(n))); err != nil {
				if isKeyExists(err) {
					continue // lost the creation race
				}
				return 0, err
			}
			return 0, nil
		}

		cur, err := strconv.ParseInt(string(entry.Value()), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt offset counter for stream %s: %w", stream, err)
		}
		next := strconv.FormatInt(cur+int64(n), 10)
		if _, err := s.kv.Update(ctx, key, []byte(next), entry.Revision()); err != nil {
			if isWrongRevision(err) {
				continue // lost the update race
			}
			return 0, err
		}
		return event.Offset(cur), nil
	}
}

func isKeyNotFound(err error) bool { return stderrors.Is(err, jetstream.ErrKeyNotFound) }
func isKeyExists(err error) bool   { return stderrors.Is(err, jetstream.ErrKeyExists) }

// isWrongRevision matches the optimistic-concurrency failure of KV
// updates, which surfaces as a stream sequence mismatch.
func isWrongRevision(err error) bool {
	return err != nil && strings.Contains(err.Error(), "wrong last sequence")
}

// Persist appends the proposed events to the given stream. The returned
// events carry their assigned offsets and lamport timestamps.
func (s *Store) Persist(ctx context.Context, stream event.StreamID, proposed []eventstore.Proposed) ([]event.Event, error) {
	if len(proposed) == 0 {
		return nil, nil
	}

	first, err := s.nextOffsets(ctx, stream, len(proposed))
	if err != nil {
		return nil, errors.WrapTransient(err, "natsstore", "Persist", "reserve offsets")
	}

	now := time.Now().UTC()
	out := make([]event.Event, len(proposed))
	for i, p := range proposed {
		wire := wireEvent{
			Stream:    stream,
			Offset:    first + event.Offset(i),
			Timestamp: now,
			Tags:      p.Tags,
			Payload:   p.Payload,
		}
		data, err := json.Marshal(wire)
		if err != nil {
			return nil, errors.WrapInvalid(err, "natsstore", "Persist", "encode event")
		}
		ack, err := s.js.Publish(ctx, s.subject(stream), data)
		if err != nil {
			return nil, errors.WrapTransient(err, "natsstore", "Persist", "publish event")
		}
		out[i] = event.Event{
			Stream:    stream,
			Offset:    wire.Offset,
			Lamport:   event.LamportTimestamp(ack.Sequence),
			Timestamp: now,
			Tags:      p.Tags,
			Payload:   p.Payload,
		}
	}
	return out, nil
}

// Present reads the per-stream high-water marks from the offset bucket.
func (s *Store) Present(ctx context.Context) (event.OffsetMap, error) {
	present := event.OffsetMap{}
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrNoKeysFound) {
			return present, nil
		}
		return nil, errors.WrapTransient(err, "natsstore", "Present", "list offset counters")
	}

	for _, key := range keys {
		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			return nil, errors.WrapTransient(err, "natsstore", "Present", "read offset counter")
		}
		next, err := strconv.ParseInt(string(entry.Value()), 10, 64)
		if err != nil || next <= 0 {
			continue
		}
		present[event.StreamID(key)] = event.Offset(next - 1)
	}
	return present, nil
}

func (s *Store) decode(msg jetstream.Msg) (event.Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(msg.Data(), &wire); err != nil {
		return event.Event{}, errors.WrapInvalid(err, "natsstore", "decode", "decode event body")
	}
	meta, err := msg.Metadata()
	if err != nil {
		return event.Event{}, errors.WrapInvalid(err, "natsstore", "decode", "read message metadata")
	}
	return event.Event{
		Stream:    wire.Stream,
		Offset:    wire.Offset,
		Lamport:   event.LamportTimestamp(meta.Sequence.Stream),
		Timestamp: wire.Timestamp,
		Tags:      wire.Tags,
		Payload:   wire.Payload,
	}, nil
}

// Query replays events with offsets in (from, to], filtered and ordered.
// The cursor closes when the range is exhausted; a failed replay closes
// it with a non-nil Err.
func (s *Store) Query(ctx context.Context, from, to event.OffsetMap, filter eventstore.Filter,
	order eventstore.Order) (*eventstore.Cursor, error) {

	info, err := s.stream.Info(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "natsstore", "Query", "read stream info")
	}
	lastSeq := info.State.LastSeq

	cur, out, fail := eventstore.NewCursor(4)
	go func() {
		defer close(out)

		collected, err := s.collect(ctx, lastSeq, func(ev event.Event) bool {
			return to.Contains(ev) && !from.Contains(ev) && (filter == nil || filter.Matches(ev))
		})
		if err != nil {
			fail(errors.WrapTransient(err, "natsstore", "Query", "event replay failed"))
			return
		}

		event.SortBatch(collected)
		if order == eventstore.OrderDesc {
			for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
				collected[i], collected[j] = collected[j], collected[i]
			}
		}

		for start := 0; start < len(collected); start += s.cfg.ChunkSize {
			end := start + s.cfg.ChunkSize
			if end > len(collected) {
				end = len(collected)
			}
			select {
			case out <- collected[start:end:end]:
			case <-ctx.Done():
				return
			}
		}
	}()
	return cur, nil
}

// collect reads the stream from the beginning up to lastSeq and returns
// the events accepted by keep.
func (s *Store) collect(ctx context.Context, lastSeq uint64, keep func(event.Event) bool) ([]event.Event, error) {
	if lastSeq == 0 {
		return nil, nil
	}

	cons, err := s.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.cfg.SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, err
	}

	it, err := cons.Messages()
	if err != nil {
		return nil, err
	}
	defer it.Stop()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			it.Stop()
		case <-stop:
		}
	}()

	var collected []event.Event
	for {
		msg, err := it.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		ev, err := s.decode(msg)
		if err != nil {
			return nil, err
		}
		if keep(ev) {
			collected = append(collected, ev)
		}
		meta, err := msg.Metadata()
		if err != nil {
			return nil, err
		}
		if meta.Sequence.Stream >= lastSeq {
			return collected, nil
		}
	}
}

// Subscribe delivers all events past from, live, until the context ends
// or the feed fails. The from map is retained for the cursor's lifetime.
func (s *Store) Subscribe(ctx context.Context, filter eventstore.Filter, from event.OffsetMap) (*eventstore.Cursor, error) {
	cons, err := s.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{s.cfg.SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natsstore", "Subscribe", "create consumer")
	}

	it, err := cons.Messages()
	if err != nil {
		return nil, errors.WrapTransient(err, "natsstore", "Subscribe", "open message iterator")
	}

	cur, out, fail := eventstore.NewCursor(16)
	go func() {
		defer close(out)
		defer it.Stop()

		go func() {
			<-ctx.Done()
			it.Stop()
		}()

		for {
			msg, err := it.Next()
			if err != nil {
				if ctx.Err() == nil {
					fail(errors.WrapTransient(err, "natsstore", "Subscribe", "live feed interrupted"))
				}
				return
			}
			ev, err := s.decode(msg)
			if err != nil {
				fail(errors.WrapInvalid(err, "natsstore", "Subscribe", "undecodable event"))
				return
			}
			if from.Contains(ev) {
				continue
			}
			if filter != nil && !filter.Matches(ev) {
				continue
			}
			select {
			case out <- []event.Event{ev}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return cur, nil
}
