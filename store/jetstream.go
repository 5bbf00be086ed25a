package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Alirezaa02/webvis-oakd-dashboard/errors"
	"github.com/Alirezaa02/webvis-oakd-dashboard/event"
	"github.com/Alirezaa02/webvis-oakd-dashboard/pkg/retry"
)

// JetStreamConfig holds connection settings for the NATS JetStream backend.
type JetStreamConfig struct {
	// URL is the NATS server address, e.g. "nats://localhost:4222".
	URL string `yaml:"url"`

	// Name identifies this client on the server, visible in monitoring.
	Name string `yaml:"name"`

	// WriteTimeout bounds a single acknowledged publish.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// JetStreamStore persists events in one stream per variant. Stream sequence
// numbers provide the stable tie-break on read, and MaxAge enforces the
// retention horizon server-side, so this backend runs no pruner of its own.
type JetStreamStore struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	streams map[event.Variant]jetstream.Stream
	cfg     JetStreamConfig
	logger  *slog.Logger
}

func streamName(v event.Variant) string {
	return "TELEMETRY_" + strings.ToUpper(string(v))
}

func subjectFor(v event.Variant) string {
	return "telemetry." + string(v)
}

// NewJetStreamStore connects with a bounded startup retry and creates or
// updates the per-variant streams with the retention horizon as MaxAge.
func NewJetStreamStore(ctx context.Context, cfg JetStreamConfig, retention RetentionConfig, logger *slog.Logger) (*JetStreamStore, error) {
	if cfg.URL == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "store", "NewJetStreamStore", "read url")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	var conn *nats.Conn
	err := retry.Do(ctx, retry.Startup(), func() error {
		var dialErr error
		conn, dialErr = nats.Connect(cfg.URL, nats.Name(cfg.Name), nats.MaxReconnects(-1))
		return dialErr
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "store", "NewJetStreamStore", "connect to nats")
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, errors.WrapFatal(err, "store", "NewJetStreamStore", "initialize jetstream")
	}

	streams := make(map[event.Variant]jetstream.Stream, len(event.Variants))
	for _, v := range event.Variants {
		sc := jetstream.StreamConfig{
			Name:      streamName(v),
			Subjects:  []string{subjectFor(v)},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    retention.Horizon,
		}
		if retention.MaxRows > 0 {
			sc.MaxMsgs = int64(retention.MaxRows)
		}
		stream, err := js.CreateOrUpdateStream(ctx, sc)
		if err != nil {
			conn.Close()
			return nil, errors.WrapFatal(err, "store", "NewJetStreamStore", "create stream")
		}
		streams[v] = stream
	}

	return &JetStreamStore{
		conn:    conn,
		js:      js,
		streams: streams,
		cfg:     cfg,
		logger:  logger.With("component", "store.jetstream"),
	}, nil
}

// Append publishes the event and waits for the stream acknowledgement. The
// acknowledged stream sequence becomes the record identifier.
func (s *JetStreamStore) Append(ctx context.Context, ev event.Event) (RecordID, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", errors.WrapInvalid(err, "store", "Append", "encode payload")
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()

	v := ev.Variant()
	ack, err := s.js.Publish(writeCtx, subjectFor(v), payload)
	if err != nil {
		if stderrors.Is(writeCtx.Err(), context.DeadlineExceeded) {
			return "", errors.WrapTransient(errors.ErrWriteTimeout, "store", "Append", "publish event")
		}
		return "", errors.WrapTransient(err, "store", "Append", "publish event")
	}
	return RecordID(fmt.Sprintf("%s-%d", v, ack.Sequence)), nil
}

// Latest walks the stream backwards from its last sequence, skipping
// messages already expired by MaxAge, then orders the window by producer
// timestamp with the stream sequence breaking ties. Producer clocks can
// deliver out of order, so insertion order alone is not most-recent-first.
func (s *JetStreamStore) Latest(ctx context.Context, variant event.Variant, limit int) ([]event.Event, error) {
	if limit <= 0 {
		return []event.Event{}, nil
	}
	stream, ok := s.streams[variant]
	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("no stream for variant %q", variant), "store", "Latest", "resolve stream")
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "store", "Latest", "read stream info")
	}

	rows := make([]record, 0, limit)
	for seq := info.State.LastSeq; seq >= info.State.FirstSeq && seq > 0 && len(rows) < limit; seq-- {
		msg, err := stream.GetMsg(ctx, seq)
		if err != nil {
			if stderrors.Is(err, jetstream.ErrMsgNotFound) {
				continue
			}
			return nil, errors.WrapTransient(err, "store", "Latest", "read message")
		}
		ev, err := event.Decode(variant, msg.Data)
		if err != nil {
			return nil, errors.WrapInvalid(err, "store", "Latest", "decode message")
		}
		rows = append(rows, record{seq: seq, ev: ev})
	}

	orderMostRecentFirst(rows)

	out := make([]event.Event, len(rows))
	for i, r := range rows {
		out[i] = r.ev
	}
	return out, nil
}

// Close drains the connection so acknowledged publishes are flushed.
func (s *JetStreamStore) Close(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.conn.Drain() }()
	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "store", "Close", "drain connection")
		}
		return nil
	case <-ctx.Done():
		s.conn.Close()
		return ctx.Err()
	}
}
