// Package ingest implements the ingestion pipeline: authorize the producer,
// normalize the payload, persist it durably, then broadcast it to live
// subscribers.
//
// The acknowledgment gates on persistence only. Broadcast is fire-and-forget:
// a subscriber outage is invisible to producers. A store failure or timeout
// fails the whole ingestion uniformly on every variant; nothing is broadcast
// for an event that was not durably written.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Alirezaa02/webvis-oakd-dashboard/auth"
	"github.com/Alirezaa02/webvis-oakd-dashboard/errors"
	"github.com/Alirezaa02/webvis-oakd-dashboard/event"
	"github.com/Alirezaa02/webvis-oakd-dashboard/metric"
	"github.com/Alirezaa02/webvis-oakd-dashboard/pkg/timestamp"
	"github.com/Alirezaa02/webvis-oakd-dashboard/store"
)

// SlowThreshold is the round-trip latency above which an ingestion is
// recorded at WARN level in the operational log.
const SlowThreshold = 4000 * time.Millisecond

// Publisher is the live fan-out side of the pipeline.
type Publisher interface {
	Publish(event.Event)
}

// Ack is the producer-visible acknowledgment. Accepted is true only after
// durable persistence.
type Ack struct {
	Accepted bool           `json:"accepted"`
	RecordID store.RecordID `json:"recordId,omitempty"`
}

// Dependencies carries the pipeline collaborators. Store and Bus are
// required; a nil Authorizer allows everyone, a nil Metrics disables
// instrumentation.
type Dependencies struct {
	Store      store.Store
	Bus        Publisher
	Authorizer auth.Authorizer
	Logger     *slog.Logger
	Metrics    *metric.Metrics
}

// Ingestor runs the authorize, normalize, persist, publish sequence.
type Ingestor struct {
	store      store.Store
	bus        Publisher
	authorizer auth.Authorizer
	logger     *slog.Logger
	metrics    *metric.Metrics
}

// NewIngestor wires the pipeline.
func NewIngestor(deps Dependencies) (*Ingestor, error) {
	if deps.Store == nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("nil store"), "Ingestor", "NewIngestor", "check dependencies")
	}
	if deps.Bus == nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("nil bus"), "Ingestor", "NewIngestor", "check dependencies")
	}
	if deps.Authorizer == nil {
		deps.Authorizer = auth.AllowAll{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Ingestor{
		store:      deps.Store,
		bus:        deps.Bus,
		authorizer: deps.Authorizer,
		logger:     deps.Logger.With("component", "ingest"),
		metrics:    deps.Metrics,
	}, nil
}

// Ingest authorizes the caller, then runs the payload through Process.
func (ing *Ingestor) Ingest(ctx context.Context, variant event.Variant, raw map[string]any, token string) (Ack, error) {
	identity, err := ing.authorizer.Authorize(ctx, token)
	if err != nil {
		ing.reject(variant, "unauthorized")
		return Ack{}, err
	}
	return ing.process(ctx, variant, raw, identity.Subject)
}

// process normalizes, persists, broadcasts, and records the round-trip in
// the operational log. Trusted in-process producers (the simulator) enter
// here directly.
func (ing *Ingestor) process(ctx context.Context, variant event.Variant, raw map[string]any, producer string) (Ack, error) {
	start := time.Now()
	if ing.metrics != nil {
		ing.metrics.EventsReceived.WithLabelValues(string(variant)).Inc()
	}

	ev, err := event.Normalize(raw, variant, timestamp.Now())
	if err != nil {
		ing.reject(variant, "validation")
		ing.logger.Debug("payload rejected", "variant", variant, "producer", producer, "error", err)
		return Ack{}, err
	}

	appendStart := time.Now()
	id, err := ing.store.Append(ctx, ev)
	if ing.metrics != nil {
		ing.metrics.AppendDuration.WithLabelValues(string(variant)).Observe(time.Since(appendStart).Seconds())
	}
	if err != nil {
		ing.reject(variant, "store")
		if ing.metrics != nil {
			ing.metrics.StoreErrors.WithLabelValues("append").Inc()
		}
		ing.logger.Error("durable write failed", "variant", variant, "producer", producer, "error", err)
		return Ack{}, err
	}

	// Best-effort from here on. The ack is already earned.
	ing.bus.Publish(ev)

	elapsed := time.Since(start)
	if ing.metrics != nil {
		ing.metrics.EventsPersisted.WithLabelValues(string(variant)).Inc()
		ing.metrics.IngestDuration.WithLabelValues(string(variant)).Observe(elapsed.Seconds())
	}
	ing.recordRoundTrip(ctx, variant, elapsed)

	return Ack{Accepted: true, RecordID: id}, nil
}

// recordRoundTrip writes the latency classification into the operational
// log, both as a LogLine event in the store and on the process logger. The
// log variant does not record its own round-trips; one ingestion would
// otherwise produce an unbounded chain of log rows.
func (ing *Ingestor) recordRoundTrip(ctx context.Context, variant event.Variant, elapsed time.Duration) {
	if variant == event.VariantLog {
		return
	}

	ms := elapsed.Milliseconds()
	level := event.LevelInfo
	if elapsed > SlowThreshold {
		level = event.LevelWarn
		if ing.metrics != nil {
			ing.metrics.SlowIngestsTotal.WithLabelValues(string(variant)).Inc()
		}
	}

	line := event.Event{
		Timestamp: timestamp.Now(),
		Payload: event.LogLine{
			Level:   level,
			Message: fmt.Sprintf("ingest:%s rt_ms=%d", variant, ms),
		},
	}
	if _, err := ing.store.Append(ctx, line); err != nil {
		// The producer's event is already durable; a lost ops-log row is
		// only worth a process log entry.
		ing.logger.Warn("ops-log write failed", "variant", variant, "error", err)
	}

	if level == event.LevelWarn {
		ing.logger.Warn("slow ingestion", "variant", variant, "rtMs", ms)
	} else {
		ing.logger.Info("ingestion complete", "variant", variant, "rtMs", ms)
	}
}

func (ing *Ingestor) reject(variant event.Variant, reason string) {
	if ing.metrics != nil {
		ing.metrics.EventsRejected.WithLabelValues(string(variant), reason).Inc()
	}
}
