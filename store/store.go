// Package store provides durable, append-only persistence of normalized
// telemetry events, queryable by recency and bounded by a retention horizon.
//
// Three backends implement the same contract: an in-memory store (tests,
// development), a Postgres store (lib/pq), and a NATS JetStream store. The
// ingestion pipeline only sees the Store interface; which backend is used is
// an injection decision made in cmd.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/Alirezaa02/webvis-oakd-dashboard/event"
)

// RecordID identifies one appended row within its variant table.
type RecordID string

// Store is the durable sink of the ingestion pipeline.
//
// Append is at-least-once from the caller's perspective: an unacknowledged
// write fails with a classified store error and the caller must treat the
// whole ingestion as failed. Latest returns at most limit events,
// most-recent-first; ties on identical timestamps are broken by insertion
// order, newest insertion first. Retention pruning never races visibly with
// an in-flight Latest call.
type Store interface {
	Append(ctx context.Context, ev event.Event) (RecordID, error)
	Latest(ctx context.Context, variant event.Variant, limit int) ([]event.Event, error)
	Close(ctx context.Context) error
}

// orderMostRecentFirst sorts rows by producer timestamp descending, breaking
// ties by insertion sequence descending. Producers may deliver timestamps out
// of order, so every backend imposes this order on read rather than trusting
// insertion order.
func orderMostRecentFirst(rows []record) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ev.Timestamp != rows[j].ev.Timestamp {
			return rows[i].ev.Timestamp > rows[j].ev.Timestamp
		}
		return rows[i].seq > rows[j].seq
	})
}

// RetentionConfig bounds how much history a store keeps.
type RetentionConfig struct {
	// Horizon is the age beyond which rows may be pruned. Zero disables
	// age-based pruning.
	Horizon time.Duration

	// MaxRows caps rows kept per variant. Zero disables the cap.
	MaxRows int

	// PruneInterval is how often the background pruner runs.
	PruneInterval time.Duration
}

// DefaultRetention returns the retention policy used when none is configured:
// a 24h horizon swept every minute, no row cap.
func DefaultRetention() RetentionConfig {
	return RetentionConfig{
		Horizon:       24 * time.Hour,
		PruneInterval: time.Minute,
	}
}
