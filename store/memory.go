package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Alirezaa02/webvis-oakd-dashboard/event"
	"github.com/Alirezaa02/webvis-oakd-dashboard/pkg/timestamp"
)

// record pairs an event with a monotonic insertion sequence so that
// identical timestamps still order deterministically.
type record struct {
	id  RecordID
	seq uint64
	ev  event.Event
}

// MemoryStore keeps all rows in process memory. It is the default backend
// for development and tests, and the reference implementation of the Store
// ordering contract.
type MemoryStore struct {
	mu        sync.RWMutex
	rows      map[event.Variant][]record
	seq       uint64
	retention RetentionConfig

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryStore creates a memory store and starts its background pruner
// when the retention policy calls for one.
func NewMemoryStore(retention RetentionConfig) *MemoryStore {
	s := &MemoryStore{
		rows:      make(map[event.Variant][]record, len(event.Variants)),
		retention: retention,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if retention.PruneInterval > 0 && (retention.Horizon > 0 || retention.MaxRows > 0) {
		go s.pruneLoop()
	} else {
		close(s.done)
	}
	return s
}

// Append stores the event and returns its identifier. It never fails in the
// memory backend but honors context cancellation for contract parity with
// the durable backends.
func (s *MemoryStore) Append(ctx context.Context, ev event.Event) (RecordID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	id := RecordID(uuid.NewString())
	v := ev.Payload.Variant()
	s.rows[v] = append(s.rows[v], record{id: id, seq: s.seq, ev: ev})
	return id, nil
}

// Latest returns up to limit events for the variant, most-recent-first.
// The result is computed from a consistent snapshot: a concurrent Append or
// prune is either fully visible or not at all.
func (s *MemoryStore) Latest(ctx context.Context, variant event.Variant, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []event.Event{}, nil
	}

	s.mu.RLock()
	rows := make([]record, len(s.rows[variant]))
	copy(rows, s.rows[variant])
	s.mu.RUnlock()

	orderMostRecentFirst(rows)

	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]event.Event, len(rows))
	for i, r := range rows {
		out[i] = r.ev
	}
	return out, nil
}

// Close stops the pruner. Stored rows remain readable until the process
// exits, so Close is safe to call before final Latest reads in tests.
func (s *MemoryStore) Close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *MemoryStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.retention.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.prune(timestamp.Now())
		}
	}
}

// prune drops rows past the retention horizon and over the per-variant row
// cap. Exposed to tests through pruneLoop timing in production.
func (s *MemoryStore) prune(now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := int64(0)
	if s.retention.Horizon > 0 {
		cutoff = now - s.retention.Horizon.Milliseconds()
	}

	for v, rows := range s.rows {
		kept := rows[:0]
		for _, r := range rows {
			if cutoff > 0 && r.ev.Timestamp < cutoff {
				continue
			}
			kept = append(kept, r)
		}
		if s.retention.MaxRows > 0 && len(kept) > s.retention.MaxRows {
			// Rows are in insertion order; keep the newest insertions.
			excess := len(kept) - s.retention.MaxRows
			kept = append(rows[:0], kept[excess:]...)
		}
		s.rows[v] = kept
	}
}
