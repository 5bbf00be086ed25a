package ingest

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Alirezaa02/webvis-oakd-dashboard/event"
)

// Simulator feeds synthetic sensor readings through the full ingestion
// pipeline at a fixed rate. It exists for demos and for soak-testing the
// live fan-out without hardware attached.
type Simulator struct {
	ingestor *Ingestor
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewSimulator creates a simulator producing one reading per interval.
// A non-positive interval defaults to one second.
func NewSimulator(ingestor *Ingestor, interval time.Duration, logger *slog.Logger) *Simulator {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		ingestor: ingestor,
		interval: interval,
		logger:   logger.With("component", "sim"),
	}
}

// Start launches the generator goroutine.
func (s *Simulator) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true

	go s.run(runCtx)
	s.logger.Info("simulator started", "interval", s.interval)
}

// Stop halts the generator and waits for it to exit.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cancel()
	<-s.done
	s.started = false
}

func (s *Simulator) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	phase := rand.Float64() * 2 * math.Pi
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			phase += 0.05
			raw := map[string]any{
				"temperature": 22.0 + 3.0*math.Sin(phase) + rand.Float64(),
				"pressure":    1013.0 + 2.0*math.Cos(phase),
				"humidity":    45.0 + 10.0*math.Sin(phase/3) + rand.Float64(),
				"light":       200.0 + 150.0*math.Max(0, math.Sin(phase/7)),
				"reduction":   450.0 + 40.0*rand.Float64(),
			}
			if _, err := s.ingestor.process(ctx, event.VariantSensor, raw, "sim"); err != nil {
				s.logger.Warn("synthetic reading rejected", "error", err)
			}
		}
	}
}
