package sync

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/leasebridge/internal/store"
)

// Destination is the interface for a sync target (S3, local file).
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// Scheduler runs periodic journal exports to one or more destinations.
type Scheduler struct {
	journal      store.Journal
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	mu   sync.Mutex
	last *Summary

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports the journal to the given
// destinations at the specified interval.
func NewScheduler(j store.Journal, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		journal:      j,
		destinations: destinations,
		interval:     interval,
		logger:       logger.With("component", "sync"),
	}
}

// Start begins periodic sync. It runs an initial sync immediately, then
// on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current sync (if any) to finish.
// A final sync runs so writes made since the last tick are not lost.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.SyncOnce(ctx); err != nil {
		s.logger.Error("final sync failed", "error", err)
	}
}

func (s *Scheduler) run(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("sync failed", "error", err)
	}
}

// SyncOnce exports the journal and writes it to every destination. It
// skips the upload when nothing changed since the last successful sync
// and reports whether anything was written.
func (s *Scheduler) SyncOnce(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	sum, err := ExportJSONL(ctx, s.journal, &buf)
	if err != nil {
		return false, fmt.Errorf("export: %w", err)
	}
	if s.last != nil && *s.last == sum {
		s.logger.Debug("sync skipped, journal unchanged", "entries", sum.Entries)
		return false, nil
	}
	data := buf.Bytes()

	var failed int
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			failed++
			s.logger.Error("sync destination write failed", "destination", destName(i, dest), "error", err)
		}
	}
	if failed > 0 {
		return false, fmt.Errorf("%d of %d destinations failed", failed, len(s.destinations))
	}

	s.last = &sum
	s.logger.Info("sync completed", "destinations", len(s.destinations), "entries", sum.Entries,
		"open", sum.Open, "bytes", len(data))
	return true, nil
}

func destName(i int, d Destination) string {
	if st, ok := d.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%d", i)
}
