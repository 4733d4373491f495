package persist

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/store"
	"collab-sync-server/internal/worker"
)

// StateSource is what the scheduler needs from the session registry: which
// documents are live, and an atomically-encoded snapshot of each.
type StateSource interface {
	LiveDocuments() []uint64
	SnapshotDocument(docID uint64) (*domain.DocumentMetadata, []byte, bool)
}

// Scheduler flushes live session state to the store on a fixed interval,
// on demand when a session empties out, and for everything at shutdown.
// A failed flush is logged and the replica keeps serving edits; the next
// tick re-encodes the then-current state, so nothing applied during a store
// outage is lost once the store recovers.
type Scheduler struct {
	source   StateSource
	store    store.Adapter
	pool     *worker.Pool
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

func NewScheduler(
	source StateSource,
	adapter store.Adapter,
	pool *worker.Pool,
	interval time.Duration,
	timeout time.Duration,
	log zerolog.Logger,
) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Scheduler{
		source:   source,
		store:    adapter,
		pool:     pool,
		interval: interval,
		timeout:  timeout,
		log:      log,
	}
}

// Run ticks until ctx is cancelled. Call from its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("auto-save started")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("auto-save stopped")
			return
		case <-ticker.C:
			for _, docID := range s.source.LiveDocuments() {
				s.FlushAsync(docID)
			}
		}
	}
}

// FlushAsync queues a flush on the worker pool without blocking the caller.
func (s *Scheduler) FlushAsync(docID uint64) {
	s.pool.Submit(func(ctx context.Context) error {
		// errors are absorbed here: the pool would log them as task
		// failures, but a transient store failure is routine
		s.Flush(ctx, docID)
		return nil
	})
}

// Flush encodes the live state of one document and saves it. Returns
// without error when the document went cold in the meantime.
func (s *Scheduler) Flush(ctx context.Context, docID uint64) error {
	meta, state, ok := s.source.SnapshotDocument(docID)
	if !ok {
		return nil
	}

	saveCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.Save(saveCtx, docID, meta, state); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// deleted while live, nothing to persist
			return nil
		}
		s.log.Error().Err(err).
			Uint64("document_id", docID).
			Msg("flush failed, will retry next tick")
		return err
	}

	s.log.Debug().
		Uint64("document_id", docID).
		Int("snapshot_bytes", len(state)).
		Msg("document flushed")
	return nil
}

// FlushAll synchronously flushes every live session. Used at shutdown.
func (s *Scheduler) FlushAll(ctx context.Context) {
	docs := s.source.LiveDocuments()
	s.log.Info().Int("count", len(docs)).Msg("flushing all live sessions")

	for _, docID := range docs {
		if err := s.Flush(ctx, docID); err != nil {
			s.log.Error().Err(err).
				Uint64("document_id", docID).
				Msg("shutdown flush failed")
		}
	}
}
