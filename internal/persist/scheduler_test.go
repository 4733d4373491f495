package persist

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-sync-server/internal/domain"
	"collab-sync-server/internal/worker"
)

// fakeSource simulates a registry with mutable live state, so tests can
// model edits applied between flush attempts.
type fakeSource struct {
	mu    sync.Mutex
	live  map[uint64][]byte
	metas map[uint64]*domain.DocumentMetadata
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		live:  make(map[uint64][]byte),
		metas: make(map[uint64]*domain.DocumentMetadata),
	}
}

func (f *fakeSource) setState(docID uint64, state []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[docID] = state
	f.metas[docID] = &domain.DocumentMetadata{ID: docID, Title: "doc"}
}

func (f *fakeSource) LiveDocuments() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uint64, 0, len(f.live))
	for id := range f.live {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeSource) SnapshotDocument(docID uint64) (*domain.DocumentMetadata, []byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.live[docID]
	if !ok {
		return nil, nil, false
	}
	return f.metas[docID], state, true
}

// flakyStore fails the first failures saves, then records what it stored.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	saved    map[uint64][]byte
	calls    int
}

func newFlakyStore(failures int) *flakyStore {
	return &flakyStore{failures: failures, saved: make(map[uint64][]byte)}
}

func (s *flakyStore) Load(ctx context.Context, docID uint64) (*domain.DocumentMetadata, []byte, error) {
	return nil, nil, fmt.Errorf("not used")
}

func (s *flakyStore) Save(ctx context.Context, docID uint64, meta *domain.DocumentMetadata, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return fmt.Errorf("simulated store outage")
	}
	s.saved[docID] = snapshot
	return nil
}

func (s *flakyStore) Delete(ctx context.Context, docID uint64) error { return nil }

func (s *flakyStore) Create(ctx context.Context, ownerID uint64, title string) (*domain.DocumentMetadata, error) {
	return nil, fmt.Errorf("not used")
}

func (s *flakyStore) SetCollaborator(ctx context.Context, docID uint64, userID uint64, email string, role domain.Role) error {
	return nil
}

func (s *flakyStore) RemoveCollaborator(ctx context.Context, docID uint64, userID uint64) error {
	return nil
}

func (s *flakyStore) savedState(docID uint64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[docID]
}

func newTestScheduler(source StateSource, st *flakyStore, interval time.Duration) (*Scheduler, *worker.Pool) {
	pool := worker.NewPool(2, zerolog.Nop())
	return NewScheduler(source, st, pool, interval, time.Second, zerolog.Nop()), pool
}

func TestFlushSavesLiveState(t *testing.T) {
	source := newFakeSource()
	source.setState(1, []byte("state-v1"))
	st := newFlakyStore(0)
	s, pool := newTestScheduler(source, st, time.Minute)
	defer pool.Shutdown()

	require.NoError(t, s.Flush(context.Background(), 1))
	assert.Equal(t, []byte("state-v1"), st.savedState(1))
}

func TestFlushColdDocumentIsNoop(t *testing.T) {
	source := newFakeSource()
	st := newFlakyStore(0)
	s, pool := newTestScheduler(source, st, time.Minute)
	defer pool.Shutdown()

	require.NoError(t, s.Flush(context.Background(), 42))
	assert.Equal(t, 0, st.calls)
}

// A store outage during one flush must not lose edits applied during the
// outage: the next successful flush carries the then-current state.
func TestFlushFailureRetriedWithCurrentState(t *testing.T) {
	source := newFakeSource()
	source.setState(1, []byte("state-v1"))
	st := newFlakyStore(1)
	s, pool := newTestScheduler(source, st, time.Minute)
	defer pool.Shutdown()

	require.Error(t, s.Flush(context.Background(), 1))
	assert.Nil(t, st.savedState(1))

	// edits keep landing while the store is down
	source.setState(1, []byte("state-v2"))

	require.NoError(t, s.Flush(context.Background(), 1))
	assert.Equal(t, []byte("state-v2"), st.savedState(1))
}

func TestIntervalSweepFlushesAllLiveDocuments(t *testing.T) {
	source := newFakeSource()
	source.setState(1, []byte("one"))
	source.setState(2, []byte("two"))
	st := newFlakyStore(0)
	s, pool := newTestScheduler(source, st, 20*time.Millisecond)
	defer pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return st.savedState(1) != nil && st.savedState(2) != nil
	}, time.Second, 10*time.Millisecond)
}

func TestFlushAll(t *testing.T) {
	source := newFakeSource()
	source.setState(1, []byte("one"))
	source.setState(2, []byte("two"))
	st := newFlakyStore(0)
	s, pool := newTestScheduler(source, st, time.Minute)
	defer pool.Shutdown()

	s.FlushAll(context.Background())

	assert.Equal(t, []byte("one"), st.savedState(1))
	assert.Equal(t, []byte("two"), st.savedState(2))
}

func TestFlushAsyncGoesThroughPool(t *testing.T) {
	source := newFakeSource()
	source.setState(7, []byte("pooled"))
	st := newFlakyStore(0)
	s, pool := newTestScheduler(source, st, time.Minute)

	s.FlushAsync(7)
	pool.Shutdown() // drains the queue

	assert.Equal(t, []byte("pooled"), st.savedState(7))
}
