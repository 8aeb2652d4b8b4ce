package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	audit "kinguard/pkg/platform/audit"
	"kinguard/pkg/platform/audit/mocks"
	"kinguard/pkg/platform/audit/store/memory"
	"kinguard/pkg/platform/audit/worker"
	"kinguard/pkg/requestcontext"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingSink) Append(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingSink) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestPublisher_SyncAppend(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Entry{
		Type:      audit.EntryDecisionMade,
		SubjectID: "kid-1",
		Verdict:   "deny",
	})
	require.NoError(t, err)

	entries, err := pub.List(context.Background(), "kid-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "deny", entries[0].Verdict)
	assert.Equal(t, audit.CategoryCompliance, entries[0].Category)
	assert.NotEmpty(t, entries[0].ID)
	assert.NotEmpty(t, entries[0].Hash)
}

func TestPublisher_StampsFromContext(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	fixed := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), fixed)
	ctx = requestcontext.WithRequestID(ctx, "req-42")

	require.NoError(t, pub.Emit(ctx, audit.Entry{Type: audit.EntryScoreChanged, SubjectID: "kid-1"}))

	entries, err := pub.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fixed, entries[0].Timestamp)
	assert.Equal(t, "req-42", entries[0].RequestID)
	assert.Equal(t, audit.CategorySecurity, entries[0].Category)
}

func TestPublisher_StoreFailureIsReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Entry{Type: audit.EntryDecisionMade})
	assert.Error(t, err)
}

func TestPublisher_ForwardsAndDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &recordingSink{}
	pub := NewPublisher(store, WithSinks(100, worker.NamedSink{Name: "recording", Sink: sink}))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Entry{
			Type:      audit.EntryRuleMatched,
			SubjectID: "kid-1",
		}))
	}
	pub.Close()

	assert.Equal(t, 10, sink.Len(), "all entries should be forwarded before Close returns")
	assert.Equal(t, 10, store.Len())

	// emitting after Close still records locally
	require.NoError(t, pub.Emit(context.Background(), audit.Entry{Type: audit.EntryRuleMatched}))
	assert.Equal(t, 11, store.Len())
}

func TestPublisher_FullQueueKeepsLocalLog(t *testing.T) {
	store := memory.NewInMemoryStore()
	sink := &recordingSink{}
	pub := NewPublisher(store, WithSinks(1, worker.NamedSink{Name: "recording", Sink: sink}))

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pub.Emit(context.Background(), audit.Entry{Type: audit.EntryDecisionMade, SubjectID: "kid-1"})
		}()
	}
	wg.Wait()
	pub.Close()

	assert.Equal(t, 20, store.Len())
	assert.LessOrEqual(t, sink.Len(), 20)
	idx, err := store.Verify()
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}
