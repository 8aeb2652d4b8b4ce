package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "kinguard/pkg/platform/audit"
)

func appendN(t *testing.T, s *InMemoryStore, subject string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := s.Append(context.Background(), audit.Entry{
			ID:        subject + "-" + string(rune('a'+i)),
			Type:      audit.EntryDecisionMade,
			SubjectID: subject,
			Timestamp: time.Date(2026, 1, 1, 12, 0, i, 0, time.UTC),
		})
		require.NoError(t, err)
	}
}

func TestInMemoryStore_ChainsEntries(t *testing.T) {
	s := NewInMemoryStore()
	appendN(t, s, "kid-1", 3)

	entries, err := s.ListBySubject(context.Background(), "kid-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, GenesisHash, entries[0].PrevHash)
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
	assert.Equal(t, entries[1].Hash, entries[2].PrevHash)
	assert.Contains(t, entries[2].Hash, "sha256:")

	idx, err := s.Verify()
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func TestInMemoryStore_VerifyDetectsTampering(t *testing.T) {
	s := NewInMemoryStore()
	appendN(t, s, "kid-1", 4)

	s.mu.Lock()
	s.entries[2].Verdict = "allow"
	s.mu.Unlock()

	idx, err := s.Verify()
	require.Error(t, err)
	assert.Equal(t, 2, idx)
}

func TestInMemoryStore_ListBySubjectIsolation(t *testing.T) {
	s := NewInMemoryStore()
	appendN(t, s, "kid-1", 2)
	appendN(t, s, "kid-2", 3)

	first, err := s.ListBySubject(context.Background(), "kid-1")
	require.NoError(t, err)
	assert.Len(t, first, 2)

	unknown, err := s.ListBySubject(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, unknown)
	assert.Equal(t, 5, s.Len())
}

func TestInMemoryStore_ListRecent(t *testing.T) {
	s := NewInMemoryStore()
	appendN(t, s, "kid-1", 5)

	recent, err := s.ListRecent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "kid-1-d", recent[0].ID)
	assert.Equal(t, "kid-1-e", recent[1].ID)

	all, err := s.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestInMemoryStore_RetentionEvictsOldest(t *testing.T) {
	s := NewInMemoryStore(WithRetention(3))
	appendN(t, s, "kid-1", 2)
	appendN(t, s, "kid-2", 3)

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, 2, s.Evicted())

	gone, err := s.ListBySubject(context.Background(), "kid-1")
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := s.ListBySubject(context.Background(), "kid-2")
	require.NoError(t, err)
	require.Len(t, kept, 3)
	assert.Equal(t, "kid-2-a", kept[0].ID)

	idx, err := s.Verify()
	require.NoError(t, err, "chain verifies from the last evicted hash")
	assert.Equal(t, -1, idx)

	s.mu.Lock()
	s.entries[0].Verdict = "allow"
	s.mu.Unlock()
	idx, err = s.Verify()
	require.Error(t, err)
	assert.Equal(t, 0, idx)
}

func TestInMemoryStore_RetentionKeepsSubjectIndexAligned(t *testing.T) {
	s := NewInMemoryStore(WithRetention(2))
	appendN(t, s, "kid-1", 1)
	appendN(t, s, "kid-2", 1)
	appendN(t, s, "kid-1", 2)

	entries, err := s.ListBySubject(context.Background(), "kid-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
}
