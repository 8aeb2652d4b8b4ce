package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "kinguard/pkg/platform/audit"
	"kinguard/pkg/platform/audit/publisher"
	auditmemory "kinguard/pkg/platform/audit/store/memory"
	"kinguard/pkg/testutil"
)

type brokenReader struct{}

func (brokenReader) List(context.Context, string) ([]audit.Entry, error) {
	return nil, errors.New("disk on fire")
}

func (brokenReader) Recent(context.Context, int) ([]audit.Entry, error) {
	return nil, errors.New("disk on fire")
}

func newRouter(reader Reader, verifier Verifier) http.Handler {
	r := chi.NewRouter()
	New(reader, verifier, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func TestAuditQuery(t *testing.T) {
	ctx := context.Background()
	store := auditmemory.NewInMemoryStore()
	pub := publisher.NewPublisher(store)
	t.Cleanup(pub.Close)

	start := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	for i, e := range []audit.Entry{
		{Type: audit.EntrySubjectRegistered, SubjectID: "kid"},
		{Type: audit.EntryDecisionMade, SubjectID: "kid", Verdict: "allow"},
		{Type: audit.EntryDecisionMade, SubjectID: "mum", Verdict: "deny"},
		{Type: audit.EntryScoreChanged, SubjectID: "kid", Score: audit.Score(0.51)},
	} {
		e.Timestamp = start.Add(time.Duration(i) * time.Second)
		require.NoError(t, pub.Emit(ctx, e))
	}
	router := newRouter(pub, store)

	t.Run("by subject", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/audit?subject=kid"))
		require.Equal(t, http.StatusOK, rr.Code)
		resp := testutil.UnmarshalResponse[Response](t, rr)
		assert.Len(t, resp.Entries, 3)
		require.NotNil(t, resp.Verified)
		assert.True(t, *resp.Verified)
	})

	t.Run("filtered by type", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/audit?subject=kid&type=decision_made"))
		require.Equal(t, http.StatusOK, rr.Code)
		resp := testutil.UnmarshalResponse[Response](t, rr)
		require.Len(t, resp.Entries, 1)
		assert.Equal(t, "allow", resp.Entries[0].Verdict)
	})

	t.Run("recent keeps the newest entries", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/audit?limit=2"))
		require.Equal(t, http.StatusOK, rr.Code)
		resp := testutil.UnmarshalResponse[Response](t, rr)
		require.Len(t, resp.Entries, 2)
		assert.Equal(t, audit.EntryScoreChanged, resp.Entries[1].Type)
	})

	t.Run("unknown subject is empty, not 404", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/audit?subject=ghost"))
		require.Equal(t, http.StatusOK, rr.Code)
		testutil.AssertJSONHasKey(t, rr, "entries")
	})

	t.Run("bad limit", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/audit?limit=zero"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("store failure is 500", func(t *testing.T) {
		rr := testutil.DoRequest(newRouter(brokenReader{}, nil), testutil.NewRequest(t, http.MethodGet, "/v1/audit?subject=kid"))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}
