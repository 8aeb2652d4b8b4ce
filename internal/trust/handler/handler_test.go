package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kinguard/internal/trust"
	"kinguard/internal/trust/store"
	"kinguard/pkg/testutil"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	svc, err := trust.New(store.NewInMemory())
	require.NoError(t, err)

	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return r
}

func TestTrustHandlers(t *testing.T) {
	router := newRouter(t)

	t.Run("get creates a baseline profile", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/v1/subjects/kid-1/trust"))
		require.Equal(t, http.StatusOK, rr.Code)
		p := testutil.UnmarshalResponse[trust.Profile](t, rr)
		assert.Equal(t, "kid-1", p.UserID)
		assert.InDelta(t, 0.5, p.OverallScore, 1e-9)
	})

	t.Run("records an event", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/v1/subjects/kid-1/trust/events", map[string]any{
			"event_type":  "mfa_enabled",
			"description": "enrolled authenticator",
		})
		rr := testutil.DoRequest(router, req)
		require.Equal(t, http.StatusOK, rr.Code)
		p := testutil.UnmarshalResponse[trust.Profile](t, rr)
		assert.InDelta(t, 0.6, p.OverallScore, 1e-9)
	})

	t.Run("rejects unknown event types", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/v1/subjects/kid-1/trust/events", map[string]any{
			"event_type": "teleported",
		})
		rr := testutil.DoRequest(router, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		req := testutil.NewRequestWithBody(t, http.MethodPost, "/v1/subjects/kid-1/trust/recompute", "{")
		rr := testutil.DoRequest(router, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("recomputes from signals", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/v1/subjects/kid-1/trust/recompute", map[string]any{
			"signals": map[string]any{"device_encryption": true, "os_updated": 0.9},
		})
		rr := testutil.DoRequest(router, req)
		require.Equal(t, http.StatusOK, rr.Code)
		p := testutil.UnmarshalResponse[trust.Profile](t, rr)
		assert.Contains(t, p.CategoryScores, "device_security")
	})

	t.Run("reset of an unknown subject is 404", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/v1/subjects/nobody/trust/reset"))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("reset restores the baseline", func(t *testing.T) {
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodPost, "/v1/subjects/kid-1/trust/reset"))
		require.Equal(t, http.StatusOK, rr.Code)
		p := testutil.UnmarshalResponse[trust.Profile](t, rr)
		assert.InDelta(t, 0.5, p.OverallScore, 1e-9)
	})
}
