package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"kinguard/internal/risk"
	dErrors "kinguard/pkg/domain-errors"
	"kinguard/pkg/platform/httputil"
	"kinguard/pkg/requestcontext"
)

const defaultTrendWindow = 10

// Service defines the risk operations exposed over HTTP.
type Service interface {
	Assess(ctx context.Context, userID string, signals map[string]any) (*risk.Profile, error)
	Get(ctx context.Context, userID string) (*risk.Profile, error)
	Trend(ctx context.Context, userID string, window int) (*risk.Trend, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/subjects/{id}/risk/assess", h.HandleAssess)
	r.Get("/v1/subjects/{id}/risk", h.HandleGet)
	r.Get("/v1/subjects/{id}/risk/trend", h.HandleTrend)
}

// HandleAssess handles POST /v1/subjects/{id}/risk/assess.
func (h *Handler) HandleAssess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[AssessRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	userID := chi.URLParam(r, "id")
	p, err := h.service.Assess(ctx, userID, req.Signals)
	if err != nil {
		h.logger.ErrorContext(ctx, "risk assessment failed",
			"request_id", requestID,
			"user_id", userID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "risk assessed",
		"request_id", requestID,
		"user_id", userID,
		"level", p.Level,
	)
	httputil.WriteJSON(w, http.StatusOK, toSummary(p))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) HandleTrend(w http.ResponseWriter, r *http.Request) {
	window := defaultTrendWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "window must be a positive integer"))
			return
		}
		window = n
	}
	t, err := h.service.Trend(r.Context(), chi.URLParam(r, "id"), window)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}
