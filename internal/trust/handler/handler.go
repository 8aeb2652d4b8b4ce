package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kinguard/internal/trust"
	"kinguard/pkg/platform/httputil"
	"kinguard/pkg/requestcontext"
)

// Service defines the trust operations exposed over HTTP.
type Service interface {
	GetOrCreate(ctx context.Context, userID string) (*trust.Profile, error)
	RecordEvent(ctx context.Context, userID string, event trust.EventType, description string, metadata map[string]string) (*trust.Profile, error)
	Recompute(ctx context.Context, userID string, signals map[string]any) (*trust.Profile, error)
	Reset(ctx context.Context, userID string) (*trust.Profile, error)
}

// Handler wires trust endpoints to the trust service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts trust endpoints under a subject.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/subjects/{id}/trust", h.HandleGet)
	r.Post("/v1/subjects/{id}/trust/events", h.HandleRecordEvent)
	r.Post("/v1/subjects/{id}/trust/recompute", h.HandleRecompute)
	r.Post("/v1/subjects/{id}/trust/reset", h.HandleReset)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.service.GetOrCreate(ctx, chi.URLParam(r, "id"))
	h.respond(ctx, w, "get trust profile", p, err)
}

func (h *Handler) HandleRecordEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[RecordEventRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.RecordEvent(ctx, chi.URLParam(r, "id"), trust.EventType(req.EventType), req.Description, req.Metadata)
	h.respond(ctx, w, "record trust event", p, err)
}

func (h *Handler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[RecomputeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	p, err := h.service.Recompute(ctx, chi.URLParam(r, "id"), req.Signals)
	h.respond(ctx, w, "recompute trust profile", p, err)
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.service.Reset(ctx, chi.URLParam(r, "id"))
	h.respond(ctx, w, "reset trust profile", p, err)
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, op string, p *trust.Profile, err error) {
	if err != nil {
		h.logger.WarnContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}
