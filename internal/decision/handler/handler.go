package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"kinguard/internal/decision"
	"kinguard/internal/device"
	dErrors "kinguard/pkg/domain-errors"
	"kinguard/pkg/platform/httputil"
	devicemw "kinguard/pkg/platform/middleware/device"
	"kinguard/pkg/requestcontext"
)

// Context keys filled from the User-Agent when the caller omits them.
const (
	keyDeviceType = "device_type"
	keyDeviceOS   = "device_os"
)

// Service defines the decision operations exposed over HTTP.
type Service interface {
	EvaluateAccess(ctx context.Context, req decision.EvaluateRequest) *decision.Decision
	Get(ctx context.Context, id string) (*decision.Decision, error)
	History(ctx context.Context, subjectID string, limit int) ([]*decision.Decision, error)
}

// Handler wires decision endpoints to the decision service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a decision handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts decision endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/access/evaluate", h.HandleEvaluate)
	r.Get("/v1/decisions/{id}", h.HandleGet)
	r.Get("/v1/subjects/{id}/decisions", h.HandleHistory)
}

// HandleEvaluate handles POST /v1/access/evaluate. Every well-formed request
// gets a decision; faults inside the engine surface as deny, not as 5xx.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeAndPrepare[EvaluateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	userAgent := requestcontext.UserAgent(ctx)
	if userAgent == "" {
		userAgent = r.UserAgent()
	}
	domainReq := req.toDomain()
	enrich(ctx, &domainReq, userAgent)

	d := h.service.EvaluateAccess(ctx, domainReq)

	h.logger.InfoContext(ctx, "access evaluated",
		"request_id", requestID,
		"subject_id", d.SubjectID,
		"resource", d.Resource,
		"verdict", d.Verdict,
		"source", d.Source,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	httputil.WriteJSON(w, http.StatusOK, toResponse(d, requestcontext.Now(ctx)))
}

// HandleGet handles GET /v1/decisions/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	d, err := h.service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.logger.WarnContext(ctx, "get decision failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(d, requestcontext.Now(ctx)))
}

// HandleHistory handles GET /v1/subjects/{id}/decisions?limit=N.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID := chi.URLParam(r, "id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	decisions, err := h.service.History(ctx, subjectID, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "decision history failed",
			"request_id", requestcontext.RequestID(ctx),
			"subject_id", subjectID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	now := requestcontext.Now(ctx)
	resp := &HistoryResponse{SubjectID: subjectID, Decisions: make([]*DecisionResponse, 0, len(decisions))}
	for _, d := range decisions {
		resp.Decisions = append(resp.Decisions, toResponse(d, now))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// enrich fills the device id and device context keys the caller left out.
func enrich(ctx context.Context, req *decision.EvaluateRequest, userAgent string) {
	if req.DeviceID == "" {
		req.DeviceID = devicemw.GetDeviceID(ctx)
	}
	if req.DeviceID == "" {
		req.DeviceID = devicemw.GetDeviceFingerprint(ctx)
	}
	if userAgent == "" {
		return
	}
	info := device.Classify(userAgent)
	if _, ok := req.Context[keyDeviceType]; !ok {
		req.Context[keyDeviceType] = info.Type
	}
	if _, ok := req.Context[keyDeviceOS]; !ok && info.OS != "" {
		req.Context[keyDeviceOS] = info.OS
	}
}
