package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kinguard/internal/policy"
	"kinguard/pkg/platform/httputil"
	"kinguard/pkg/requestcontext"
)

// Repository defines the rule operations exposed over HTTP.
type Repository interface {
	Upsert(ctx context.Context, rule policy.Rule) (policy.Rule, []policy.Warning, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (policy.Rule, error)
	List(ctx context.Context, f policy.Filter) []policy.Rule
	Generation() uint64
}

// Handler serves rule management. Callers mount it behind the admin token
// middleware.
type Handler struct {
	repo   Repository
	logger *slog.Logger
}

func New(repo Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/rules", h.HandleList)
	r.Get("/v1/rules/{id}", h.HandleGet)
	r.Put("/v1/rules/{id}", h.HandleUpsert)
	r.Delete("/v1/rules/{id}", h.HandleDelete)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rules := h.repo.List(r.Context(), policy.Filter{
		Type:     policy.RuleType(q.Get("type")),
		Status:   policy.Status(q.Get("status")),
		Category: q.Get("category"),
	})
	httputil.WriteJSON(w, http.StatusOK, ListResponse{
		Generation: h.repo.Generation(),
		Rules:      rules,
	})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rule, err := h.repo.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "get rule", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rule)
}

func (h *Handler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[RuleRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rule, warnings, err := h.repo.Upsert(ctx, req.toRule(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(ctx, w, "upsert rule", err)
		return
	}

	resp := RuleResponse{Rule: rule}
	for _, warning := range warnings {
		resp.Warnings = append(resp.Warnings, string(warning))
	}
	if len(warnings) > 0 {
		h.logger.InfoContext(ctx, "rule saved with warnings",
			"request_id", requestID,
			"rule_id", rule.ID,
			"warnings", resp.Warnings,
		)
	}
	status := http.StatusOK
	if rule.Version == 1 {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.repo.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		h.fail(ctx, w, "delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.logger.WarnContext(ctx, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
