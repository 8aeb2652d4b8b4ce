package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"kinguard/internal/subject"
	dErrors "kinguard/pkg/domain-errors"
	"kinguard/pkg/platform/httputil"
	"kinguard/pkg/requestcontext"
)

type Service interface {
	Register(ctx context.Context, cmd subject.RegisterCommand) (*subject.Subject, error)
	Get(ctx context.Context, id string) (*subject.Subject, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/subjects", h.HandleRegister)
	r.Get("/v1/subjects/{id}", h.HandleGet)
}

type RegisterRequest struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name"`
	GuardianID  string `json:"guardian_id"`
}

func (r *RegisterRequest) Validate() error {
	r.ID = strings.TrimSpace(r.ID)
	r.Role = strings.ToLower(strings.TrimSpace(r.Role))
	if r.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "id is required")
	}
	if r.Role == "" {
		return dErrors.New(dErrors.CodeValidation, "role is required")
	}
	return nil
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[RegisterRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	sub, err := h.service.Register(ctx, subject.RegisterCommand{
		ID:          req.ID,
		Role:        subject.Role(req.Role),
		DisplayName: req.DisplayName,
		GuardianID:  req.GuardianID,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "register subject failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, sub)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sub)
}
