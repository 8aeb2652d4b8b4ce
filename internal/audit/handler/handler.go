package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	dErrors "kinguard/pkg/domain-errors"
	audit "kinguard/pkg/platform/audit"
	"kinguard/pkg/platform/httputil"
	"kinguard/pkg/requestcontext"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Reader is the read side of the audit log.
type Reader interface {
	List(ctx context.Context, subjectID string) ([]audit.Entry, error)
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

// Verifier checks the hash chain of the local log. Optional.
type Verifier interface {
	Verify() (int, error)
}

// Response is returned by GET /v1/audit.
type Response struct {
	SubjectID string        `json:"subject_id,omitempty"`
	Entries   []audit.Entry `json:"entries"`
	Verified  *bool         `json:"chain_verified,omitempty"`
}

type Handler struct {
	reader   Reader
	verifier Verifier
	logger   *slog.Logger
}

// New constructs an audit query handler. verifier may be nil.
func New(reader Reader, verifier Verifier, logger *slog.Logger) *Handler {
	return &Handler{reader: reader, verifier: verifier, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/audit", h.HandleList)
}

// HandleList handles GET /v1/audit?subject=ID&type=T&limit=N. Without a
// subject it returns the most recent entries across all subjects.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = min(n, maxLimit)
	}

	subjectID := q.Get("subject")
	var (
		entries []audit.Entry
		err     error
	)
	if subjectID != "" {
		entries, err = h.reader.List(ctx, subjectID)
	} else {
		entries, err = h.reader.Recent(ctx, limit)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "audit query failed",
			"request_id", requestcontext.RequestID(ctx),
			"subject_id", subjectID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read audit log"))
		return
	}

	if typ := q.Get("type"); typ != "" {
		filtered := make([]audit.Entry, 0, len(entries))
		for _, e := range entries {
			if string(e.Type) == typ {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []audit.Entry{}
	}

	resp := &Response{SubjectID: subjectID, Entries: entries}
	if h.verifier != nil {
		idx, verr := h.verifier.Verify()
		ok := verr == nil && idx < 0
		if !ok {
			h.logger.ErrorContext(ctx, "audit chain verification failed",
				"request_id", requestcontext.RequestID(ctx),
				"index", idx,
				"error", verr,
			)
		}
		resp.Verified = &ok
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
