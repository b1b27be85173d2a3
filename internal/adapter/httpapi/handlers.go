package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
	"github.com/HArsh-ri01/nl-to-sql/internal/core/service"
)

type handlers struct {
	query      *service.QueryService
	trustProxy bool
	maxBody    int64
	logger     *slog.Logger
}

// processQueryRequest is the JSON body of POST /process_query. Form posts
// use the field names user_query and sql_query instead.
type processQueryRequest struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

func (h *handlers) processQuery(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req processQueryRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		req.Question = r.PostForm.Get("user_query")
		req.SQL = r.PostForm.Get("sql_query")
	}

	ctx := service.WithToolName(r.Context(), "process_query")
	resp, err := h.query.Run(ctx, service.Request{
		Identity: ClientIP(r, h.trustProxy),
		Question: req.Question,
		SQL:      req.SQL,
	})
	writeJSON(w, statusFor(err), resp)
}

func (h *handlers) quota(w http.ResponseWriter, r *http.Request) {
	remaining, err := h.query.Remaining(r.Context(), ClientIP(r, h.trustProxy))
	if err != nil {
		h.logger.WarnContext(r.Context(), "reading quota failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), "quota store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]service.RemainingRequests{"remaining_requests": remaining})
}

// statusFor maps a pipeline error to an HTTP status. The body always carries
// the caller-facing message, so the status is only a coarse signal.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrEmptyIdentity):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrGeneratorRefused):
		return http.StatusOK
	case errors.Is(err, domain.ErrUnsafeSQL), errors.Is(err, domain.ErrMalformedSQL):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
