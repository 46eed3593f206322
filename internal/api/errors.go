package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/alert"
	"github.com/lalithlochan/alerts/internal/audience"
	"github.com/lalithlochan/alerts/internal/db"
	"github.com/lalithlochan/alerts/internal/redis"
)

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeProblem(w http.ResponseWriter, p ErrorResponse) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeServiceError maps domain errors onto problem responses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, op string) {
	var (
		verr *alert.ValidationError
		cerr *alert.ConflictError
		rerr *audience.ResolutionError
	)

	switch {
	case errors.As(err, &verr):
		writeProblem(w, ErrorResponse{
			Type:   "validation_error",
			Title:  "Invalid alert",
			Status: http.StatusBadRequest,
			Detail: verr.Error(),
			Errors: verr.Fields,
		})
	case errors.Is(err, alert.ErrNotFound), errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Resource not found", err.Error())
	case errors.As(err, &cerr):
		h.writeError(w, http.StatusConflict, "conflict", "Alert has dependent messages", cerr.Error())
	case errors.Is(err, db.ErrRevisionConflict):
		h.writeError(w, http.StatusConflict, "conflict", "Alert was modified concurrently", "retry the request")
	case errors.Is(err, db.ErrAlreadyProcessed):
		h.writeError(w, http.StatusConflict, "conflict", "Dead letter already processed", err.Error())
	case errors.Is(err, redis.ErrDuplicateRequest):
		h.writeError(w, http.StatusConflict, "duplicate_request",
			"Request is already being processed",
			"Another request with this idempotency key is in progress")
	case errors.As(err, &rerr):
		h.logger.Error(op+" failed", zap.Error(err), zap.String("receiver", string(rerr.Receiver)))
		h.writeError(w, http.StatusBadGateway, "resolution_error", "Failed to resolve alert audience", rerr.Error())
	default:
		h.logger.Error(op+" failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to "+op, "")
	}
}
