package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/alert"
	"github.com/lalithlochan/alerts/internal/db"
	"github.com/lalithlochan/alerts/internal/metrics"
	"github.com/lalithlochan/alerts/internal/redis"
)

// AlertRequest is the body accepted by POST and PUT /alerts
type AlertRequest struct {
	Jurisdictions []db.JurisdictionRef `json:"jurisdictions"`
	Subject       string               `json:"subject"`
	Message       string               `json:"message"`
	Methods       []db.Method          `json:"methods,omitempty"`
	Receivers     []db.Receiver        `json:"receivers"`
	Statistics    db.Statistics        `json:"statistics,omitempty"`
}

func (req *AlertRequest) toAlert() *db.Alert {
	return &db.Alert{
		Jurisdictions: req.Jurisdictions,
		Subject:       req.Subject,
		Message:       req.Message,
		Methods:       req.Methods,
		Receivers:     req.Receivers,
		Statistics:    req.Statistics,
	}
}

// CreateAlert handles POST /alerts. The alert is persisted and dispatched in
// one request; the Idempotency-Key header makes retries safe.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	caller := CallerFromContext(ctx)
	if caller == "" {
		caller = "anonymous"
	}
	guarded := idempotencyKey != "" && h.opts.Idempotency != nil

	if guarded {
		cached, err := h.opts.Idempotency.CheckOrReserve(ctx, caller, idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeServiceError(w, err, "create alert")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
			guarded = false
		case cached != nil:
			h.replay(w, r, cached)
			return
		}
	}

	res, err := h.dispatcher.CreateAndSend(ctx, req.toAlert())
	if err != nil {
		if guarded {
			if rerr := h.opts.Idempotency.Release(ctx, caller, idempotencyKey); rerr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}
		h.writeServiceError(w, err, "create alert")
		return
	}

	h.logger.Info("alert created",
		zap.String("alert_id", res.Alert.ID.String()),
		zap.Int("phones", res.Phones),
		zap.Int("submitted", res.Submitted()),
		zap.Int("failed", res.Failed()),
	)

	if guarded {
		result := &redis.IdempotencyResult{
			AlertID:    res.Alert.ID.String(),
			StatusCode: http.StatusCreated,
			Submitted:  res.Submitted(),
			Failed:     res.Failed(),
		}
		if err := h.opts.Idempotency.Store(ctx, caller, idempotencyKey, result, redis.IdempotencyTTL); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	setDispatchHeaders(w, res.Submitted(), res.Failed())
	writeJSON(w, http.StatusCreated, res.Alert)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, cached *redis.IdempotencyResult) {
	metrics.RecordIdempotencyHit()

	id, err := uuid.Parse(cached.AlertID)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Invalid cached result", "")
		return
	}

	a, err := h.alerts.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "replay alert")
		return
	}

	w.Header().Set("X-Idempotency-Replayed", "true")
	setDispatchHeaders(w, cached.Submitted, cached.Failed)
	writeJSON(w, cached.StatusCode, a)
}

func setDispatchHeaders(w http.ResponseWriter, submitted, failed int) {
	w.Header().Set("X-Dispatch-Submitted", strconv.Itoa(submitted))
	w.Header().Set("X-Dispatch-Failed", strconv.Itoa(failed))
}

// GetAlert handles GET /alerts/{id}
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert ID", "ID must be a valid UUID")
		return
	}

	a, err := h.alerts.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "get alert")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// ListAlerts handles GET /alerts
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOptions(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid query", err.Error())
		return
	}
	h.list(w, r, opts)
}

// ListJurisdictionAlerts handles GET /jurisdictions/{jurisdiction}/alerts
func (h *Handler) ListJurisdictionAlerts(w http.ResponseWriter, r *http.Request) {
	jurisdiction, ok := parseID(r, "jurisdiction")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid jurisdiction ID", "ID must be a valid UUID")
		return
	}

	opts, err := parseListOptions(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid query", err.Error())
		return
	}
	opts.Jurisdictions = []uuid.UUID{jurisdiction}

	h.list(w, r, opts)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, opts db.ListOptions) {
	page, err := h.alerts.List(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, err, "list alerts")
		return
	}
	if page.Data == nil {
		page.Data = []*db.Alert{}
	}

	if page.LastModified != nil {
		w.Header().Set("Last-Modified", page.LastModified.UTC().Format(http.TimeFormat))
	}
	writeJSON(w, http.StatusOK, page)
}

// PatchAlert handles PATCH /alerts/{id}
func (h *Handler) PatchAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert ID", "ID must be a valid UUID")
		return
	}

	var p alert.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	a, err := h.alerts.Patch(r.Context(), id, p)
	if err != nil {
		h.writeServiceError(w, err, "patch alert")
		return
	}

	h.logger.Info("alert patched", zap.String("alert_id", id.String()))
	writeJSON(w, http.StatusOK, a)
}

// PutAlert handles PUT /alerts/{id}
func (h *Handler) PutAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert ID", "ID must be a valid UUID")
		return
	}

	var req AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	a, err := h.alerts.Put(r.Context(), id, req.toAlert())
	if err != nil {
		h.writeServiceError(w, err, "replace alert")
		return
	}

	h.logger.Info("alert replaced", zap.String("alert_id", id.String()))
	writeJSON(w, http.StatusOK, a)
}

// DeleteAlert handles DELETE /alerts/{id}
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid alert ID", "ID must be a valid UUID")
		return
	}

	a, err := h.alerts.Delete(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "delete alert")
		return
	}

	h.logger.Info("alert deleted", zap.String("alert_id", id.String()))
	writeJSON(w, http.StatusOK, a)
}
