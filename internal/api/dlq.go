package api

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// ListDeadLetterQueue handles GET /dlq?batch=<alertId>&limit=20&offset=0
func (h *Handler) ListDeadLetterQueue(w http.ResponseWriter, r *http.Request) {
	batch := r.URL.Query().Get("batch")

	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	items, err := h.deadLetters.ListDeadLetters(r.Context(), batch, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "list dead letter queue")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":   items,
		"limit":  limit,
		"offset": offset,
		"count":  len(items),
	})
}

// GetDeadLetterItem handles GET /dlq/{id}
func (h *Handler) GetDeadLetterItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid DLQ ID", "ID must be a valid UUID")
		return
	}

	item, err := h.deadLetters.GetDeadLetter(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "get dead letter item")
		return
	}

	writeJSON(w, http.StatusOK, item)
}

// RetryDeadLetterItem handles POST /dlq/{id}/retry
func (h *Handler) RetryDeadLetterItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid DLQ ID", "ID must be a valid UUID")
		return
	}

	msg, err := h.deadLetters.RetryDeadLetter(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "retry dead letter item")
		return
	}

	h.logger.Info("dead letter item retried",
		zap.String("dlq_id", id.String()),
		zap.String("new_message_id", msg.ID.String()),
	)

	writeJSON(w, http.StatusOK, map[string]string{
		"id":             id.String(),
		"status":         "retried",
		"new_message_id": msg.ID.String(),
	})
}

// DiscardDeadLetterItem handles POST /dlq/{id}/discard
func (h *Handler) DiscardDeadLetterItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r, "id")
	if !ok {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid DLQ ID", "ID must be a valid UUID")
		return
	}

	if err := h.deadLetters.DiscardDeadLetter(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "discard dead letter item")
		return
	}

	h.logger.Info("dead letter item discarded", zap.String("id", id.String()))

	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id.String(),
		"status": "discarded",
	})
}
