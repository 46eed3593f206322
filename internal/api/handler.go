package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"
	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/alert"
	"github.com/lalithlochan/alerts/internal/circuitbreaker"
	"github.com/lalithlochan/alerts/internal/db"
	"github.com/lalithlochan/alerts/internal/dispatch"
	"github.com/lalithlochan/alerts/internal/redis"
)

// AlertService is the alert CRUD surface used by the handlers.
type AlertService interface {
	Get(ctx context.Context, id uuid.UUID) (*db.Alert, error)
	List(ctx context.Context, opts db.ListOptions) (*db.Page, error)
	Patch(ctx context.Context, id uuid.UUID, p alert.Patch) (*db.Alert, error)
	Put(ctx context.Context, id uuid.UUID, def *db.Alert) (*db.Alert, error)
	Delete(ctx context.Context, id uuid.UUID) (*db.Alert, error)
}

// Dispatcher creates an alert and sends it to its audience.
type Dispatcher interface {
	CreateAndSend(ctx context.Context, def *db.Alert) (*dispatch.Result, error)
}

// DeadLetterRepository defines the dead letter operations exposed over HTTP
type DeadLetterRepository interface {
	ListDeadLetters(ctx context.Context, batchTag string, limit, offset int) ([]*db.DeadLetterMessage, error)
	GetDeadLetter(ctx context.Context, id uuid.UUID) (*db.DeadLetterMessage, error)
	RetryDeadLetter(ctx context.Context, id uuid.UUID) (*db.Message, error)
	DiscardDeadLetter(ctx context.Context, id uuid.UUID) error
}

// HealthChecker reports whether a backing store is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	Idempotency *redis.IdempotencyService // nil if Redis not configured
	Database    HealthChecker
	Breakers    []*circuitbreaker.CircuitBreaker
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	alerts      AlertService
	dispatcher  Dispatcher
	deadLetters DeadLetterRepository
	opts        Options
	schema      *jsonschema.Schema
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, alerts AlertService, dispatcher Dispatcher, deadLetters DeadLetterRepository, opts Options) *Handler {
	return &Handler{
		logger:      logger,
		alerts:      alerts,
		dispatcher:  dispatcher,
		deadLetters: deadLetters,
		opts:        opts,
		schema:      alertSchema(),
	}
}

// Routes mounts the alert and dead letter endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", h.ListAlerts)
		r.Post("/", h.CreateAlert)
		r.Get("/schema", h.GetSchema)
		r.Get("/export", h.ExportAlerts)
		r.Get("/{id}", h.GetAlert)
		r.Patch("/{id}", h.PatchAlert)
		r.Put("/{id}", h.PutAlert)
		r.Delete("/{id}", h.DeleteAlert)
	})

	r.Get("/jurisdictions/{jurisdiction}/alerts", h.ListJurisdictionAlerts)

	r.Route("/dlq", func(r chi.Router) {
		r.Get("/", h.ListDeadLetterQueue)
		r.Get("/{id}", h.GetDeadLetterItem)
		r.Post("/{id}/retry", h.RetryDeadLetterItem)
		r.Post("/{id}/discard", h.DiscardDeadLetterItem)
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]interface{}{"status": "ok"}

	if h.opts.Database != nil {
		if err := h.opts.Database.Health(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			status = http.StatusServiceUnavailable
			body["status"] = "unavailable"
			body["database"] = err.Error()
		}
	}

	if len(h.opts.Breakers) > 0 {
		stats := make([]circuitbreaker.Stats, 0, len(h.opts.Breakers))
		for _, cb := range h.opts.Breakers {
			stats = append(stats, cb.Stats())
		}
		body["circuit_breakers"] = stats
	}

	writeJSON(w, status, body)
}

func parseID(r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	return id, err == nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
