package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/db"
)

const (
	// DefaultLimit is the page size used when a listing does not ask for one.
	DefaultLimit = 10
	// MaxLimit caps the page size.
	MaxLimit = 100

	maxWriteAttempts = 3
)

// Store is the persistence the alert service needs.
type Store interface {
	JurisdictionLookup
	CreateAlert(ctx context.Context, a *db.Alert) error
	GetAlert(ctx context.Context, id uuid.UUID) (*db.Alert, error)
	ListAlerts(ctx context.Context, opts db.ListOptions) (*db.Page, error)
	ReplaceAlert(ctx context.Context, a *db.Alert, expectedRevision int64) error
	UpdateAlertStatistics(ctx context.Context, id uuid.UUID, stats db.Statistics, expectedRevision int64) (*db.Alert, error)
	SoftDeleteAlert(ctx context.Context, id uuid.UUID) (*db.Alert, error)
	CountMessagesByBatch(ctx context.Context, batchTag string) (int, error)
}

// Patch holds the fields of a partial update. Nil fields are left untouched.
type Patch struct {
	Jurisdictions *[]db.JurisdictionRef `json:"jurisdictions,omitempty"`
	Subject       *string               `json:"subject,omitempty"`
	Message       *string               `json:"message,omitempty"`
	Methods       *[]db.Method          `json:"methods,omitempty"`
	Receivers     *[]db.Receiver        `json:"receivers,omitempty"`
	Statistics    *db.Statistics        `json:"statistics,omitempty"`
}

func (p Patch) apply(a *db.Alert) {
	if p.Jurisdictions != nil {
		a.Jurisdictions = *p.Jurisdictions
	}
	if p.Subject != nil {
		a.Subject = *p.Subject
	}
	if p.Message != nil {
		a.Message = *p.Message
	}
	if p.Methods != nil {
		a.Methods = *p.Methods
	}
	if p.Receivers != nil {
		a.Receivers = *p.Receivers
	}
	if p.Statistics != nil {
		a.Statistics = *p.Statistics
	}
}

// Service implements alert CRUD on top of a Store.
type Service struct {
	store     Store
	validator *Validator
	logger    *zap.Logger
}

// NewService creates an alert service
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		validator: NewValidator(store),
		logger:    logger,
	}
}

// Create validates and persists a new alert.
func (s *Service) Create(ctx context.Context, a *db.Alert) (*db.Alert, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.Revision = 0
	a.DeletedAt = nil

	if err := s.validator.Validate(ctx, a); err != nil {
		return nil, err
	}

	if err := s.store.CreateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}
	return a, nil
}

// Get returns a live alert.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*db.Alert, error) {
	a, err := s.store.GetAlert(ctx, id)
	if err != nil {
		return nil, translate(id, err)
	}
	return a, nil
}

// List returns a page of alerts. Limits are clamped to [1, MaxLimit].
func (s *Service) List(ctx context.Context, opts db.ListOptions) (*db.Page, error) {
	opts = NormalizeListOptions(opts)

	page, err := s.store.ListAlerts(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return page, nil
}

// NormalizeListOptions applies paging defaults and bounds.
func NormalizeListOptions(opts db.ListOptions) db.ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Limit > MaxLimit {
		opts.Limit = MaxLimit
	}
	if opts.Skip < 0 {
		opts.Skip = 0
	}
	if !db.ValidSort(opts.Sort) {
		opts.Sort = "-createdAt"
	}
	return opts
}

// Patch applies the provided fields and re-validates.
func (s *Service) Patch(ctx context.Context, id uuid.UUID, p Patch) (*db.Alert, error) {
	return s.rewrite(ctx, id, p.apply)
}

// Put replaces every mutable field of an alert with those of def.
func (s *Service) Put(ctx context.Context, id uuid.UUID, def *db.Alert) (*db.Alert, error) {
	return s.rewrite(ctx, id, func(a *db.Alert) {
		a.Jurisdictions = def.Jurisdictions
		a.Subject = def.Subject
		a.Message = def.Message
		a.Methods = def.Methods
		a.Receivers = def.Receivers
		a.Statistics = def.Statistics
	})
}

// rewrite re-reads the alert and reapplies mutate when a concurrent writer
// bumps the revision between the read and the write.
func (s *Service) rewrite(ctx context.Context, id uuid.UUID, mutate func(*db.Alert)) (*db.Alert, error) {
	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		current, err := s.store.GetAlert(ctx, id)
		if err != nil {
			return nil, translate(id, err)
		}

		expected := current.Revision
		mutate(current)
		if err := s.validator.Validate(ctx, current); err != nil {
			return nil, err
		}

		err = s.store.ReplaceAlert(ctx, current, expected)
		if err == nil {
			return current, nil
		}
		if !errors.Is(err, db.ErrRevisionConflict) {
			return nil, translate(id, err)
		}

		s.logger.Debug("alert write lost a race, retrying",
			zap.String("alert_id", id.String()),
			zap.Int("attempt", attempt),
		)
		lastErr = err
	}
	return nil, fmt.Errorf("update alert %s: %w", id, lastErr)
}

// Delete soft deletes an alert unless messages still carry its batch tag.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (*db.Alert, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	count, err := s.store.CountMessagesByBatch(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("check dependent messages: %w", err)
	}
	if count > 0 {
		return nil, &ConflictError{Count: count}
	}

	a, err := s.store.SoftDeleteAlert(ctx, id)
	if err != nil {
		return nil, translate(id, err)
	}
	return a, nil
}

func translate(id uuid.UUID, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
