package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/alerts/internal/db"
	"github.com/lalithlochan/alerts/internal/metrics"
)

const maxPersistAttempts = 3

// AlertStore reads alerts and writes their statistics.
type AlertStore interface {
	GetAlert(ctx context.Context, id uuid.UUID) (*db.Alert, error)
	UpdateAlertStatistics(ctx context.Context, id uuid.UUID, stats db.Statistics, expectedRevision int64) (*db.Alert, error)
}

// Creator validates and persists new alerts.
type Creator interface {
	Create(ctx context.Context, a *db.Alert) (*db.Alert, error)
}

// Audience resolves the unique phones an alert targets.
type Audience interface {
	Resolve(ctx context.Context, a *db.Alert) ([]string, error)
}

// Submitter schedules one outbound message for delivery.
type Submitter interface {
	Submit(ctx context.Context, m *db.Message) error
}

// Events announces completed dispatches to other systems.
type Events interface {
	Dispatched(ctx context.Context, r *Result) error
}

// Submission is the outcome of scheduling one message.
type Submission struct {
	Message *db.Message
	Err     error
}

// Result is what a dispatch did.
type Result struct {
	Alert       *db.Alert
	Phones      int
	Submissions []Submission
}

// Submitted counts the messages that were scheduled.
func (r *Result) Submitted() int {
	n := 0
	for _, s := range r.Submissions {
		if s.Err == nil {
			n++
		}
	}
	return n
}

// Failed counts the messages that could not be scheduled.
func (r *Result) Failed() int {
	return len(r.Submissions) - r.Submitted()
}

// Config tunes a Pipeline.
type Config struct {
	SenderID    string
	Concurrency int
}

// Pipeline dispatches alerts: resolve the audience, schedule one SMS per
// phone, then record the counters on the alert.
type Pipeline struct {
	alerts    AlertStore
	creator   Creator
	audience  Audience
	submitter Submitter
	events    Events
	cfg       Config
	logger    *zap.Logger
}

// NewPipeline creates a dispatch pipeline
func NewPipeline(alerts AlertStore, creator Creator, audience Audience, submitter Submitter, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Pipeline{
		alerts:    alerts,
		creator:   creator,
		audience:  audience,
		submitter: submitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// WithEvents announces every dispatch that reached at least one phone.
// Announcement failures are logged and do not fail the dispatch.
func (p *Pipeline) WithEvents(e Events) *Pipeline {
	p.events = e
	return p
}

// CreateAndSend persists def and dispatches it. If the dispatch fails the
// created alert is left in place.
func (p *Pipeline) CreateAndSend(ctx context.Context, def *db.Alert) (*Result, error) {
	created, err := p.creator.Create(ctx, def)
	if err != nil {
		return nil, err
	}

	res, err := p.Send(ctx, created)
	if err != nil {
		return nil, fmt.Errorf("send alert %s: %w", created.ID, err)
	}
	return res, nil
}

// Send dispatches an already persisted alert. A resolution failure aborts
// before anything is scheduled or written.
func (p *Pipeline) Send(ctx context.Context, a *db.Alert) (*Result, error) {
	phones, err := p.audience.Resolve(ctx, a)
	if err != nil {
		metrics.RecordDispatch("resolution_failed")
		return nil, err
	}
	metrics.RecordPhonesResolved(len(phones))

	plan := BuildPlan(a, phones, p.cfg.SenderID)
	subs := p.submit(ctx, plan.Messages)

	res := &Result{Alert: a, Phones: len(phones), Submissions: subs}

	if res.Submitted() > 0 {
		updated, err := p.persist(ctx, a, plan, subs)
		if err != nil {
			metrics.RecordDispatch("persist_failed")
			return nil, err
		}
		res.Alert = updated
	}

	outcome := "sent"
	switch {
	case len(phones) == 0:
		outcome = "empty"
	case res.Failed() > 0:
		outcome = "partial"
	}
	metrics.RecordDispatch(outcome)

	if p.events != nil && res.Submitted() > 0 {
		if err := p.events.Dispatched(ctx, res); err != nil {
			p.logger.Warn("failed to announce dispatch", zap.Error(err), zap.String("alert_id", a.ID.String()))
		}
	}

	p.logger.Info("alert dispatched",
		zap.String("alert_id", a.ID.String()),
		zap.Strings("receivers", receiverNames(a.ReceiverSet())),
		zap.Int("phones", len(phones)),
		zap.Int("submitted", res.Submitted()),
		zap.Int("failed", res.Failed()),
	)

	return res, nil
}

// submit schedules every message with bounded concurrency. A failed
// submission does not stop the others.
func (p *Pipeline) submit(ctx context.Context, msgs []*db.Message) []Submission {
	subs := make([]Submission, len(msgs))

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, m := range msgs {
		g.Go(func() error {
			err := p.submitter.Submit(ctx, m)
			if err != nil {
				p.logger.Warn("failed to submit message",
					zap.Error(err),
					zap.String("batch_tag", m.BatchTag),
					zap.String("message_id", m.ID.String()),
				)
			}
			metrics.RecordSubmission(err == nil)
			subs[i] = Submission{Message: m, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return subs
}

// persist writes the statistics with a revision check, re-reading the alert
// when a concurrent writer got there first.
func (p *Pipeline) persist(ctx context.Context, a *db.Alert, plan Plan, subs []Submission) (*db.Alert, error) {
	current := a
	var lastErr error
	for attempt := 1; attempt <= maxPersistAttempts; attempt++ {
		stats := plan.Statistics(current.Statistics, subs)

		updated, err := p.alerts.UpdateAlertStatistics(ctx, a.ID, stats, current.Revision)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, db.ErrRevisionConflict) {
			return nil, fmt.Errorf("persist statistics: %w", err)
		}
		lastErr = err

		p.logger.Debug("statistics write lost a race, re-reading",
			zap.String("alert_id", a.ID.String()),
			zap.Int("attempt", attempt),
		)

		current, err = p.alerts.GetAlert(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("reload alert: %w", err)
		}
	}
	return nil, fmt.Errorf("persist statistics: %w", lastErr)
}

func receiverNames(rs []db.Receiver) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}
