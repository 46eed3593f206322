package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lalithlochan/alerts/internal/db"
	"github.com/lalithlochan/alerts/internal/metrics"
	"github.com/lalithlochan/alerts/internal/sqs"
)

type Repository interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*db.Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*db.Message, error)
	ClaimMessage(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateMessageStatus(ctx context.Context, id uuid.UUID, status string, attempt int, errorMsg *string, nextRetryAt *time.Time) error
	MoveToDeadLetter(ctx context.Context, m *db.Message, lastError string) (*db.DeadLetterMessage, error)
}

// Consumer pulls message ids pushed by the outbox.
type Consumer interface {
	Receive(ctx context.Context, max int32) ([]sqs.Received, error)
	Delete(ctx context.Context, receiptHandle string) error
	ChangeVisibility(ctx context.Context, receiptHandle string, seconds int32) error
}

type Worker struct {
	repo     Repository
	sender   Sender
	consumer Consumer
	limiter  *rate.Limiter
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	MaxRetries    int
	RatePerSecond float64
}

var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// New creates a delivery worker. consumer may be nil, in which case only the
// table poller feeds the worker.
func New(repo Repository, sender Sender, consumer Consumer, cfg Config, logger *zap.Logger) *Worker {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Worker{
		repo:     repo,
		sender:   sender,
		consumer: consumer,
		limiter:  rate.NewLimiter(limit, 1),
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Start runs the poller, and the queue consumer when one is configured,
// until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	var wg sync.WaitGroup

	if w.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx)
		}()
	}

	w.poll(ctx)
	wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) poll(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	msgs, err := w.repo.GetPendingMessages(ctx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to get pending messages", zap.Error(err))
		return
	}
	if len(msgs) > 0 {
		w.logger.Debug("processing pending messages", zap.Int("count", len(msgs)))
	}

	for _, m := range msgs {
		if ctx.Err() != nil {
			return
		}
		w.processMessage(ctx, m)
	}
}

func (w *Worker) consume(ctx context.Context) {
	for ctx.Err() == nil {
		received, err := w.consumer.Receive(ctx, int32(min(w.config.BatchSize, 10)))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive from queue", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.PollInterval):
			}
			continue
		}

		metrics.SetSQSMessagesInFlight(len(received))
		for _, r := range received {
			w.handleReceived(ctx, r)
		}
		metrics.SetSQSMessagesInFlight(0)
	}
}

// handleReceived processes a queued id. The queue entry is acknowledged once
// the row has been dealt with; retries are driven by the row, not the queue.
func (w *Worker) handleReceived(ctx context.Context, r sqs.Received) {
	id, err := uuid.Parse(r.Message.MessageID)
	if err != nil {
		w.logger.Warn("queue entry has invalid message id", zap.String("message_id", r.Message.MessageID))
		w.ack(ctx, r)
		return
	}

	m, err := w.repo.GetMessage(ctx, id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		w.ack(ctx, r)
		return
	case err != nil:
		// left on the queue; it reappears after one poll interval
		w.logger.Error("failed to load queued message", zap.Error(err), zap.String("message_id", id.String()))
		delay := int32(max(w.config.PollInterval/time.Second, 1))
		if verr := w.consumer.ChangeVisibility(ctx, r.ReceiptHandle, delay); verr != nil {
			w.logger.Warn("failed to delay queue entry", zap.Error(verr))
		}
		return
	}

	w.processMessage(ctx, m)
	w.ack(ctx, r)
}

func (w *Worker) ack(ctx context.Context, r sqs.Received) {
	if err := w.consumer.Delete(ctx, r.ReceiptHandle); err != nil {
		w.logger.Warn("failed to delete queue entry", zap.Error(err))
	}
}

func (w *Worker) processMessage(ctx context.Context, m *db.Message) {
	claimed, err := w.repo.ClaimMessage(ctx, m.ID)
	if err != nil {
		w.logger.Error("failed to claim message", zap.Error(err), zap.String("message_id", m.ID.String()))
		return
	}
	if !claimed {
		return
	}

	if err := w.limiter.Wait(ctx); err != nil {
		// shutting down; hand the message back untouched
		_ = w.repo.UpdateMessageStatus(context.WithoutCancel(ctx), m.ID, db.StatusQueued, m.Attempt, m.ErrorMessage, m.NextRetryAt)
		return
	}

	err = w.sender.Send(ctx, m)
	attempt := m.Attempt + 1

	// the outcome must be recorded even when shutdown cancels ctx
	writeCtx := context.WithoutCancel(ctx)

	if err == nil {
		if uerr := w.repo.UpdateMessageStatus(writeCtx, m.ID, db.StatusSent, attempt, nil, nil); uerr != nil {
			w.logger.Error("failed to mark message sent", zap.Error(uerr), zap.String("message_id", m.ID.String()))
		}
		metrics.RecordMessageProcessed(db.StatusSent, string(m.Channel))
		metrics.RecordMessageLatency(string(m.Channel), w.now().Sub(m.CreatedAt))
		return
	}

	if ctx.Err() != nil {
		// interrupted by shutdown; the attempt does not count
		if uerr := w.repo.UpdateMessageStatus(writeCtx, m.ID, db.StatusQueued, m.Attempt, m.ErrorMessage, m.NextRetryAt); uerr != nil {
			w.logger.Error("failed to release message", zap.Error(uerr), zap.String("message_id", m.ID.String()))
		}
		return
	}

	errMsg := err.Error()
	w.logger.Warn("failed to send message",
		zap.Error(err),
		zap.String("message_id", m.ID.String()),
		zap.String("batch_tag", m.BatchTag),
		zap.Int("attempt", attempt),
	)

	if attempt >= w.config.MaxRetries {
		m.Attempt = attempt
		if _, dlqErr := w.repo.MoveToDeadLetter(writeCtx, m, errMsg); dlqErr != nil {
			w.logger.Error("failed to move message to dead letter queue",
				zap.Error(dlqErr),
				zap.String("message_id", m.ID.String()),
			)
			return
		}
		metrics.RecordMessageProcessed(db.StatusDeadLettered, string(m.Channel))
		return
	}

	next := w.nextRetry(attempt)
	if uerr := w.repo.UpdateMessageStatus(writeCtx, m.ID, db.StatusQueued, attempt, &errMsg, &next); uerr != nil {
		w.logger.Error("failed to schedule retry", zap.Error(uerr), zap.String("message_id", m.ID.String()))
	}
	metrics.RecordMessageProcessed("retry", string(m.Channel))
}

// nextRetry backs off 1m, 5m, then 15m for every later attempt.
func (w *Worker) nextRetry(attempt int) time.Time {
	idx := attempt - 1
	if idx >= len(retryDelays) {
		idx = len(retryDelays) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return w.now().Add(retryDelays[idx])
}
