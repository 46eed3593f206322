package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/db"
)

// MessageStore persists outbound messages.
type MessageStore interface {
	CreateMessages(ctx context.Context, msgs []*db.Message) error
}

// Queue hands a persisted message to the delivery worker.
type Queue interface {
	Enqueue(ctx context.Context, m *db.Message) (string, error)
}

// Outbox schedules outbound messages for background delivery.
type Outbox struct {
	store  MessageStore
	queue  Queue
	logger *zap.Logger
}

// New creates an outbox. queue may be nil, in which case the worker finds
// messages by polling the table.
func New(store MessageStore, queue Queue, logger *zap.Logger) *Outbox {
	return &Outbox{
		store:  store,
		queue:  queue,
		logger: logger,
	}
}

// Submit durably schedules m. Once the row is written the message will be
// delivered even if the queue push fails.
func (o *Outbox) Submit(ctx context.Context, m *db.Message) error {
	m.Status = db.StatusQueued
	if err := o.store.CreateMessages(ctx, []*db.Message{m}); err != nil {
		return fmt.Errorf("store message: %w", err)
	}

	if o.queue == nil {
		return nil
	}

	if _, err := o.queue.Enqueue(ctx, m); err != nil {
		o.logger.Warn("queue push failed, message left for poller",
			zap.Error(err),
			zap.String("message_id", m.ID.String()),
			zap.String("batch_tag", m.BatchTag),
		)
	}
	return nil
}
