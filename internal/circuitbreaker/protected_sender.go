package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/db"
)

// Sender mirrors worker.Sender to avoid an import cycle.
type Sender interface {
	Send(ctx context.Context, m *db.Message) error
}

// ProtectedSender fails fast while the SMS provider's breaker is open.
type ProtectedSender struct {
	sender  Sender
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedSender wraps a sender with circuit breaker protection.
func NewProtectedSender(sender Sender, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedSender {
	return &ProtectedSender{
		sender:  sender,
		breaker: breaker,
		logger:  logger,
	}
}

// Send delivers m through the breaker.
func (p *ProtectedSender) Send(ctx context.Context, m *db.Message) error {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected message",
			zap.String("breaker", p.breaker.Name()),
			zap.String("message_id", m.ID.String()),
			zap.String("batch_tag", m.BatchTag),
			zap.String("state", p.breaker.GetState().String()),
		)
		return fmt.Errorf("%w: %s sender unavailable", ErrCircuitOpen, p.breaker.Name())
	}

	if err := p.sender.Send(ctx, m); err != nil {
		p.breaker.RecordFailure()
		return err
	}

	p.breaker.RecordSuccess()
	return nil
}

// Breaker returns the underlying circuit breaker.
func (p *ProtectedSender) Breaker() *CircuitBreaker {
	return p.breaker
}
