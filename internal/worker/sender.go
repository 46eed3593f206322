package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/db"
)

// Sender delivers one outbound message.
type Sender interface {
	Send(ctx context.Context, m *db.Message) error
}

// LogSender logs messages instead of delivering them (for development)
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, m *db.Message) error {
	if m.Channel != db.MethodSMS {
		return fmt.Errorf("unsupported channel: %s", m.Channel)
	}

	s.logger.Info("sms logged (development mode)",
		zap.String("message_id", m.ID.String()),
		zap.String("batch_tag", m.BatchTag),
		zap.String("sender", m.Sender),
		zap.String("to", m.To),
		zap.String("body", m.Body),
	)
	return nil
}
