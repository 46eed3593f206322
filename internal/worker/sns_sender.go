package worker

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/db"
)

// PublishAPI is the subset of the SNS client used to send SMS.
type PublishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSSender sends SMS messages via AWS SNS
type SNSSender struct {
	client PublishAPI
	logger *zap.Logger
}

type SNSConfig struct {
	Region string
}

// NewSNSClient loads AWS configuration and returns an SNS client.
func NewSNSClient(ctx context.Context, cfg SNSConfig) (*sns.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}
	return sns.NewFromConfig(awsCfg), nil
}

// NewSNSSender creates a new SNS sender for SMS messages
func NewSNSSender(client PublishAPI, logger *zap.Logger) *SNSSender {
	return &SNSSender{
		client: client,
		logger: logger,
	}
}

// Send publishes m as a transactional SMS. The message sender becomes the
// SMS sender id.
func (s *SNSSender) Send(ctx context.Context, m *db.Message) error {
	if m.Channel != db.MethodSMS {
		return fmt.Errorf("SNS sender only supports SMS, got: %s", m.Channel)
	}
	if m.To == "" {
		return fmt.Errorf("message %s has no recipient", m.ID)
	}
	if m.Body == "" {
		return fmt.Errorf("message %s has no body", m.ID)
	}

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {
			DataType:    aws.String("String"),
			StringValue: aws.String("Transactional"),
		},
	}
	if m.Sender != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(m.Sender),
		}
	}

	result, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(m.To),
		Message:           aws.String(m.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("sns publish failed: %w", err)
	}

	s.logger.Info("SMS sent via SNS",
		zap.String("message_id", m.ID.String()),
		zap.String("batch_tag", m.BatchTag),
		zap.String("to", m.To),
		zap.String("sns_message_id", aws.ToString(result.MessageId)),
	)

	return nil
}
