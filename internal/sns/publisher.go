// Package sns announces completed alert dispatches on an SNS topic so other
// systems (status pages, call centre dashboards) can react to them.
package sns

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/dispatch"
)

// EventDispatched is the event type published after a dispatch.
const EventDispatched = "alert.dispatched"

// PublishAPI is the subset of the SNS client used by the publisher.
type PublishAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Publisher handles SNS topic publishing for dispatch events
type Publisher struct {
	client   PublishAPI
	topicARN string
	logger   *zap.Logger
	now      func() time.Time
}

// Event is the JSON body of a dispatch event.
type Event struct {
	Type          string    `json:"type"`
	AlertID       string    `json:"alert_id"`
	Subject       string    `json:"subject"`
	Jurisdictions []string  `json:"jurisdictions"`
	Receivers     []string  `json:"receivers"`
	Phones        int       `json:"phones"`
	Submitted     int       `json:"submitted"`
	Failed        int       `json:"failed"`
	DispatchedAt  time.Time `json:"dispatched_at"`
}

// NewClient loads AWS configuration and returns an SNS client.
func NewClient(ctx context.Context, region string) (*sns.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sns.NewFromConfig(cfg), nil
}

// NewPublisher creates an SNS publisher for the given topic
func NewPublisher(client PublishAPI, topicARN string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:   client,
		topicARN: topicARN,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatched publishes the outcome of a dispatch. The jurisdiction codes are
// copied into a message attribute so subscriptions can filter on them.
func (p *Publisher) Dispatched(ctx context.Context, r *dispatch.Result) error {
	ev := Event{
		Type:         EventDispatched,
		AlertID:      r.Alert.ID.String(),
		Subject:      r.Alert.Subject,
		Phones:       r.Phones,
		Submitted:    r.Submitted(),
		Failed:       r.Failed(),
		DispatchedAt: p.now().UTC(),
	}
	for _, j := range r.Alert.Jurisdictions {
		ev.Jurisdictions = append(ev.Jurisdictions, j.Code)
	}
	for _, rc := range r.Alert.ReceiverSet() {
		ev.Receivers = append(ev.Receivers, string(rc))
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	attrs := map[string]types.MessageAttributeValue{
		"event": {
			DataType:    aws.String("String"),
			StringValue: aws.String(ev.Type),
		},
	}
	if len(ev.Jurisdictions) > 0 {
		codes, _ := json.Marshal(ev.Jurisdictions)
		attrs["jurisdiction"] = types.MessageAttributeValue{
			DataType:    aws.String("String.Array"),
			StringValue: aws.String(string(codes)),
		}
	}

	result, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn:          aws.String(p.topicARN),
		Subject:           aws.String(truncate(ev.Subject, 100)),
		Message:           aws.String(string(payload)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	p.logger.Debug("dispatch event published",
		zap.String("alert_id", ev.AlertID),
		zap.String("sns_message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// truncate keeps SNS subjects within their length limit and on one line.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n]
}
