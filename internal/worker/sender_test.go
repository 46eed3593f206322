package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/db"
)

func makeTestMessage() *db.Message {
	return &db.Message{
		ID:       uuid.New(),
		BatchTag: uuid.NewString(),
		Channel:  db.MethodSMS,
		Sender:   "UTILITY",
		To:       "+255700000001",
		Subject:  "Outage",
		Body:     "No water until 6pm",
		Status:   db.StatusQueued,
	}
}

func TestLogSender(t *testing.T) {
	sender := NewLogSender(zap.NewNop())

	if err := sender.Send(context.Background(), makeTestMessage()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}

	m := makeTestMessage()
	m.Channel = db.MethodEmail
	if err := sender.Send(context.Background(), m); err == nil {
		t.Error("expected error for non-SMS channel")
	}
}

// mockPublisher records SNS publishes
type mockPublisher struct {
	inputs []*sns.PublishInput
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, in)
	return &sns.PublishOutput{MessageId: aws.String("sns-123")}, nil
}

func TestSNSSenderPublishesSMS(t *testing.T) {
	pub := &mockPublisher{}
	sender := NewSNSSender(pub, zap.NewNop())

	m := makeTestMessage()
	if err := sender.Send(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(pub.inputs) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.inputs))
	}
	in := pub.inputs[0]
	if aws.ToString(in.PhoneNumber) != m.To {
		t.Errorf("phone = %s, want %s", aws.ToString(in.PhoneNumber), m.To)
	}
	if aws.ToString(in.Message) != m.Body {
		t.Errorf("message = %s, want %s", aws.ToString(in.Message), m.Body)
	}
	if got := aws.ToString(in.MessageAttributes["AWS.SNS.SMS.SenderID"].StringValue); got != "UTILITY" {
		t.Errorf("sender id = %s, want UTILITY", got)
	}
	if got := aws.ToString(in.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue); got != "Transactional" {
		t.Errorf("sms type = %s, want Transactional", got)
	}
}

func TestSNSSenderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *db.Message)
	}{
		{"non-sms channel", func(m *db.Message) { m.Channel = db.MethodPush }},
		{"missing recipient", func(m *db.Message) { m.To = "" }},
		{"missing body", func(m *db.Message) { m.Body = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{}
			m := makeTestMessage()
			tt.mutate(m)

			if err := NewSNSSender(pub, zap.NewNop()).Send(context.Background(), m); err == nil {
				t.Error("expected validation error")
			}
			if len(pub.inputs) != 0 {
				t.Error("invalid message must not be published")
			}
		})
	}
}

func TestSNSSenderOmitsEmptySenderID(t *testing.T) {
	pub := &mockPublisher{}
	m := makeTestMessage()
	m.Sender = ""

	if err := NewSNSSender(pub, zap.NewNop()).Send(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := pub.inputs[0].MessageAttributes["AWS.SNS.SMS.SenderID"]; ok {
		t.Error("sender id attribute should be omitted")
	}
}

func TestSNSSenderPublishError(t *testing.T) {
	pub := &mockPublisher{err: errors.New("throttling")}
	if err := NewSNSSender(pub, zap.NewNop()).Send(context.Background(), makeTestMessage()); err == nil {
		t.Error("expected publish error")
	}
}
