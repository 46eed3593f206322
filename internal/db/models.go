package db

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Method is a delivery channel an alert is pushed through.
type Method string

// Method constants
const (
	MethodSMS   Method = "SMS"
	MethodEmail Method = "EMAIL"
	MethodPush  Method = "PUSH"
)

// Methods lists every accepted delivery method tag.
var Methods = []Method{MethodSMS, MethodEmail, MethodPush}

// Receiver is an audience category an alert targets.
type Receiver string

// Receiver constants
const (
	ReceiverReporters   Receiver = "Reporters"
	ReceiverCustomers   Receiver = "Customers"
	ReceiverSubscribers Receiver = "Subscribers"
	ReceiverEmployees   Receiver = "Employees"
)

// Receivers lists every accepted receiver category tag.
var Receivers = []Receiver{ReceiverReporters, ReceiverCustomers, ReceiverSubscribers, ReceiverEmployees}

// Counters tracks delivery outcomes for one method.
type Counters struct {
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Statistics maps a delivery method to its counters.
type Statistics map[Method]Counters

// Clone returns a shallow copy. A nil receiver yields an empty map.
func (s Statistics) Clone() Statistics {
	out := make(Statistics, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Jurisdiction is the geographic scope an alert applies to.
type Jurisdiction struct {
	ID   uuid.UUID `json:"_id"`
	Code string    `json:"code"`
	Name string    `json:"name"`
}

// JurisdictionRef is a weak reference to a jurisdiction. Code and Name are a
// read-side copy populated from the jurisdictions table.
type JurisdictionRef struct {
	ID   uuid.UUID `json:"_id"`
	Code string    `json:"code,omitempty"`
	Name string    `json:"name,omitempty"`
}

// UnmarshalJSON accepts either a bare id string or an object with an _id.
func (r *JurisdictionRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid jurisdiction id %q: %w", s, err)
		}
		*r = JurisdictionRef{ID: id}
		return nil
	}

	type plain JurisdictionRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = JurisdictionRef(p)
	return nil
}

// Alert represents a service disruption notice
type Alert struct {
	ID            uuid.UUID         `json:"_id"`
	Jurisdictions []JurisdictionRef `json:"jurisdictions"`
	Subject       string            `json:"subject"`
	Message       string            `json:"message"`
	Methods       []Method          `json:"methods"`
	Receivers     []Receiver        `json:"receivers"`
	Statistics    Statistics        `json:"statistics"`
	Revision      int64             `json:"revision"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	DeletedAt     *time.Time        `json:"deletedAt,omitempty"`
}

// JurisdictionIDs returns the bare jurisdiction identifiers.
func (a *Alert) JurisdictionIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(a.Jurisdictions))
	for _, j := range a.Jurisdictions {
		ids = append(ids, j.ID)
	}
	return ids
}

// ReceiverSet returns the distinct, non-empty receivers in first-seen order.
func (a *Alert) ReceiverSet() []Receiver {
	seen := make(map[Receiver]struct{}, len(a.Receivers))
	out := make([]Receiver, 0, len(a.Receivers))
	for _, r := range a.Receivers {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Message status constants
const (
	StatusQueued       = "queued"
	StatusProcessing   = "processing"
	StatusSent         = "sent"
	StatusFailed       = "failed"
	StatusDeadLettered = "dead_lettered"
)

// DLQ Status constants
const (
	DLQStatusPending   = "pending"
	DLQStatusRetried   = "retried"
	DLQStatusDiscarded = "discarded"
)

// Message is one outbound message produced by an alert dispatch.
// BatchTag holds the id of the alert that generated it.
type Message struct {
	ID           uuid.UUID  `json:"id"`
	BatchTag     string     `json:"batch_tag"`
	Channel      Method     `json:"channel"`
	Sender       string     `json:"sender"`
	To           string     `json:"to"`
	Subject      string     `json:"subject"`
	Body         string     `json:"body"`
	Status       string     `json:"status"`
	Attempt      int        `json:"attempt"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DeadLetterMessage represents a message that exhausted its retries
type DeadLetterMessage struct {
	ID                uuid.UUID  `json:"id"`
	OriginalMessageID uuid.UUID  `json:"original_message_id"`
	BatchTag          string     `json:"batch_tag"`
	Channel           Method     `json:"channel"`
	Sender            string     `json:"sender"`
	To                string     `json:"to"`
	Subject           string     `json:"subject"`
	Body              string     `json:"body"`
	Attempts          int        `json:"attempts"`
	LastError         string     `json:"last_error"`
	Status            string     `json:"status"`
	RetriedMessageID  *uuid.UUID `json:"retried_message_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
