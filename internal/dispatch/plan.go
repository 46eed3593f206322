package dispatch

import (
	"github.com/google/uuid"

	"github.com/lalithlochan/alerts/internal/db"
)

// Plan is the side-effect free outcome of dispatching an alert to a set of
// phones: one SMS per phone, and the counters to record once they are
// scheduled.
type Plan struct {
	Messages []*db.Message
}

// BuildPlan derives one SMS per phone for a. Every message carries the alert
// id as its batch tag.
func BuildPlan(a *db.Alert, phones []string, senderID string) Plan {
	msgs := make([]*db.Message, 0, len(phones))
	for _, phone := range phones {
		msgs = append(msgs, &db.Message{
			ID:       uuid.New(),
			BatchTag: a.ID.String(),
			Channel:  db.MethodSMS,
			Sender:   senderID,
			To:       phone,
			Subject:  a.Subject,
			Body:     a.Message,
			Status:   db.StatusQueued,
		})
	}
	return Plan{Messages: msgs}
}

// Statistics returns base with SMS sent set to the number of plan messages
// that were scheduled. Submissions of messages outside the plan are ignored.
func (p Plan) Statistics(base db.Statistics, subs []Submission) db.Statistics {
	planned := make(map[*db.Message]struct{}, len(p.Messages))
	for _, m := range p.Messages {
		planned[m] = struct{}{}
	}

	var scheduled []string
	for _, s := range subs {
		if s.Err != nil {
			continue
		}
		if _, ok := planned[s.Message]; ok {
			scheduled = append(scheduled, s.Message.To)
		}
	}
	return UpdateStatistics(base, scheduled)
}
