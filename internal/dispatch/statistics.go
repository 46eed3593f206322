package dispatch

import "github.com/lalithlochan/alerts/internal/db"

// UpdateStatistics returns the counters after targeting phones. An empty
// audience leaves existing untouched. Otherwise SMS sent is set (not added)
// to the number of phones; delivered and failed are carried over.
func UpdateStatistics(existing db.Statistics, phones []string) db.Statistics {
	if len(phones) == 0 {
		return existing
	}

	out := existing.Clone()
	sms := out[db.MethodSMS]
	sms.Sent = len(phones)
	out[db.MethodSMS] = sms
	return out
}
