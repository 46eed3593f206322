package alert

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/lalithlochan/alerts/internal/db"
)

// JurisdictionLookup resolves jurisdiction references.
type JurisdictionLookup interface {
	JurisdictionsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]db.Jurisdiction, error)
}

// Validator normalizes an alert and enforces its field rules.
type Validator struct {
	jurisdictions JurisdictionLookup
}

// NewValidator creates a validator. A nil lookup skips reference checks.
func NewValidator(jurisdictions JurisdictionLookup) *Validator {
	return &Validator{jurisdictions: jurisdictions}
}

// Validate normalizes a in place and returns a *ValidationError naming every
// failing field. On success the statistics skeleton is in place.
func (v *Validator) Validate(ctx context.Context, a *db.Alert) error {
	verr := &ValidationError{}

	a.Subject = strings.TrimSpace(a.Subject)
	a.Message = strings.TrimSpace(a.Message)
	if a.Subject == "" {
		verr.add("subject", "is required")
	}
	if a.Message == "" {
		verr.add("message", "is required")
	}

	a.Jurisdictions = dedupJurisdictions(a.Jurisdictions)
	if len(a.Jurisdictions) == 0 {
		verr.add("jurisdictions", "at least one jurisdiction is required")
	}

	if len(a.Methods) == 0 {
		a.Methods = []db.Method{db.MethodSMS}
	} else if a.Methods = dedup(a.Methods); len(a.Methods) == 0 {
		verr.add("methods", "at least one method is required")
	}
	for _, m := range a.Methods {
		if !slices.Contains(db.Methods, m) {
			verr.add("methods", fmt.Sprintf("unknown method %q", m))
		}
	}

	a.Receivers = dedup(a.Receivers)
	if len(a.Receivers) == 0 {
		verr.add("receivers", "at least one receiver is required")
	}
	for _, r := range a.Receivers {
		if !slices.Contains(db.Receivers, r) {
			verr.add("receivers", fmt.Sprintf("unknown receiver %q", r))
		}
	}

	for m, c := range a.Statistics {
		if c.Sent < 0 || c.Delivered < 0 || c.Failed < 0 {
			verr.add("statistics", fmt.Sprintf("counters for %s must not be negative", m))
		}
	}

	if len(a.Jurisdictions) > 0 && v.jurisdictions != nil {
		found, err := v.jurisdictions.JurisdictionsByID(ctx, a.JurisdictionIDs())
		if err != nil {
			return fmt.Errorf("check jurisdictions: %w", err)
		}
		for i, ref := range a.Jurisdictions {
			j, ok := found[ref.ID]
			if !ok {
				verr.add("jurisdictions", fmt.Sprintf("jurisdiction %s not found", ref.ID))
				continue
			}
			a.Jurisdictions[i] = db.JurisdictionRef(j)
		}
	}

	if !verr.empty() {
		return verr
	}

	EnsureStatistics(a)
	return nil
}

// EnsureStatistics seeds a zeroed counter per method when statistics is
// empty. Populated statistics are left alone.
func EnsureStatistics(a *db.Alert) {
	if len(a.Statistics) > 0 || len(a.Methods) == 0 {
		return
	}
	a.Statistics = make(db.Statistics, len(a.Methods))
	for _, m := range a.Methods {
		a.Statistics[m] = db.Counters{}
	}
}

func dedup[T comparable](in []T) []T {
	var zero T
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if v == zero {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func dedupJurisdictions(in []db.JurisdictionRef) []db.JurisdictionRef {
	seen := make(map[uuid.UUID]struct{}, len(in))
	out := make([]db.JurisdictionRef, 0, len(in))
	for _, j := range in {
		if j.ID == uuid.Nil {
			continue
		}
		if _, ok := seen[j.ID]; ok {
			continue
		}
		seen[j.ID] = struct{}{}
		out = append(out, j)
	}
	return out
}
