package db

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestPhoneQuerySQL(t *testing.T) {
	j1 := uuid.New()

	tests := []struct {
		name       string
		query      PhoneQuery
		wantNull   bool
		wantColumn string
		wantTable  string
	}{
		{
			name:       "employees include unassigned parties",
			query:      PhoneQuery{Table: "parties", PhoneColumn: "phone", Jurisdictions: []uuid.UUID{j1}, IncludeUnassigned: true},
			wantNull:   true,
			wantColumn: "phone",
			wantTable:  "parties",
		},
		{
			name:       "customers stay within jurisdictions",
			query:      PhoneQuery{Table: "accounts", PhoneColumn: "phone", Jurisdictions: []uuid.UUID{j1}},
			wantNull:   false,
			wantColumn: "phone",
			wantTable:  "accounts",
		},
		{
			name:       "reporters read reporter phone",
			query:      PhoneQuery{Table: "service_requests", PhoneColumn: "reporter_phone", Jurisdictions: []uuid.UUID{j1}},
			wantNull:   false,
			wantColumn: "reporter_phone",
			wantTable:  "service_requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := tt.query.SQL()

			if got := strings.Contains(sql, "jurisdiction_id IS NULL"); got != tt.wantNull {
				t.Errorf("unassigned clause present = %v, want %v\n%s", got, tt.wantNull, sql)
			}
			if !strings.Contains(sql, "SELECT DISTINCT "+tt.wantColumn+" FROM "+tt.wantTable) {
				t.Errorf("unexpected projection: %s", sql)
			}
			if len(args) != 1 {
				t.Fatalf("expected 1 arg, got %d", len(args))
			}
			ids, ok := args[0].([]string)
			if !ok || len(ids) != 1 || ids[0] != j1.String() {
				t.Errorf("unexpected jurisdiction arg: %#v", args[0])
			}
		})
	}
}
