package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PhoneQuery selects contact phones from one audience table.
type PhoneQuery struct {
	Table             string
	PhoneColumn       string
	Jurisdictions     []uuid.UUID
	IncludeUnassigned bool
}

// SQL renders the query and its arguments.
func (q PhoneQuery) SQL() (string, []any) {
	cond := "jurisdiction_id = ANY($1::uuid[])"
	if q.IncludeUnassigned {
		cond = "(" + cond + " OR jurisdiction_id IS NULL)"
	}
	query := fmt.Sprintf(
		`SELECT DISTINCT %[1]s FROM %[2]s WHERE %[3]s AND %[1]s IS NOT NULL AND %[1]s <> ''`,
		q.PhoneColumn, q.Table, cond,
	)
	return query, []any{uuidStrings(q.Jurisdictions)}
}

// Audience tables.
var (
	PartyPhones          = PhoneQuery{Table: "parties", PhoneColumn: "phone"}
	AccountPhones        = PhoneQuery{Table: "accounts", PhoneColumn: "phone"}
	ServiceRequestPhones = PhoneQuery{Table: "service_requests", PhoneColumn: "reporter_phone"}
)

// Phones runs q and returns the matching phone numbers. The result is never nil.
func (r *Repository) Phones(ctx context.Context, q PhoneQuery) ([]string, error) {
	query, args := q.SQL()

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s phones: %w", q.Table, err)
	}
	defer rows.Close()

	phones := []string{}
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, fmt.Errorf("scan %s phone: %w", q.Table, err)
		}
		phones = append(phones, phone)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return phones, nil
}
