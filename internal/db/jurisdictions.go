package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// JurisdictionsByID loads the jurisdictions with the given ids. Unknown ids
// are simply absent from the result.
func (r *Repository) JurisdictionsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Jurisdiction, error) {
	found := make(map[uuid.UUID]Jurisdiction, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	rows, err := r.db.Pool().Query(ctx,
		`SELECT id, code, name FROM jurisdictions WHERE id = ANY($1::uuid[])`,
		uuidStrings(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("query jurisdictions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var j Jurisdiction
		if err := rows.Scan(&j.ID, &j.Code, &j.Name); err != nil {
			return nil, fmt.Errorf("scan jurisdiction: %w", err)
		}
		found[j.ID] = j
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return found, nil
}
