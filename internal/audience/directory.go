package audience

import (
	"context"

	"github.com/lalithlochan/alerts/internal/db"
)

// PhoneSource runs phone queries against the audience tables.
type PhoneSource interface {
	Phones(ctx context.Context, q db.PhoneQuery) ([]string, error)
}

// Directory resolves phones from a local audience table.
type Directory struct {
	source PhoneSource
	query  db.PhoneQuery
}

// NewDirectory creates a table-backed resolver. includeUnassigned widens the
// match to records with no jurisdiction.
func NewDirectory(source PhoneSource, query db.PhoneQuery, includeUnassigned bool) *Directory {
	query.IncludeUnassigned = includeUnassigned
	return &Directory{source: source, query: query}
}

// ResolvePhones implements Resolver
func (d *Directory) ResolvePhones(ctx context.Context, c Criteria) ([]string, error) {
	q := d.query
	q.Jurisdictions = c.Jurisdictions

	phones, err := d.source.Phones(ctx, q)
	if err != nil {
		return nil, err
	}
	if phones == nil {
		phones = []string{}
	}
	return phones, nil
}

// LocalResolvers wires every category to its Postgres audience table.
// Employees also match parties without a jurisdiction.
func LocalResolvers(source PhoneSource) Resolvers {
	return Resolvers{
		Reporters: NewDirectory(source, db.ServiceRequestPhones, false),
		Customers: NewDirectory(source, db.AccountPhones, false),
		Employees: NewDirectory(source, db.PartyPhones, true),
	}
}
