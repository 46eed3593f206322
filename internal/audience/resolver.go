package audience

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lalithlochan/alerts/internal/db"
)

// Criteria is the jurisdiction scope shared by every resolver of a dispatch.
type Criteria struct {
	Jurisdictions []uuid.UUID
}

// Resolver looks up the contact phones of one receiver category.
// Implementations return an empty, non-nil slice when nothing matches.
type Resolver interface {
	ResolvePhones(ctx context.Context, c Criteria) ([]string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, c Criteria) ([]string, error)

// ResolvePhones calls f.
func (f ResolverFunc) ResolvePhones(ctx context.Context, c Criteria) ([]string, error) {
	return f(ctx, c)
}

// Unsupported marks a receiver category that has no audience directory.
// It contributes no phones.
type Unsupported struct {
	Receiver db.Receiver
}

// ResolvePhones returns no phones.
func (Unsupported) ResolvePhones(context.Context, Criteria) ([]string, error) {
	return []string{}, nil
}

// Resolvers wires one resolver per receiver category. A nil field means the
// backing directory is not available and the category contributes no phones.
type Resolvers struct {
	Reporters Resolver
	Customers Resolver
	Employees Resolver
}

// For returns the resolver of a receiver category and whether one is wired.
func (r Resolvers) For(receiver db.Receiver) (Resolver, bool) {
	var res Resolver
	switch receiver {
	case db.ReceiverReporters:
		res = r.Reporters
	case db.ReceiverCustomers:
		res = r.Customers
	case db.ReceiverEmployees:
		res = r.Employees
	case db.ReceiverSubscribers:
		res = Unsupported{Receiver: receiver}
	default:
		return nil, false
	}
	return res, res != nil
}

// ResolutionError reports the receiver category whose lookup failed.
type ResolutionError struct {
	Receiver db.Receiver
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s phones: %v", e.Receiver, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}
