package audience

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/alerts/internal/db"
	"github.com/lalithlochan/alerts/internal/metrics"
)

// Coordinator fans audience resolution out across the receiver categories
// of an alert and merges the results.
type Coordinator struct {
	resolvers Resolvers
	timeout   time.Duration
	logger    *zap.Logger
}

// NewCoordinator creates a coordinator. A zero timeout waits on resolvers
// for as long as the caller's context allows.
func NewCoordinator(resolvers Resolvers, timeout time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		resolvers: resolvers,
		timeout:   timeout,
		logger:    logger,
	}
}

// Resolve returns the unique phones targeted by an alert. If any resolver
// fails the whole resolution fails with a *ResolutionError and the other
// results are discarded.
func (c *Coordinator) Resolve(ctx context.Context, a *db.Alert) ([]string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	criteria := Criteria{Jurisdictions: a.JurisdictionIDs()}

	type task struct {
		receiver db.Receiver
		resolver Resolver
	}
	var tasks []task
	for _, receiver := range a.ReceiverSet() {
		res, ok := c.resolvers.For(receiver)
		if !ok {
			c.logger.Debug("no resolver wired for receiver",
				zap.String("alert_id", a.ID.String()),
				zap.String("receiver", string(receiver)),
			)
			continue
		}
		if _, unsupported := res.(Unsupported); unsupported {
			c.logger.Warn("receiver category is not supported, skipping",
				zap.String("alert_id", a.ID.String()),
				zap.String("receiver", string(receiver)),
			)
			continue
		}
		tasks = append(tasks, task{receiver: receiver, resolver: res})
	}

	results := make([][]string, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			phones, err := t.resolver.ResolvePhones(gctx, criteria)
			if err != nil {
				metrics.RecordResolverFailure(string(t.receiver))
				return &ResolutionError{Receiver: t.receiver, Err: err}
			}
			results[i] = phones
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Error("audience resolution failed",
			zap.Error(err),
			zap.String("alert_id", a.ID.String()),
		)
		return nil, err
	}

	phones := Merge(results...)

	c.logger.Debug("audience resolved",
		zap.String("alert_id", a.ID.String()),
		zap.Int("categories", len(tasks)),
		zap.Int("phones", len(phones)),
	)

	return phones, nil
}

// Merge concatenates phone lists, dropping empty entries and duplicates.
// First occurrence wins.
func Merge(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, p := range list {
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
