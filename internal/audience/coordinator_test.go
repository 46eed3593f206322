package audience

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/db"
)

func static(phones ...string) Resolver {
	return ResolverFunc(func(context.Context, Criteria) ([]string, error) {
		return phones, nil
	})
}

func testAlert(receivers ...db.Receiver) *db.Alert {
	return &db.Alert{
		ID:            uuid.New(),
		Jurisdictions: []db.JurisdictionRef{{ID: uuid.New()}},
		Receivers:     receivers,
	}
}

func TestResolveDeduplicates(t *testing.T) {
	c := NewCoordinator(Resolvers{
		Employees: static("+1", "+1", "+2"),
		Customers: static("+2", "+3"),
	}, 0, zap.NewNop())

	phones, err := c.Resolve(context.Background(), testAlert(db.ReceiverEmployees, db.ReceiverCustomers))
	require.NoError(t, err)

	want := []string{"+1", "+2", "+3"}
	if diff := cmp.Diff(want, phones, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("phones mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveFailsFast(t *testing.T) {
	boom := errors.New("account service down")
	c := NewCoordinator(Resolvers{
		Employees: static("+1"),
		Customers: ResolverFunc(func(context.Context, Criteria) ([]string, error) {
			return nil, boom
		}),
	}, 0, zap.NewNop())

	phones, err := c.Resolve(context.Background(), testAlert(db.ReceiverEmployees, db.ReceiverCustomers))
	require.Error(t, err)
	assert.Nil(t, phones)
	assert.ErrorIs(t, err, boom)

	var rerr *ResolutionError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, db.ReceiverCustomers, rerr.Receiver)
}

func TestResolveSharesCriteriaAndRunsEachCategoryOnce(t *testing.T) {
	var calls atomic.Int32
	a := testAlert(db.ReceiverReporters, db.ReceiverReporters)

	c := NewCoordinator(Resolvers{
		Reporters: ResolverFunc(func(_ context.Context, crit Criteria) ([]string, error) {
			calls.Add(1)
			assert.Equal(t, a.JurisdictionIDs(), crit.Jurisdictions)
			return []string{"+9"}, nil
		}),
	}, 0, zap.NewNop())

	phones, err := c.Resolve(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, []string{"+9"}, phones)
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolveSkipsUnavailableAndUnsupported(t *testing.T) {
	c := NewCoordinator(Resolvers{Employees: static("+5")}, 0, zap.NewNop())

	phones, err := c.Resolve(context.Background(),
		testAlert(db.ReceiverSubscribers, db.ReceiverCustomers, db.ReceiverEmployees))
	require.NoError(t, err)
	assert.Equal(t, []string{"+5"}, phones)
}

func TestResolveEmptyAudience(t *testing.T) {
	c := NewCoordinator(Resolvers{}, 0, zap.NewNop())

	phones, err := c.Resolve(context.Background(), testAlert(db.ReceiverSubscribers))
	require.NoError(t, err)
	assert.NotNil(t, phones)
	assert.Empty(t, phones)
}

func TestResolveTimeout(t *testing.T) {
	c := NewCoordinator(Resolvers{
		Employees: ResolverFunc(func(ctx context.Context, _ Criteria) ([]string, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return []string{"+1"}, nil
			}
		}),
	}, 20*time.Millisecond, zap.NewNop())

	_, err := c.Resolve(context.Background(), testAlert(db.ReceiverEmployees))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolversForIsExhaustive(t *testing.T) {
	r := Resolvers{Reporters: static(), Customers: static(), Employees: static()}

	for _, receiver := range db.Receivers {
		res, ok := r.For(receiver)
		assert.True(t, ok, "receiver %s has no resolver", receiver)
		assert.NotNil(t, res)
	}

	res, _ := r.For(db.ReceiverSubscribers)
	assert.IsType(t, Unsupported{}, res)

	_, ok := r.For("Neighbours")
	assert.False(t, ok)
}

func TestMerge(t *testing.T) {
	got := Merge([]string{"+1", "", "+2"}, nil, []string{"+2", "+1", "+3"})
	sort.Strings(got)
	assert.Equal(t, []string{"+1", "+2", "+3"}, got)
	assert.NotNil(t, Merge())
}
