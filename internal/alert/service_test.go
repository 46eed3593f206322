package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/db"
)

// memStore is an in-memory Store
type memStore struct {
	mu            sync.Mutex
	jurisdictions map[uuid.UUID]db.Jurisdiction
	alerts        map[uuid.UUID]*db.Alert
	messages      map[string]int
	conflicts     int // number of upcoming ReplaceAlert calls to fail with a revision conflict
}

func newMemStore(js ...db.Jurisdiction) *memStore {
	s := &memStore{
		jurisdictions: make(map[uuid.UUID]db.Jurisdiction),
		alerts:        make(map[uuid.UUID]*db.Alert),
		messages:      make(map[string]int),
	}
	for _, j := range js {
		s.jurisdictions[j.ID] = j
	}
	return s
}

func (s *memStore) JurisdictionsByID(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]db.Jurisdiction, error) {
	out := make(map[uuid.UUID]db.Jurisdiction)
	for _, id := range ids {
		if j, ok := s.jurisdictions[id]; ok {
			out[id] = j
		}
	}
	return out, nil
}

func (s *memStore) CreateAlert(_ context.Context, a *db.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.Revision = 1
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *memStore) GetAlert(_ context.Context, id uuid.UUID) (*db.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.DeletedAt != nil {
		return nil, db.ErrNotFound
	}
	cp := *a
	cp.Statistics = a.Statistics.Clone()
	return &cp, nil
}

func (s *memStore) ListAlerts(_ context.Context, opts db.ListOptions) (*db.Page, error) {
	return &db.Page{Limit: opts.Limit, Skip: opts.Skip, Data: []*db.Alert{}}, nil
}

func (s *memStore) ReplaceAlert(_ context.Context, a *db.Alert, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.alerts[a.ID]
	if !ok || cur.DeletedAt != nil {
		return db.ErrNotFound
	}
	if s.conflicts > 0 {
		s.conflicts--
		cur.Revision++
		return db.ErrRevisionConflict
	}
	if cur.Revision != expected {
		return db.ErrRevisionConflict
	}
	a.Revision = expected + 1
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *memStore) UpdateAlertStatistics(_ context.Context, id uuid.UUID, stats db.Statistics, expected int64) (*db.Alert, error) {
	return nil, errors.New("not used")
}

func (s *memStore) SoftDeleteAlert(_ context.Context, id uuid.UUID) (*db.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok || a.DeletedAt != nil {
		return nil, db.ErrNotFound
	}
	now := time.Now()
	a.DeletedAt = &now
	cp := *a
	return &cp, nil
}

func (s *memStore) CountMessagesByBatch(_ context.Context, batchTag string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[batchTag], nil
}

func testJurisdiction() db.Jurisdiction {
	return db.Jurisdiction{ID: uuid.New(), Code: "ILA", Name: "Ilala"}
}

func TestServiceCreate(t *testing.T) {
	j := testJurisdiction()
	svc := NewService(newMemStore(j), zap.NewNop())

	created, err := svc.Create(context.Background(), &db.Alert{
		Jurisdictions: []db.JurisdictionRef{{ID: j.ID}},
		Subject:       "  Water outage ",
		Message:       "No water until 6pm",
		Receivers:     []db.Receiver{db.ReceiverEmployees},
	})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "Water outage", created.Subject)
	assert.Equal(t, []db.Method{db.MethodSMS}, created.Methods)
	assert.Equal(t, db.JurisdictionRef{ID: j.ID, Code: "ILA", Name: "Ilala"}, created.Jurisdictions[0])
	assert.Equal(t, int64(1), created.Revision)
	if diff := cmp.Diff(db.Statistics{db.MethodSMS: {}}, created.Statistics); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}
}

func TestServicePatchRetriesOnConflict(t *testing.T) {
	j := testJurisdiction()
	store := newMemStore(j)
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	created, err := svc.Create(ctx, &db.Alert{
		Jurisdictions: []db.JurisdictionRef{{ID: j.ID}},
		Subject:       "Outage",
		Message:       "Details",
		Receivers:     []db.Receiver{db.ReceiverCustomers},
	})
	require.NoError(t, err)

	store.conflicts = 1
	subject := "Outage extended"
	patched, err := svc.Patch(ctx, created.ID, Patch{Subject: &subject})
	require.NoError(t, err)

	assert.Equal(t, "Outage extended", patched.Subject)
	assert.Equal(t, "Details", patched.Message)
	assert.Equal(t, int64(3), patched.Revision)
}

func TestServicePatchKeepsStatisticsWhenMethodsChange(t *testing.T) {
	j := testJurisdiction()
	svc := NewService(newMemStore(j), zap.NewNop())
	ctx := context.Background()

	created, err := svc.Create(ctx, &db.Alert{
		Jurisdictions: []db.JurisdictionRef{{ID: j.ID}},
		Subject:       "Outage",
		Message:       "Details",
		Receivers:     []db.Receiver{db.ReceiverCustomers},
	})
	require.NoError(t, err)

	methods := []db.Method{db.MethodSMS, db.MethodPush}
	patched, err := svc.Patch(ctx, created.ID, Patch{Methods: &methods})
	require.NoError(t, err)

	assert.Equal(t, methods, patched.Methods)
	assert.Equal(t, db.Statistics{db.MethodSMS: {}}, patched.Statistics)
}

func TestServiceNotFound(t *testing.T) {
	svc := NewService(newMemStore(), zap.NewNop())
	ctx := context.Background()
	id := uuid.New()

	_, err := svc.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	subject := "x"
	_, err = svc.Patch(ctx, id, Patch{Subject: &subject})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Put(ctx, id, &db.Alert{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Delete(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceDeleteGuard(t *testing.T) {
	j := testJurisdiction()
	store := newMemStore(j)
	svc := NewService(store, zap.NewNop())
	ctx := context.Background()

	created, err := svc.Create(ctx, &db.Alert{
		Jurisdictions: []db.JurisdictionRef{{ID: j.ID}},
		Subject:       "Outage",
		Message:       "Details",
		Receivers:     []db.Receiver{db.ReceiverEmployees},
	})
	require.NoError(t, err)

	store.messages[created.ID.String()] = 1

	_, err = svc.Delete(ctx, created.ID)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.Count)
	assert.Contains(t, err.Error(), "1 messages depend on it")

	delete(store.messages, created.ID.String())

	deleted, err := svc.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.NotNil(t, deleted.DeletedAt)

	_, err = svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNormalizeListOptions(t *testing.T) {
	tests := []struct {
		name string
		in   db.ListOptions
		want db.ListOptions
	}{
		{name: "defaults", in: db.ListOptions{}, want: db.ListOptions{Limit: 10, Sort: "-createdAt"}},
		{name: "caps limit", in: db.ListOptions{Limit: 1000, Sort: "subject"}, want: db.ListOptions{Limit: 100, Sort: "subject"}},
		{name: "negative skip", in: db.ListOptions{Limit: 5, Skip: -3, Sort: "bogus"}, want: db.ListOptions{Limit: 5, Sort: "-createdAt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeListOptions(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
