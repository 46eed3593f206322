package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/alerts/internal/db"
)

// fakeClock lets tests move time without sleeping
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := New(cfg, zap.NewNop())
	cb.now = clock.now
	return cb, clock
}

func trip(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.Allow()
		cb.RecordFailure()
	}
}

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	cb, _ := newTestBreaker(DefaultConfig("sns"))
	if cb.GetState() != StateClosed {
		t.Fatalf("expected closed, got %s", cb.GetState())
	}
	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestCircuitBreaker_Transitions(t *testing.T) {
	cfg := Config{Name: "sns", MaxFailures: 2, RecoveryTimeout: time.Minute}

	tests := []struct {
		name string
		run  func(cb *CircuitBreaker, clock *fakeClock)
		want State
	}{
		{
			name: "opens at threshold",
			run:  func(cb *CircuitBreaker, _ *fakeClock) { trip(cb, 2) },
			want: StateOpen,
		},
		{
			name: "stays closed below threshold",
			run:  func(cb *CircuitBreaker, _ *fakeClock) { trip(cb, 1) },
			want: StateClosed,
		},
		{
			name: "success resets the streak",
			run: func(cb *CircuitBreaker, _ *fakeClock) {
				trip(cb, 1)
				cb.Allow()
				cb.RecordSuccess()
				trip(cb, 1)
			},
			want: StateClosed,
		},
		{
			name: "half-open after recovery timeout",
			run: func(cb *CircuitBreaker, clock *fakeClock) {
				trip(cb, 2)
				clock.advance(time.Minute)
				cb.Allow()
			},
			want: StateHalfOpen,
		},
		{
			name: "probe success closes",
			run: func(cb *CircuitBreaker, clock *fakeClock) {
				trip(cb, 2)
				clock.advance(time.Minute)
				cb.Allow()
				cb.RecordSuccess()
			},
			want: StateClosed,
		},
		{
			name: "probe failure reopens",
			run: func(cb *CircuitBreaker, clock *fakeClock) {
				trip(cb, 2)
				clock.advance(time.Minute)
				cb.Allow()
				cb.RecordFailure()
			},
			want: StateOpen,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clock := newTestBreaker(cfg)
			tt.run(cb, clock)
			if got := cb.GetState(); got != tt.want {
				t.Errorf("state = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCircuitBreaker_RejectsWhileOpen(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "sns", MaxFailures: 2, RecoveryTimeout: time.Minute})
	trip(cb, 2)

	clock.advance(30 * time.Second)
	if cb.Allow() {
		t.Fatal("should reject before the recovery timeout")
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb, clock := newTestBreaker(Config{Name: "sns", MaxFailures: 1, RecoveryTimeout: time.Second, HalfOpenMaxRequests: 1})
	trip(cb, 1)
	clock.advance(time.Second)

	if !cb.Allow() {
		t.Fatal("first probe should be allowed")
	}
	if cb.Allow() {
		t.Fatal("second probe should be rejected")
	}
}

func TestCircuitBreaker_Execute(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "sns", MaxFailures: 1, RecoveryTimeout: time.Minute})
	boom := errors.New("provider down")

	if err := cb.Execute(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("fn must not run while open")
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, _ := newTestBreaker(Config{Name: "sns", MaxFailures: 5})
	cb.Allow()
	cb.RecordSuccess()
	cb.Allow()
	cb.RecordFailure()

	s := cb.Stats()
	if s.Name != "sns" || s.State != "closed" {
		t.Errorf("unexpected identity: %+v", s)
	}
	if s.TotalRequests != 2 || s.TotalSuccesses != 1 || s.TotalFailures != 1 || s.FailureCount != 1 {
		t.Errorf("unexpected counters: %+v", s)
	}
	if s.LastFailure == "" {
		t.Error("last failure should be set")
	}
}

func TestCircuitBreaker_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig("sns")
	if cfg.MaxFailures != 5 || cfg.RecoveryTimeout != 30*time.Second || cfg.HalfOpenMaxRequests != 1 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

// mockSender fails while err is set
type mockSender struct {
	calls int
	err   error
}

func (m *mockSender) Send(ctx context.Context, msg *db.Message) error {
	m.calls++
	return m.err
}

func testMessage() *db.Message {
	return &db.Message{ID: uuid.New(), BatchTag: uuid.NewString(), Channel: db.MethodSMS, To: "+255700000001"}
}

func TestProtectedSender_Lifecycle(t *testing.T) {
	inner := &mockSender{err: errors.New("throttled")}
	cb, clock := newTestBreaker(Config{Name: "sns", MaxFailures: 2, RecoveryTimeout: time.Minute})
	ps := NewProtectedSender(inner, cb, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := ps.Send(ctx, testMessage()); err == nil {
			t.Fatal("expected provider error")
		}
	}
	if ps.Breaker().GetState() != StateOpen {
		t.Fatalf("expected open, got %s", ps.Breaker().GetState())
	}

	if err := ps.Send(ctx, testMessage()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner sender should not be called while open, calls=%d", inner.calls)
	}

	inner.err = nil
	clock.advance(time.Minute)
	if err := ps.Send(ctx, testMessage()); err != nil {
		t.Fatalf("probe should pass: %v", err)
	}
	if ps.Breaker().GetState() != StateClosed {
		t.Fatalf("expected closed after probe, got %s", ps.Breaker().GetState())
	}
}
