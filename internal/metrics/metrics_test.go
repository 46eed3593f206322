package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/alerts", 200, 100*time.Millisecond)
	RecordRequest("POST", "/alerts", 201, 50*time.Millisecond)
	RecordRequest("GET", "/alerts/{id}", 404, 10*time.Millisecond)

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/alerts/{id}", "404")); got < 1 {
		t.Errorf("expected request counter to be recorded, got %v", got)
	}
}

func TestRecordResolverFailure(t *testing.T) {
	before := testutil.ToFloat64(resolverFailures.WithLabelValues("Customers"))
	RecordResolverFailure("Customers")
	after := testutil.ToFloat64(resolverFailures.WithLabelValues("Customers"))

	if after-before != 1 {
		t.Errorf("expected one failure recorded, got %v", after-before)
	}
}

func TestRecordSubmission(t *testing.T) {
	okBefore := testutil.ToFloat64(submissions.WithLabelValues("ok"))
	failedBefore := testutil.ToFloat64(submissions.WithLabelValues("failed"))

	RecordSubmission(true)
	RecordSubmission(true)
	RecordSubmission(false)

	if got := testutil.ToFloat64(submissions.WithLabelValues("ok")) - okBefore; got != 2 {
		t.Errorf("expected 2 ok submissions, got %v", got)
	}
	if got := testutil.ToFloat64(submissions.WithLabelValues("failed")) - failedBefore; got != 1 {
		t.Errorf("expected 1 failed submission, got %v", got)
	}
}

func TestDispatchAndDeliveryRecorders(t *testing.T) {
	RecordDispatch("sent")
	RecordDispatch("resolution_failed")
	RecordPhonesResolved(12)
	RecordMessageProcessed("sent", "SMS")
	RecordMessageProcessed("retry", "SMS")
	RecordMessageLatency("SMS", 2*time.Second)
	SetSQSMessagesInFlight(3)
	SetSQSMessagesInFlight(0)
	RecordIdempotencyHit()
	RecordRateLimitRejection()
	SetDBConnections(4)
	SetRedisConnections(2)
}

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Fatal("Handler should not return nil")
	}

	RecordDispatch("sent")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "alerts_dispatched_total") {
		t.Error("metrics response should expose alerts_dispatched_total")
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/alerts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/alerts/{id}", "418"))

	req := httptest.NewRequest("GET", "/alerts/6f1c2a8e-0000-4000-8000-000000000001", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected status 418, got %d", rec.Code)
	}

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/alerts/{id}", "418"))
	if after-before != 1 {
		t.Errorf("expected request labelled by route pattern, delta %v", after-before)
	}
}

func TestMiddlewareUnmatched(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "unmatched", "201"))

	req := httptest.NewRequest("POST", "/test", nil)
	rec := httptest.NewRecorder()
	Middleware(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "unmatched", "201")); after-before != 1 {
		t.Errorf("expected unmatched label, delta %v", after-before)
	}
}

func TestResponseWriter_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Write([]byte("test"))

	if rw.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.status)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}
