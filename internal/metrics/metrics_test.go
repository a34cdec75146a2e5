package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetrics_NilSafe verifies that every recording method is a no-op on a
// nil receiver.
func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	// none of these may panic
	m.FetchSucceeded("golang", 3)
	m.FetchFailed("golang")
	m.ItemProcessed("golang")
	m.ProcessingFailed("golang")
	m.ItemDropped("golang")
	m.QuotaUpdated(10)
	m.QuotaWaited(time.Second)
	m.TrackerTransition("idle", "running")

	if m.Registry() != nil {
		t.Error("Registry() on nil Metrics should be nil")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("nil Handler() status = %d, want 404", rec.Code)
	}
}

func TestMetrics_Fetches(t *testing.T) {
	m := New()

	m.FetchSucceeded("golang", 25)
	m.FetchSucceeded("golang", 5)
	m.FetchFailed("golang")

	if got := testutil.ToFloat64(m.fetches.WithLabelValues("golang", ResultOK)); got != 2 {
		t.Errorf("ok fetches = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.fetches.WithLabelValues("golang", ResultError)); got != 1 {
		t.Errorf("failed fetches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.itemsFetched.WithLabelValues("golang")); got != 30 {
		t.Errorf("items fetched = %v, want 30", got)
	}
}

func TestMetrics_TrackerTransition(t *testing.T) {
	m := New()

	m.TrackerTransition("", "idle")
	m.TrackerTransition("idle", "running")
	m.TrackerTransition("", "idle")

	if got := testutil.ToFloat64(m.trackers.WithLabelValues("idle")); got != 1 {
		t.Errorf("idle trackers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.trackers.WithLabelValues("running")); got != 1 {
		t.Errorf("running trackers = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.QuotaUpdated(42)
	m.ItemProcessed("golang")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"subtrack_quota_remaining 42",
		`subtrack_items_processed_total{subreddit="golang"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
