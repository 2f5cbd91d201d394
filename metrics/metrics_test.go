package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRequest(t *testing.T) {
	m := New()
	m.ObserveRequest("save_card", "ok", 20*time.Millisecond)
	m.ObserveRequest("save_card", "ok", 30*time.Millisecond)
	m.ObserveRequest("save_card", "error", time.Millisecond)

	if got := testutil.ToFloat64(m.apiRequests.WithLabelValues("save_card", "ok")); got != 2 {
		t.Errorf("ok count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.apiRequests.WithLabelValues("save_card", "error")); got != 1 {
		t.Errorf("error count = %v, want 1", got)
	}
}

func TestConfirmationsAndAttempts(t *testing.T) {
	m := New()
	m.ObserveConfirmation("payment", "failed")
	m.ObserveAttempt("card_saving", "succeeded")

	if got := testutil.ToFloat64(m.confirmations.WithLabelValues("payment", "failed")); got != 1 {
		t.Errorf("confirmations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.stepAttempts.WithLabelValues("card_saving", "succeeded")); got != 1 {
		t.Errorf("attempts = %v, want 1", got)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) != 2 {
		t.Errorf("Expected 2 metric families with samples, got %d", len(families))
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("x", "ok", time.Second)
	m.ObserveConfirmation("setup", "succeeded")
	m.ObserveAttempt("x", "failed")
}
