package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSessionTransitionGauge(t *testing.T) {
	gauge := activeSessions.WithLabelValues("test-kind")
	before := testutil.ToFloat64(gauge)

	SessionTransition("test-kind", false, true)
	SessionTransition("test-kind", true, true)
	if got := testutil.ToFloat64(gauge); got != before+1 {
		t.Fatalf("expected gauge %v, got %v", before+1, got)
	}

	SessionTransition("test-kind", true, false)
	if got := testutil.ToFloat64(gauge); got != before {
		t.Fatalf("expected gauge back to %v, got %v", before, got)
	}
}

func TestAlertDeliveredOutcomes(t *testing.T) {
	sent := testutil.ToFloat64(alertDeliveries.WithLabelValues("sms", "sent"))
	failed := testutil.ToFloat64(alertDeliveries.WithLabelValues("sms", "failed"))

	AlertDelivered("sms", true)
	AlertDelivered("sms", false)
	AlertDelivered("sms", false)

	if got := testutil.ToFloat64(alertDeliveries.WithLabelValues("sms", "sent")); got != sent+1 {
		t.Fatalf("unexpected sent count %v", got)
	}
	if got := testutil.ToFloat64(alertDeliveries.WithLabelValues("sms", "failed")); got != failed+2 {
		t.Fatalf("unexpected failed count %v", got)
	}
}
