package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersAndGauge(t *testing.T) {
	t.Parallel()

	m := New()

	m.Received.WithLabelValues("media").Inc()
	m.Received.WithLabelValues("media").Inc()
	m.Received.WithLabelValues("game").Inc()
	m.QueueDepth.Set(3)

	if got := testutil.ToFloat64(m.Received.WithLabelValues("media")); got != 2 {
		t.Errorf("received{media} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Received.WithLabelValues("game")); got != 1 {
		t.Errorf("received{game} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth); got != 3 {
		t.Errorf("queue_depth = %v, want 3", got)
	}
}

func TestIsolatedRegistries(t *testing.T) {
	t.Parallel()

	// Two instances must not share state or panic on double registration.
	a, b := New(), New()
	a.Sent.WithLabelValues("batch").Inc()
	if got := testutil.ToFloat64(b.Sent.WithLabelValues("batch")); got != 0 {
		t.Errorf("second instance sent{batch} = %v, want 0", got)
	}
}
