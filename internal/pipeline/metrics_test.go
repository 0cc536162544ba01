package pipeline

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_countersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.FramesProcessed.Inc()
	m.FramesProcessed.Inc()
	m.RegionsSealed.Inc()

	if got := testutil.ToFloat64(m.FramesProcessed); got != 2 {
		t.Errorf("FramesProcessed = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RegionsSealed); got != 1 {
		t.Errorf("RegionsSealed = %v, want 1", got)
	}
}
