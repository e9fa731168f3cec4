package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsPrivateRegistry(t *testing.T) {
	// Two instances on separate registries must not collide
	m1 := NewMetrics(prometheus.NewRegistry())
	m2 := NewMetrics(prometheus.NewRegistry())

	m1.RecordOverflows(3)
	m2.RecordOverflows(1)

	if got := testutil.ToFloat64(m1.RingOverflows); got != 3 {
		t.Errorf("Expected 3 overflows, got %f", got)
	}
	if got := testutil.ToFloat64(m2.RingOverflows); got != 1 {
		t.Errorf("Expected 1 overflow, got %f", got)
	}
}

func TestRecordSegmentCompleted(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordSegmentCompleted("manual", 4.2, true)
	m.RecordSegmentCompleted("vad", 1.1, false)

	if got := testutil.ToFloat64(m.SegmentsCompleted.WithLabelValues("manual")); got != 1 {
		t.Errorf("Expected 1 manual segment, got %f", got)
	}
	if got := testutil.ToFloat64(m.SegmentTrimmed); got != 1 {
		t.Errorf("Expected 1 trimmed segment, got %f", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordOverflows(1)
	m.RecordDrain(1, 1, 0.01)
	m.RecordVADVerdict(true)
	m.RecordSegmentStarted("vad")
	m.RecordCrossfade("loop")
	m.RecordHTTPRequest("GET", "/health", "200", 0.001)
}
