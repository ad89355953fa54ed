package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c *prometheus.CounterVec, stream string) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.WithLabelValues(stream).Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	before := counterValue(t, framesRead, "obs-test")
	RecordFrameRead("obs-test")
	RecordFrameRead("obs-test")
	if got := counterValue(t, framesRead, "obs-test") - before; got != 2 {
		t.Fatalf("frames read delta = %v, want 2", got)
	}

	RecordFrameCached("obs-test", 3)
	RecordCacheHit("obs-test", 2)
	var g dto.Metric
	if err := cacheSize.WithLabelValues("obs-test").Write(&g); err != nil {
		t.Fatalf("read gauge: %v", err)
	}
	if g.GetGauge().GetValue() != 2 {
		t.Fatalf("cache size = %v, want 2", g.GetGauge().GetValue())
	}

	RecordDispatch("obs-test")
	RecordGetTimeout("obs-test")
	RecordWorkerError("obs-test")
	SetCacheSize("obs-test", 0)
}
