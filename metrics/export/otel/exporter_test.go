package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/authflow"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot authflow.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() authflow.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := authflow.MetricsSnapshot{
		Counters:   make(map[authflow.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[authflow.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, b := range f.snapshot.Histograms {
		out.Histograms[k] = append([]uint64(nil), b...)
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func newReader() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func findSum(rm metricdata.ResourceMetrics, name string) (metricdata.DataPoint[int64], bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if s, ok := m.Data.(metricdata.Sum[int64]); ok && len(s.DataPoints) > 0 {
				return s.DataPoints[0], true
			}
		}
	}
	return metricdata.DataPoint[int64]{}, false
}

func findGauge(rm metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && len(g.DataPoints) > 0 {
				return g.DataPoints[0].Value, true
			}
		}
	}
	return 0, false
}

func TestExporterCollectsCountersAndBuckets(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{
		snapshot: authflow.MetricsSnapshot{
			Counters: map[authflow.MetricID]uint64{authflow.MetricLoginSuccess: 3},
			Histograms: map[authflow.MetricID][]uint64{
				authflow.MetricAuthorityLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewExporter(provider.Meter("authflow-test"), src, attribute.String("tab", "t1"))
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	dp, ok := findSum(rm, "authflow_login_success_total")
	if !ok || dp.Value != 3 {
		t.Fatalf("login success = %+v, %v", dp, ok)
	}
	if v, ok := dp.Attributes.Value("tab"); !ok || v.AsString() != "t1" {
		t.Fatalf("missing tab attribute: %v", dp.Attributes)
	}
	if v, ok := findGauge(rm, "authflow_authority_latency_seconds_bucket_le_0_1"); !ok || v != 3 {
		t.Fatalf("bucket le 0.1 = %d, %v", v, ok)
	}
	if v, ok := findGauge(rm, "authflow_authority_latency_seconds_count"); !ok || v != 8 {
		t.Fatalf("count = %d, %v", v, ok)
	}
	if dp, ok := findSum(rm, "authflow_audit_dropped_total"); !ok || dp.Value != 1 {
		t.Fatalf("dropped = %+v, %v", dp, ok)
	}
}

func TestExporterRejectsNilArguments(t *testing.T) {
	_, provider := newReader()
	if _, err := NewExporter(provider.Meter("authflow-test"), nil); err != ErrNilSource {
		t.Fatalf("err = %v, want ErrNilSource", err)
	}
	if _, err := NewExporter(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("err = %v, want ErrNilMeter", err)
	}
}

func TestExporterConcurrentCollect(t *testing.T) {
	reader, provider := newReader()
	src := &fakeSource{snapshot: authflow.MetricsSnapshot{
		Counters: map[authflow.MetricID]uint64{authflow.MetricLoginSuccess: 1},
	}}
	exp, err := NewExporter(provider.Meter("authflow-test"), src)
	if err != nil {
		t.Fatalf("NewExporter: %v", err)
	}
	defer exp.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[authflow.MetricLoginSuccess] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
