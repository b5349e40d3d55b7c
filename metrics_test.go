package authflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/internal/authtest"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricCodeSent)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricCodeSent); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		40 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
		900 * time.Millisecond,
		2 * time.Second,
		10 * time.Second,
	}
	for _, d := range observations {
		m.Observe(MetricAuthorityLatency, d)
	}
	// Only the authority latency has a histogram.
	m.Observe(MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricAuthorityLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
	if _, ok := snap.Histograms[MetricLoginSuccess]; ok {
		t.Fatal("unexpected histogram for a counter")
	}
	if _, ok := snap.Counters[MetricAuthorityLatency]; ok {
		t.Fatal("latency must not appear as a counter")
	}
}

func TestMetricsLatencyDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricAuthorityLatency, time.Millisecond)
	if _, ok := m.Snapshot().Histograms[MetricAuthorityLatency]; ok {
		t.Fatal("expected no histogram when latency histograms are off")
	}
}

func TestClientMetricsFollowFlow(t *testing.T) {
	h := newHarness(t, authtest.Options{})
	h.account(authtest.Account{Username: "vera", Email: "vera@example.com", Password: testPassword, Verified: true})
	c := h.tab("tab", nil)
	ctx := context.Background()

	_ = c.Login(ctx, "vera", "Wrong-Pass1")
	c.Dismiss()
	if err := c.Login(ctx, "vera", testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}

	snap := c.MetricsSnapshot()
	if snap.Counters[MetricLoginSuccess] != 1 || snap.Counters[MetricLoginFailure] != 1 {
		t.Fatalf("unexpected login counters %+v", snap.Counters)
	}
	var samples uint64
	for _, v := range snap.Histograms[MetricAuthorityLatency] {
		samples += v
	}
	if samples != 2 {
		t.Fatalf("expected two authority latency samples, got %d", samples)
	}
}

func TestClientMetricsDisabledByBuilder(t *testing.T) {
	h := newHarness(t, authtest.Options{})
	h.account(authtest.Account{Username: "wes", Email: "wes@example.com", Password: testPassword, Verified: true})
	c := h.tab("tab", nil, func(b *Builder) { b.WithMetricsEnabled(false) })

	if err := c.Login(context.Background(), "wes", testPassword); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if n := len(c.MetricsSnapshot().Counters); n != 0 {
		t.Fatalf("expected no counters, got %d", n)
	}
}
