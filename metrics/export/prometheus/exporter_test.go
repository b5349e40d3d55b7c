package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authflow"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeSource struct {
	snapshot authflow.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authflow.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func scrape(t *testing.T, src MetricsSource, labels prometheus.Labels) string {
	t.Helper()
	h, err := Handler(src, labels)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(body)
}

func TestScrapeIncludesCountersAndHistogram(t *testing.T) {
	out := scrape(t, fakeSource{
		snapshot: authflow.MetricsSnapshot{
			Counters: map[authflow.MetricID]uint64{
				authflow.MetricLoginSuccess: 7,
				authflow.MetricCodeExpired:  2,
			},
			Histograms: map[authflow.MetricID][]uint64{
				authflow.MetricAuthorityLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 3,
	}, nil)

	for _, want := range []string{
		"authflow_login_success_total 7",
		"authflow_code_expired_total 2",
		"authflow_refresh_failure_total 0",
		`authflow_authority_latency_seconds_bucket{le="0.025"} 1`,
		`authflow_authority_latency_seconds_bucket{le="0.05"} 3`,
		`authflow_authority_latency_seconds_bucket{le="2.5"} 28`,
		`authflow_authority_latency_seconds_bucket{le="+Inf"} 36`,
		"authflow_authority_latency_seconds_count 36",
		"authflow_audit_dropped_total 3",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, out)
		}
	}
}

func TestScrapeOmitsHistogramWhenLatencyDisabled(t *testing.T) {
	out := scrape(t, fakeSource{snapshot: authflow.MetricsSnapshot{
		Counters:   map[authflow.MetricID]uint64{},
		Histograms: map[authflow.MetricID][]uint64{},
	}}, nil)
	if strings.Contains(out, "authflow_authority_latency_seconds_bucket") {
		t.Fatalf("unexpected histogram:\n%s", out)
	}
	if !strings.Contains(out, "authflow_login_success_total 0") {
		t.Fatalf("expected zero counters:\n%s", out)
	}
}

func TestConstLabelsAreApplied(t *testing.T) {
	out := scrape(t, fakeSource{snapshot: authflow.MetricsSnapshot{
		Counters: map[authflow.MetricID]uint64{authflow.MetricFlowCancelled: 1},
	}}, prometheus.Labels{"tab": "t1"})
	if !strings.Contains(out, `authflow_flow_cancelled_total{tab="t1"} 1`) {
		t.Fatalf("expected labelled series:\n%s", out)
	}
}

func TestReadsLiveClientMetrics(t *testing.T) {
	m := authflow.NewMetrics(authflow.MetricsConfig{Enabled: true})
	m.Inc(authflow.MetricRefreshSuccess)
	m.Inc(authflow.MetricRefreshSuccess)
	out := scrape(t, metricsOnly{m}, nil)
	if !strings.Contains(out, "authflow_refresh_success_total 2") {
		t.Fatalf("expected live counter:\n%s", out)
	}
}

type metricsOnly struct{ m *authflow.Metrics }

func (s metricsOnly) MetricsSnapshot() authflow.MetricsSnapshot { return s.m.Snapshot() }
func (s metricsOnly) AuditDropped() uint64                      { return 0 }
