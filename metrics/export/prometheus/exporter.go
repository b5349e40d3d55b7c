package prometheus

import (
	"net/http"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSource is what the exporter reads on every scrape.
type MetricsSource interface {
	MetricsSnapshot() authflow.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter is a prometheus.Collector over a client's counters.
type Exporter struct {
	source     MetricsSource
	counters   []*prometheus.Desc
	histograms []*prometheus.Desc
	dropped    *prometheus.Desc
}

var _ prometheus.Collector = (*Exporter)(nil)

// NewExporter returns a collector reading from source. constLabels are
// attached to every series, typically to tell tabs apart.
func NewExporter(source MetricsSource, constLabels prometheus.Labels) *Exporter {
	e := &Exporter{source: source}
	for _, def := range internaldefs.CounterDefs {
		e.counters = append(e.counters, prometheus.NewDesc(def.Name, def.Help, nil, constLabels))
	}
	for _, def := range internaldefs.HistogramDefs {
		e.histograms = append(e.histograms, prometheus.NewDesc(def.Name, def.Help, nil, constLabels))
	}
	e.dropped = prometheus.NewDesc("authflow_audit_dropped_total", "Audit events dropped by the dispatcher.", nil, constLabels)
	return e
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range e.counters {
		ch <- d
	}
	for _, d := range e.histograms {
		ch <- d
	}
	ch <- e.dropped
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e.source == nil {
		return
	}
	snap := e.source.MetricsSnapshot()
	for i, def := range internaldefs.CounterDefs {
		ch <- prometheus.MustNewConstMetric(e.counters[i], prometheus.CounterValue, float64(snap.Counters[def.ID]))
	}
	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snap.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for j, ub := range internaldefs.HistogramUpperBounds {
			buckets[ub] = cumulative[j]
		}
		// Snapshots carry no sample sum.
		ch <- prometheus.MustNewConstHistogram(e.histograms[i], cumulative[len(cumulative)-1], 0, buckets)
	}
	ch <- prometheus.MustNewConstMetric(e.dropped, prometheus.CounterValue, float64(e.source.AuditDropped()))
}

// Handler serves source's metrics from a private registry.
func Handler(source MetricsSource, constLabels prometheus.Labels) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewExporter(source, constLabels)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
