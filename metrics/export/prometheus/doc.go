// Package prometheus exposes a client's counters and authority latency
// histogram as a prometheus.Collector.
//
// Series are named authflow_*_total plus authflow_authority_latency_seconds.
// Nothing is registered globally; mount [Handler] or register [Exporter]
// yourself.
package prometheus
