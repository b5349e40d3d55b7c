// Package otel publishes a client's counters through OpenTelemetry
// observable instruments.
//
// Each histogram bucket is an Int64ObservableGauge holding a cumulative
// count. The caller owns the MeterProvider.
package otel
