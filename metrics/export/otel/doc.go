// Package otel publishes engine metrics through OpenTelemetry.
//
// Every counter becomes an Int64ObservableCounter. Latency histograms are
// flattened into one Int64ObservableGauge per cumulative bucket plus a
// count gauge. The caller owns the MeterProvider.
package otel
