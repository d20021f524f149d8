// Package prometheus exposes engine metrics as a prometheus.Collector.
//
// Counters are published as guardian_*_total. Login and token validation
// latency are published as histograms in seconds once latency tracking is
// enabled on the engine.
//
// The exporter never touches the global registry. Register it yourself or
// mount [Exporter.Handler].
package prometheus
