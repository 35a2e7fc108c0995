// Package metrics defines the observability contracts of the fitting and
// benchmarking pipeline. Sinks like PromSink and InfluxSink record benchmark
// cell outcomes, fits, and online SoH estimates and can be combined with
// NewMultiSink. The factory helpers return a MultiSink automatically when
// multiple sinks are configured.
package metrics
