// Package otel publishes authlab counters through an OpenTelemetry meter.
//
// [New] registers one Int64ObservableCounter per engine counter and one
// Int64ObservableGauge per latency bucket, all fed from a single callback
// reading [authlab.Engine.MetricsSnapshot].
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
