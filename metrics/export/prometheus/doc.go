// Package prometheus renders authlab counters in Prometheus text exposition
// format.
//
// [New] wraps an [authlab.Engine]; mount [Exporter.Handler] on a router.
// Counter names are authlab_*_total; the single histogram is
// authlab_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry.
//   - Mutate engine state.
package prometheus
