// Package prometheus exposes goIdentity engine metrics to Prometheus.
//
// [PrometheusExporter] implements prometheus.Collector over
// [goIdentity.Engine.MetricsSnapshot]. Counter names are prefixed
// identity_*_total and the single histogram is
// identity_command_latency_seconds. [PrometheusExporter.Handler] serves a
// private registry so nothing is added to the global default registry.
package prometheus
