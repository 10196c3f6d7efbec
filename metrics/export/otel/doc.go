// Package otel binds goIdentity engine metrics to OpenTelemetry instruments.
//
// [NewOTelExporter] registers one observable counter per area of the
// identity model (identity.user.operations, identity.agent.operations, ...)
// with an "operation" attribute per engine counter, a cumulative latency
// gauge keyed by "le", and the audit drop counter. The caller owns the
// MeterProvider and supplies the Meter.
package otel
