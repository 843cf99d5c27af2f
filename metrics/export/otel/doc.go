// Package otel exposes the engine's counters as OpenTelemetry
// observable instruments.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter
// plus the audit-drop counter, read from one snapshot per collection
// cycle. The caller owns the MeterProvider; this package only consumes
// a Meter.
package otel
