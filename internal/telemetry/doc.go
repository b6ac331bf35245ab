// Package telemetry reports errors to external collectors.
//
// Reporting is fire-and-forget: ReportError never blocks the caller on
// I/O and never panics. The MQTT reporter queues events and drops them
// when the queue is full.
package telemetry
