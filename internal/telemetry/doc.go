// Package telemetry centralizes the ambient stack — structured logging and
// metrics — shared by the coordinator, node, and pending-request core.
package telemetry
