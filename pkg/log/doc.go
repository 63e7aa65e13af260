// Package log provides structured stream trace logging for the realtime
// client.
//
// This package defines the Logger interface and Event types for capturing
// what happens on the push stream at multiple layers (transport, connection,
// client). It is separate from operational logging (slog): a trace is a
// complete machine-readable record for debugging claim and reconnect issues.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	opts.Trace = log.NewSlogAdapter(slog.Default())
//
//	// For bug reports: write to binary file
//	opts.Trace, _ = log.NewFileLogger("/tmp/stream.rtlog")
//
//	// Both: use MultiLogger
//	opts.Trace = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
//   - Transport: frames read from the stream (FrameEvent)
//   - Connection: state transitions (StateChangeEvent) and claim sets
//     requested, coalesced or opened (ClaimsEvent)
//   - Client: frame delivery to subscriptions (DeliveryEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Trace files use CBOR encoding with the .rtlog extension. The
// auditstream-log tool provides viewing, filtering, and export.
package log
