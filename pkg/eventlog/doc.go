// Package eventlog records a machine-readable trace of scans, pairing
// sessions and vendor HTTP exchanges.
//
// It is separate from operational logging (slog). The trace captures every
// state transition and device exchange so that a failed pairing can be
// replayed and inspected after the fact.
//
// # Basic Usage
//
//	// Console during development
//	cfg.Events = eventlog.NewSlogAdapter(slog.Default())
//
//	// Binary file
//	cfg.Events, _ = eventlog.NewFileLogger("/var/log/paircast/events.plog")
//
//	// Both
//	cfg.Events = eventlog.NewMultiLogger(console, file)
//
// # Event Types
//
// Every event belongs to a source (scan, pairing or vendor) and carries
// one payload:
//   - StateChange: a scan or pairing session moved to a new status
//   - Discovery: a scan classified a device
//   - Exchange: one HTTP request to a display
//   - Error: a failure that did not change state
//
// Vendor exchanges are tied to their pairing session through the context
// (see WithSession).
//
// # File Format
//
// Files are a stream of CBOR-encoded events using integer keys. The
// paircast-events command views, exports and summarizes them.
package eventlog
