// Package monitor implements the connection supervisor for the editor bridge.
//
// The Monitor:
//   - Runs a periodic health-check loop against the Bridge
//   - Reconnects with adaptive, error-aware exponential backoff and jitter
//   - Gives up after repeated non-recoverable failures
//   - Aggregates performance and error statistics into a status snapshot
//   - Notifies registered listeners on every connection state transition
package monitor
