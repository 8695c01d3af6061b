// Package web exposes the bridge over HTTP.
//
// Routes:
//   - GET  /godot/status         current connection snapshot
//   - GET  /godot/status/stream  SSE stream of realtime and status events
//   - POST /godot/status/update  merge fields into the shared status map
//
// The SSE handler subscribes each stream to the event broadcaster and to
// the status manager's periodic republish, and emits a comment frame as a
// keepalive when the stream has been idle.
package web
