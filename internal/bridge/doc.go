// Package bridge implements the WebSocket bridge to the Godot editor plugin.
//
// The Bridge:
//   - Owns a single WebSocket connection to the editor
//   - Correlates outbound commands with inbound responses by command id
//   - Runs one receive loop per connection, dispatching pushes by message type
//   - Classifies connection failures for the Connection Monitor's backoff
package bridge
