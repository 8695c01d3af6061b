package bridge

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected = errors.New("not connected")
	ErrDisconnected = errors.New("disconnected")
)

// ConnectionState describes the bridge connection lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// CommandResponse is the result of one editor command round trip.
// SendCommand always returns one of these; it never returns a Go error.
type CommandResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	CommandID string          `json:"command_id,omitempty"`
}

// ProjectInfo describes the project loaded in the connected editor.
// Sent by the plugin as a project_info push after the handshake.
type ProjectInfo struct {
	ProjectPath   string `json:"project_path"`
	ProjectName   string `json:"project_name,omitempty"`
	GodotVersion  string `json:"godot_version,omitempty"`
	PluginVersion string `json:"plugin_version,omitempty"`
	IsReady       bool   `json:"is_ready"`
}

// PushHandler processes one unsolicited push of a registered message type.
type PushHandler func(msgType string, data json.RawMessage)

// PushSink receives pushes whose type has no registered handler.
// The Event Broadcaster implements this.
type PushSink interface {
	Publish(msgType string, data json.RawMessage)
}

// envelope is the wire shape of every inbound frame. Frames are decoded
// once here and then dispatched over the closed set of message kinds.
type envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Success *bool           `json:"success,omitempty"`
	Status  string          `json:"status,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Config configures a Bridge.
type Config struct {
	URL            string        // WebSocket URL (e.g., ws://127.0.0.1:9001)
	ConnectTimeout time.Duration // Dial deadline
	CommandTimeout time.Duration // Max wait for a command response
	PingTimeout    time.Duration // Max wait for a health-check pong
	WriteTimeout   time.Duration // Write deadline for sends
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:            "ws://127.0.0.1:9001",
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: 30 * time.Second,
		PingTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}
