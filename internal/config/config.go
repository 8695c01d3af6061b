package config

import "time"

// BridgeConfig is the root configuration for a bridge daemon instance.
type BridgeConfig struct {
	Editor    EditorConfig    `yaml:"editor"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Status    StatusConfig    `yaml:"status"`
	Server    ServerConfig    `yaml:"server"`
}

// EditorConfig holds the Godot editor WebSocket endpoint settings.
type EditorConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// MonitorConfig holds reconnection supervisor settings.
type MonitorConfig struct {
	CheckInterval  time.Duration `yaml:"check_interval"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
	JitterFactor   float64       `yaml:"jitter_factor"`
	MinBackoff     time.Duration `yaml:"min_backoff"`

	RefusedCeiling time.Duration `yaml:"refused_ceiling"`
	TimeoutCeiling time.Duration `yaml:"timeout_ceiling"`
	NetworkFloor   time.Duration `yaml:"network_floor"`

	EscalationFactor float64       `yaml:"escalation_factor"`
	StaleAfter       time.Duration `yaml:"stale_after"`
	StaleCeiling     time.Duration `yaml:"stale_ceiling"`

	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	MaxRepeatedErrors      int `yaml:"max_repeated_errors"`
	ErrorHistorySize       int `yaml:"error_history_size"`
}

// BroadcastConfig holds event fan-out settings.
type BroadcastConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	ClientTimeout time.Duration `yaml:"client_timeout"`
}

// StatusConfig holds periodic status republish settings.
type StatusConfig struct {
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// ServerConfig holds the HTTP/SSE surface settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}
