package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultEditorHost     = "127.0.0.1"
	DefaultEditorPort     = 9001
	DefaultConnectTimeout = 10 * time.Second
	DefaultCommandTimeout = 30 * time.Second
	DefaultPingTimeout    = 5 * time.Second
	DefaultWriteTimeout   = 5 * time.Second

	DefaultCheckInterval    = 30 * time.Second
	DefaultInitialBackoff   = 1 * time.Second
	DefaultMaxBackoff       = 5 * time.Minute
	DefaultMultiplier       = 2.0
	DefaultJitterFactor     = 0.2
	DefaultMinBackoff       = 1 * time.Second
	DefaultRefusedCeiling   = 10 * time.Second
	DefaultTimeoutCeiling   = 30 * time.Second
	DefaultNetworkFloor     = 15 * time.Second
	DefaultEscalationFactor = 1.5
	DefaultStaleAfter       = 1 * time.Hour
	DefaultStaleCeiling     = 20 * time.Second

	DefaultMaxConsecutiveFailures = 5
	DefaultMaxRepeatedErrors      = 10
	DefaultErrorHistorySize       = 50

	DefaultQueueSize     = 64
	DefaultClientTimeout = 1 * time.Second

	DefaultBroadcastInterval = 5 * time.Second

	DefaultServerHost = "127.0.0.1"
	DefaultServerPort = 8765
)

func (c *BridgeConfig) applyDefaults() {
	// Editor defaults
	if c.Editor.Host == "" {
		c.Editor.Host = DefaultEditorHost
	}
	if c.Editor.Port == 0 {
		c.Editor.Port = DefaultEditorPort
	}
	if c.Editor.ConnectTimeout == 0 {
		c.Editor.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Editor.CommandTimeout == 0 {
		c.Editor.CommandTimeout = DefaultCommandTimeout
	}
	if c.Editor.PingTimeout == 0 {
		c.Editor.PingTimeout = DefaultPingTimeout
	}
	if c.Editor.WriteTimeout == 0 {
		c.Editor.WriteTimeout = DefaultWriteTimeout
	}

	// Monitor defaults
	if c.Monitor.CheckInterval == 0 {
		c.Monitor.CheckInterval = DefaultCheckInterval
	}
	if c.Monitor.InitialBackoff == 0 {
		c.Monitor.InitialBackoff = DefaultInitialBackoff
	}
	if c.Monitor.MaxBackoff == 0 {
		c.Monitor.MaxBackoff = DefaultMaxBackoff
	}
	if c.Monitor.Multiplier == 0 {
		c.Monitor.Multiplier = DefaultMultiplier
	}
	if c.Monitor.JitterFactor == 0 {
		c.Monitor.JitterFactor = DefaultJitterFactor
	}
	if c.Monitor.MinBackoff == 0 {
		c.Monitor.MinBackoff = DefaultMinBackoff
	}
	if c.Monitor.RefusedCeiling == 0 {
		c.Monitor.RefusedCeiling = DefaultRefusedCeiling
	}
	if c.Monitor.TimeoutCeiling == 0 {
		c.Monitor.TimeoutCeiling = DefaultTimeoutCeiling
	}
	if c.Monitor.NetworkFloor == 0 {
		c.Monitor.NetworkFloor = DefaultNetworkFloor
	}
	if c.Monitor.EscalationFactor == 0 {
		c.Monitor.EscalationFactor = DefaultEscalationFactor
	}
	if c.Monitor.StaleAfter == 0 {
		c.Monitor.StaleAfter = DefaultStaleAfter
	}
	if c.Monitor.StaleCeiling == 0 {
		c.Monitor.StaleCeiling = DefaultStaleCeiling
	}
	if c.Monitor.MaxConsecutiveFailures == 0 {
		c.Monitor.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.Monitor.MaxRepeatedErrors == 0 {
		c.Monitor.MaxRepeatedErrors = DefaultMaxRepeatedErrors
	}
	if c.Monitor.ErrorHistorySize == 0 {
		c.Monitor.ErrorHistorySize = DefaultErrorHistorySize
	}

	// Broadcast defaults
	if c.Broadcast.QueueSize == 0 {
		c.Broadcast.QueueSize = DefaultQueueSize
	}
	if c.Broadcast.ClientTimeout == 0 {
		c.Broadcast.ClientTimeout = DefaultClientTimeout
	}

	// Status defaults
	if c.Status.BroadcastInterval == 0 {
		c.Status.BroadcastInterval = DefaultBroadcastInterval
	}

	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
}
