package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *BridgeConfig) Validate() error {
	if c.Editor.Port < 1 || c.Editor.Port > 65535 {
		return fmt.Errorf("editor.port must be between 1 and 65535, got %d", c.Editor.Port)
	}

	if c.Monitor.Multiplier < 1 {
		return errors.New("monitor.multiplier must be >= 1")
	}
	if c.Monitor.JitterFactor < 0 || c.Monitor.JitterFactor > 1 {
		return fmt.Errorf("monitor.jitter_factor must be between 0 and 1, got %g", c.Monitor.JitterFactor)
	}
	if c.Monitor.EscalationFactor < 1 {
		return errors.New("monitor.escalation_factor must be >= 1")
	}
	if c.Monitor.InitialBackoff > c.Monitor.MaxBackoff {
		return fmt.Errorf("monitor.initial_backoff (%s) cannot exceed max_backoff (%s)",
			c.Monitor.InitialBackoff, c.Monitor.MaxBackoff)
	}
	if c.Monitor.MinBackoff > c.Monitor.MaxBackoff {
		return fmt.Errorf("monitor.min_backoff (%s) cannot exceed max_backoff (%s)",
			c.Monitor.MinBackoff, c.Monitor.MaxBackoff)
	}
	if c.Monitor.MaxConsecutiveFailures < 1 {
		return errors.New("monitor.max_consecutive_failures must be >= 1")
	}
	if c.Monitor.MaxRepeatedErrors < 1 {
		return errors.New("monitor.max_repeated_errors must be >= 1")
	}
	if c.Monitor.ErrorHistorySize < 1 {
		return errors.New("monitor.error_history_size must be >= 1")
	}

	if c.Broadcast.QueueSize < 1 {
		return errors.New("broadcast.queue_size must be >= 1")
	}
	if c.Broadcast.ClientTimeout < 1 {
		return errors.New("broadcast.client_timeout must be positive")
	}

	if c.Status.BroadcastInterval < 1 {
		return errors.New("status.broadcast_interval must be positive")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	return nil
}
