package monitor

import (
	"math"
	"time"

	"github.com/godoty/editor-bridge/internal/bridge"
)

// computeBackoff derives the delay before the next reconnect attempt.
//
// The raw exponential is jittered, escalated when the recent failures all
// share one error type, then bounded per error type: refused connections
// retry eagerly (the editor is simply not running yet), timeouts a little
// less so, and network failures are held back. A long stretch without any
// success caps the delay so recovery is noticed quickly once the editor
// returns.
//
// jitterUnit must be in [-1, 1]; callers pass a uniform random value.
func computeBackoff(cfg Config, consecutiveFailures int, history []ConnectionErrorInfo, lastSuccess, now time.Time, jitterUnit float64) time.Duration {
	base := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(consecutiveFailures))
	base = min(base, float64(cfg.MaxBackoff))

	delay := base + jitterUnit*base*cfg.JitterFactor

	if n := len(history); n >= 3 {
		t := history[n-1].Type
		if history[n-2].Type == t && history[n-3].Type == t {
			delay *= cfg.EscalationFactor
		}
	}

	// Error-type bounds apply after escalation so the eager ceilings
	// always hold.
	if len(history) > 0 {
		switch history[len(history)-1].Type {
		case bridge.ErrorRefused:
			delay = min(delay, float64(cfg.RefusedCeiling))
		case bridge.ErrorTimeout:
			delay = min(delay, float64(cfg.TimeoutCeiling))
		case bridge.ErrorNetwork:
			delay = max(delay, float64(cfg.NetworkFloor))
		}
	}

	if !lastSuccess.IsZero() && now.Sub(lastSuccess) > cfg.StaleAfter {
		delay = min(delay, float64(cfg.StaleCeiling))
	}

	delay = max(delay, float64(cfg.MinBackoff))
	return time.Duration(delay)
}
