package monitor

import (
	"testing"
	"time"

	"github.com/godoty/editor-bridge/internal/bridge"
)

func failures(n int, t bridge.ErrorType) []ConnectionErrorInfo {
	out := make([]ConnectionErrorInfo, n)
	for i := range out {
		out[i] = ConnectionErrorInfo{Type: t, Recoverable: t.Recoverable()}
	}
	return out
}

func TestComputeBackoff_MonotoneAndBounded(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	// History too short for escalation, type without overrides.
	history := failures(2, bridge.ErrorUnknown)

	var prev time.Duration
	for n := 0; n < 15; n++ {
		delay := computeBackoff(cfg, n, history, now, now, 0)

		if delay < cfg.MinBackoff {
			t.Errorf("n=%d: delay %v below floor %v", n, delay, cfg.MinBackoff)
		}
		if delay < prev {
			t.Errorf("n=%d: delay %v decreased from %v", n, delay, prev)
		}
		if delay > cfg.MaxBackoff {
			t.Errorf("n=%d: delay %v above ceiling %v", n, delay, cfg.MaxBackoff)
		}
		prev = delay
	}

	// With maximum positive jitter the hard bound is max*(1+jitter).
	bound := time.Duration(float64(cfg.MaxBackoff) * (1 + cfg.JitterFactor))
	for n := 0; n < 15; n++ {
		delay := computeBackoff(cfg, n, history, now, now, 1)
		if delay > bound {
			t.Errorf("n=%d: jittered delay %v above %v", n, delay, bound)
		}
	}
}

func TestComputeBackoff_Floor(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	// Full negative jitter on the first retry would go below one second.
	delay := computeBackoff(cfg, 0, nil, now, now, -1)
	if delay != cfg.MinBackoff {
		t.Errorf("delay = %v, want floor %v", delay, cfg.MinBackoff)
	}
}

func TestComputeBackoff_RefusedRetriesEagerly(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	// After 3 straight refusals the raw exponential (8s base, escalated
	// 1.5x) would exceed the ceiling; refused connections stay eager.
	history := failures(3, bridge.ErrorRefused)
	for n := 3; n < 10; n++ {
		delay := computeBackoff(cfg, n, history, now, now, 1)
		if delay > cfg.RefusedCeiling {
			t.Errorf("n=%d: delay %v above refused ceiling %v", n, delay, cfg.RefusedCeiling)
		}
	}
}

func TestComputeBackoff_TimeoutCeiling(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	history := failures(2, bridge.ErrorTimeout)
	delay := computeBackoff(cfg, 10, history, now, now, 0)
	if delay > cfg.TimeoutCeiling {
		t.Errorf("delay = %v, want at most %v", delay, cfg.TimeoutCeiling)
	}
}

func TestComputeBackoff_NetworkFloor(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	// An early network failure is held back even though the raw
	// exponential would retry sooner.
	history := failures(1, bridge.ErrorNetwork)
	delay := computeBackoff(cfg, 1, history, now, now, 0)
	if delay < cfg.NetworkFloor {
		t.Errorf("delay = %v, want at least %v", delay, cfg.NetworkFloor)
	}
}

func TestComputeBackoff_PatternEscalation(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	// Three identical failure types escalate the delay 1.5x.
	history := failures(3, bridge.ErrorUnknown)
	delay := computeBackoff(cfg, 2, history, now, now, 0)

	want := time.Duration(float64(4*time.Second) * cfg.EscalationFactor)
	if delay != want {
		t.Errorf("delay = %v, want %v", delay, want)
	}

	// A mixed tail does not escalate.
	history[1].Type = bridge.ErrorNetwork
	history[1].Recoverable = true
	delay = computeBackoff(cfg, 2, history, now, now, 0)
	if delay != 4*time.Second {
		t.Errorf("delay = %v, want %v", delay, 4*time.Second)
	}
}

func TestComputeBackoff_StaleCapsDelay(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	// No success for over an hour: retry aggressively despite a long
	// exponential tail.
	history := failures(2, bridge.ErrorUnknown)
	lastSuccess := now.Add(-2 * time.Hour)

	delay := computeBackoff(cfg, 10, history, lastSuccess, now, 0)
	if delay > cfg.StaleCeiling {
		t.Errorf("delay = %v, want at most %v", delay, cfg.StaleCeiling)
	}
}
