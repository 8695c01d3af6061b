package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/godoty/editor-bridge/internal/bridge"
)

// Monitor supervises a Bridge: it keeps the connection alive with adaptive
// backoff and publishes state transitions to registered listeners.
type Monitor struct {
	cfg    Config
	bridge Bridge
	logger *slog.Logger

	mu             sync.Mutex
	running        bool
	halted         bool
	lastState      bridge.ConnectionState
	consecutive    int
	currentBackoff time.Duration
	history        []ConnectionErrorInfo
	stats          PerformanceStats
	lastSuccess    time.Time
	startedAt      time.Time
	downtimeStart  time.Time
	lastAttempt    time.Time
	listeners      []Listener

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Monitor for the given bridge.
func New(cfg Config, b Bridge, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		cfg:            cfg,
		bridge:         b,
		logger:         logger,
		lastState:      bridge.StateDisconnected,
		currentBackoff: cfg.InitialBackoff,
	}
}

// AddStateChangeListener registers a listener for state transitions.
func (m *Monitor) AddStateChangeListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start launches the health-check loop. It returns an error if the
// monitor is already running.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("monitor already running")
	}
	now := time.Now()
	m.running = true
	m.startedAt = now
	// Staleness is measured from start until the first real success.
	m.lastSuccess = now

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.run(runCtx, done)

	m.logger.Info("connection monitor started",
		"check_interval", m.cfg.CheckInterval,
		"max_backoff", m.cfg.MaxBackoff,
	)
	return nil
}

// Stop halts the loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	m.logger.Info("connection monitor stopped")
}

// run is the health-check/reconnect loop.
func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		close(done)
	}()

	m.attemptConnection(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		healthy := m.checkHealth(ctx)

		if !healthy && !m.isHalted() {
			// Retry after the backoff-computed delay instead of
			// waiting out the full check interval.
			delay := m.nextDelay()
			m.notifyState(bridge.StateReconnecting, "")
			m.logger.Info("reconnecting", "delay", delay)

			if !sleepCtx(ctx, delay) {
				return
			}
			if !m.attemptConnection(ctx) {
				continue
			}
		}

		if !sleepCtx(ctx, m.cfg.CheckInterval) {
			return
		}
	}
}

// attemptConnection performs one connect attempt and updates statistics,
// the failure history, and the give-up state.
func (m *Monitor) attemptConnection(ctx context.Context) bool {
	now := time.Now()

	m.mu.Lock()
	m.lastAttempt = now
	m.stats.TotalConnections++
	m.mu.Unlock()

	m.notifyState(bridge.StateConnecting, "")

	err := m.bridge.Connect(ctx)
	if err == nil {
		m.mu.Lock()
		m.consecutive = 0
		m.currentBackoff = m.cfg.InitialBackoff
		m.halted = false
		m.stats.SuccessfulConnections++
		m.stats.LastSuccessfulConnection = now
		m.lastSuccess = now
		m.closeDowntimeLocked(now)
		m.mu.Unlock()

		m.notifyState(bridge.StateConnected, "")
		return true
	}

	info := toErrorInfo(err, now)

	m.mu.Lock()
	m.consecutive++
	info.RetryCount = m.consecutive
	m.history = append(m.history, info)
	if over := len(m.history) - m.cfg.ErrorHistorySize; over > 0 {
		m.history = slices.Delete(m.history, 0, over)
	}
	if m.downtimeStart.IsZero() {
		m.downtimeStart = now
	}
	giveUp := m.shouldGiveUpLocked(info)
	if giveUp {
		m.halted = true
	}
	m.mu.Unlock()

	if giveUp {
		m.logger.Error("giving up automatic reconnection",
			"consecutive_failures", info.RetryCount,
			"error_type", info.Type,
		)
		m.notifyState(bridge.StateError, info.Message)
	} else if !info.Recoverable {
		m.notifyState(bridge.StateError, info.Message)
	} else {
		m.notifyState(bridge.StateDisconnected, info.Message)
	}

	return false
}

// checkHealth probes the bridge and maintains the downtime window.
func (m *Monitor) checkHealth(ctx context.Context) bool {
	healthy := m.bridge.IsConnected(ctx)
	now := time.Now()

	m.mu.Lock()
	wasConnected := m.lastState == bridge.StateConnected
	if healthy {
		m.halted = false
		m.lastSuccess = now
		m.closeDowntimeLocked(now)
	} else if m.downtimeStart.IsZero() {
		m.downtimeStart = now
	}
	m.mu.Unlock()

	if healthy && !wasConnected {
		m.notifyState(bridge.StateConnected, "")
	} else if !healthy && wasConnected {
		m.logger.Warn("lost connection to editor")
		m.notifyState(bridge.StateDisconnected, "Connection lost")
	}

	return healthy
}

// nextDelay computes and records the backoff before the next attempt.
func (m *Monitor) nextDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	jitterUnit := rand.Float64()*2 - 1
	delay := computeBackoff(m.cfg, m.consecutive, m.history, m.lastSuccess, time.Now(), jitterUnit)
	m.currentBackoff = delay
	return delay
}

// shouldGiveUpLocked decides whether automatic retry should halt. A
// recoverable error never gives up.
func (m *Monitor) shouldGiveUpLocked(info ConnectionErrorInfo) bool {
	if info.Recoverable {
		return false
	}
	if m.consecutive >= m.cfg.MaxConsecutiveFailures {
		return true
	}

	repeats := 0
	for _, h := range m.history {
		if h.Type == info.Type && !h.Recoverable {
			repeats++
		}
	}
	return repeats >= m.cfg.MaxRepeatedErrors
}

func (m *Monitor) isHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// closeDowntimeLocked folds an open downtime window into the total.
func (m *Monitor) closeDowntimeLocked(now time.Time) {
	if !m.downtimeStart.IsZero() {
		m.stats.TotalDowntime += now.Sub(m.downtimeStart)
		m.downtimeStart = time.Time{}
	}
}

// notifyState emits an event on net state transitions and fans it out to
// every listener, isolating panics so one bad listener cannot break the
// loop or starve the others.
func (m *Monitor) notifyState(state bridge.ConnectionState, errMsg string) {
	m.mu.Lock()
	if state == m.lastState {
		m.mu.Unlock()
		return
	}
	m.lastState = state
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	event := ConnectionEvent{
		State:     state,
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	}
	if info, ok := m.bridge.Project(); ok {
		event.ProjectPath = info.ProjectPath
		event.GodotVersion = info.GodotVersion
		event.PluginVersion = info.PluginVersion
	}

	m.logger.Info("connection state changed", "state", state, "error", errMsg)

	for _, l := range listeners {
		m.invokeListener(l, event)
	}
}

func (m *Monitor) invokeListener(l Listener, event ConnectionEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("state change listener panicked", "panic", r)
		}
	}()
	l(event)
}

// Status returns the aggregated health snapshot. It never fails: any
// internal problem degrades to a minimal error-state snapshot so polling
// consumers always get an answer.
func (m *Monitor) Status() (st Status) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("status snapshot failed", "panic", r)
			st = Status{
				State:        string(bridge.StateError),
				ErrorCounts:  map[string]int{},
				RecentErrors: []ConnectionErrorInfo{},
			}
		}
	}()

	now := time.Now()

	m.mu.Lock()
	st = Status{
		Running:             m.running,
		State:               string(m.lastState),
		CurrentBackoff:      m.currentBackoff.Seconds(),
		ConsecutiveFailures: m.consecutive,
		TotalConnections:    m.stats.TotalConnections,
		LastAttempt:         m.lastAttempt,
		ErrorCounts:         make(map[string]int),
		RecentErrors:        []ConnectionErrorInfo{},
	}

	if m.stats.TotalConnections > 0 {
		st.SuccessRate = float64(m.stats.SuccessfulConnections) / float64(m.stats.TotalConnections) * 100
	}

	downtime := m.stats.TotalDowntime
	if !m.downtimeStart.IsZero() {
		downtime += now.Sub(m.downtimeStart)
	}
	st.TotalDowntime = downtime.Seconds()
	if m.running {
		if elapsed := now.Sub(m.startedAt); elapsed > 0 {
			pct := (elapsed - downtime).Seconds() / elapsed.Seconds() * 100
			st.UptimePercent = max(0, min(100, pct))
		}
	}

	for _, h := range m.history {
		st.ErrorCounts[string(h.Type)]++
	}
	if n := len(m.history); n > 0 {
		start := max(0, n-3)
		st.RecentErrors = slices.Clone(m.history[start:])
	}
	m.mu.Unlock()

	if info, ok := m.bridge.Project(); ok {
		st.ProjectPath = info.ProjectPath
		st.ProjectName = info.ProjectName
		st.GodotVersion = info.GodotVersion
		st.PluginVersion = info.PluginVersion
	}

	return st
}

// toErrorInfo converts a connect error into a history record.
func toErrorInfo(err error, now time.Time) ConnectionErrorInfo {
	var cerr *bridge.ConnError
	if errors.As(err, &cerr) {
		return ConnectionErrorInfo{
			Type:        cerr.Type,
			Message:     cerr.Error(),
			Recoverable: cerr.Recoverable(),
			Timestamp:   now,
		}
	}
	return ConnectionErrorInfo{
		Type:        bridge.ErrorUnknown,
		Message:     fmt.Sprintf("unexpected connect error: %v", err),
		Recoverable: false,
		Timestamp:   now,
	}
}

// sleepCtx waits for the duration or until the context is cancelled.
// It reports whether the full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
