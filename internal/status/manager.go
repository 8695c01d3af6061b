package status

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/godoty/editor-bridge/internal/bridge"
	"github.com/godoty/editor-bridge/internal/broadcast"
	"github.com/godoty/editor-bridge/internal/monitor"
)

// HealthSource supplies the monitor's snapshot for periodic re-checks.
type HealthSource interface {
	Status() monitor.Status
}

// SendFunc delivers one event to a single stream.
type SendFunc func(event broadcast.Event) error

// Config configures the Manager.
type Config struct {
	BroadcastInterval time.Duration // Snapshot republish period per stream
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BroadcastInterval: 5 * time.Second,
	}
}

// Manager maintains the merged current-status snapshot.
type Manager struct {
	cfg    Config
	health HealthSource
	logger *slog.Logger

	mu      sync.Mutex
	current map[string]any
	streams map[string]struct{}
}

// NewManager creates a Manager. health may be nil.
func NewManager(cfg Config, health HealthSource, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:    cfg,
		health: health,
		logger: logger,
		current: map[string]any{
			"state":     string(bridge.StateDisconnected),
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		},
		streams: make(map[string]struct{}),
	}
}

// UpdateStatus merges updates into the current snapshot. Nested maps are
// merged one level deep; scalar fields are overwritten. The timestamp is
// always refreshed. The merged snapshot is returned.
func (m *Manager) UpdateStatus(updates map[string]any) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, value := range updates {
		nested, ok := value.(map[string]any)
		existing, hasExisting := m.current[key].(map[string]any)
		if ok && hasExisting {
			maps.Copy(existing, nested)
			continue
		}
		m.current[key] = value
	}
	m.current["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	return m.snapshotLocked()
}

// Get returns a copy of the current snapshot with a fresh timestamp.
func (m *Manager) Get() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.current["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	return m.snapshotLocked()
}

// snapshotLocked copies the status map, cloning nested maps so callers
// cannot mutate shared state.
func (m *Manager) snapshotLocked() map[string]any {
	out := make(map[string]any, len(m.current))
	for key, value := range m.current {
		if nested, ok := value.(map[string]any); ok {
			out[key] = maps.Clone(nested)
			continue
		}
		out[key] = value
	}
	return out
}

// ActiveStreams returns the number of streams being broadcast to.
func (m *Manager) ActiveStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// StartBroadcasting republishes the merged snapshot to one stream until
// the context is cancelled or the send fails. The stream is always
// deregistered on exit, whatever the exit path.
func (m *Manager) StartBroadcasting(ctx context.Context, streamID string, send SendFunc) error {
	m.mu.Lock()
	m.streams[streamID] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("status broadcasting started", "stream", streamID)

	defer func() {
		m.mu.Lock()
		delete(m.streams, streamID)
		m.mu.Unlock()
		m.logger.Info("status broadcasting stopped", "stream", streamID)
	}()

	// Initial snapshot goes out immediately.
	if err := send(broadcast.Event{Type: "godot_status", Data: m.Get()}); err != nil {
		return err
	}

	ticker := time.NewTicker(m.cfg.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.refreshHealth()
			if err := send(broadcast.Event{Type: "godot_status", Data: m.Get()}); err != nil {
				return err
			}
		}
	}
}

// refreshHealth folds the monitor's latest snapshot into the status map.
func (m *Manager) refreshHealth() {
	if m.health == nil {
		return
	}

	st := m.health.Status()
	updates := map[string]any{
		"state": st.State,
		"connection_details": map[string]any{
			"websocket_connected":  st.State == string(bridge.StateConnected),
			"consecutive_failures": st.ConsecutiveFailures,
			"success_rate":         st.SuccessRate,
			"uptime_percent":       st.UptimePercent,
		},
	}
	if st.ProjectPath != "" {
		updates["project_path"] = st.ProjectPath
		updates["project_name"] = st.ProjectName
		updates["godot_version"] = st.GodotVersion
		updates["plugin_version"] = st.PluginVersion
	}

	m.UpdateStatus(updates)
}
