package monitor

import (
	"context"
	"time"

	"github.com/godoty/editor-bridge/internal/bridge"
)

// Bridge is the slice of the editor bridge the monitor supervises.
type Bridge interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected(ctx context.Context) bool
	Project() (bridge.ProjectInfo, bool)
}

// Listener receives connection state change events. Listeners are invoked
// sequentially on the monitor loop; a panicking listener is isolated and
// never blocks the others.
type Listener func(event ConnectionEvent)

// ConnectionEvent is an immutable snapshot emitted once per net state
// transition.
type ConnectionEvent struct {
	State         bridge.ConnectionState `json:"state"`
	Timestamp     time.Time              `json:"timestamp"`
	Error         string                 `json:"error,omitempty"`
	ProjectPath   string                 `json:"project_path,omitempty"`
	GodotVersion  string                 `json:"godot_version,omitempty"`
	PluginVersion string                 `json:"plugin_version,omitempty"`
}

// ConnectionErrorInfo records one failed connection attempt.
type ConnectionErrorInfo struct {
	Type        bridge.ErrorType `json:"error_type"`
	Message     string           `json:"message"`
	RetryCount  int              `json:"retry_count"`
	Recoverable bool             `json:"is_recoverable"`
	Timestamp   time.Time        `json:"timestamp"`
}

// PerformanceStats holds monotonic counters owned by the monitor loop.
type PerformanceStats struct {
	TotalConnections         int64         `json:"total_connections"`
	SuccessfulConnections    int64         `json:"successful_connections"`
	TotalDowntime            time.Duration `json:"-"`
	LastSuccessfulConnection time.Time     `json:"last_successful_connection"`
}

// Status is the aggregated health snapshot returned by Status().
type Status struct {
	Running             bool                  `json:"running"`
	State               string                `json:"state"`
	CurrentBackoff      float64               `json:"current_backoff_seconds"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
	SuccessRate         float64               `json:"success_rate"`
	UptimePercent       float64               `json:"uptime_percent"`
	TotalConnections    int64                 `json:"total_connections"`
	TotalDowntime       float64               `json:"total_downtime_seconds"`
	ErrorCounts         map[string]int        `json:"error_counts"`
	RecentErrors        []ConnectionErrorInfo `json:"recent_errors"`
	LastAttempt         time.Time             `json:"last_attempt,omitzero"`
	ProjectPath         string                `json:"project_path,omitempty"`
	ProjectName         string                `json:"project_name,omitempty"`
	GodotVersion        string                `json:"godot_version,omitempty"`
	PluginVersion       string                `json:"plugin_version,omitempty"`
}

// Config configures the Monitor. The give-up thresholds and per-error-type
// delay bounds are tunables, not product constants.
type Config struct {
	CheckInterval  time.Duration // Health check period while connected
	InitialBackoff time.Duration // First retry delay
	MaxBackoff     time.Duration // Exponential ceiling
	Multiplier     float64       // Exponential growth factor
	JitterFactor   float64       // Symmetric jitter fraction of the base delay
	MinBackoff     time.Duration // Absolute delay floor

	RefusedCeiling time.Duration // Max delay when the editor is not listening
	TimeoutCeiling time.Duration // Max delay after handshake timeouts
	NetworkFloor   time.Duration // Min delay after socket/DNS failures

	EscalationFactor float64       // Applied when the last 3 failures share a type
	StaleAfter       time.Duration // Downtime after which retries get aggressive
	StaleCeiling     time.Duration // Max delay once stale

	MaxConsecutiveFailures int // Give up threshold on the failure streak
	MaxRepeatedErrors      int // Give up threshold per non-recoverable type
	ErrorHistorySize       int // Bounded failure history length
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CheckInterval:          30 * time.Second,
		InitialBackoff:         time.Second,
		MaxBackoff:             5 * time.Minute,
		Multiplier:             2.0,
		JitterFactor:           0.2,
		MinBackoff:             time.Second,
		RefusedCeiling:         10 * time.Second,
		TimeoutCeiling:         30 * time.Second,
		NetworkFloor:           15 * time.Second,
		EscalationFactor:       1.5,
		StaleAfter:             time.Hour,
		StaleCeiling:           20 * time.Second,
		MaxConsecutiveFailures: 5,
		MaxRepeatedErrors:      10,
		ErrorHistorySize:       50,
	}
}
