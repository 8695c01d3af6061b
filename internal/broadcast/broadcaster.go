package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/godoty/editor-bridge/internal/bridge"
)

// fallbackPayload replaces events whose data cannot be serialized; the
// broadcast itself is never dropped.
const fallbackPayload = `{"state":"error","error":"Failed to serialize event data"}`

// Event is one broadcast payload before serialization.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// frame is the serialized wire shape, enriched with project metadata.
type frame struct {
	Type          string `json:"type"`
	Data          any    `json:"data,omitempty"`
	Timestamp     string `json:"timestamp"`
	ProjectPath   string `json:"project_path,omitempty"`
	GodotVersion  string `json:"godot_version,omitempty"`
	PluginVersion string `json:"plugin_version,omitempty"`
}

// MetadataSource supplies cached project metadata for enrichment.
// Enrichment is best-effort: a missing source or project never blocks
// delivery of the base event.
type MetadataSource interface {
	Project() (bridge.ProjectInfo, bool)
}

// Config configures a Broadcaster.
type Config struct {
	QueueSize     int           // Bounded queue length per subscriber
	ClientTimeout time.Duration // Max wait on a full queue before eviction
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:     64,
		ClientTimeout: time.Second,
	}
}

// Client is one subscriber's view of the broadcaster. Events carries
// serialized payloads; Done is closed when the client is removed or
// evicted and no further events will arrive.
type Client struct {
	ID     string
	Events <-chan []byte
	Done   <-chan struct{}

	events chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// Broadcaster delivers serialized events to every subscriber.
type Broadcaster struct {
	cfg    Config
	meta   MetadataSource
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// New creates a Broadcaster. meta may be nil.
func New(cfg Config, meta MetadataSource, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}

	return &Broadcaster{
		cfg:     cfg,
		meta:    meta,
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// AddClient registers a subscriber.
func (b *Broadcaster) AddClient() *Client {
	c := &Client{
		ID:     uuid.NewString(),
		events: make(chan []byte, b.cfg.QueueSize),
		done:   make(chan struct{}),
	}
	c.Events = c.events
	c.Done = c.done

	b.mu.Lock()
	b.clients[c.ID] = c
	n := len(b.clients)
	b.mu.Unlock()

	b.logger.Debug("client subscribed", "client", c.ID, "clients", n)
	return c
}

// RemoveClient deregisters a subscriber and signals its Done channel.
func (b *Broadcaster) RemoveClient(id string) {
	b.mu.Lock()
	c, ok := b.clients[id]
	if ok {
		delete(b.clients, id)
	}
	n := len(b.clients)
	b.mu.Unlock()

	if ok {
		c.close()
		b.logger.Debug("client removed", "client", id, "clients", n)
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Publish forwards an unsolicited editor push as a realtime event.
// It implements bridge.PushSink.
func (b *Broadcaster) Publish(msgType string, data json.RawMessage) {
	b.Broadcast(Event{
		Type: "godot_realtime",
		Data: map[string]any{
			"data_type": msgType,
			"payload":   data,
		},
	})
}

// Broadcast serializes the event once and delivers it to every
// subscriber. A client whose queue stays full past the per-client
// timeout is evicted in the same call; delivery to the rest is
// unaffected.
func (b *Broadcaster) Broadcast(event Event) {
	payload := b.serialize(event)

	b.mu.Lock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		select {
		case c.events <- payload:
			continue
		case <-c.done:
			continue
		default:
		}

		// Queue full: give the consumer one short grace period.
		timer := time.NewTimer(b.cfg.ClientTimeout)
		select {
		case c.events <- payload:
			timer.Stop()
		case <-c.done:
			timer.Stop()
		case <-timer.C:
			b.logger.Warn("evicting slow client", "client", c.ID)
			b.RemoveClient(c.ID)
		}
	}
}

// serialize marshals the enriched event, substituting a minimal error
// payload when the data cannot be represented as JSON.
func (b *Broadcaster) serialize(event Event) []byte {
	f := frame{
		Type:      event.Type,
		Data:      event.Data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	if b.meta != nil {
		if info, ok := b.meta.Project(); ok {
			f.ProjectPath = info.ProjectPath
			f.GodotVersion = info.GodotVersion
			f.PluginVersion = info.PluginVersion
		}
	}

	payload, err := json.Marshal(f)
	if err != nil {
		b.logger.Error("failed to serialize event", "type", event.Type, "error", err)
		return []byte(fallbackPayload)
	}
	return payload
}
