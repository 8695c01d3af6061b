package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Bridge maintains a single live WebSocket connection to the Godot editor
// plugin and matches command responses to their callers by command id.
// Reconnection policy lives in the Connection Monitor, not here.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	// Connection state. The conn, done and pong fields are replaced
	// together on every successful Connect.
	mu      sync.RWMutex
	conn    *websocket.Conn
	state   ConnectionState
	project *ProjectInfo
	done    chan struct{}
	pong    chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// Command/response correlation
	pendingMu sync.Mutex
	pending   map[string]chan CommandResponse
	cmdSeq    atomic.Int64

	// Push dispatch
	handlerMu      sync.RWMutex
	handlers       map[string]PushHandler
	errorHandler   func(message string)
	onProjectReady func(info ProjectInfo)
	sink           PushSink
}

// New creates a Bridge. The sink receives unsolicited pushes with no
// registered handler; it may be nil.
func New(cfg Config, sink PushSink, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		cfg:      cfg,
		logger:   logger,
		state:    StateDisconnected,
		pending:  make(map[string]chan CommandResponse),
		handlers: make(map[string]PushHandler),
		sink:     sink,
	}
}

// State returns the current connection state.
func (b *Bridge) State() ConnectionState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Project returns the cached project info from the last handshake push.
func (b *Bridge) Project() (ProjectInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.project == nil {
		return ProjectInfo{}, false
	}
	return *b.project, true
}

// AddMessageHandler registers a handler for a push message type. Handlers
// registered here take precedence over the push sink.
func (b *Bridge) AddMessageHandler(msgType string, handler PushHandler) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.handlers[msgType] = handler
}

// SetErrorHandler registers a handler for editor error pushes.
func (b *Bridge) SetErrorHandler(handler func(message string)) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.errorHandler = handler
}

// SetProjectReadyCallback registers a callback invoked on each
// project_info push.
func (b *Bridge) SetProjectReadyCallback(cb func(info ProjectInfo)) {
	b.handlerMu.Lock()
	defer b.handlerMu.Unlock()
	b.onProjectReady = cb
}

// Connect dials the editor plugin. The returned error is always a
// *ConnError classifying the failure. Connecting while already connected
// is a no-op.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateConnected {
		b.mu.Unlock()
		return nil
	}
	b.state = StateConnecting
	b.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: b.cfg.ConnectTimeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, b.cfg.URL, nil)
	if err != nil {
		cerr := classify(err)
		b.mu.Lock()
		b.state = StateDisconnected
		b.mu.Unlock()
		b.logger.Warn("connect failed",
			"url", b.cfg.URL,
			"error_type", cerr.Type,
			"error", err,
		)
		return cerr
	}

	done := make(chan struct{})
	pong := make(chan struct{}, 1)

	conn.SetPongHandler(func(string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	b.mu.Lock()
	oldConn := b.conn
	oldDone := b.done
	b.conn = conn
	b.done = done
	b.pong = pong
	b.state = StateConnected
	b.mu.Unlock()

	// A demoted connection may still be attached with its receive loop
	// running. Signal the loop before closing the socket so it exits
	// without touching the pending table.
	if oldDone != nil {
		close(oldDone)
	}
	if oldConn != nil {
		oldConn.Close()
	}

	go b.receiveLoop(conn, done)

	b.logger.Info("connected to editor", "url", b.cfg.URL)
	return nil
}

// Disconnect closes the connection, clears cached project info, and
// resolves every pending command with a "disconnected" error.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	conn := b.conn
	done := b.done
	b.conn = nil
	b.done = nil
	b.pong = nil
	b.project = nil
	b.state = StateDisconnected
	b.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	b.failPending(ErrDisconnected.Error())
	b.logger.Info("disconnected from editor")
}

// IsConnected checks connection health with a ping. A failed or late pong
// demotes the state to error; reconnecting is the Monitor's job.
func (b *Bridge) IsConnected(ctx context.Context) bool {
	b.mu.RLock()
	conn := b.conn
	state := b.state
	pong := b.pong
	b.mu.RUnlock()

	if conn == nil || state != StateConnected {
		return false
	}

	deadline := time.Now().Add(b.cfg.PingTimeout)
	if err := conn.WriteControl(websocket.PingMessage, []byte("healthcheck"), deadline); err != nil {
		b.demote(conn, err)
		return false
	}

	timer := time.NewTimer(b.cfg.PingTimeout)
	defer timer.Stop()

	select {
	case <-pong:
		return true
	case <-timer.C:
		b.demote(conn, ErrNotConnected)
		return false
	case <-ctx.Done():
		return false
	}
}

// SendCommand sends one command and waits for its response. It never
// returns a Go error: all failure modes yield a CommandResponse with
// Success=false and a human-readable Error.
func (b *Bridge) SendCommand(ctx context.Context, name string, params map[string]any) CommandResponse {
	if b.State() != StateConnected {
		if err := b.Connect(ctx); err != nil {
			return CommandResponse{
				Success: false,
				Error:   fmt.Sprintf("Failed to connect: %v", err),
			}
		}
	}

	id := fmt.Sprintf("cmd_%d", b.cmdSeq.Add(1))

	frame := make(map[string]any, len(params)+2)
	for k, v := range params {
		frame[k] = v
	}
	frame["type"] = name
	frame["id"] = id

	data, err := json.Marshal(frame)
	if err != nil {
		return CommandResponse{
			Success:   false,
			Error:     fmt.Sprintf("Failed to send command: %v", err),
			CommandID: id,
		}
	}

	respCh := make(chan CommandResponse, 1)
	b.pendingMu.Lock()
	b.pending[id] = respCh
	b.pendingMu.Unlock()

	if err := b.send(data); err != nil {
		b.removePending(id)
		return CommandResponse{
			Success:   false,
			Error:     fmt.Sprintf("Failed to send command: %v", err),
			CommandID: id,
		}
	}

	b.logger.Debug("sent command", "id", id, "command", name)

	timer := time.NewTimer(b.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp
	case <-timer.C:
		b.removePending(id)
		return CommandResponse{
			Success:   false,
			Error:     fmt.Sprintf("Command %s timed out after %s", id, b.cfg.CommandTimeout),
			CommandID: id,
		}
	case <-ctx.Done():
		b.removePending(id)
		return CommandResponse{
			Success:   false,
			Error:     fmt.Sprintf("Failed to send command: %v", ctx.Err()),
			CommandID: id,
		}
	}
}

// send writes one text frame under the write lock.
func (b *Bridge) send(data []byte) error {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// receiveLoop reads frames until the connection closes. Exactly one loop
// exists per live connection.
func (b *Bridge) receiveLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				// Disconnect or a reconnect already cleaned up.
			default:
				b.logger.Warn("connection lost", "error", err)
				b.mu.Lock()
				current := b.conn == conn
				if current {
					b.conn = nil
					b.done = nil
					b.pong = nil
					b.project = nil
					b.state = StateDisconnected
				}
				b.mu.Unlock()
				conn.Close()
				// A superseded connection's loop must not touch
				// commands pending on its replacement.
				if current {
					b.failPending(ErrDisconnected.Error())
				}
			}
			return
		}

		b.dispatch(data)
	}
}

// dispatch decodes one inbound frame and routes it by message type.
func (b *Bridge) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.logger.Warn("invalid frame, dropping", "error", err)
		return
	}

	switch env.Type {
	case "":
		b.logger.Warn("frame without type field, dropping")

	case "command_response":
		b.resolveCommand(env)

	case "project_info":
		b.handleProjectInfo(env.Data)

	case "error":
		b.logger.Error("editor error", "message", env.Message)
		b.handlerMu.RLock()
		handler := b.errorHandler
		b.handlerMu.RUnlock()
		if handler != nil {
			handler(env.Message)
		}

	default:
		b.handlerMu.RLock()
		handler := b.handlers[env.Type]
		sink := b.sink
		b.handlerMu.RUnlock()

		if handler != nil {
			handler(env.Type, env.Data)
		} else if sink != nil {
			sink.Publish(env.Type, env.Data)
		} else {
			b.logger.Debug("unhandled push", "type", env.Type)
		}
	}
}

// resolveCommand completes the pending command matching the response id.
// Unknown or late ids are logged and dropped.
func (b *Bridge) resolveCommand(env envelope) {
	b.pendingMu.Lock()
	ch, ok := b.pending[env.ID]
	if ok {
		delete(b.pending, env.ID)
	}
	b.pendingMu.Unlock()

	if !ok {
		b.logger.Warn("response for unknown command, dropping", "id", env.ID)
		return
	}

	success := false
	switch {
	case env.Success != nil:
		success = *env.Success
	case env.Status != "":
		success = env.Status == "success"
	}

	errMsg := env.Error
	if errMsg == "" && !success {
		errMsg = env.Message
	}

	resp := CommandResponse{
		Success:   success,
		Data:      env.Data,
		Error:     errMsg,
		CommandID: env.ID,
	}

	select {
	case ch <- resp:
	default:
	}
}

// handleProjectInfo caches the handshake payload and notifies the
// project-ready collaborator.
func (b *Bridge) handleProjectInfo(data json.RawMessage) {
	var info ProjectInfo
	if err := json.Unmarshal(data, &info); err != nil {
		b.logger.Warn("invalid project_info payload", "error", err)
		return
	}

	b.mu.Lock()
	b.project = &info
	b.mu.Unlock()

	b.logger.Info("project info received",
		"path", info.ProjectPath,
		"godot_version", info.GodotVersion,
		"ready", info.IsReady,
	)

	b.handlerMu.RLock()
	cb := b.onProjectReady
	b.handlerMu.RUnlock()
	if cb != nil {
		cb(info)
	}
}

// failPending resolves every outstanding command with an error so no
// caller waits past a disconnect.
func (b *Bridge) failPending(reason string) {
	b.pendingMu.Lock()
	pending := b.pending
	b.pending = make(map[string]chan CommandResponse)
	b.pendingMu.Unlock()

	for id, ch := range pending {
		select {
		case ch <- CommandResponse{Success: false, Error: reason, CommandID: id}:
		default:
		}
	}
}

func (b *Bridge) removePending(id string) {
	b.pendingMu.Lock()
	delete(b.pending, id)
	b.pendingMu.Unlock()
}

// demote marks the connection unhealthy after a failed health check.
func (b *Bridge) demote(conn *websocket.Conn, err error) {
	b.logger.Warn("health check failed", "error", err)
	b.mu.Lock()
	if b.conn == conn {
		b.state = StateError
	}
	b.mu.Unlock()
}
