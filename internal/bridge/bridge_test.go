package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockEditor creates a test WebSocket server standing in for the plugin.
func mockEditor(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.CommandTimeout = 2 * time.Second
	cfg.PingTimeout = time.Second
	return cfg
}

// keepOpen reads until the peer closes, auto-answering pings.
func keepOpen(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestBridge_Connect(t *testing.T) {
	server := mockEditor(t, keepOpen)
	defer server.Close()

	b := New(testConfig(wsURL(server)), nil, nil)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := b.State(); got != StateConnected {
		t.Errorf("state = %v, want %v", got, StateConnected)
	}

	b.Disconnect()
	if got := b.State(); got != StateDisconnected {
		t.Errorf("state after Disconnect = %v, want %v", got, StateDisconnected)
	}
}

func TestBridge_ConnectRefused(t *testing.T) {
	// Grab a port with no listener behind it.
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	b := New(testConfig(url), nil, nil)

	err := b.Connect(context.Background())
	if err == nil {
		t.Fatal("expected Connect to fail")
	}

	var cerr *ConnError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConnError, got %T", err)
	}
	if cerr.Type != ErrorRefused {
		t.Errorf("error type = %v, want %v", cerr.Type, ErrorRefused)
	}
	if !cerr.Recoverable() {
		t.Error("refused errors should be recoverable")
	}
	if got := b.State(); got != StateDisconnected {
		t.Errorf("state = %v, want %v", got, StateDisconnected)
	}
}

func TestBridge_SendCommandRoundTrip(t *testing.T) {
	server := mockEditor(t, func(conn *websocket.Conn) {
		for {
			var cmd map[string]any
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			conn.WriteJSON(map[string]any{
				"type":    "command_response",
				"id":      cmd["id"],
				"success": true,
				"data":    map[string]any{"node_path": "/root/Main"},
			})
		}
	})
	defer server.Close()

	b := New(testConfig(wsURL(server)), nil, nil)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer b.Disconnect()

	resp := b.SendCommand(context.Background(), "get_scene_tree", map[string]any{"depth": 2})
	if !resp.Success {
		t.Fatalf("SendCommand failed: %s", resp.Error)
	}
	if resp.CommandID == "" {
		t.Error("expected a command id")
	}

	var data map[string]any
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("bad response data: %v", err)
	}
	if data["node_path"] != "/root/Main" {
		t.Errorf("data = %v", data)
	}
}

func TestBridge_AutoConnectOnSend(t *testing.T) {
	var mu sync.Mutex
	dials := 0

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var cmd map[string]any
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			conn.WriteJSON(map[string]any{
				"type":    "command_response",
				"id":      cmd["id"],
				"success": true,
			})
		}
	}))
	defer server.Close()

	b := New(testConfig(wsURL(server)), nil, nil)
	defer b.Disconnect()

	resp := b.SendCommand(context.Background(), "ping", nil)
	if !resp.Success {
		t.Fatalf("SendCommand failed: %s", resp.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Errorf("dials = %d, want exactly 1", dials)
	}
}

func TestBridge_SendCommandFailedConnect(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	b := New(testConfig(url), nil, nil)

	resp := b.SendCommand(context.Background(), "ping", nil)
	if resp.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(resp.Error, "Failed to connect") {
		t.Errorf("error = %q, want it to mention the failed connect", resp.Error)
	}
}

func TestBridge_ConcurrentCommandsReversedResponses(t *testing.T) {
	cmds := make(chan map[string]any, 2)

	server := mockEditor(t, func(conn *websocket.Conn) {
		for i := 0; i < 2; i++ {
			var cmd map[string]any
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			cmds <- cmd
		}

		first := <-cmds
		second := <-cmds

		// Answer in reverse arrival order.
		for _, cmd := range []map[string]any{second, first} {
			conn.WriteJSON(map[string]any{
				"type":    "command_response",
				"id":      cmd["id"],
				"success": true,
				"data":    map[string]any{"echo": cmd["type"]},
			})
		}

		keepOpen(conn)
	})
	defer server.Close()

	b := New(testConfig(wsURL(server)), nil, nil)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer b.Disconnect()

	var wg sync.WaitGroup
	results := make([]CommandResponse, 2)
	names := []string{"create_node", "delete_node"}

	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = b.SendCommand(context.Background(), name, nil)
		}()
		// Stagger so arrival order is deterministic.
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()

	for i, name := range names {
		if !results[i].Success {
			t.Fatalf("command %s failed: %s", name, results[i].Error)
		}
		var data map[string]any
		if err := json.Unmarshal(results[i].Data, &data); err != nil {
			t.Fatalf("bad data: %v", err)
		}
		if data["echo"] != name {
			t.Errorf("command %s got response for %v", name, data["echo"])
		}
	}
}

func TestBridge_CommandTimeout(t *testing.T) {
	server := mockEditor(t, keepOpen)
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.CommandTimeout = 200 * time.Millisecond

	b := New(cfg, nil, nil)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer b.Disconnect()

	resp := b.SendCommand(context.Background(), "slow_command", nil)
	if resp.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(resp.Error, "timed out") {
		t.Errorf("error = %q, want it to contain %q", resp.Error, "timed out")
	}

	// The pending entry must not leak.
	b.pendingMu.Lock()
	n := len(b.pending)
	b.pendingMu.Unlock()
	if n != 0 {
		t.Errorf("pending commands = %d, want 0", n)
	}
}

func TestBridge_DisconnectResolvesPending(t *testing.T) {
	server := mockEditor(t, keepOpen)
	defer server.Close()

	b := New(testConfig(wsURL(server)), nil, nil)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	result := make(chan CommandResponse, 1)
	go func() {
		result <- b.SendCommand(context.Background(), "never_answered", nil)
	}()

	// Let the command register before disconnecting.
	deadline := time.After(time.Second)
	for {
		b.pendingMu.Lock()
		n := len(b.pending)
		b.pendingMu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("command never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	b.Disconnect()

	select {
	case resp := <-result:
		if resp.Success {
			t.Fatal("expected failure")
		}
		if !strings.Contains(resp.Error, "disconnected") {
			t.Errorf("error = %q, want it to contain %q", resp.Error, "disconnected")
		}
	case <-time.After(time.Second):
		t.Fatal("pending command not resolved by Disconnect")
	}

	b.pendingMu.Lock()
	n := len(b.pending)
	b.pendingMu.Unlock()
	if n != 0 {
		t.Errorf("pending commands = %d, want 0", n)
	}
	if _, ok := b.Project(); ok {
		t.Error("project info should be cleared on Disconnect")
	}
}

func TestBridge_ProjectInfoPush(t *testing.T) {
	server := mockEditor(t, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]any{
			"type": "project_info",
			"data": map[string]any{
				"project_path":   "/home/dev/game",
				"project_name":   "game",
				"godot_version":  "4.3",
				"plugin_version": "1.2.0",
				"is_ready":       true,
			},
		})
		keepOpen(conn)
	})
	defer server.Close()

	ready := make(chan ProjectInfo, 1)

	b := New(testConfig(wsURL(server)), nil, nil)
	b.SetProjectReadyCallback(func(info ProjectInfo) {
		ready <- info
	})

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer b.Disconnect()

	select {
	case info := <-ready:
		if info.ProjectPath != "/home/dev/game" || !info.IsReady {
			t.Errorf("unexpected info: %+v", info)
		}
	case <-time.After(time.Second):
		t.Fatal("project ready callback not invoked")
	}

	cached, ok := b.Project()
	if !ok {
		t.Fatal("project info not cached")
	}
	if cached.GodotVersion != "4.3" {
		t.Errorf("godot version = %q", cached.GodotVersion)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Publish(msgType string, data json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, msgType)
}

func TestBridge_UnknownPushGoesToSink(t *testing.T) {
	server := mockEditor(t, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]any{
			"type": "scene_changed",
			"data": map[string]any{"scene": "res://main.tscn"},
		})
		// Unknown response ids are logged and dropped, never fatal.
		conn.WriteJSON(map[string]any{
			"type":    "command_response",
			"id":      "cmd_999",
			"success": true,
		})
		keepOpen(conn)
	})
	defer server.Close()

	sink := &recordingSink{}
	b := New(testConfig(wsURL(server)), sink, nil)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer b.Disconnect()

	deadline := time.After(time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.events)
		sink.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("push never reached sink")
		case <-time.After(10 * time.Millisecond):
		}
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.events[0] != "scene_changed" {
		t.Errorf("sink got %v", sink.events)
	}
}

func TestBridge_RegisteredHandlerBeatsSink(t *testing.T) {
	server := mockEditor(t, func(conn *websocket.Conn) {
		conn.WriteJSON(map[string]any{
			"type": "debug_output",
			"data": map[string]any{"line": "hello"},
		})
		keepOpen(conn)
	})
	defer server.Close()

	sink := &recordingSink{}
	handled := make(chan string, 1)

	b := New(testConfig(wsURL(server)), sink, nil)
	b.AddMessageHandler("debug_output", func(msgType string, data json.RawMessage) {
		handled <- msgType
	})

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer b.Disconnect()

	select {
	case got := <-handled:
		if got != "debug_output" {
			t.Errorf("handler got %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("registered handler not invoked")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.events) != 0 {
		t.Errorf("sink should not see handled types, got %v", sink.events)
	}
}

func TestBridge_ReconnectRetiresStaleConnection(t *testing.T) {
	conns := make(chan *websocket.Conn, 2)

	server := mockEditor(t, func(conn *websocket.Conn) {
		conns <- conn
		for {
			var cmd map[string]any
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			if cmd["type"] == "answer_me" {
				conn.WriteJSON(map[string]any{
					"type":    "command_response",
					"id":      cmd["id"],
					"success": true,
				})
			}
		}
	})
	defer server.Close()

	b := New(testConfig(wsURL(server)), nil, nil)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer b.Disconnect()

	var firstServerSide *websocket.Conn
	select {
	case firstServerSide = <-conns:
	case <-time.After(time.Second):
		t.Fatal("first connection never reached the server")
	}

	// A missed pong demotes the state but leaves the socket attached.
	b.mu.RLock()
	stale := b.conn
	b.mu.RUnlock()
	b.demote(stale, ErrNotConnected)
	if got := b.State(); got != StateError {
		t.Fatalf("state after demote = %v, want %v", got, StateError)
	}

	// Reconnecting must retire the stale socket, not leak it.
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	select {
	case <-conns:
	case <-time.After(time.Second):
		t.Fatal("second connection never reached the server")
	}

	// Command in flight on the healthy new connection.
	hung := make(chan CommandResponse, 1)
	go func() {
		hung <- b.SendCommand(context.Background(), "never_answered", nil)
	}()

	deadline := time.After(time.Second)
	for {
		b.pendingMu.Lock()
		n := len(b.pending)
		b.pendingMu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("command never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The superseded socket dying must not disturb that command.
	firstServerSide.Close()
	time.Sleep(100 * time.Millisecond)

	select {
	case resp := <-hung:
		t.Fatalf("pending command on the new connection was failed: %+v", resp)
	default:
	}

	b.pendingMu.Lock()
	n := len(b.pending)
	b.pendingMu.Unlock()
	if n != 1 {
		t.Errorf("pending commands = %d, want the in-flight command intact", n)
	}

	// The new connection still round-trips.
	resp := b.SendCommand(context.Background(), "answer_me", nil)
	if !resp.Success {
		t.Errorf("command on new connection failed: %s", resp.Error)
	}
}

func TestBridge_IsConnected(t *testing.T) {
	server := mockEditor(t, keepOpen)

	b := New(testConfig(wsURL(server)), nil, nil)
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if !b.IsConnected(context.Background()) {
		t.Error("expected healthy connection")
	}

	// Kill the server; the next ping cannot be answered.
	server.Close()

	deadline := time.After(3 * time.Second)
	for b.IsConnected(context.Background()) {
		select {
		case <-deadline:
			t.Fatal("IsConnected never turned false after server close")
		case <-time.After(50 * time.Millisecond):
		}
	}

	b.Disconnect()
}
