package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/godoty/editor-bridge/internal/broadcast"
	"github.com/godoty/editor-bridge/internal/monitor"
	"github.com/godoty/editor-bridge/internal/status"
)

// StatusSource supplies the monitor snapshot for the status endpoint.
type StatusSource interface {
	Status() monitor.Status
}

// Config configures the HTTP server.
type Config struct {
	Host              string
	Port              int
	KeepAliveInterval time.Duration // Idle gap before an SSE comment frame
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "127.0.0.1",
		Port:              8765,
		KeepAliveInterval: 30 * time.Second,
	}
}

// Server serves the status and streaming endpoints.
type Server struct {
	cfg         Config
	echo        *echo.Echo
	source      StatusSource
	statusMgr   *status.Manager
	broadcaster *broadcast.Broadcaster
	logger      *slog.Logger
}

// New builds the server and registers its routes.
func New(cfg Config, source StatusSource, statusMgr *status.Manager, broadcaster *broadcast.Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = 30 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		cfg:         cfg,
		echo:        e,
		source:      source,
		statusMgr:   statusMgr,
		broadcaster: broadcaster,
		logger:      logger,
	}

	e.GET("/godot/status", s.handleStatus)
	e.GET("/godot/status/stream", s.handleStatusStream)
	e.POST("/godot/status/update", s.handleStatusUpdate)

	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("http server starting", "addr", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.source.Status())
}

func (s *Server) handleStatusUpdate(c echo.Context) error {
	var updates map[string]any
	if err := c.Bind(&updates); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	return c.JSON(http.StatusOK, s.statusMgr.UpdateStatus(updates))
}

func (s *Server) handleStatusStream(c echo.Context) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	client := s.broadcaster.AddClient()
	defer s.broadcaster.RemoveClient(client.ID)

	// Eviction by the broadcaster must end the whole stream, including
	// the status republish goroutine below.
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	sw := &sseWriter{resp: resp}
	s.logger.Info("sse stream opened", "client_id", client.ID)
	defer s.logger.Info("sse stream closed", "client_id", client.ID)

	// Status snapshots arrive on their own cadence, independent of
	// realtime events from the broadcaster.
	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		err := s.statusMgr.StartBroadcasting(ctx, client.ID, func(ev broadcast.Event) error {
			payload, err := json.Marshal(map[string]any{
				"type": ev.Type,
				"data": ev.Data,
			})
			if err != nil {
				return err
			}
			return sw.writeData(payload)
		})
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("status republish stopped", "client_id", client.ID, "error", err)
		}
	}()

	idle := time.NewTimer(s.cfg.KeepAliveInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			<-statusDone
			return nil
		case <-client.Done:
			cancel()
			<-statusDone
			return nil
		case <-statusDone:
			return nil
		case payload := <-client.Events:
			if err := sw.writeData(payload); err != nil {
				return nil
			}
			resetTimer(idle, s.cfg.KeepAliveInterval)
		case <-idle.C:
			if err := sw.writeComment("keepalive"); err != nil {
				return nil
			}
			idle.Reset(s.cfg.KeepAliveInterval)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// sseWriter serializes concurrent writes onto one response stream.
type sseWriter struct {
	mu   sync.Mutex
	resp *echo.Response
}

func (w *sseWriter) writeData(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.resp, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.resp.Flush()
	return nil
}

func (w *sseWriter) writeComment(msg string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := fmt.Fprintf(w.resp, ": %s\n\n", msg); err != nil {
		return err
	}
	w.resp.Flush()
	return nil
}
