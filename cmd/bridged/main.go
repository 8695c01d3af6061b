package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/godoty/editor-bridge/internal/bridge"
	"github.com/godoty/editor-bridge/internal/broadcast"
	"github.com/godoty/editor-bridge/internal/config"
	"github.com/godoty/editor-bridge/internal/monitor"
	"github.com/godoty/editor-bridge/internal/status"
	"github.com/godoty/editor-bridge/internal/version"
	"github.com/godoty/editor-bridge/internal/web"
)

// lazyMeta breaks the construction cycle between the broadcaster (which
// enriches events with project metadata from the bridge) and the bridge
// (which publishes unhandled pushes through the broadcaster).
type lazyMeta struct {
	b atomic.Pointer[bridge.Bridge]
}

func (m *lazyMeta) Project() (bridge.ProjectInfo, bool) {
	if b := m.b.Load(); b != nil {
		return b.Project()
	}
	return bridge.ProjectInfo{}, false
}

func main() {
	configPath := flag.String("config", "configs/bridged.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting bridged",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	var cfg *config.BridgeConfig
	if _, err := os.Stat(*configPath); err == nil {
		loaded, err := config.LoadAndValidate(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		logger.Info("config file not found, using defaults", "path", *configPath)
		cfg = config.Default()
	}

	logger.Info("configuration loaded",
		"editor", fmt.Sprintf("%s:%d", cfg.Editor.Host, cfg.Editor.Port),
		"server", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wire the components. The broadcaster fans events out to SSE
	// streams; the bridge feeds it editor pushes; the monitor supervises
	// the bridge connection; the status manager aggregates it all.
	meta := &lazyMeta{}
	broadcaster := broadcast.New(broadcastConfig(cfg), meta, logger)

	br := bridge.New(bridgeConfig(cfg), broadcaster, logger)
	meta.b.Store(br)

	mon := monitor.New(monitorConfig(cfg), br, logger)
	mgr := status.NewManager(statusConfig(cfg), mon, logger)

	// Connection transitions fan out as realtime events and fold into
	// the shared status map.
	mon.AddStateChangeListener(func(event monitor.ConnectionEvent) {
		broadcaster.Broadcast(broadcast.Event{Type: "godot_connection", Data: event})

		updates := map[string]any{"state": string(event.State)}
		if event.Error != "" {
			updates["last_error"] = event.Error
		}
		if event.ProjectPath != "" {
			updates["project_path"] = event.ProjectPath
			updates["godot_version"] = event.GodotVersion
			updates["plugin_version"] = event.PluginVersion
		}
		mgr.UpdateStatus(updates)
	})

	server := web.New(webConfig(cfg), mon, mgr, broadcaster, logger)

	if err := mon.Start(ctx); err != nil {
		logger.Error("failed to start connection monitor", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}

		mon.Stop()
		br.Disconnect()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("bridged exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("bridged stopped")
}

func bridgeConfig(cfg *config.BridgeConfig) bridge.Config {
	return bridge.Config{
		URL:            fmt.Sprintf("ws://%s:%d", cfg.Editor.Host, cfg.Editor.Port),
		ConnectTimeout: cfg.Editor.ConnectTimeout,
		CommandTimeout: cfg.Editor.CommandTimeout,
		PingTimeout:    cfg.Editor.PingTimeout,
		WriteTimeout:   cfg.Editor.WriteTimeout,
	}
}

func monitorConfig(cfg *config.BridgeConfig) monitor.Config {
	return monitor.Config{
		CheckInterval:          cfg.Monitor.CheckInterval,
		InitialBackoff:         cfg.Monitor.InitialBackoff,
		MaxBackoff:             cfg.Monitor.MaxBackoff,
		Multiplier:             cfg.Monitor.Multiplier,
		JitterFactor:           cfg.Monitor.JitterFactor,
		MinBackoff:             cfg.Monitor.MinBackoff,
		RefusedCeiling:         cfg.Monitor.RefusedCeiling,
		TimeoutCeiling:         cfg.Monitor.TimeoutCeiling,
		NetworkFloor:           cfg.Monitor.NetworkFloor,
		EscalationFactor:       cfg.Monitor.EscalationFactor,
		StaleAfter:             cfg.Monitor.StaleAfter,
		StaleCeiling:           cfg.Monitor.StaleCeiling,
		MaxConsecutiveFailures: cfg.Monitor.MaxConsecutiveFailures,
		MaxRepeatedErrors:      cfg.Monitor.MaxRepeatedErrors,
		ErrorHistorySize:       cfg.Monitor.ErrorHistorySize,
	}
}

func broadcastConfig(cfg *config.BridgeConfig) broadcast.Config {
	return broadcast.Config{
		QueueSize:     cfg.Broadcast.QueueSize,
		ClientTimeout: cfg.Broadcast.ClientTimeout,
	}
}

func statusConfig(cfg *config.BridgeConfig) status.Config {
	return status.Config{
		BroadcastInterval: cfg.Status.BroadcastInterval,
	}
}

func webConfig(cfg *config.BridgeConfig) web.Config {
	wc := web.DefaultConfig()
	wc.Host = cfg.Server.Host
	wc.Port = cfg.Server.Port
	return wc
}
