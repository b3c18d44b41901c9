// streamwatch connects to the Tiger-ID realtime channel and streams events to
// the console. Usage: go run ./cmd/streamwatch --config configs/streamwatch.yaml
//
// The session token is normally supplied via the environment variable
// referenced from the config file (e.g. TIGERID_TOKEN).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ark-Ntech/Tiger-ID-sub004/internal/archive"
	"github.com/Ark-Ntech/Tiger-ID-sub004/internal/config"
	"github.com/Ark-Ntech/Tiger-ID-sub004/internal/database"
	"github.com/Ark-Ntech/Tiger-ID-sub004/internal/realtime"
	"github.com/Ark-Ntech/Tiger-ID-sub004/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/streamwatch.yaml", "path to config file")
	investigation := flag.String("investigation", "", "investigation topic to join")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Setup logger
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Create the connection manager
	mgrCfg := realtime.ManagerConfig{
		BaseURL:              cfg.Realtime.BaseURL,
		HandshakeTimeout:     cfg.Realtime.HandshakeTimeout,
		WriteTimeout:         cfg.Realtime.WriteTimeout,
		ReconnectBaseDelay:   cfg.Realtime.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Realtime.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
	}
	mgr := realtime.NewManager(mgrCfg, realtime.StaticToken(cfg.Realtime.Token), logger)
	defer mgr.Close()

	// Optional notification archive
	var writer *archive.Writer
	if cfg.Archive.Enabled {
		pool, err := database.Connect(ctx, cfg.Database.Archive)
		if err != nil {
			logger.Error("failed to connect archive database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		writer = archive.NewWriter(archive.WriterConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, pool, logger)
		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start notification archive", "error", err)
			os.Exit(1)
		}
		mgr.SetNotificationSink(writer)
	}

	// Topic membership is not replayed by the manager, so re-join on every
	// connect, including automatic reconnects.
	mgr.OnConnect(func() {
		logger.Info("live")
		if *investigation != "" {
			if err := mgr.JoinTopic(*investigation); err != nil {
				logger.Warn("failed to join investigation", "investigation", *investigation, "error", err)
			}
		}
	})
	mgr.OnDisconnect(func() {
		logger.Info("offline")
	})
	mgr.OnMessage(func(ev realtime.Event) {
		if *verbose {
			fmt.Printf("%s %s\n", ev.Type, ev.Raw)
			return
		}
		fmt.Printf("%s investigation=%s\n", ev.Type, ev.InvestigationID)
	})

	mgr.Connect()
	if err := mgr.LastError(); err != nil {
		logger.Error("initial connect failed", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()

	if *investigation != "" && mgr.IsConnected() {
		mgr.LeaveTopic(*investigation)
	}
	mgr.Disconnect()

	if writer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if err := writer.Stop(stopCtx); err != nil {
			logger.Warn("archive stop failed", "error", err)
		}
		stats := writer.Stats()
		logger.Info("archive summary",
			"inserts", stats.Inserts,
			"conflicts", stats.Conflicts,
			"dropped", stats.Dropped,
		)
	}
}
