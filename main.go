// Command voicecord is the main entrypoint for the voice note recorder.
// It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres and runs idempotent migrations.
//   - Connects to the platform bridge and starts the presence and command loops.
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: in-flight deliveries drain and every
// deafen the bot applied is lifted before exit.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/voicecord/command"
	"github.com/onnwee/voicecord/config"
	"github.com/onnwee/voicecord/db"
	"github.com/onnwee/voicecord/encode"
	"github.com/onnwee/voicecord/entitlement"
	"github.com/onnwee/voicecord/gateway"
	"github.com/onnwee/voicecord/record"
	"github.com/onnwee/voicecord/render"
	"github.com/onnwee/voicecord/server"
	"github.com/onnwee/voicecord/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateBridgeReady(); err != nil {
		slog.Error("bridge config incomplete", slog.Any("err", err))
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("data dir", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("voicecord", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional DB-backed history; the bot runs fine without it.
	var history record.History
	var journalSeed int64
	if cfg.DBDsn != "" {
		database, err := db.Connect()
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		if err := db.Migrate(ctx, database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
		store := db.NewStore(database)
		history = store
		if n, err := store.RecordingCount(ctx); err != nil {
			slog.Warn("recording count load failed", slog.Any("err", err))
		} else {
			journalSeed = n
		}
		slog.Info("history store ready", slog.Int64("recordings", journalSeed))
	}

	journal := telemetry.NewJournal(cfg.JournalPath, journalSeed)

	// Entitlement: remote service when configured, static default otherwise.
	var resolver entitlement.Resolver
	if cfg.EntitlementURL != "" {
		resolver = entitlement.NewClient(cfg.EntitlementURL, cfg.EntitlementTokenURL, cfg.EntitlementClientID, cfg.EntitlementClientSecret)
	} else {
		resolver = entitlement.Static{}
	}

	// Platform bridge
	bridge := gateway.NewBridge(cfg.BridgeURL)
	if err := bridge.Connect(ctx); err != nil {
		slog.Error("bridge connect failed", slog.String("url", cfg.BridgeURL), slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("bridge connected", slog.String("url", cfg.BridgeURL))

	queue := encode.NewQueue(encode.FFmpeg{})
	registry := record.NewRegistry(record.Options{
		Gateway:            bridge,
		Resolver:           resolver,
		Opener:             record.GatewayCaptureOpener(bridge),
		Queue:              queue,
		Renderer:           render.FFmpegRenderer{DataDir: cfg.DataDir},
		Journal:            journal,
		History:            history,
		DataDir:            cfg.DataDir,
		RecordChannel:      cfg.RecordChannel,
		MinDurationSeconds: cfg.MinDurationSeconds,
	})
	presence := record.NewPresenceCoordinator(registry, bridge, cfg.BotKey, cfg.RecordChannel)
	dispatcher := command.NewDispatcher(registry, presence, bridge, cfg.RecordChannel)

	go presence.Run(ctx, bridge.Presence())
	go dispatcher.Run(ctx, bridge.Commands())

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	go func() {
		h := server.NewHandler(server.Deps{Registry: registry, Queue: queue, Ready: bridge.Connected})
		if err := server.Start(ctx, addr, h); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", slog.Any("err", err))
		}
	}()
	slog.Info("voicecord running", slog.String("addr", addr), slog.String("record_channel", cfg.RecordChannel))

	<-ctx.Done()
	slog.Info("shutting down")

	// Nobody stays deaf because the process died.
	sweep, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	presence.UndeafenAll(sweep)
	slog.Info("shutdown complete")
}
