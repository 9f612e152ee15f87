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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/voicememo-service/internal/cache"
	"github.com/skypro1111/voicememo-service/internal/capture"
	"github.com/skypro1111/voicememo-service/internal/catalog"
	"github.com/skypro1111/voicememo-service/internal/config"
	"github.com/skypro1111/voicememo-service/internal/engine"
	"github.com/skypro1111/voicememo-service/internal/mcpserver"
	"github.com/skypro1111/voicememo-service/internal/metrics"
	"github.com/skypro1111/voicememo-service/internal/server"
	"github.com/skypro1111/voicememo-service/internal/session"
	"github.com/skypro1111/voicememo-service/internal/store"
)

const (
	serviceName    = "voicememo-service"
	serviceVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults are used when empty)")
	envPath := flag.String("env", ".env", "Path to .env file")
	mcpFlag := flag.Bool("mcp", false, "Serve MCP tools on stdin/stdout")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *mcpFlag {
		cfg.MCP.Enabled = true
	}
	// stdout carries the MCP protocol
	if cfg.MCP.Enabled && (cfg.Logging.Output == "" || cfg.Logging.Output == "stdout") {
		cfg.Logging.Output = "stderr"
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)
	logger.Info("Configuration loaded",
		slog.String("recordings_dir", cfg.Storage.RecordingsDir),
		slog.Bool("catalog_enabled", cfg.Storage.CatalogPath != ""),
		slog.Int64("max_cache_bytes", cfg.Storage.MaxCacheBytes),
		slog.Duration("retention_window", cfg.Storage.RetentionWindow),
		slog.String("engine", cfg.Engine.Type),
		slog.Bool("capture_enabled", cfg.Capture.Enabled),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Bool("mcp_enabled", cfg.MCP.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)

	var cat *catalog.Catalog
	var storeCatalog store.Catalog
	if cfg.Storage.CatalogPath != "" {
		cat, err = catalog.Open(cfg.Storage.CatalogPath)
		if err != nil {
			logger.Error("Failed to open catalog", slog.String("error", err.Error()))
			os.Exit(1)
		}
		storeCatalog = cat
	}

	st, err := store.Open(ctx, store.Options{
		Dir:        cfg.Storage.RecordingsDir,
		Cache:      cache.New(cfg.Storage.MaxCacheBytes),
		Catalog:    storeCatalog,
		Logger:     logger,
		Metrics:    appMetrics,
		SampleRate: engine.SampleRate,
	})
	if err != nil {
		logger.Error("Failed to open artifact store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	st.StartSweeper(cfg.Storage.SweepInterval, cfg.Storage.RetentionWindow)

	eng, err := newEngine(cfg.Engine)
	if err != nil {
		logger.Error("Failed to create inference engine", slog.String("error", err.Error()))
		os.Exit(1)
	}
	eng = engine.ReleaseOnce(eng)
	if !eng.IsReady() {
		logger.Warn("Inference engine is not ready, transcription requests will be rejected",
			slog.String("engine", cfg.Engine.Type),
		)
	}

	var capturer capture.Capturer
	if cfg.Capture.Enabled {
		capturer = &capture.FFmpeg{
			Path:        cfg.Capture.FFmpegPath,
			InputFormat: cfg.Capture.InputFormat,
			Device:      cfg.Capture.Device,
			SampleRate:  cfg.Capture.SampleRate,
			StopTimeout: cfg.Capture.GetStopTimeoutDuration(),
			Logger:      logger,
		}
	}

	coord, err := session.NewCoordinator(session.Options{
		Store:    st,
		Engine:   eng,
		Capturer: capturer,
		Config: session.Config{
			SupportedLanguages: cfg.Session.SupportedLanguages,
			DefaultLanguage:    cfg.Session.DefaultLanguage,
			AutoTranscribe:     cfg.Session.AutoTranscribe,
		},
		Logger:  logger,
		Metrics: appMetrics,
	})
	if err != nil {
		logger.Error("Failed to create session coordinator", slog.String("error", err.Error()))
		os.Exit(1)
	}
	coord.SetListener(func(ev session.Event) {
		logger.Info("Session state changed",
			slog.String("session_id", ev.Session.ID),
			slog.String("from", string(ev.From)),
			slog.String("to", string(ev.To)),
		)
	})

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(server.Options{
			Config:      cfg,
			Coordinator: coord,
			Store:       st,
			Engine:      eng,
			Metrics:     appMetrics,
			Logger:      logger,
		})
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if cfg.MCP.Enabled {
		mcpSrv := mcpserver.New(st, coord, logger)
		go func() {
			if err := mcpSrv.Serve(ctx, os.Stdin, os.Stdout); err != nil {
				logger.Error("MCP server error", slog.String("error", err.Error()))
			}
			// The client went away.
			cancel()
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stops an active recording so its file is finalized, then waits for
	// background transcriptions.
	coord.Close()
	st.Close()

	if err := eng.Close(); err != nil {
		logger.Error("Error releasing inference engine", slog.String("error", err.Error()))
	}
	if cat != nil {
		if err := cat.Close(); err != nil {
			logger.Error("Error closing catalog", slog.String("error", err.Error()))
		}
	}

	logger.Info("Service stopped",
		slog.Int("artifacts", st.Len()),
	)
}

func newEngine(cfg config.EngineConfig) (engine.Engine, error) {
	switch cfg.Type {
	case "openai":
		return engine.NewOpenAI(engine.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.Endpoint,
			Model:   cfg.Model,
		}), nil
	case "http":
		return engine.NewHTTP(engine.HTTPConfig{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			Timeout:       cfg.GetTimeoutDuration(),
			MaxConcurrent: cfg.MaxConcurrent,
		})
	default:
		return nil, fmt.Errorf("unknown engine type %q", cfg.Type)
	}
}

// initLogger creates the structured logger described by the configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
