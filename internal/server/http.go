package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/voicememo-service/internal/config"
	"github.com/skypro1111/voicememo-service/internal/engine"
	"github.com/skypro1111/voicememo-service/internal/metrics"
	"github.com/skypro1111/voicememo-service/internal/session"
	"github.com/skypro1111/voicememo-service/internal/store"
)

const (
	serviceName    = "voicememo-service"
	serviceVersion = "1.0.0"
)

// Options holds the collaborators served over HTTP
type Options struct {
	Config      *config.Config
	Coordinator *session.Coordinator
	Store       *store.Store
	Engine      engine.Engine
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Logger      *slog.Logger
}

// HTTPServer exposes sessions and artifacts over a REST API
type HTTPServer struct {
	server  *http.Server
	router  *gin.Engine
	logger  *slog.Logger
	config  *config.Config
	coord   *session.Coordinator
	store   *store.Store
	engine  engine.Engine
	metrics *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(opts Options) *HTTPServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    opts.Config,
		coord:     opts.Coordinator,
		store:     opts.Store,
		engine:    opts.Engine,
		metrics:   opts.Metrics,
		startTime: time.Now(),
	}

	h.router = gin.New()
	h.router.Use(gin.Recovery(), h.withLogging(), h.withMetrics())
	h.setupRoutes(gatherer)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", opts.Config.HTTP.Address, opts.Config.HTTP.Port),
		Handler:     h.router,
		ReadTimeout: 30 * time.Second,
		// Transcription requests wait for the engine, so no write timeout.
		IdleTimeout: 60 * time.Second,
	}

	return h
}

func (h *HTTPServer) setupRoutes(gatherer prometheus.Gatherer) {
	r := h.router

	r.GET("/", h.handleRoot)
	r.GET("/health", h.handleHealth)
	r.GET("/config", h.handleConfig)
	r.GET("/stats", h.handleStats)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	sessions := r.Group("/sessions")
	sessions.POST("", h.handleCreateSession)
	sessions.GET("", h.handleListSessions)
	sessions.GET("/:id", h.handleGetSession)
	sessions.DELETE("/:id", h.handleDeleteSession)
	sessions.POST("/:id/record", h.handleRecord)
	sessions.POST("/:id/stop", h.handleStop)
	sessions.POST("/:id/import", h.handleImport)
	sessions.POST("/:id/transcribe", h.handleTranscribe)
	sessions.POST("/:id/save", h.handleSave)
	sessions.POST("/:id/reset", h.handleReset)
	sessions.GET("/:id/export", h.handleExport)

	artifacts := r.Group("/artifacts")
	artifacts.GET("", h.handleListArtifacts)
	artifacts.GET("/:name/transcription", h.handleArtifactTranscription)
	artifacts.POST("/sweep", h.handleSweep)
}

// Handler returns the router, for tests and embedding
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// withMetrics records request counts and latency per route
func (h *HTTPServer) withMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" || endpoint == "/metrics" {
			return
		}

		status := c.Writer.Status()
		h.metrics.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(status), time.Since(startTime).Seconds())

		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(c.Request.Method, endpoint, errorType)
		}
	}
}

func (h *HTTPServer) withLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()

		h.logger.Debug("HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(startTime)),
		)
	}
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func (h *HTTPServer) handleHealth(c *gin.Context) {
	status := "healthy"
	if !h.engine.IsReady() {
		status = "degraded"
	}

	engineInfo := gin.H{
		"type":  h.config.Engine.Type,
		"ready": h.engine.IsReady(),
	}
	if s, ok := h.engine.(interface{ GetStats() engine.HTTPStats }); ok {
		engineInfo["stats"] = s.GetStats()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": gin.H{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": gin.H{
			"engine": engineInfo,
			"store": gin.H{
				"dir":       h.store.Dir(),
				"artifacts": h.store.Len(),
			},
			"sessions": gin.H{
				"count": len(h.coord.List()),
			},
		},
	})
}

// handleConfig returns the configuration without secrets
func (h *HTTPServer) handleConfig(c *gin.Context) {
	cfg := h.config

	c.JSON(http.StatusOK, gin.H{
		"storage": gin.H{
			"recordings_dir":   cfg.Storage.RecordingsDir,
			"catalog_enabled":  cfg.Storage.CatalogPath != "",
			"max_cache_bytes":  cfg.Storage.MaxCacheBytes,
			"max_import_bytes": cfg.Storage.MaxImportBytes,
			"retention_window": cfg.Storage.RetentionWindow.String(),
			"sweep_interval":   cfg.Storage.SweepInterval.String(),
		},
		"session": gin.H{
			"supported_languages": h.coord.SupportedLanguages(),
			"default_language":    cfg.Session.DefaultLanguage,
			"auto_transcribe":     cfg.Session.AutoTranscribe,
		},
		"capture": gin.H{
			"enabled":      cfg.Capture.Enabled,
			"input_format": cfg.Capture.InputFormat,
			"device":       cfg.Capture.Device,
			"sample_rate":  cfg.Capture.SampleRate,
		},
		"engine": gin.H{
			"type":           cfg.Engine.Type,
			"endpoint":       cfg.Engine.Endpoint,
			"model":          cfg.Engine.Model,
			"timeout":        cfg.Engine.Timeout,
			"max_concurrent": cfg.Engine.MaxConcurrent,
		},
		"logging": gin.H{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"output": cfg.Logging.Output,
		},
	})
}

func (h *HTTPServer) handleStats(c *gin.Context) {
	counts := make(map[session.State]int)
	for _, s := range h.coord.List() {
		counts[s.State]++
	}

	c.JSON(http.StatusOK, gin.H{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"sessions":  counts,
		"artifacts": h.store.Len(),
		"cache":     h.store.Cache().Stats(),
	})
}

func (h *HTTPServer) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": gin.H{
			"GET /health":                          "Service health check",
			"GET /config":                          "Service configuration",
			"GET /stats":                           "Session and cache statistics",
			"GET /metrics":                         "Prometheus metrics",
			"POST /sessions":                       "Create a session",
			"GET /sessions":                        "List sessions",
			"GET /sessions/{id}":                   "Get a session",
			"DELETE /sessions/{id}":                "Delete a session",
			"POST /sessions/{id}/record":           "Start recording from the microphone",
			"POST /sessions/{id}/stop":             "Stop recording",
			"POST /sessions/{id}/import":           "Import a WAV file",
			"POST /sessions/{id}/transcribe":       "Transcribe the session audio",
			"POST /sessions/{id}/save":             "Save the transcription",
			"POST /sessions/{id}/reset":            "Discard the session's audio and results",
			"GET /sessions/{id}/export":            "Download the saved transcription",
			"GET /artifacts":                       "List stored artifacts",
			"GET /artifacts/{name}/transcription":  "Download an artifact's transcription",
			"POST /artifacts/sweep":                "Run the retention sweep now",
		},
		"timestamp": time.Now().UTC(),
	})
}
