package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mimirlabs/runner/internal/config"
	"github.com/mimirlabs/runner/internal/handler"
	"github.com/mimirlabs/runner/internal/interp"
	"github.com/mimirlabs/runner/internal/interp/docker"
	"github.com/mimirlabs/runner/internal/interp/proc"
	"github.com/mimirlabs/runner/internal/middleware"
	"github.com/mimirlabs/runner/internal/observability"
	"github.com/mimirlabs/runner/internal/session"
	"github.com/mimirlabs/runner/internal/supervisor"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Set up logging
	logger := logrus.StandardLogger()
	logger.SetLevel(cfg.GetLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logger.Info("Starting Mimir Runner")

	// Metrics registry
	metrics := observability.New()

	// Interpreter engines
	registry := interp.NewRegistry()
	procLoader := proc.NewLoader(proc.Config{
		PythonPath:    cfg.PythonPath,
		MaxCPUSeconds: cfg.MaxCPUSeconds,
		MaxMemoryMB:   cfg.MaxMemoryMB,
	})
	dockerLoader := docker.NewLoader(docker.Config{
		Image:        cfg.DockerImage,
		Version:      cfg.InterpreterVersion,
		MemoryLimit:  cfg.DockerMemoryLimit,
		CPULimit:     cfg.DockerCPULimit,
		PidsLimit:    cfg.DockerPidsLimit,
		StartTimeout: cfg.DockerStartTimeout,
	})
	registry.Register(procLoader)
	registry.Register(dockerLoader)

	loader, err := registry.Lookup(cfg.Engine)
	if err != nil {
		logger.WithError(err).Fatal("Failed to select interpreter engine")
	}

	// Eager initialization: warm the engine once at startup so the first
	// session does not pay the full load cost (image pull, version probe).
	if cfg.EagerInit {
		warmEngine(loader, logger)
	}

	// Supervisor and session factory
	sup := supervisor.New(cfg.DefaultRunTimeout, cfg.MaxRunTimeout, metrics)
	newSession := func() *session.Session {
		return session.New(loader, cfg.MaxOutputSize)
	}

	// Initialize handlers
	h := handler.NewHandler(registry, newSession, sup, metrics, cfg.EagerInit, logger)

	// Set up router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.CORS())
	r.Use(middleware.BodyLimit(cfg.RequestBodyLimit))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.JSON)
			r.Use(chiMiddleware.Timeout(cfg.MaxRunTimeout + 30*time.Second))
			r.Post("/execute", h.ExecuteCode)
		})

		// WebSocket route (no JSON middleware)
		r.HandleFunc("/connect", h.HandleWebSocket)

		r.Get("/runtimes", h.GetRuntimes)
	})

	// Root route
	r.Get("/", h.GetVersion)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// Create HTTP server
	server := &http.Server{
		Addr:              cfg.GetBindAddress(),
		Handler:           r,
		ReadTimeout:       cfg.MaxRunTimeout + time.Minute,
		WriteTimeout:      cfg.MaxRunTimeout + time.Minute,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Runner listening on %s", cfg.GetBindAddress())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		os.Exit(1)
	}

	logger.Info("Server exited")
}

// warmEngine runs one throwaway load so startup failures surface early.
// A failure is reported, not fatal; sessions retry their own loads.
func warmEngine(loader interp.Loader, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	sess := session.New(loader, 0)
	if _, err := sess.Init(ctx); err != nil {
		logger.WithError(err).Warn("Interpreter engine warm-up failed")
		return
	}
	sess.Terminate()
	logger.WithField("engine", loader.Info().Engine).Info("Interpreter engine warmed up")
}
