package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/facegate/internal/api"
	"github.com/your-org/facegate/internal/api/handlers"
	"github.com/your-org/facegate/internal/api/ws"
	"github.com/your-org/facegate/internal/app"
	"github.com/your-org/facegate/internal/auth"
	"github.com/your-org/facegate/internal/config"
	"github.com/your-org/facegate/internal/dispatch"
	"github.com/your-org/facegate/internal/observability"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facegate terminal", "port", cfg.Server.Port, "data_dir", cfg.Storage.DataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	fa, err := app.Open(ctx, cfg, hub)
	if err != nil {
		slog.Error("start face authentication", "error", err)
		os.Exit(1)
	}
	defer fa.Close()

	pool := dispatch.NewPool(cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, cfg.Dispatch.Timeout)
	defer pool.Close()

	keys := auth.Keys{Operator: cfg.Server.OperatorKey, Terminal: cfg.Server.TerminalKey}
	if keys.Disabled() {
		slog.Warn("no API keys configured, authentication is disabled")
	}

	checks := make([]handlers.Check, 0, len(fa.Checks))
	for _, p := range fa.Checks {
		checks = append(checks, handlers.Check{Name: p.Name, Fn: p.Fn})
	}

	router := api.NewRouter(api.RouterConfig{
		Keys:      keys,
		FaceAuth:  fa.Manager,
		Pool:      pool,
		Hub:       hub,
		Checks:    checks,
		MaxUpload: int64(cfg.Server.MaxUploadMB) << 20,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Dispatch.Timeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	cancel()

	slog.Info("API server stopped")
}
