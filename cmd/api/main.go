// Command api serves statement uploads, transaction listings and exports.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // Registers /debug/pprof on http.DefaultServeMux
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/FACorreiaa/statement-ledger/internal/domain/statement/handler"
	"github.com/FACorreiaa/statement-ledger/pkg/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Observability.LogLevel}))
	slog.SetDefault(logger)

	deps, err := InitDependencies(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers := []*http.Server{newAPIServer(cfg, deps)}
	if cfg.Observability.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", deps.Metrics.Handler())
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Observability.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}
	if cfg.Profiling.Enabled {
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf("localhost:%d", cfg.Profiling.Port),
			Handler:           http.DefaultServeMux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}()
	}

	if deps.Scheduler != nil {
		if err := deps.Scheduler.Start(); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err = <-errCh:
		logger.Error("http server failed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if deps.Scheduler != nil {
		select {
		case <-deps.Scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("inbox sweep still running at shutdown")
		}
	}
	for _, srv := range servers {
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("http server shutdown failed", slog.String("addr", srv.Addr), slog.Any("error", shutdownErr))
		}
	}

	logger.Info("server stopped")
	return err
}

// newAPIServer builds the public server: CORS, then metrics and logging, then rate limiting
func newAPIServer(cfg *config.Config, deps *Dependencies) *http.Server {
	limiter := rate.NewLimiter(rate.Limit(cfg.Server.RateLimitPerSecond), cfg.Server.RateLimitBurst)

	h := handler.Chain(deps.StatementHandler.Routes(),
		handler.Observe(deps.Logger, deps.Metrics),
		handler.RateLimit(limiter),
	)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           600,
	})

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           c.Handler(h),
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads may wait for page recognition
		WriteTimeout: cfg.OCR.Timeout + 30*time.Second,
		IdleTimeout:  2 * time.Minute,
	}
}
