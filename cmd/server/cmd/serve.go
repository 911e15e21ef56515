package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/passvault/internal/config"
	"github.com/Togather-Foundation/passvault/internal/metrics"
	"github.com/Togather-Foundation/passvault/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// loadConfig reads the environment (and --config) and applies the global
// logging flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

// startService performs the setup shared by both services: logger, metrics
// and tracing. The returned shutdown flushes spans.
func startService(ctx context.Context, cfg config.Config, service string) (zerolog.Logger, telemetry.Shutdown, error) {
	logger := config.NewLogger(cfg.Logging, service)

	metrics.Init(Version, GitCommit, BuildDate, service)

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "passvault-" + service
	}
	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, cfg.Environment, Version)
	if err != nil {
		return logger, nil, fmt.Errorf("init tracing: %w", err)
	}
	logger.Info().
		Str("version", Version).
		Str("environment", cfg.Environment).
		Bool("tracing", cfg.Tracing.Enabled).
		Msg("starting " + service)
	return logger, shutdownTracing, nil
}

func newHTTPServer(host string, port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second, // Total time to read request
		WriteTimeout:      30 * time.Second, // Total time to write response
		ReadHeaderTimeout: 5 * time.Second,  // Time to read headers
		MaxHeaderBytes:    1 << 20,          // 1 MB max header size
	}
}

// serveUntilSignal runs server until SIGINT/SIGTERM or a listener failure,
// then shuts it down gracefully.
func serveUntilSignal(server *http.Server, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func flushTracing(shutdown telemetry.Shutdown, logger zerolog.Logger) {
	if shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("tracing shutdown error")
	}
}
