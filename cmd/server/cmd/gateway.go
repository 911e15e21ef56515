package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Togather-Foundation/passvault/internal/api"
	"github.com/Togather-Foundation/passvault/internal/api/handlers"
	"github.com/Togather-Foundation/passvault/internal/api/middleware"
	"github.com/Togather-Foundation/passvault/internal/auth"
	"github.com/Togather-Foundation/passvault/internal/breaker"
	"github.com/Togather-Foundation/passvault/internal/cipher"
	"github.com/Togather-Foundation/passvault/internal/config"
	"github.com/Togather-Foundation/passvault/internal/domain/passwords"
	"github.com/Togather-Foundation/passvault/internal/events"
	"github.com/Togather-Foundation/passvault/internal/storageclient"
)

func newGatewayCommand() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Start the public password API",
		Long: `Start the gateway HTTP server.

The gateway validates requests, encrypts secrets under the caller's master
key and stores them through the storage service. Storage calls are retried
with exponential backoff behind a circuit breaker.

Examples:
  # Start with configuration from env vars
  passvault gateway

  # Start on a specific host and port
  passvault gateway --host 127.0.0.1 --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.GatewayPort = port
			}
			if err := cfg.ValidateGateway(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return runGateway(cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "server host address (default: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "server port (default: 3000)")
	return cmd
}

func runGateway(cfg config.Config) error {
	logger, shutdownTracing, err := startService(context.Background(), cfg, api.ServiceGateway)
	if err != nil {
		return err
	}
	defer flushTracing(shutdownTracing, logger)

	cb := breaker.New(breaker.Config{
		Name:         "storage",
		Threshold:    cfg.Breaker.FailureThreshold,
		ResetTimeout: cfg.Breaker.ResetTimeout,
	})
	client := storageclient.New(storageclient.Config{
		BaseURL:        cfg.Storage.BaseURL,
		RequestTimeout: cfg.Storage.RequestTimeout,
		RetryAttempts:  cfg.Storage.RetryAttempts,
	}, cb, outboundAuth(cfg, logger), logger, storageclient.WithRequestID(middleware.GetRequestID))

	publisher, closePublisher := newPublisher(cfg, logger)
	defer closePublisher()

	svc := passwords.NewService(client, cipher.New(cfg.Cipher.BcryptCost), publisher, logger)

	health := handlers.NewHealthChecker(api.ServiceGateway, Version, GitCommit).
		Add("storage_breaker", handlers.BreakerCheck(cb))

	router := api.NewGatewayRouter(api.GatewayDeps{
		Config:    cfg,
		Logger:    logger,
		Passwords: svc,
		Health:    health,
		Build:     buildInfo(),
	})
	defer router.Close()

	logger.Info().
		Str("storage_url", cfg.Storage.BaseURL).
		Str("auth_mode", cfg.Storage.AuthMode).
		Int("retries", cfg.Storage.RetryAttempts).
		Msg("storage client configured")

	return serveUntilSignal(newHTTPServer(cfg.Server.Host, cfg.Server.GatewayPort, router), logger)
}

// outboundAuth picks how the gateway authenticates to storage.
func outboundAuth(cfg config.Config, logger zerolog.Logger) auth.Outbound {
	if cfg.Storage.AuthMode == config.AuthModeJWT {
		return auth.BearerOutbound{Source: newTokenCache(cfg, logger)}
	}
	return auth.APIKeyOutbound{Key: cfg.Storage.APIKey}
}

func newTokenCache(cfg config.Config, logger zerolog.Logger) *auth.TokenCache {
	return auth.NewTokenCache(auth.TokenCacheConfig{
		TokenURL:     cfg.OAuth.TokenURL,
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
	}, logger)
}

// newPublisher returns a Kafka producer when enabled. A broker that cannot
// be reached at startup is logged and the producer is kept: kafka-go dials
// lazily, so publishing resumes once the broker is back.
func newPublisher(cfg config.Config, logger zerolog.Logger) (passwords.Publisher, func()) {
	if !cfg.Kafka.Enabled {
		logger.Info().Msg("kafka disabled; password events are not published")
		return events.Discard{}, func() {}
	}

	producer := events.NewProducer(events.ProducerConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		ClientID: cfg.Kafka.ClientID,
	}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := producer.Connect(ctx); err != nil {
		logger.Warn().Err(err).Strs("brokers", cfg.Kafka.Brokers).Msg("kafka unreachable at startup")
	}

	return producer, func() {
		if err := producer.Close(); err != nil {
			logger.Warn().Err(err).Msg("kafka producer close error")
		}
	}
}
