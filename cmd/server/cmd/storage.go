package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Togather-Foundation/passvault/internal/api"
	"github.com/Togather-Foundation/passvault/internal/api/handlers"
	"github.com/Togather-Foundation/passvault/internal/auth"
	"github.com/Togather-Foundation/passvault/internal/config"
	"github.com/Togather-Foundation/passvault/internal/events"
	"github.com/Togather-Foundation/passvault/internal/metrics"
	"github.com/Togather-Foundation/passvault/internal/storage/sqlite"
)

func newStorageCommand() *cobra.Command {
	var host string
	var port int
	var dbPath string

	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Start the storage service",
		Long: `Start the storage HTTP server.

The storage service persists encrypted entries in SQLite, applying schema
migrations at startup. When Kafka is enabled it also consumes password
events into the audit log.

Examples:
  # Start with configuration from env vars
  passvault storage

  # Use a different database file
  passvault storage --db /var/lib/passvault/passvault.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.StoragePort = port
			}
			if dbPath != "" {
				cfg.Storage.DBPath = dbPath
			}
			if err := cfg.ValidateStorage(); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			return runStorage(cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "server host address (default: 0.0.0.0)")
	cmd.Flags().IntVar(&port, "port", 0, "server port (default: 3001)")
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default: data/passvault.db)")
	return cmd
}

func runStorage(cfg config.Config) error {
	logger, shutdownTracing, err := startService(context.Background(), cfg, api.ServiceStorage)
	if err != nil {
		return err
	}
	defer flushTracing(shutdownTracing, logger)

	db, err := openDatabase(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("database close error")
		}
	}()
	logger.Info().Str("path", cfg.Storage.DBPath).Msg("database ready")

	bg, cancelBG := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancelBG()
		wg.Wait()
	}()

	dbCollector := metrics.NewDBCollector(db.Pools())
	wg.Add(1)
	go func() {
		defer wg.Done()
		dbCollector.Start(bg, 15*time.Second)
	}()
	defer dbCollector.Stop()

	var ingestorStatus func() events.IngestorStatus
	if cfg.Kafka.Enabled {
		ingestor := events.NewIngestor(db.Audit(), logger)
		reader := events.NewReader(events.ConsumerConfig{
			Brokers:  cfg.Kafka.Brokers,
			GroupID:  cfg.Kafka.GroupID,
			Topic:    cfg.Kafka.Topic,
			ClientID: cfg.Kafka.ClientID,
		}, logger)
		ingestorStatus = ingestor.Status

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if err := reader.Close(); err != nil {
					logger.Warn().Err(err).Msg("kafka reader close error")
				}
			}()
			if err := ingestor.Run(bg, reader); err != nil {
				logger.Error().Err(err).Msg("event ingestor stopped")
			}
		}()
		logger.Info().Str("topic", cfg.Kafka.Topic).Str("group", cfg.Kafka.GroupID).Msg("event ingestor started")
	} else {
		logger.Info().Msg("kafka disabled; audit log will not be fed")
	}

	health := handlers.NewHealthChecker(api.ServiceStorage, Version, GitCommit).
		Add("database", handlers.DatabaseCheck(db)).
		Add("migrations", handlers.MigrationCheck(db.Reader)).
		Add("event_ingestor", handlers.IngestorCheck(ingestorStatus))

	apiKeyGuard := auth.NewAPIKeyGuard(cfg.Storage.APIKey)
	router := api.NewStorageRouter(api.StorageDeps{
		Config:       cfg,
		Logger:       logger,
		Repo:         db,
		EntriesGuard: entriesGuard(cfg, apiKeyGuard, logger),
		AuditGuard:   apiKeyGuard,
		Health:       health,
		Build:        buildInfo(),
	})
	defer router.Close()

	return serveUntilSignal(newHTTPServer(cfg.Server.Host, cfg.Server.StoragePort, router), logger)
}

// openDatabase creates the parent directory, opens the database and applies
// pending migrations.
func openDatabase(path string) (*sqlite.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlite.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// entriesGuard selects the credential-route guard for the auth mode.
func entriesGuard(cfg config.Config, apiKey auth.Guard, logger zerolog.Logger) auth.Guard {
	if cfg.Storage.AuthMode != config.AuthModeJWT {
		return apiKey
	}
	keys := auth.NewKeySet(auth.KeySetConfig{
		URL:               cfg.OAuth.JWKSURL,
		TTL:               cfg.OAuth.JWKSCacheTTL,
		RequestsPerMinute: cfg.OAuth.JWKSRequestsPerMinute,
	}, logger)
	return auth.NewTokenValidator(keys, auth.ValidatorConfig{
		Issuers:          cfg.OAuth.Issuers,
		Audience:         cfg.OAuth.Audience,
		FallbackAudience: cfg.OAuth.FallbackAudience,
	}, logger)
}
