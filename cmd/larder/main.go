package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dukerupert/larder/internal/backup"
	"github.com/dukerupert/larder/internal/broker"
	"github.com/dukerupert/larder/internal/config"
	"github.com/dukerupert/larder/internal/database"
	"github.com/dukerupert/larder/internal/event"
	"github.com/dukerupert/larder/internal/logging"
	"github.com/dukerupert/larder/internal/server"
	"github.com/dukerupert/larder/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	// A .env file is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	docs, closeDocs, err := openDocuments(cfg, logger)
	if err != nil {
		return err
	}
	defer closeDocs()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus()

	if cfg.AMQPURL != "" {
		pub, err := broker.Dial(cfg.AMQPURL, cfg.AMQPExchange, logger.With("component", "broker"))
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		defer pub.Close()
		defer pub.Follow(bus)()
		go pub.Run(ctx)
		logger.Info("publishing changes", "exchange", cfg.AMQPExchange)
	}

	srv := server.New(docs, bus, backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
		Prefix:     cfg.S3Prefix,
		Passphrase: cfg.BackupPassphrase,
		Interval:   cfg.BackupInterval,
		Retain:     cfg.BackupRetain,
	}, logger)
	defer srv.Close()

	srv.BackupManager().Start(ctx)
	defer srv.BackupManager().Stop()
	go srv.RateLimiter().RunCleanup(ctx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("larder listening", "addr", httpServer.Addr, "store", cfg.Store)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openDocuments opens the configured document store and returns a func
// that releases it.
func openDocuments(cfg *config.Config, logger *slog.Logger) (store.Documents, func(), error) {
	switch cfg.Store {
	case config.StoreSQLite:
		if err := ensureDir(cfg.DBPath); err != nil {
			return nil, nil, err
		}
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		logger.Info("using sqlite store", "path", cfg.DBPath)
		return store.NewSQLiteDocuments(db), func() { db.Close() }, nil
	case config.StoreFile:
		if err := ensureDir(cfg.SnapshotPath); err != nil {
			return nil, nil, err
		}
		docs, err := store.OpenFileDocuments(cfg.SnapshotPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file store", "path", cfg.SnapshotPath)
		return docs, func() {}, nil
	default:
		logger.Warn("using memory store, data is lost on exit")
		return store.NewMemoryDocuments(), func() {}, nil
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return nil
}
