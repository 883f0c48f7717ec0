/*
Package main is the entry point for the Globetrotter server.

It loads configuration, initializes the global logger, opens the database
(running migrations), wires the remote backend clients into the per-device
player manager, serves HTTP and WebSocket traffic, and shuts everything down
gracefully on SIGINT or SIGTERM.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"globetrotter/internal/app/db"
	"globetrotter/internal/app/gateway"
	"globetrotter/internal/app/invite"
	"globetrotter/internal/app/localstore"
	"globetrotter/internal/app/player"
	"globetrotter/internal/app/storage"
	"globetrotter/internal/configs"
	"globetrotter/internal/handler"
	"globetrotter/internal/pkg/logx"
	"globetrotter/internal/pkg/metrics"
	"globetrotter/internal/pkg/pow"
)

const purgeInterval = 6 * time.Hour

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Str("public_url", cfg.PublicURL).
		Str("api_public_url", cfg.APIPublicURL).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("pow_difficulty", cfg.PowDifficulty).
		Bool("storage_enabled", cfg.StorageEnabled()).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.New()

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		logx.Fatal(err, "Failed to open database")
	}
	defer pool.Close()

	store := localstore.NewPostgresStore(pool)

	authClient := gateway.NewAuthClient(gateway.AuthConfig{
		URL:       cfg.SupabaseURL,
		AnonKey:   cfg.SupabaseAnonKey,
		JWTSecret: cfg.SupabaseJWTSecret,
	}, store, gateway.NewAuthHub(), rec)
	data := gateway.NewDataClient(pool, rec)

	feed, err := gateway.NewRealtimeClient(gateway.RealtimeConfig{
		URL:     cfg.SupabaseURL,
		AnonKey: cfg.SupabaseAnonKey,
	})
	if err != nil {
		logx.Fatal(err, "Invalid realtime configuration")
	}

	var cards storage.StorageService
	if cfg.StorageEnabled() {
		cards, err = storage.NewStorageService(ctx, storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
			S3Region:          cfg.S3Region,
		})
		if err != nil {
			logx.Fatal(err, "Failed to initialize share card storage")
		}
	}

	invites, err := invite.NewService(invite.Config{
		PublicURL: cfg.PublicURL,
		Invites:   data,
		Profiles:  data,
		Storage:   cards,
	})
	if err != nil {
		logx.Fatal(err, "Failed to initialize invites")
	}

	powManager := pow.NewManager(cfg.PowDifficulty)

	players := player.NewManager(ctx, player.Deps{
		Auth:           authClient,
		Profiles:       data,
		Feed:           feed,
		Destinations:   data,
		Store:          store,
		Metrics:        rec,
		IdleTimeout:    cfg.PlayerIdleTimeout,
		PersistTimeout: cfg.ScorePersistTimeout,
	})

	go purgeStaleDevices(ctx, store, cfg.DeviceRetentionDays)

	router := handler.Router(&handler.AppDeps{
		Config:  cfg,
		Players: players,
		Invites: invites,
		Pow:     powManager,
		Metrics: rec,
		Ping:    pool.Ping,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Globetrotter Server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	players.Shutdown()
	powManager.Stop()

	logx.Info("Server gracefully stopped.")
}

// purgeStaleDevices deletes device storage untouched for longer than days.
func purgeStaleDevices(ctx context.Context, store *localstore.PostgresStore, days int) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		n, err := store.PurgeStale(ctx, days)
		if err != nil && ctx.Err() == nil {
			logx.Error(err, "Failed to purge stale device storage")
		} else if n > 0 {
			logx.Info("Purged stale device storage", "devices", n, "retention_days", days)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
