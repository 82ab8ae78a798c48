// Package main implements trackerd service for the GOBT balance tracker.
// This service serves the REST API for balance queries against Electrum servers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bardlex/gobt/internal/api"
	"github.com/bardlex/gobt/internal/config"
	"github.com/bardlex/gobt/internal/database"
	"github.com/bardlex/gobt/internal/database/influx"
	"github.com/bardlex/gobt/internal/database/postgres"
	"github.com/bardlex/gobt/internal/database/redis"
	"github.com/bardlex/gobt/internal/electrum"
	"github.com/bardlex/gobt/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting trackerd",
		"version", cfg.Version,
		"listen_addr", cfg.ListenAddr,
		"listen_port", cfg.ListenPort,
		"electrum_servers", len(cfg.ElectrumServers),
	)

	// Create the Electrum tracker. It connects on the first query rather
	// than at startup.
	tracker := electrum.NewTracker(electrumConfig(cfg), logger)
	defer tracker.Disconnect()

	// Create database manager
	dbManager, err := database.NewManager(databaseConfig(cfg))
	if err != nil {
		logger.WithError(err).Error("failed to create database manager")
		os.Exit(1)
	}
	defer func() {
		if err := dbManager.Close(); err != nil {
			logger.WithError(err).Error("failed to close database manager")
		}
	}()

	// Create the API server
	apiCfg := apiConfig(cfg)
	handler := api.NewHandler(tracker, dbManager, apiCfg, logger)
	server := api.NewServer(apiCfg, handler, logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start the server
	go func() {
		if err := server.Run(); err != nil {
			logger.WithError(err).Error("server failed")
			cancel()
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
		logger.Error("server stopped unexpectedly")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("trackerd stopped")
}

// electrumConfig maps the service configuration onto the tracker's.
func electrumConfig(cfg *config.Config) *electrum.Config {
	return &electrum.Config{
		Servers:         cfg.ElectrumServers,
		UseTLS:          cfg.ElectrumUseSSL,
		VerifyTLS:       cfg.ElectrumVerifyCert,
		Timeout:         cfg.ElectrumTimeout,
		EnableDiscovery: cfg.EnableServerDiscovery,
		MaxServers:      cfg.MaxDiscoveredServers,
	}
}

// apiConfig maps the service configuration onto the API server's.
func apiConfig(cfg *config.Config) *api.Config {
	return &api.Config{
		ListenAddr:      cfg.ListenAddr,
		ListenPort:      cfg.ListenPort,
		APIKey:          cfg.APIKey,
		AllowedIPs:      cfg.AllowedIPs,
		AllowedOrigins:  cfg.AllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxServers:      cfg.MaxDiscoveredServers,
	}
}

// databaseConfig maps the service configuration onto the storage manager's.
func databaseConfig(cfg *config.Config) *database.Config {
	return &database.Config{
		Postgres: &postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			MaxLifetime:  5 * time.Minute,
		},
		Redis: &redis.Config{
			URL:          cfg.RedisURL,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Influx: &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		},
	}
}
