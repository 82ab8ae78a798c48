// Package main implements monitord service for the GOBT balance tracker.
// This service polls tracked addresses on a schedule, records balance
// changes, refreshes the Electrum server list, and publishes events to Kafka.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bardlex/gobt/internal/config"
	"github.com/bardlex/gobt/internal/database"
	"github.com/bardlex/gobt/internal/database/influx"
	"github.com/bardlex/gobt/internal/database/postgres"
	"github.com/bardlex/gobt/internal/database/redis"
	"github.com/bardlex/gobt/internal/electrum"
	"github.com/bardlex/gobt/internal/messaging"
	"github.com/bardlex/gobt/internal/monitor"
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
	logger.Info("starting monitord",
		"version", cfg.Version,
		"tracked_addresses", len(cfg.TrackedAddresses),
		"update_interval", cfg.UpdateInterval.String(),
	)

	// Create the Electrum tracker. It connects on the first poll rather
	// than at startup.
	tracker := electrum.NewTracker(electrumConfig(cfg), logger)

	// Create database manager
	dbManager, err := database.NewManager(databaseConfig(cfg))
	if err != nil {
		logger.WithError(err).Error("failed to create database manager")
		os.Exit(1)
	}

	// Create Kafka client
	kafkaClient := messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)

	// Create the monitor
	mon := monitor.NewMonitor(monitorConfig(cfg), logger, tracker, dbManager, kafkaClient)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start storage maintenance loops
	dbManager.StartPeriodicTasks(ctx)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start the monitor
	go func() {
		if err := mon.Start(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("monitor failed")
			cancel()
		}
	}()

	// Wait for shutdown signal
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
		logger.Error("monitor stopped unexpectedly")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := mon.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("monitor shutdown failed")
	}

	if err := kafkaClient.Close(); err != nil {
		logger.WithError(err).Error("failed to close Kafka client")
	}

	if err := dbManager.Close(); err != nil {
		logger.WithError(err).Error("failed to close database manager")
	}

	tracker.Disconnect()

	logger.Info("monitord stopped")
}

// monitorConfig maps the service configuration onto the monitor's.
func monitorConfig(cfg *config.Config) *monitor.Config {
	return &monitor.Config{
		Addresses:             cfg.TrackedAddresses,
		UpdateInterval:        cfg.UpdateInterval,
		ServerRefreshInterval: cfg.ServerRefreshInterval,
		BalanceCacheTTL:       cfg.BalanceCacheTTL,
	}
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
