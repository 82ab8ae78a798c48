// Package database provides unified storage management for the GOBT balance tracker.
// It coordinates operations across PostgreSQL, Redis, and InfluxDB databases.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bardlex/gobt/internal/database/influx"
	"github.com/bardlex/gobt/internal/database/postgres"
	"github.com/bardlex/gobt/internal/database/redis"
	"github.com/bardlex/gobt/pkg/circuit"
	"github.com/bardlex/gobt/pkg/errors"
	"github.com/bardlex/gobt/pkg/retry"
)

// snapshotRetention bounds how much balance history the periodic pruner keeps.
const snapshotRetention = 30 * 24 * time.Hour

// Manager coordinates all storage operations across PostgreSQL, Redis, and InfluxDB
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	// Repositories
	Addresses *postgres.AddressRepository
	Snapshots *postgres.SnapshotRepository

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all storage systems
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// NewManager creates a new database manager with all connections
func NewManager(cfg *Config) (*Manager, error) {
	// Initialize PostgreSQL
	pgClient, err := postgres.NewClient(cfg.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
			"failed to connect to PostgreSQL database")
	}

	// Initialize Redis
	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		if closeErr := pgClient.Close(); closeErr != nil {
			// Wrap both errors
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database")
			closeErr = errors.Wrap(closeErr, errors.ErrorTypeDatabase, "postgres_cleanup",
				"failed to close PostgreSQL connection during error cleanup")
			return nil, errors.New(errors.ErrorTypeDatabase, "connection_failure",
				"multiple database connection failures").
				WithContext("redis_error", origErr.Error()).
				WithContext("postgres_cleanup_error", closeErr.Error())
		}
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
			"failed to connect to Redis database")
	}

	// Initialize InfluxDB
	influxClient, err := influx.NewClient(cfg.Influx)
	if err != nil {
		var closeErrs []error
		if closeErr := pgClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}
		if closeErr := redisClient.Close(); closeErr != nil {
			closeErrs = append(closeErrs, closeErr)
		}

		origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
			"failed to connect to InfluxDB database")

		if len(closeErrs) > 0 {
			return nil, origErr.WithContext("cleanup_errors", fmt.Sprintf("%v", closeErrs))
		}
		return nil, origErr
	}

	// Configure error handling
	cbConfig := &circuit.Config{
		Name:            "database",
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}

	// Create repositories
	addresses := postgres.NewAddressRepository(pgClient.DB())
	snapshots := postgres.NewSnapshotRepository(pgClient.DB())

	return &Manager{
		Postgres:       pgClient,
		Redis:          redisClient,
		Influx:         influxClient,
		Addresses:      addresses,
		Snapshots:      snapshots,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DatabaseConfig(),
	}, nil
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if err := m.Postgres.Close(); err != nil {
		errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
	}

	if err := m.Redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("redis close error: %w", err))
	}

	m.Influx.Close()

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// HealthCheck checks the health of all database connections
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.Postgres.Health(ctx); err != nil {
		return fmt.Errorf("PostgreSQL health check failed: %w", err)
	}

	if err := m.Redis.Health(ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	if err := m.Influx.Health(ctx); err != nil {
		return fmt.Errorf("InfluxDB health check failed: %w", err)
	}

	return nil
}

// High-level operations that coordinate across multiple databases

// RegisterTrackedAddress upserts an address into the tracked set so the
// monitor picks it up on its next cycle
func (m *Manager) RegisterTrackedAddress(ctx context.Context, addr *postgres.TrackedAddress) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Addresses.UpsertTrackedAddress(ctx, addr); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "register_address",
					"failed to register tracked address in PostgreSQL").
					WithContext("address", addr.Address)
			}
			return nil
		})
	})
}

// RecordBalance records an observed balance across all relevant databases
func (m *Manager) RecordBalance(ctx context.Context, snap *postgres.BalanceSnapshot, addressType string, cacheTTL time.Duration) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			// Store in PostgreSQL for persistence (critical operation)
			if err := m.Snapshots.InsertSnapshot(ctx, snap); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_balance",
					"failed to store balance snapshot in PostgreSQL").
					WithContext("address", snap.Address).
					WithContext("confirmed_sats", snap.ConfirmedSats).
					WithContext("unconfirmed_sats", snap.UnconfirmedSats)
			}

			// Record metrics in InfluxDB (best effort, don't retry on failure)
			m.Influx.WriteBalanceMetric(snap.Address, addressType, snap.ConfirmedSats, snap.UnconfirmedSats)

			// Refresh the balance cache in Redis (best effort, don't fail on error)
			cached := &redis.CachedBalance{
				Address:         snap.Address,
				AddressType:     addressType,
				ConfirmedSats:   snap.ConfirmedSats,
				UnconfirmedSats: snap.UnconfirmedSats,
				UpdatedAt:       snap.RecordedAt,
			}
			if err := m.Redis.SetBalance(ctx, cached, cacheTTL); err != nil {
				redisErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_balance_cache",
					"failed to cache balance in Redis (non-critical)")
				redisErr.Retryable = false
				// Log but don't fail the operation
				fmt.Printf("Warning: %v\n", redisErr)
			}

			return nil
		})
	})
}

// RecordServerList stores the refreshed ranked server list
func (m *Manager) RecordServerList(ctx context.Context, list *redis.ServerList) error {
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			// The Redis document is what downstream consumers read (critical operation)
			if err := m.Redis.SetServerList(ctx, list); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_server_list",
					"failed to store server list in Redis").
					WithContext("server_count", len(list.Servers))
			}

			// Record health metrics in InfluxDB (best effort)
			for _, srv := range list.Servers {
				m.Influx.WriteServerHealthMetric(srv.Host, srv.Transport, srv.HealthScore, srv.LatencySeconds)
			}

			return nil
		})
	})
}

// LatestBalance retrieves the most recent known balance for an address.
// The Redis cache is consulted first; on a miss the latest PostgreSQL
// snapshot is returned. A nil result means the address has never been
// observed.
func (m *Manager) LatestBalance(ctx context.Context, address string) (*redis.CachedBalance, error) {
	cached, err := m.Redis.GetBalance(ctx, address)
	if err == nil && cached != nil {
		return cached, nil
	}

	snap, err := m.Snapshots.LatestSnapshot(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest balance: %w", err)
	}
	if snap == nil {
		return nil, nil
	}

	return &redis.CachedBalance{
		Address:         snap.Address,
		ConfirmedSats:   snap.ConfirmedSats,
		UnconfirmedSats: snap.UnconfirmedSats,
		UpdatedAt:       snap.RecordedAt,
	}, nil
}

// RefreshBalanceCache extends the cache lifetime of an unchanged balance
// without writing a new snapshot (best effort, don't fail on error)
func (m *Manager) RefreshBalanceCache(ctx context.Context, bal *redis.CachedBalance, cacheTTL time.Duration) {
	if err := m.Redis.SetBalance(ctx, bal, cacheTTL); err != nil {
		redisErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_balance_cache",
			"failed to refresh cached balance in Redis (non-critical)")
		redisErr.Retryable = false
		fmt.Printf("Warning: %v\n", redisErr)
	}
}

// RecordQueryDuration records how long an Electrum query round took (best effort)
func (m *Manager) RecordQueryDuration(method, outcome string, duration time.Duration) {
	m.Influx.WriteQueryDurationMetric(method, outcome, duration)
}

// StartPeriodicTasks starts background tasks for storage maintenance
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	// Prune old balance snapshots every hour
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-snapshotRetention)
				if _, err := m.Snapshots.PruneSnapshotsBefore(ctx, cutoff); err != nil {
					fmt.Printf("Warning: failed to prune balance snapshots: %v\n", err)
				}
			}
		}
	}()

	// Flush InfluxDB writes every 10 seconds
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()
}
