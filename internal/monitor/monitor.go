// Package monitor runs the periodic polling loops for the GOBT balance
// tracker. It polls tracked addresses on a schedule, detects changes
// against the last recorded balances, and fans observations out to
// storage and Kafka for downstream consumers.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bardlex/gobt/internal/address"
	"github.com/bardlex/gobt/internal/database/postgres"
	"github.com/bardlex/gobt/internal/database/redis"
	"github.com/bardlex/gobt/internal/electrum"
	"github.com/bardlex/gobt/internal/messaging"
	"github.com/bardlex/gobt/pkg/errors"
	"github.com/bardlex/gobt/pkg/log"
)

// serverListEventKey partitions all server list messages onto one key so
// consumers see them in refresh order.
const serverListEventKey = "servers"

// Poller is the tracker surface the monitor polls each cycle.
type Poller interface {
	GetBalances(ctx context.Context, addrs []string) []electrum.BalanceOutcome
	GetServerInfo() (*electrum.ServerInfo, error)
	UpdateServerList() *electrum.DiscoveryReport
}

// Store is the persistence surface poll cycles record into.
type Store interface {
	RegisterTrackedAddress(ctx context.Context, addr *postgres.TrackedAddress) error
	LatestBalance(ctx context.Context, address string) (*redis.CachedBalance, error)
	RecordBalance(ctx context.Context, snap *postgres.BalanceSnapshot, addressType string, cacheTTL time.Duration) error
	RefreshBalanceCache(ctx context.Context, bal *redis.CachedBalance, cacheTTL time.Duration)
	RecordServerList(ctx context.Context, list *redis.ServerList) error
	RecordQueryDuration(method, outcome string, duration time.Duration)
}

// Publisher emits monitor events to downstream consumers.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, msg any) error
}

// Config holds the monitor loop settings. Callers build it from their own
// configuration layer.
type Config struct {
	// Addresses are the tracked addresses polled every cycle.
	Addresses []string

	// UpdateInterval is the balance poll cadence.
	UpdateInterval time.Duration

	// ServerRefreshInterval is the ranked server list refresh cadence.
	ServerRefreshInterval time.Duration

	// BalanceCacheTTL bounds how long cached balances stay valid between
	// polls.
	BalanceCacheTTL time.Duration
}

// normalized returns a copy with defaults applied.
func (c *Config) normalized() *Config {
	out := *c
	if out.UpdateInterval <= 0 {
		out.UpdateInterval = 5 * time.Minute
	}
	if out.ServerRefreshInterval <= 0 {
		out.ServerRefreshInterval = 30 * time.Minute
	}
	if out.BalanceCacheTTL <= 0 {
		out.BalanceCacheTTL = out.UpdateInterval
	}
	return &out
}

// balanceState is the last recorded balance for one tracked address.
type balanceState struct {
	confirmedSats   int64
	unconfirmedSats int64
}

// Monitor drives the periodic balance polls and server list refreshes for
// monitord.
type Monitor struct {
	cfg       *Config
	logger    *log.Logger
	poller    Poller
	store     Store
	publisher Publisher

	cron *cron.Cron
	done chan struct{}

	// Overlap guards. A cycle that is still running when its next tick
	// fires makes the new tick a no-op.
	polling    atomic.Bool
	refreshing atomic.Bool

	mu    sync.Mutex
	known map[string]balanceState
}

// NewMonitor creates a monitor over the given tracker, storage and event
// bus surfaces.
func NewMonitor(cfg *Config, logger *log.Logger, poller Poller, store Store, publisher Publisher) *Monitor {
	return &Monitor{
		cfg:       cfg.normalized(),
		logger:    logger.WithComponent("monitor"),
		poller:    poller,
		store:     store,
		publisher: publisher,
		cron:      cron.New(),
		done:      make(chan struct{}),
		known:     make(map[string]balanceState),
	}
}

// Start registers the tracked addresses, seeds the change detection
// baseline from storage, runs the first poll and refresh immediately, and
// then keeps both cycles on their schedules until the context is canceled
// or Shutdown is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.logger.Info("monitor starting",
		"addresses", len(m.cfg.Addresses),
		"update_interval", m.cfg.UpdateInterval.String(),
		"server_refresh_interval", m.cfg.ServerRefreshInterval.String(),
	)
	if len(m.cfg.Addresses) == 0 {
		m.logger.Warn("no tracked addresses configured, only the server list will be refreshed")
	}

	m.registerAddresses(ctx)
	m.seedBaselines(ctx)

	if _, err := m.cron.AddFunc("@every "+m.cfg.UpdateInterval.String(), func() {
		m.PollBalances(ctx)
	}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "schedule_poll",
			"failed to schedule balance poll")
	}
	if _, err := m.cron.AddFunc("@every "+m.cfg.ServerRefreshInterval.String(), func() {
		m.RefreshServers(ctx)
	}); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "schedule_refresh",
			"failed to schedule server refresh")
	}
	m.cron.Start()

	// First cycle runs right away so a fresh start reports balances
	// without waiting out the interval.
	m.PollBalances(ctx)
	m.RefreshServers(ctx)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return nil
	}
}

// Shutdown stops the schedules and waits for any running cycle to finish.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down monitor")
	close(m.done)

	stopped := m.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// registerAddresses upserts every parseable tracked address so the
// database knows what this monitor watches. Failures are logged and
// skipped; polling proceeds regardless.
func (m *Monitor) registerAddresses(ctx context.Context) {
	for _, addr := range m.cfg.Addresses {
		scripthash, addrType, err := address.Decode(addr)
		if err != nil {
			m.logger.WithError(err).Warn("skipping unparseable tracked address", "address", addr)
			continue
		}

		tracked := &postgres.TrackedAddress{
			Address:     addr,
			AddressType: addrType.String(),
			ScriptHash:  scripthash.String(),
		}
		if err := m.store.RegisterTrackedAddress(ctx, tracked); err != nil {
			m.logger.WithError(err).Warn("failed to register tracked address", "address", addr)
		}
	}
}

// seedBaselines loads the last recorded balance per address so a restart
// does not re-announce balances that never moved.
func (m *Monitor) seedBaselines(ctx context.Context) {
	seeded := 0
	for _, addr := range m.cfg.Addresses {
		cached, err := m.store.LatestBalance(ctx, addr)
		if err != nil {
			m.logger.WithError(err).Warn("failed to load balance baseline", "address", addr)
			continue
		}
		if cached == nil {
			continue
		}

		m.mu.Lock()
		m.known[addr] = balanceState{
			confirmedSats:   cached.ConfirmedSats,
			unconfirmedSats: cached.UnconfirmedSats,
		}
		m.mu.Unlock()
		seeded++
	}
	m.logger.Info("balance baselines loaded", "seeded", seeded, "addresses", len(m.cfg.Addresses))
}

// PollBalances runs one balance poll cycle over the tracked addresses.
func (m *Monitor) PollBalances(ctx context.Context) {
	if !m.polling.CompareAndSwap(false, true) {
		m.logger.Warn("previous balance poll still running, skipping cycle")
		return
	}
	defer m.polling.Store(false)

	if len(m.cfg.Addresses) == 0 {
		return
	}

	start := time.Now()
	outcomes := m.poller.GetBalances(ctx, m.cfg.Addresses)
	serverHost := m.activeServerHost()

	succeeded := 0
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			m.logger.WithError(outcome.Err).Warn("balance query failed", "address", outcome.Address)
			continue
		}
		succeeded++
		m.observe(ctx, outcome.Balance, serverHost)
	}

	elapsed := time.Since(start)
	queryOutcome := "ok"
	if succeeded == 0 {
		queryOutcome = "failed"
	}
	m.store.RecordQueryDuration("get_balances", queryOutcome, elapsed)

	m.logger.Info("balance poll complete",
		"addresses", len(outcomes),
		"succeeded", succeeded,
		"failed", len(outcomes)-succeeded,
		"duration_ms", float64(elapsed.Nanoseconds())/1e6,
	)
}

// observe compares one successfully polled balance against the last known
// state and records and publishes the outcome. Unchanged balances only get
// their cache lifetime extended.
func (m *Monitor) observe(ctx context.Context, bal *electrum.Balance, serverHost string) {
	now := time.Now().UTC()
	state := balanceState{
		confirmedSats:   bal.ConfirmedSats,
		unconfirmedSats: bal.UnconfirmedSats,
	}

	m.mu.Lock()
	prev, seen := m.known[bal.Address]
	m.mu.Unlock()

	if seen && prev == state {
		m.store.RefreshBalanceCache(ctx, &redis.CachedBalance{
			Address:         bal.Address,
			AddressType:     bal.AddressType.String(),
			ConfirmedSats:   bal.ConfirmedSats,
			UnconfirmedSats: bal.UnconfirmedSats,
			UpdatedAt:       now,
		}, m.cfg.BalanceCacheTTL)
		return
	}

	event := messaging.EventChanged
	if !seen {
		event = messaging.EventInitial
	}

	snap := &postgres.BalanceSnapshot{
		Address:         bal.Address,
		ConfirmedSats:   bal.ConfirmedSats,
		UnconfirmedSats: bal.UnconfirmedSats,
		RecordedAt:      now,
	}
	if err := m.store.RecordBalance(ctx, snap, bal.AddressType.String(), m.cfg.BalanceCacheTTL); err != nil {
		// Leave the known state untouched so the next cycle retries the
		// snapshot and the event.
		m.logger.WithError(err).Error("failed to record balance snapshot", "address", bal.Address)
		return
	}

	msg := &messaging.BalanceEventMessage{
		Address:             bal.Address,
		AddressType:         bal.AddressType.String(),
		ConfirmedSats:       bal.ConfirmedSats,
		UnconfirmedSats:     bal.UnconfirmedSats,
		PrevConfirmedSats:   prev.confirmedSats,
		PrevUnconfirmedSats: prev.unconfirmedSats,
		DeltaSats:           bal.TotalSats() - (prev.confirmedSats + prev.unconfirmedSats),
		Event:               event,
		ServerHost:          serverHost,
		DetectedAt:          now,
	}
	if err := m.publisher.PublishJSON(ctx, messaging.TopicBalanceEvents, bal.Address, msg); err != nil {
		m.logger.WithError(err).Error("failed to publish balance event", "address", bal.Address)
	}

	m.mu.Lock()
	m.known[bal.Address] = state
	m.mu.Unlock()

	m.logger.Info("balance event",
		"address", bal.Address,
		"event", event,
		"confirmed_sats", bal.ConfirmedSats,
		"unconfirmed_sats", bal.UnconfirmedSats,
		"delta_sats", msg.DeltaSats,
	)
}

// RefreshServers runs one discovery pass and persists and publishes the
// refreshed ranked server list. An empty pass keeps the previous list.
func (m *Monitor) RefreshServers(ctx context.Context) {
	if !m.refreshing.CompareAndSwap(false, true) {
		m.logger.Warn("previous server refresh still running, skipping cycle")
		return
	}
	defer m.refreshing.Store(false)

	start := time.Now()
	report := m.poller.UpdateServerList()
	elapsed := time.Since(start)

	if len(report.Servers) == 0 {
		m.store.RecordQueryDuration("update_server_list", "failed", elapsed)
		m.logger.Warn("server refresh found no healthy servers, keeping previous list")
		return
	}
	m.store.RecordQueryDuration("update_server_list", "ok", elapsed)

	now := time.Now().UTC()
	list := &redis.ServerList{
		Servers:   make([]redis.ServerEntry, 0, len(report.Servers)),
		UpdatedAt: now,
	}
	msg := &messaging.ServerListMessage{
		Servers:         make([]messaging.ServerListEntry, 0, len(report.Servers)),
		TotalDiscovered: report.TotalDiscovered,
		HealthChecked:   report.HealthChecked,
		RefreshedAt:     now,
	}
	for _, health := range report.Servers {
		list.Servers = append(list.Servers, redis.ServerEntry{
			Host:           health.Endpoint.Host,
			Port:           health.Endpoint.Port,
			Transport:      health.Endpoint.Transport(),
			HealthScore:    health.HealthScore,
			LatencySeconds: health.LatencySeconds,
			Version:        health.ServerVersion,
		})
		msg.Servers = append(msg.Servers, messaging.ServerListEntry{
			Host:           health.Endpoint.Host,
			Port:           health.Endpoint.Port,
			Transport:      health.Endpoint.Transport(),
			HealthScore:    health.HealthScore,
			LatencySeconds: health.LatencySeconds,
			Version:        health.ServerVersion,
		})
	}

	// Persistence and publishing are independent. A failed store write
	// should not hold the full-state message back, and vice versa.
	if err := m.store.RecordServerList(ctx, list); err != nil {
		m.logger.WithError(err).Error("failed to store refreshed server list")
	}
	if err := m.publisher.PublishJSON(ctx, messaging.TopicServerList, serverListEventKey, msg); err != nil {
		m.logger.WithError(err).Error("failed to publish server list")
	}

	m.logger.Info("server list refreshed",
		"servers", len(report.Servers),
		"total_discovered", report.TotalDiscovered,
		"health_checked", report.HealthChecked,
		"duration_ms", float64(elapsed.Nanoseconds())/1e6,
	)
}

// activeServerHost names the server the tracker is currently connected
// to, or empty when disconnected.
func (m *Monitor) activeServerHost() string {
	info, err := m.poller.GetServerInfo()
	if err != nil || !info.Connected {
		return ""
	}
	return info.Host
}
