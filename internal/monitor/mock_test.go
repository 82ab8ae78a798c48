package monitor

import (
	"context"
	"time"

	"github.com/bardlex/gobt/internal/database"
	"github.com/bardlex/gobt/internal/database/postgres"
	"github.com/bardlex/gobt/internal/database/redis"
	"github.com/bardlex/gobt/internal/electrum"
	"github.com/bardlex/gobt/internal/messaging"
	"github.com/bardlex/gobt/pkg/errors"
)

// MockPoller provides a mock implementation of Poller for testing.
type MockPoller struct {
	// Control mock behavior
	Err     error // fails every balance query when set
	InfoErr error

	// Mock data
	Balances map[string]*electrum.Balance
	Info     *electrum.ServerInfo
	Report   *electrum.DiscoveryReport

	// Recorded calls
	PollCalls    int
	RefreshCalls int
}

func (m *MockPoller) GetBalances(_ context.Context, addrs []string) []electrum.BalanceOutcome {
	m.PollCalls++

	outcomes := make([]electrum.BalanceOutcome, 0, len(addrs))
	for _, addr := range addrs {
		if m.Err != nil {
			outcomes = append(outcomes, electrum.BalanceOutcome{Address: addr, Err: m.Err})
			continue
		}
		bal, ok := m.Balances[addr]
		if !ok {
			outcomes = append(outcomes, electrum.BalanceOutcome{
				Address: addr,
				Err: errors.New(errors.ErrorTypeQuery, "get_balance",
					"no balance staged for address"),
			})
			continue
		}
		outcomes = append(outcomes, electrum.BalanceOutcome{Address: addr, Balance: bal})
	}
	return outcomes
}

func (m *MockPoller) GetServerInfo() (*electrum.ServerInfo, error) {
	if m.InfoErr != nil {
		return nil, m.InfoErr
	}
	if m.Info == nil {
		return &electrum.ServerInfo{Connected: false}, nil
	}
	return m.Info, nil
}

func (m *MockPoller) UpdateServerList() *electrum.DiscoveryReport {
	m.RefreshCalls++
	if m.Report == nil {
		return &electrum.DiscoveryReport{}
	}
	return m.Report
}

// recordedBalance is one RecordBalance call captured by the mock store.
type recordedBalance struct {
	Snap        *postgres.BalanceSnapshot
	AddressType string
	CacheTTL    time.Duration
}

// refreshedCache is one RefreshBalanceCache call captured by the mock store.
type refreshedCache struct {
	Bal      *redis.CachedBalance
	CacheTTL time.Duration
}

// queryDuration is one RecordQueryDuration call captured by the mock store.
type queryDuration struct {
	Method   string
	Outcome  string
	Duration time.Duration
}

// MockStore provides a mock implementation of Store for testing.
type MockStore struct {
	// Control mock behavior
	RegisterErr error
	BaselineErr error
	RecordErr   error
	ListErr     error

	// Mock data
	Baselines map[string]*redis.CachedBalance

	// Recorded calls
	RegisterCalls int
	Registered    []*postgres.TrackedAddress
	Recorded      []recordedBalance
	Refreshed     []refreshedCache
	Lists         []*redis.ServerList
	Durations     []queryDuration
}

func (m *MockStore) RegisterTrackedAddress(_ context.Context, addr *postgres.TrackedAddress) error {
	m.RegisterCalls++
	if m.RegisterErr != nil {
		return m.RegisterErr
	}
	m.Registered = append(m.Registered, addr)
	return nil
}

func (m *MockStore) LatestBalance(_ context.Context, address string) (*redis.CachedBalance, error) {
	if m.BaselineErr != nil {
		return nil, m.BaselineErr
	}
	return m.Baselines[address], nil
}

func (m *MockStore) RecordBalance(_ context.Context, snap *postgres.BalanceSnapshot, addressType string, cacheTTL time.Duration) error {
	if m.RecordErr != nil {
		return m.RecordErr
	}
	m.Recorded = append(m.Recorded, recordedBalance{Snap: snap, AddressType: addressType, CacheTTL: cacheTTL})
	return nil
}

func (m *MockStore) RefreshBalanceCache(_ context.Context, bal *redis.CachedBalance, cacheTTL time.Duration) {
	m.Refreshed = append(m.Refreshed, refreshedCache{Bal: bal, CacheTTL: cacheTTL})
}

func (m *MockStore) RecordServerList(_ context.Context, list *redis.ServerList) error {
	if m.ListErr != nil {
		return m.ListErr
	}
	m.Lists = append(m.Lists, list)
	return nil
}

func (m *MockStore) RecordQueryDuration(method, outcome string, duration time.Duration) {
	m.Durations = append(m.Durations, queryDuration{Method: method, Outcome: outcome, Duration: duration})
}

// publishedMessage is one PublishJSON call captured by the mock publisher.
type publishedMessage struct {
	Topic string
	Key   string
	Msg   any
}

// MockPublisher provides a mock implementation of Publisher for testing.
type MockPublisher struct {
	// Control mock behavior
	ShouldError bool

	// Recorded calls
	Published []publishedMessage
}

func (m *MockPublisher) PublishJSON(_ context.Context, topic, key string, msg any) error {
	if m.ShouldError {
		return errors.New(errors.ErrorTypeMessaging, "publish_message",
			"kafka unavailable")
	}
	m.Published = append(m.Published, publishedMessage{Topic: topic, Key: key, Msg: msg})
	return nil
}

// Compile-time interface checks for the mocks and the real implementations
// they stand in for.
var (
	_ Poller    = (*MockPoller)(nil)
	_ Poller    = (*electrum.Tracker)(nil)
	_ Store     = (*MockStore)(nil)
	_ Store     = (*database.Manager)(nil)
	_ Publisher = (*MockPublisher)(nil)
	_ Publisher = (*messaging.KafkaClient)(nil)
)
