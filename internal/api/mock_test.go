package api

import (
	"context"

	"github.com/bardlex/gobt/internal/address"
	"github.com/bardlex/gobt/internal/database"
	"github.com/bardlex/gobt/internal/database/redis"
	"github.com/bardlex/gobt/internal/electrum"
	"github.com/bardlex/gobt/pkg/errors"
)

// discoverCall records the arguments of one DiscoverServers invocation.
type discoverCall struct {
	MaxServers     int
	TestConnection bool
}

// MockTracker provides a scripted implementation of BalanceTracker for
// handler tests. Addresses still go through the real codec, so decode
// failures surface exactly as the tracker reports them.
type MockTracker struct {
	// Err fails every query when set.
	Err error

	// Mock data
	Balances map[string]*electrum.Balance
	History  []electrum.HistoryEntry
	Info     *electrum.ServerInfo
	Report   *electrum.DiscoveryReport

	DiscoverCalls []discoverCall
}

// GetBalance returns the staged balance for a decodable address.
func (m *MockTracker) GetBalance(_ context.Context, addr string) (*electrum.Balance, error) {
	_, addrType, err := address.Decode(addr)
	if err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if balance, ok := m.Balances[addr]; ok {
		return balance, nil
	}
	return &electrum.Balance{Address: addr, AddressType: addrType}, nil
}

// GetBalances mirrors the tracker's batch contract: one outcome per
// input address in input order.
func (m *MockTracker) GetBalances(ctx context.Context, addrs []string) []electrum.BalanceOutcome {
	outcomes := make([]electrum.BalanceOutcome, len(addrs))
	for i, addr := range addrs {
		balance, err := m.GetBalance(ctx, addr)
		outcomes[i] = electrum.BalanceOutcome{Address: addr, Balance: balance, Err: err}
	}
	return outcomes
}

// GetHistory returns the staged history for a decodable address.
func (m *MockTracker) GetHistory(_ context.Context, addr string) ([]electrum.HistoryEntry, error) {
	if _, _, err := address.Decode(addr); err != nil {
		return nil, err
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.History, nil
}

// GetServerInfo returns the staged connection details, or a disconnected
// report when none are staged.
func (m *MockTracker) GetServerInfo() (*electrum.ServerInfo, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Info == nil {
		return &electrum.ServerInfo{Connected: false}, nil
	}
	return m.Info, nil
}

// DiscoverServers records the call and returns the staged report.
func (m *MockTracker) DiscoverServers(maxServers int, testConnection bool) *electrum.DiscoveryReport {
	m.DiscoverCalls = append(m.DiscoverCalls, discoverCall{
		MaxServers:     maxServers,
		TestConnection: testConnection,
	})
	if m.Report != nil {
		return m.Report
	}
	return &electrum.DiscoveryReport{}
}

// MockServerListStore records the server lists handed to it.
type MockServerListStore struct {
	ShouldError bool
	Lists       []*redis.ServerList
}

// RecordServerList appends the list, or fails when scripted to.
func (m *MockServerListStore) RecordServerList(_ context.Context, list *redis.ServerList) error {
	if m.ShouldError {
		return errors.New(errors.ErrorTypeDatabase, "record_server_list", "store unavailable")
	}
	m.Lists = append(m.Lists, list)
	return nil
}

// Compile-time interface compliance checks
var _ BalanceTracker = (*MockTracker)(nil)
var _ BalanceTracker = (*electrum.Tracker)(nil)
var _ ServerListStore = (*MockServerListStore)(nil)
var _ ServerListStore = (*database.Manager)(nil)
