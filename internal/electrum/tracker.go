// Package electrum implements the Electrum client behind the balance
// tracker: a synchronous line protocol connection, peer discovery with
// latency-ranked servers and a tracker that fails over between them.
package electrum

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gobt/internal/address"
	"github.com/bardlex/gobt/pkg/errors"
	"github.com/bardlex/gobt/pkg/log"
	"github.com/bardlex/gobt/pkg/retry"
)

// Tracker owns one Electrum server connection and serializes balance and
// history queries over it. Connect failover walks configured servers in
// random order, then discovered peers, then the builtin seeds.
type Tracker struct {
	cfg       *Config
	logger    *log.Logger
	discovery *Discovery

	state atomic.Int32

	mu              sync.Mutex
	conn            *Conn
	endpoint        ServerEndpoint
	serverVersion   string
	protocolVersion string
}

// NewTracker creates a tracker. No connection is made until the first
// query or an explicit ConnectBestAvailable.
func NewTracker(cfg *Config, logger *log.Logger) *Tracker {
	normalized := cfg.normalized()
	return &Tracker{
		cfg:       normalized,
		logger:    logger.WithComponent("tracker"),
		discovery: NewDiscovery(normalized, logger),
	}
}

// State returns the current connection state. It never blocks, even
// while a connect attempt is in flight.
func (t *Tracker) State() ConnectionState {
	return ConnectionState(t.state.Load())
}

func (t *Tracker) setState(s ConnectionState) {
	old := ConnectionState(t.state.Swap(int32(s)))
	if old != s {
		t.logger.Debug("connection state changed", "from", old.String(), "to", s.String())
	}
}

// CurrentEndpoint returns the endpoint of the active connection, if any.
func (t *Tracker) CurrentEndpoint() (ServerEndpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ServerEndpoint{}, false
	}
	return t.endpoint, true
}

// ConnectBestAvailable establishes a fresh connection, replacing any
// existing one.
func (t *Tracker) ConnectBestAvailable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectLocked()
}

// Disconnect closes the active connection if there is one.
func (t *Tracker) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropConnectionLocked()
}

// GetBalance looks up one address's balance in satoshis. The address is
// decoded before any network activity, so malformed input never costs a
// query. A failed attempt tears the connection down and gets one
// reconnect-and-retry before the query is reported failed.
func (t *Tracker) GetBalance(ctx context.Context, addr string) (*Balance, error) {
	scripthash, addrType, err := address.Decode(addr)
	if err != nil {
		return nil, err
	}

	balance, err := retry.DoWithResult(ctx, retry.QueryConfig(), func() (*Balance, error) {
		return t.queryBalance(scripthash, addr, addrType)
	})
	if err != nil {
		t.logger.LogBalanceQuery(addr, addrType.String(), 0, 0, "failed")
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "get_balance",
			"balance query failed after retries").
			WithContext("address", addr)
	}

	t.logger.LogBalanceQuery(addr, addrType.String(),
		balance.ConfirmedSats, balance.UnconfirmedSats, "ok")
	return balance, nil
}

// GetBalances queries a batch of addresses one at a time over the shared
// connection. The result has exactly one outcome per input address in
// input order; a failed address never aborts the rest of the batch.
func (t *Tracker) GetBalances(ctx context.Context, addrs []string) []BalanceOutcome {
	outcomes := make([]BalanceOutcome, len(addrs))
	for i, addr := range addrs {
		balance, err := t.GetBalance(ctx, addr)
		outcomes[i] = BalanceOutcome{Address: addr, Balance: balance, Err: err}
	}
	return outcomes
}

// GetHistory returns the transaction history for an address exactly as
// the server ordered it: confirmed transactions by height, then mempool
// entries. A null result is an address with no history.
func (t *Tracker) GetHistory(ctx context.Context, addr string) ([]HistoryEntry, error) {
	scripthash, _, err := address.Decode(addr)
	if err != nil {
		return nil, err
	}

	history, err := retry.DoWithResult(ctx, retry.QueryConfig(), func() ([]HistoryEntry, error) {
		return t.queryHistory(scripthash)
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "get_history",
			"history query failed after retries").
			WithContext("address", addr)
	}
	return history, nil
}

// GetServerInfo reports details about the active connection, measuring
// response time with a features call and reading the chain tip. When
// disconnected it reports that without dialing anywhere.
func (t *Tracker) GetServerInfo() (*ServerInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return &ServerInfo{Connected: false}, nil
	}

	info := &ServerInfo{
		Host:            t.endpoint.Host,
		Port:            t.endpoint.Port,
		ServerVersion:   t.serverVersion,
		ProtocolVersion: t.protocolVersion,
		Connected:       true,
	}

	start := time.Now()
	featuresRaw, err := t.conn.Call(MethodServerFeatures, nil)
	if err != nil {
		t.dropConnectionLocked()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "get_server_info",
			"features query failed")
	}
	info.ResponseTime = time.Since(start).Seconds()
	info.LastPing = time.Now()

	var features FeaturesResult
	if err := json.Unmarshal(featuresRaw, &features); err == nil {
		info.GenesisHash = features.GenesisHash
	}

	tipRaw, err := t.conn.Call(MethodHeadersSubscribe, nil)
	if err != nil {
		t.dropConnectionLocked()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "get_server_info",
			"tip height query failed")
	}
	var tip TipHeader
	if err := json.Unmarshal(tipRaw, &tip); err == nil {
		info.Height = tip.Height
	}

	return info, nil
}

// DiscoverServers runs a discovery pass seeded by the configured servers,
// or the builtin seeds when none are configured. With testConnection set
// the candidates are probed and ranked; otherwise they are returned
// unprobed with zero health fields.
func (t *Tracker) DiscoverServers(maxServers int, testConnection bool) *DiscoveryReport {
	if maxServers <= 0 {
		maxServers = t.cfg.MaxServers
	}

	seeds := t.configuredEndpoints()
	if len(seeds) == 0 {
		seeds = t.seedEndpoints()
	}

	discovered := t.discovery.Discover(seeds)
	report := &DiscoveryReport{TotalDiscovered: len(discovered)}

	candidates := make([]ServerEndpoint, 0, len(seeds)+len(discovered))
	candidates = append(candidates, seeds...)
	candidates = append(candidates, discovered...)
	candidates = dedupeEndpoints(candidates)

	if !testConnection {
		if len(candidates) > maxServers {
			candidates = candidates[:maxServers]
		}
		servers := make([]ServerHealth, 0, len(candidates))
		for _, ep := range candidates {
			servers = append(servers, ServerHealth{Endpoint: ep})
		}
		report.Servers = servers
		return report
	}

	healthy := t.discovery.HealthCheck(candidates)
	report.HealthChecked = len(candidates)
	report.Servers = t.discovery.Best(min(len(healthy), maxServers))
	return report
}

// UpdateServerList refreshes the ranked server list from the configured
// servers plus whatever discovery finds around them.
func (t *Tracker) UpdateServerList() *DiscoveryReport {
	current := t.configuredEndpoints()
	if len(current) == 0 {
		current = t.seedEndpoints()
	}
	return t.discovery.Update(current)
}

// queryBalance performs one balance attempt. Any failure tears the
// connection down so the next attempt starts from a clean dial.
func (t *Tracker) queryBalance(scripthash address.ScriptHash, addr string, addrType address.Type) (*Balance, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureConnectedLocked(); err != nil {
		return nil, err
	}

	raw, err := t.conn.Call(MethodScripthashBalance, []any{scripthash.String()})
	if err != nil {
		t.dropConnectionLocked()
		return nil, err
	}
	if isNullResult(raw) {
		t.dropConnectionLocked()
		return nil, errors.New(errors.ErrorTypeProtocol, "get_balance",
			"server returned null balance")
	}

	var result BalanceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.dropConnectionLocked()
		return nil, errors.Wrap(err, errors.ErrorTypeProtocol, "get_balance",
			"failed to parse balance result")
	}

	return &Balance{
		Address:         addr,
		AddressType:     addrType,
		ConfirmedSats:   result.Confirmed,
		UnconfirmedSats: result.Unconfirmed,
	}, nil
}

// queryHistory performs one history attempt.
func (t *Tracker) queryHistory(scripthash address.ScriptHash) ([]HistoryEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureConnectedLocked(); err != nil {
		return nil, err
	}

	raw, err := t.conn.Call(MethodScripthashHistory, []any{scripthash.String()})
	if err != nil {
		t.dropConnectionLocked()
		return nil, err
	}
	if isNullResult(raw) {
		return []HistoryEntry{}, nil
	}

	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		t.dropConnectionLocked()
		return nil, errors.Wrap(err, errors.ErrorTypeProtocol, "get_history",
			"failed to parse history result")
	}
	for _, entry := range entries {
		if _, err := chainhash.NewHashFromStr(entry.TxID); err != nil {
			t.dropConnectionLocked()
			return nil, errors.Wrap(err, errors.ErrorTypeProtocol, "get_history",
				"server returned malformed transaction id").
				WithContext("tx_hash", entry.TxID)
		}
	}
	return entries, nil
}

// ensureConnectedLocked connects if no connection is active.
func (t *Tracker) ensureConnectedLocked() error {
	if t.conn != nil {
		return nil
	}
	return t.connectLocked()
}

// connectLocked walks the failover ladder: configured servers shuffled,
// then discovered peers, then builtin seeds. The first server that
// completes a version handshake wins.
func (t *Tracker) connectLocked() error {
	t.dropConnectionLocked()
	t.setState(StateConnecting)

	configured := t.configuredEndpoints()
	shuffled := append([]ServerEndpoint(nil), configured...)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if t.tryEndpointsLocked(shuffled) {
		return nil
	}

	if t.cfg.EnableDiscovery {
		seeds := configured
		if len(seeds) == 0 {
			seeds = t.seedEndpoints()
		}
		if t.tryEndpointsLocked(t.discovery.Discover(seeds)) {
			return nil
		}
	}

	if t.tryEndpointsLocked(t.seedEndpoints()) {
		return nil
	}

	t.setState(StateDisconnected)
	return errors.New(errors.ErrorTypeConnection, "connect",
		"no reachable electrum server").
		WithContext("configured_servers", len(configured)).
		WithContext("discovery_enabled", t.cfg.EnableDiscovery)
}

// tryEndpointsLocked dials candidates in order and keeps the first one
// that completes a version handshake.
func (t *Tracker) tryEndpointsLocked(candidates []ServerEndpoint) bool {
	for _, ep := range candidates {
		conn, err := Dial(ep, t.dialOptions())
		if err != nil {
			t.logger.WithServer(ep.Host, ep.Port).WithError(err).Debug("endpoint unreachable")
			continue
		}

		raw, err := conn.Call(MethodServerVersion, []any{clientUserAgent, protocolVersion})
		if err != nil {
			conn.Close()
			t.logger.WithServer(ep.Host, ep.Port).WithError(err).Debug("version handshake failed")
			continue
		}
		software, proto, err := parseVersion(raw)
		if err != nil {
			conn.Close()
			t.logger.WithServer(ep.Host, ep.Port).WithError(err).Debug("version handshake unparseable")
			continue
		}

		t.conn = conn
		t.endpoint = ep
		t.serverVersion = software
		t.protocolVersion = proto
		t.setState(StateConnected)
		t.logger.WithServer(ep.Host, ep.Port).Info("connected to electrum server",
			"server_version", software, "protocol_version", proto)
		return true
	}
	return false
}

// dropConnectionLocked closes and forgets the active connection.
func (t *Tracker) dropConnectionLocked() {
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.serverVersion = ""
	t.protocolVersion = ""
	t.setState(StateDisconnected)
}

// configuredEndpoints parses the configured server entries, skipping
// unparseable ones with a warning.
func (t *Tracker) configuredEndpoints() []ServerEndpoint {
	endpoints := make([]ServerEndpoint, 0, len(t.cfg.Servers))
	for _, entry := range t.cfg.Servers {
		ep, err := ParseEndpoint(entry, t.cfg.UseTLS)
		if err != nil {
			t.logger.WithError(err).Warn("skipping invalid server entry", "entry", entry)
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints
}

// seedEndpoints returns the configured seed override or the builtin
// seed list.
func (t *Tracker) seedEndpoints() []ServerEndpoint {
	if len(t.cfg.Seeds) > 0 {
		return t.cfg.Seeds
	}
	return builtinSeeds(t.cfg.UseTLS)
}

func (t *Tracker) dialOptions() DialOptions {
	return DialOptions{
		Timeout:   t.cfg.Timeout,
		VerifyTLS: t.cfg.VerifyTLS,
		Logger:    t.logger,
	}
}

// isNullResult reports whether a result field is JSON null or absent.
func isNullResult(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
