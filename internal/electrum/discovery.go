package electrum

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bardlex/gobt/pkg/log"
)

// Worker pool sizes for the two discovery phases. Peer queries hold a
// connection for one exchange, health probes for three, so the probe pool
// is wider.
const (
	discoverWorkers    = 5
	healthCheckWorkers = 10
)

// mainnetGenesisHash filters out servers answering for another network.
var mainnetGenesisHash = chaincfg.MainNetParams.GenesisHash.String()

// Discovery finds Electrum servers through peer gossip and ranks them by
// probe latency. The registry persists across passes so rankings reflect
// every server seen during the process lifetime.
type Discovery struct {
	cfg    *Config
	logger *log.Logger

	mu       sync.Mutex
	registry map[ServerEndpoint]*ServerHealth
	order    map[ServerEndpoint]int
	nextSeen int
}

// NewDiscovery creates a discovery instance with an empty registry.
func NewDiscovery(cfg *Config, logger *log.Logger) *Discovery {
	return &Discovery{
		cfg:      cfg.normalized(),
		logger:   logger.WithComponent("discovery"),
		registry: make(map[ServerEndpoint]*ServerHealth),
		order:    make(map[ServerEndpoint]int),
	}
}

// healthScore maps probe latency to a 0..100 score. Each 100ms of latency
// costs one point and anything at or above ten seconds scores zero.
func healthScore(latency time.Duration) float64 {
	score := 100 - latency.Seconds()*10
	if score < 0 {
		return 0
	}
	return score
}

// Discover queries each seed for its peer list and returns the
// deduplicated union of usable peer endpoints. Seeds that cannot be
// reached or return garbage contribute nothing.
func (d *Discovery) Discover(seeds []ServerEndpoint) []ServerEndpoint {
	unique := dedupeEndpoints(seeds)
	if len(unique) == 0 {
		return nil
	}

	results := make(chan []ServerEndpoint, len(unique))
	d.fanOut(unique, discoverWorkers, func(ep ServerEndpoint) {
		if peers := d.queryPeers(ep); len(peers) > 0 {
			results <- peers
		}
	})
	close(results)

	var discovered []ServerEndpoint
	for peers := range results {
		discovered = append(discovered, peers...)
	}
	return dedupeEndpoints(discovered)
}

// HealthCheck probes every candidate and records the results in the
// registry. Candidates that fail any probe step are dropped from the
// registry. The healthy servers from this pass are returned ranked best
// first.
func (d *Discovery) HealthCheck(candidates []ServerEndpoint) []ServerHealth {
	unique := dedupeEndpoints(candidates)
	if len(unique) == 0 {
		return nil
	}
	d.noteEndpoints(unique)

	results := make(chan ServerHealth, len(unique))
	d.fanOut(unique, healthCheckWorkers, func(ep ServerEndpoint) {
		if health, ok := d.probe(ep); ok {
			results <- health
		}
	})
	close(results)

	healthy := make([]ServerHealth, 0, len(unique))
	for health := range results {
		healthy = append(healthy, health)
	}
	d.rank(healthy)
	return healthy
}

// Best returns up to n registry entries ranked by health score, ties
// broken by which endpoint was seen first.
func (d *Discovery) Best(n int) []ServerHealth {
	if n <= 0 {
		return nil
	}

	d.mu.Lock()
	entries := make([]ServerHealth, 0, len(d.registry))
	for _, health := range d.registry {
		entries = append(entries, *health)
	}
	d.mu.Unlock()

	d.rank(entries)
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// Update runs a full pass: discover peers from the current servers,
// health-check the union of both sets and report the best of the healthy,
// capped at the configured maximum.
func (d *Discovery) Update(current []ServerEndpoint) *DiscoveryReport {
	discovered := d.Discover(current)

	union := make([]ServerEndpoint, 0, len(current)+len(discovered))
	union = append(union, current...)
	union = append(union, discovered...)
	union = dedupeEndpoints(union)
	healthy := d.HealthCheck(union)

	d.logger.LogDiscovery(len(current), len(discovered), len(healthy))
	return &DiscoveryReport{
		Servers:         d.Best(min(len(healthy), d.cfg.MaxServers)),
		TotalDiscovered: len(discovered),
		HealthChecked:   len(union),
	}
}

// fanOut runs task over the endpoints with a bounded worker pool and
// returns once every task has finished.
func (d *Discovery) fanOut(endpoints []ServerEndpoint, workers int, task func(ServerEndpoint)) {
	if workers > len(endpoints) {
		workers = len(endpoints)
	}

	jobs := make(chan ServerEndpoint)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ep := range jobs {
				task(ep)
			}
		}()
	}

	for _, ep := range endpoints {
		jobs <- ep
	}
	close(jobs)
	wg.Wait()
}

// queryPeers asks one seed for its peer list over a short-lived
// connection. Failures are logged and yield no peers.
func (d *Discovery) queryPeers(seed ServerEndpoint) []ServerEndpoint {
	conn, err := Dial(seed, d.dialOptions())
	if err != nil {
		d.logger.WithServer(seed.Host, seed.Port).WithError(err).Debug("peer query dial failed")
		return nil
	}
	defer conn.Close()

	// Servers expect server.version before anything else in a session.
	if _, err := conn.Call(MethodServerVersion, []any{clientUserAgent, protocolVersion}); err != nil {
		d.logger.WithServer(seed.Host, seed.Port).WithError(err).Debug("peer query handshake failed")
		return nil
	}

	raw, err := conn.Call(MethodPeersSubscribe, nil)
	if err != nil {
		d.logger.WithServer(seed.Host, seed.Port).WithError(err).Debug("peer query failed")
		return nil
	}
	peers, err := parsePeers(raw)
	if err != nil {
		d.logger.WithServer(seed.Host, seed.Port).WithError(err).Debug("peer list unparseable")
		return nil
	}

	endpoints := make([]ServerEndpoint, 0, len(peers))
	for _, peer := range peers {
		if ep, ok := peer.Endpoint(d.cfg.UseTLS); ok {
			endpoints = append(endpoints, ep)
		}
	}
	return endpoints
}

// probe measures one server with a fresh connection: dial, negotiate a
// version, fetch features. Latency is the full round trip over all three
// steps. Servers announcing a foreign genesis hash are rejected.
func (d *Discovery) probe(ep ServerEndpoint) (ServerHealth, bool) {
	start := time.Now()

	conn, err := Dial(ep, d.dialOptions())
	if err != nil {
		return d.dropEndpoint(ep, err)
	}
	defer conn.Close()

	versionRaw, err := conn.Call(MethodServerVersion, []any{clientUserAgent, protocolVersion})
	if err != nil {
		return d.dropEndpoint(ep, err)
	}
	software, proto, err := parseVersion(versionRaw)
	if err != nil {
		return d.dropEndpoint(ep, err)
	}

	featuresRaw, err := conn.Call(MethodServerFeatures, nil)
	if err != nil {
		return d.dropEndpoint(ep, err)
	}
	var features FeaturesResult
	if err := json.Unmarshal(featuresRaw, &features); err != nil {
		return d.dropEndpoint(ep, err)
	}
	if features.GenesisHash != "" && features.GenesisHash != mainnetGenesisHash {
		d.mu.Lock()
		delete(d.registry, ep)
		d.mu.Unlock()
		d.logger.WithServer(ep.Host, ep.Port).Debug("server is on another network",
			"genesis_hash", features.GenesisHash)
		return ServerHealth{}, false
	}

	latency := time.Since(start)
	health := ServerHealth{
		Endpoint:        ep,
		HealthScore:     healthScore(latency),
		LatencySeconds:  latency.Seconds(),
		LastTested:      time.Now(),
		ServerVersion:   software,
		ProtocolVersion: proto,
		Features:        &features,
	}

	d.mu.Lock()
	d.registry[ep] = &health
	d.mu.Unlock()

	d.logger.LogServerHealth(ep.Host, ep.Port, health.HealthScore, health.LatencySeconds)
	return health, true
}

// dropEndpoint removes a failed server from the registry so rankings
// never serve stale entries.
func (d *Discovery) dropEndpoint(ep ServerEndpoint, err error) (ServerHealth, bool) {
	d.mu.Lock()
	delete(d.registry, ep)
	d.mu.Unlock()
	d.logger.WithServer(ep.Host, ep.Port).WithError(err).Debug("health check failed")
	return ServerHealth{}, false
}

// noteEndpoints assigns first-seen positions in input order, used as the
// ranking tie-breaker.
func (d *Discovery) noteEndpoints(endpoints []ServerEndpoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ep := range endpoints {
		if _, ok := d.order[ep]; !ok {
			d.order[ep] = d.nextSeen
			d.nextSeen++
		}
	}
}

// rank sorts entries in place by score descending, ties broken by
// first-seen order.
func (d *Discovery) rank(entries []ServerHealth) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].HealthScore != entries[j].HealthScore {
			return entries[i].HealthScore > entries[j].HealthScore
		}
		return d.order[entries[i].Endpoint] < d.order[entries[j].Endpoint]
	})
}

func (d *Discovery) dialOptions() DialOptions {
	return DialOptions{
		Timeout:   d.cfg.Timeout,
		VerifyTLS: d.cfg.VerifyTLS,
		Logger:    d.logger,
	}
}

// dedupeEndpoints keeps the first occurrence of each endpoint.
func dedupeEndpoints(endpoints []ServerEndpoint) []ServerEndpoint {
	seen := make(map[ServerEndpoint]struct{}, len(endpoints))
	out := make([]ServerEndpoint, 0, len(endpoints))
	for _, ep := range endpoints {
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
