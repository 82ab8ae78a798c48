package electrum

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/bardlex/gobt/internal/address"
	"github.com/bardlex/gobt/pkg/errors"
)

// Config holds the settings shared by the tracker and discovery. Callers
// build it from their own configuration layer.
type Config struct {
	// Servers lists configured endpoints as host:port entries. A bare host
	// gets the default Electrum port for the chosen transport.
	Servers []string

	// UseTLS selects TLS endpoints during connect and discovery.
	UseTLS bool

	// VerifyTLS enables certificate verification. Public Electrum servers
	// commonly present self-signed certificates, so this defaults to off;
	// enabling it restricts the usable server set.
	VerifyTLS bool

	// Timeout bounds every socket operation, including the read of one
	// response line. A timed-out call is abandoned, never re-read.
	Timeout time.Duration

	// EnableDiscovery allows connect failover to fall back to peers
	// discovered via server.peers.subscribe.
	EnableDiscovery bool

	// MaxServers caps the ranked server list kept after an update pass.
	MaxServers int

	// Seeds overrides the compiled-in seed servers used as the final
	// connect fallback and as discovery entry points when no servers
	// are configured. Leave empty for the builtin list.
	Seeds []ServerEndpoint
}

// Default ports for the two Electrum transports.
const (
	DefaultPlainPort = 50001
	DefaultTLSPort   = 50002
)

const defaultTimeout = 10 * time.Second

// normalized returns a copy with defaults applied.
func (c *Config) normalized() *Config {
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = defaultTimeout
	}
	if out.MaxServers <= 0 {
		out.MaxServers = 10
	}
	return &out
}

// ServerEndpoint identifies one Electrum server address and transport.
type ServerEndpoint struct {
	Host   string
	Port   int
	UseTLS bool
}

// Addr returns the dialable host:port form.
func (e ServerEndpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String renders the endpoint with its transport for logs.
func (e ServerEndpoint) String() string {
	if e.UseTLS {
		return "tls://" + e.Addr()
	}
	return "tcp://" + e.Addr()
}

// Transport names the endpoint transport as written into server list
// documents and events.
func (e ServerEndpoint) Transport() string {
	if e.UseTLS {
		return "ssl"
	}
	return "tcp"
}

// ParseEndpoint converts a configured host:port entry into an endpoint
// using the given transport. A missing port selects the transport default.
func ParseEndpoint(entry string, useTLS bool) (ServerEndpoint, error) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return ServerEndpoint{}, errors.New(errors.ErrorTypeConfig, "parse_endpoint",
			"empty server entry")
	}

	host, portStr, err := net.SplitHostPort(entry)
	if err != nil {
		// No port in the entry, use the transport default.
		host = entry
		if useTLS {
			portStr = strconv.Itoa(DefaultTLSPort)
		} else {
			portStr = strconv.Itoa(DefaultPlainPort)
		}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return ServerEndpoint{}, errors.New(errors.ErrorTypeConfig, "parse_endpoint",
			fmt.Sprintf("invalid port in server entry %q", entry))
	}
	if host == "" {
		return ServerEndpoint{}, errors.New(errors.ErrorTypeConfig, "parse_endpoint",
			fmt.Sprintf("missing host in server entry %q", entry))
	}

	return ServerEndpoint{Host: host, Port: port, UseTLS: useTLS}, nil
}

// ConnectionState tracks the tracker's connection lifecycle.
type ConnectionState int32

// Connection lifecycle states. Any I/O failure returns the tracker to
// StateDisconnected.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

// String returns the state name for logs and status payloads.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ServerHealth is one probed server's ranking entry in the discovery
// registry.
type ServerHealth struct {
	Endpoint        ServerEndpoint
	HealthScore     float64
	LatencySeconds  float64
	LastTested      time.Time
	ServerVersion   string
	ProtocolVersion string
	Features        *FeaturesResult
}

// Balance carries one address's balance in integer satoshis. Conversion to
// decimal BTC happens only at the presentation boundary.
type Balance struct {
	Address         string
	AddressType     address.Type
	ConfirmedSats   int64
	UnconfirmedSats int64
}

// TotalSats returns confirmed plus unconfirmed satoshis.
func (b *Balance) TotalSats() int64 {
	return b.ConfirmedSats + b.UnconfirmedSats
}

// BalanceOutcome is one entry of a batch balance query. Exactly one of
// Balance and Err is set.
type BalanceOutcome struct {
	Address string
	Balance *Balance
	Err     error
}

// HistoryEntry is one confirmed or mempool transaction touching an
// address, in the order the server returned it.
type HistoryEntry struct {
	TxID string `json:"tx_hash"`
	// Height is the confirmation height, 0 for mempool transactions and
	// -1 for mempool transactions with unconfirmed parents.
	Height int64 `json:"height"`
	// FeeSats is only populated for mempool entries.
	FeeSats int64 `json:"fee,omitempty"`
}

// ServerInfo describes the active server connection for status reporting.
type ServerInfo struct {
	Host            string
	Port            int
	ServerVersion   string
	ProtocolVersion string
	GenesisHash     string
	Height          int64
	Connected       bool
	LastPing        time.Time
	ResponseTime    float64
}

// DiscoveryReport summarizes one discovery pass for callers that persist
// or expose the ranked list.
type DiscoveryReport struct {
	Servers         []ServerHealth
	TotalDiscovered int
	HealthChecked   int
}
