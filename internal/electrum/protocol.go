package electrum

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/bardlex/gobt/pkg/errors"
)

// Electrum protocol methods used by the tracker.
const (
	MethodServerVersion     = "server.version"
	MethodServerFeatures    = "server.features"
	MethodPeersSubscribe    = "server.peers.subscribe"
	MethodHeadersSubscribe  = "blockchain.headers.subscribe"
	MethodScripthashBalance = "blockchain.scripthash.get_balance"
	MethodScripthashHistory = "blockchain.scripthash.get_history"
)

// Protocol version negotiated with every server.
const protocolVersion = "1.4"

// clientUserAgent identifies this client in server.version calls.
const clientUserAgent = "gobt/1.0"

// Request is a single JSON-RPC request line. IDs are assigned by the
// connection and increase monotonically for its lifetime.
type Request struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// Response is a single line read from the server. Responses carry an ID
// and either Result or Error. Subscription notifications carry Method and
// Params but no ID.
type Response struct {
	ID     any             `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ServerError    `json:"error,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the line is a subscription push rather
// than a reply to a request.
func (r *Response) IsNotification() bool {
	return r.ID == nil && r.Method != ""
}

// IDMatches reports whether the response answers the request with the
// given ID. JSON numbers decode as float64, but servers may also echo
// string IDs.
func (r *Response) IDMatches(id uint64) bool {
	switch v := r.ID.(type) {
	case float64:
		return v == float64(id)
	case string:
		parsed, err := strconv.ParseUint(v, 10, 64)
		return err == nil && parsed == id
	default:
		return false
	}
}

// ServerError is the error object a server attaches to a failed request.
type ServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("electrum server error %d: %s", e.Code, e.Message)
}

// BalanceResult is the wire form of blockchain.scripthash.get_balance.
type BalanceResult struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// TipHeader is the wire form of blockchain.headers.subscribe.
type TipHeader struct {
	Height int64  `json:"height"`
	Hex    string `json:"hex"`
}

// FeaturesResult is the wire form of server.features. Hosts maps hostname
// to the per-transport port map the server advertises.
type FeaturesResult struct {
	GenesisHash   string                    `json:"genesis_hash"`
	Hosts         map[string]map[string]any `json:"hosts"`
	ProtocolMax   string                    `json:"protocol_max"`
	ProtocolMin   string                    `json:"protocol_min"`
	ServerVersion string                    `json:"server_version"`
	HashFunction  string                    `json:"hash_function"`
	Pruning       any                       `json:"pruning"`
}

// parseVersion extracts the [software, protocol] pair from a
// server.version result.
func parseVersion(raw json.RawMessage) (software, protocol string, err error) {
	var pair []string
	if err := json.Unmarshal(raw, &pair); err != nil {
		return "", "", errors.Wrap(err, errors.ErrorTypeProtocol, "parse_version",
			"failed to parse server.version result")
	}
	if len(pair) != 2 {
		return "", "", errors.New(errors.ErrorTypeProtocol, "parse_version",
			fmt.Sprintf("server.version returned %d elements, want 2", len(pair)))
	}
	return pair[0], pair[1], nil
}

// Peer is one entry from server.peers.subscribe: an address, a hostname
// and the feature tokens the peer advertises.
type Peer struct {
	Address  string
	Host     string
	Features []string
}

// parsePeers decodes the nested peer list from server.peers.subscribe.
// Entries that do not match the expected shape are skipped.
func parsePeers(raw json.RawMessage) ([]Peer, error) {
	var rows [][]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProtocol, "parse_peers",
			"failed to parse server.peers.subscribe result")
	}

	peers := make([]Peer, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		addr, _ := row[0].(string)
		host, _ := row[1].(string)
		rawFeatures, ok := row[2].([]any)
		if !ok {
			continue
		}
		features := make([]string, 0, len(rawFeatures))
		for _, f := range rawFeatures {
			if s, ok := f.(string); ok {
				features = append(features, s)
			}
		}
		peers = append(peers, Peer{Address: addr, Host: host, Features: features})
	}
	return peers, nil
}

// Endpoint selects a dialable endpoint from the peer's feature tokens.
// "s<port>" advertises TLS and "t<port>" plaintext, with the default port
// implied when the token carries no number. The TLS port wins when TLS is
// requested, otherwise the plaintext port, with the TLS port as the final
// fallback. The second return is false when the peer advertises no usable
// transport.
func (p Peer) Endpoint(useTLS bool) (ServerEndpoint, bool) {
	host := p.Host
	if host == "" {
		host = p.Address
	}
	if host == "" {
		return ServerEndpoint{}, false
	}

	tlsPort, plainPort := 0, 0
	for _, token := range p.Features {
		if token == "" {
			continue
		}
		switch token[0] {
		case 's':
			tlsPort = parsePortToken(token, DefaultTLSPort)
		case 't':
			plainPort = parsePortToken(token, DefaultPlainPort)
		}
	}

	switch {
	case useTLS && tlsPort > 0:
		return ServerEndpoint{Host: host, Port: tlsPort, UseTLS: true}, true
	case plainPort > 0:
		return ServerEndpoint{Host: host, Port: plainPort, UseTLS: false}, true
	case tlsPort > 0:
		return ServerEndpoint{Host: host, Port: tlsPort, UseTLS: true}, true
	default:
		return ServerEndpoint{}, false
	}
}

// parsePortToken reads the numeric part of a transport token. A bare
// token means the default port for that transport.
func parsePortToken(token string, defaultPort int) int {
	digits := strings.TrimSpace(token[1:])
	if digits == "" {
		return defaultPort
	}
	port, err := strconv.Atoi(digits)
	if err != nil || port <= 0 || port > 65535 {
		return 0
	}
	return port
}
