package electrum

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestResponseIDMatches(t *testing.T) {
	tests := []struct {
		name string
		id   any
		want uint64
		ok   bool
	}{
		{
			name: "matching number",
			id:   float64(7), // JSON numbers are parsed as float64
			want: 7,
			ok:   true,
		},
		{
			name: "matching string id",
			id:   "7",
			want: 7,
			ok:   true,
		},
		{
			name: "different number",
			id:   float64(8),
			want: 7,
			ok:   false,
		},
		{
			name: "null id",
			id:   nil,
			want: 7,
			ok:   false,
		},
		{
			name: "non-numeric string",
			id:   "seven",
			want: 7,
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &Response{ID: tt.id}
			if got := resp.IDMatches(tt.want); got != tt.ok {
				t.Errorf("IDMatches(%d) = %v, want %v", tt.want, got, tt.ok)
			}
		})
	}
}

func TestResponseIsNotification(t *testing.T) {
	tests := []struct {
		name string
		data string
		want bool
	}{
		{
			name: "headers notification",
			data: `{"method":"blockchain.headers.subscribe","params":[{"height":800000,"hex":"00"}]}`,
			want: true,
		},
		{
			name: "response with id",
			data: `{"id":3,"result":[]}`,
			want: false,
		},
		{
			name: "response with id and method echo",
			data: `{"id":3,"method":"server.version","result":[]}`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Response
			if err := json.Unmarshal([]byte(tt.data), &resp); err != nil {
				t.Fatalf("failed to parse fixture: %v", err)
			}
			if got := resp.IsNotification(); got != tt.want {
				t.Errorf("IsNotification() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantSoftware string
		wantProtocol string
		wantErr      bool
	}{
		{
			name:         "electrumx pair",
			raw:          `["ElectrumX 1.16.0","1.4"]`,
			wantSoftware: "ElectrumX 1.16.0",
			wantProtocol: "1.4",
			wantErr:      false,
		},
		{
			name:    "single element",
			raw:     `["ElectrumX 1.16.0"]`,
			wantErr: true,
		},
		{
			name:    "not an array",
			raw:     `"ElectrumX 1.16.0"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			software, protocol, err := parseVersion(json.RawMessage(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Errorf("parseVersion() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if software != tt.wantSoftware {
				t.Errorf("software = %q, want %q", software, tt.wantSoftware)
			}
			if protocol != tt.wantProtocol {
				t.Errorf("protocol = %q, want %q", protocol, tt.wantProtocol)
			}
		})
	}
}

func TestParsePeers(t *testing.T) {
	raw := json.RawMessage(`[
		["83.212.111.114","electrum.one.example",["v1.4","s50002","t50001"]],
		["10.0.0.9","electrum.two.example",["v1.4",2,"s"]],
		["10.0.0.10","short.example"],
		["10.0.0.11","electrum.three.example",["p10000","t"]]
	]`)

	peers, err := parsePeers(raw)
	if err != nil {
		t.Fatalf("parsePeers() error = %v", err)
	}
	if len(peers) != 3 {
		t.Fatalf("parsePeers() returned %d peers, want 3", len(peers))
	}

	if peers[0].Host != "electrum.one.example" {
		t.Errorf("peer host = %q, want electrum.one.example", peers[0].Host)
	}
	if !reflect.DeepEqual(peers[0].Features, []string{"v1.4", "s50002", "t50001"}) {
		t.Errorf("peer features = %v", peers[0].Features)
	}
	// Non-string feature entries are dropped, not fatal.
	if !reflect.DeepEqual(peers[1].Features, []string{"v1.4", "s"}) {
		t.Errorf("mixed feature list = %v, want [v1.4 s]", peers[1].Features)
	}

	if _, err := parsePeers(json.RawMessage(`{"not":"a list"}`)); err == nil {
		t.Error("parsePeers() accepted a non-list payload")
	}
}

func TestPeerEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		peer   Peer
		useTLS bool
		want   ServerEndpoint
		ok     bool
	}{
		{
			name:   "tls preferred when requested",
			peer:   Peer{Host: "h.example", Features: []string{"v1.4", "s50002", "t50001"}},
			useTLS: true,
			want:   ServerEndpoint{Host: "h.example", Port: 50002, UseTLS: true},
			ok:     true,
		},
		{
			name:   "plaintext preferred otherwise",
			peer:   Peer{Host: "h.example", Features: []string{"v1.4", "s50002", "t50001"}},
			useTLS: false,
			want:   ServerEndpoint{Host: "h.example", Port: 50001, UseTLS: false},
			ok:     true,
		},
		{
			name:   "falls back to plaintext without tls",
			peer:   Peer{Host: "h.example", Features: []string{"t50001"}},
			useTLS: true,
			want:   ServerEndpoint{Host: "h.example", Port: 50001, UseTLS: false},
			ok:     true,
		},
		{
			name:   "falls back to tls without plaintext",
			peer:   Peer{Host: "h.example", Features: []string{"s50002"}},
			useTLS: false,
			want:   ServerEndpoint{Host: "h.example", Port: 50002, UseTLS: true},
			ok:     true,
		},
		{
			name:   "bare tokens imply default ports",
			peer:   Peer{Host: "h.example", Features: []string{"s", "t"}},
			useTLS: true,
			want:   ServerEndpoint{Host: "h.example", Port: DefaultTLSPort, UseTLS: true},
			ok:     true,
		},
		{
			name:   "address used when host missing",
			peer:   Peer{Address: "203.0.113.9", Features: []string{"t50001"}},
			useTLS: false,
			want:   ServerEndpoint{Host: "203.0.113.9", Port: 50001, UseTLS: false},
			ok:     true,
		},
		{
			name:   "no usable transport",
			peer:   Peer{Host: "h.example", Features: []string{"v1.4", "p10000"}},
			useTLS: true,
			ok:     false,
		},
		{
			name:   "out of range port ignored",
			peer:   Peer{Host: "h.example", Features: []string{"s99999999", "t50001"}},
			useTLS: true,
			want:   ServerEndpoint{Host: "h.example", Port: 50001, UseTLS: false},
			ok:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.peer.Endpoint(tt.useTLS)
			if ok != tt.ok {
				t.Fatalf("Endpoint() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("Endpoint() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		useTLS  bool
		want    ServerEndpoint
		wantErr bool
	}{
		{
			name:   "host and port",
			entry:  "electrum.example.org:50001",
			useTLS: false,
			want:   ServerEndpoint{Host: "electrum.example.org", Port: 50001, UseTLS: false},
		},
		{
			name:   "bare host gets tls default",
			entry:  "electrum.example.org",
			useTLS: true,
			want:   ServerEndpoint{Host: "electrum.example.org", Port: DefaultTLSPort, UseTLS: true},
		},
		{
			name:   "bare host gets plaintext default",
			entry:  "electrum.example.org",
			useTLS: false,
			want:   ServerEndpoint{Host: "electrum.example.org", Port: DefaultPlainPort, UseTLS: false},
		},
		{
			name:   "ipv6 with port",
			entry:  "[2001:db8::1]:50002",
			useTLS: true,
			want:   ServerEndpoint{Host: "2001:db8::1", Port: 50002, UseTLS: true},
		},
		{
			name:   "surrounding whitespace trimmed",
			entry:  "  electrum.example.org:50001 ",
			useTLS: false,
			want:   ServerEndpoint{Host: "electrum.example.org", Port: 50001, UseTLS: false},
		},
		{
			name:    "empty entry",
			entry:   "",
			wantErr: true,
		},
		{
			name:    "non-numeric port",
			entry:   "electrum.example.org:fifty",
			wantErr: true,
		},
		{
			name:    "port out of range",
			entry:   "electrum.example.org:70000",
			wantErr: true,
		},
		{
			name:    "missing host",
			entry:   ":50001",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEndpoint(tt.entry, tt.useTLS)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseEndpoint() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseEndpoint() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestServerEndpointStrings(t *testing.T) {
	plain := ServerEndpoint{Host: "electrum.example.org", Port: 50001}
	if plain.Addr() != "electrum.example.org:50001" {
		t.Errorf("Addr() = %q", plain.Addr())
	}
	if plain.String() != "tcp://electrum.example.org:50001" {
		t.Errorf("String() = %q", plain.String())
	}

	secure := ServerEndpoint{Host: "2001:db8::1", Port: 50002, UseTLS: true}
	if secure.Addr() != "[2001:db8::1]:50002" {
		t.Errorf("Addr() = %q", secure.Addr())
	}
	if secure.String() != "tls://[2001:db8::1]:50002" {
		t.Errorf("String() = %q", secure.String())
	}

	if plain.Transport() != "tcp" {
		t.Errorf("Transport() = %q, want tcp", plain.Transport())
	}
	if secure.Transport() != "ssl" {
		t.Errorf("Transport() = %q, want ssl", secure.Transport())
	}
}
