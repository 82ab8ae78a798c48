package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bardlex/gobt/internal/electrum"
)

// Response is the envelope for successful replies.
type Response struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the envelope for failed replies. Error carries a
// machine readable code, Message the human readable account.
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Details   any       `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func respond(data any, message string) Response {
	return Response{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func respondError(code, message string) ErrorResponse {
	return ErrorResponse{
		Success:   false,
		Error:     code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// AddressBalance presents one address balance. BTC amounts are the
// satoshi values scaled by 1e-8, never floats.
type AddressBalance struct {
	Address            string          `json:"address"`
	ConfirmedBalance   decimal.Decimal `json:"confirmed_balance"`
	UnconfirmedBalance decimal.Decimal `json:"unconfirmed_balance"`
	TotalBalance       decimal.Decimal `json:"total_balance"`
	AddressType        string          `json:"address_type"`
	LastUpdated        time.Time       `json:"last_updated"`
}

func newAddressBalance(b *electrum.Balance, at time.Time) AddressBalance {
	return AddressBalance{
		Address:            b.Address,
		ConfirmedBalance:   decimal.New(b.ConfirmedSats, -8),
		UnconfirmedBalance: decimal.New(b.UnconfirmedSats, -8),
		TotalBalance:       decimal.New(b.TotalSats(), -8),
		AddressType:        b.AddressType.String(),
		LastUpdated:        at,
	}
}

// BatchBalancesRequest asks for several balances in one call.
type BatchBalancesRequest struct {
	Addresses []string `json:"addresses" binding:"required"`
}

// BatchBalanceEntry is one outcome of a batch request. Exactly one of
// Balance and Error is set.
type BatchBalanceEntry struct {
	Address string          `json:"address"`
	Balance *AddressBalance `json:"balance,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// BatchBalancesResponse carries one entry per requested address in
// request order.
type BatchBalancesResponse struct {
	Balances  []BatchBalanceEntry `json:"balances"`
	Requested int                 `json:"requested"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

// HistoryResponse pages through an address's transaction history in the
// order the Electrum server returned it.
type HistoryResponse struct {
	Address           string                  `json:"address"`
	Transactions      []electrum.HistoryEntry `json:"transactions"`
	TotalTransactions int                     `json:"total_transactions"`
	Page              int                     `json:"page"`
	PerPage           int                     `json:"per_page"`
}

// ValidateRequest asks whether an address is well formed.
type ValidateRequest struct {
	Address string `json:"address" binding:"required"`
}

// ValidateResponse reports validity in the payload. An invalid address
// is a successful validation with IsValid false, not an HTTP error.
type ValidateResponse struct {
	Address     string `json:"address"`
	IsValid     bool   `json:"is_valid"`
	AddressType string `json:"address_type,omitempty"`
	ScriptHash  string `json:"scripthash,omitempty"`
	Network     string `json:"network"`
	Error       string `json:"error,omitempty"`
}

// ServerInfoResponse describes the active Electrum server connection.
type ServerInfoResponse struct {
	ServerHost      string    `json:"server_host"`
	ServerPort      int       `json:"server_port"`
	ProtocolVersion string    `json:"protocol_version"`
	ServerVersion   string    `json:"server_version"`
	GenesisHash     string    `json:"genesis_hash"`
	Height          int64     `json:"height"`
	Connected       bool      `json:"connected"`
	LastPing        time.Time `json:"last_ping"`
	ResponseTime    float64   `json:"response_time"`
}

func newServerInfo(info *electrum.ServerInfo) ServerInfoResponse {
	return ServerInfoResponse{
		ServerHost:      info.Host,
		ServerPort:      info.Port,
		ProtocolVersion: info.ProtocolVersion,
		ServerVersion:   info.ServerVersion,
		GenesisHash:     info.GenesisHash,
		Height:          info.Height,
		Connected:       info.Connected,
		LastPing:        info.LastPing,
		ResponseTime:    info.ResponseTime,
	}
}

// DiscoverRequest tunes one discovery pass. Both fields are optional;
// TestConnection defaults to true and MaxServers to the configured cap.
type DiscoverRequest struct {
	MaxServers     *int  `json:"max_servers"`
	TestConnection *bool `json:"test_connection"`
}

// DiscoveredServer is one ranked entry of a discovery pass.
type DiscoveredServer struct {
	Host           string  `json:"host"`
	Port           int     `json:"port"`
	Transport      string  `json:"transport"`
	HealthScore    float64 `json:"health_score"`
	LatencySeconds float64 `json:"latency_seconds"`
	Version        string  `json:"version"`
}

// ServerListResponse carries the ranked result of one discovery pass.
type ServerListResponse struct {
	Servers         []DiscoveredServer `json:"servers"`
	TotalDiscovered int                `json:"total_discovered"`
	HealthChecked   int                `json:"health_checked"`
	Timestamp       time.Time          `json:"timestamp"`
}

func newServerList(report *electrum.DiscoveryReport, at time.Time) ServerListResponse {
	servers := make([]DiscoveredServer, 0, len(report.Servers))
	for _, sh := range report.Servers {
		servers = append(servers, DiscoveredServer{
			Host:           sh.Endpoint.Host,
			Port:           sh.Endpoint.Port,
			Transport:      sh.Endpoint.Transport(),
			HealthScore:    sh.HealthScore,
			LatencySeconds: sh.LatencySeconds,
			Version:        sh.ServerVersion,
		})
	}
	return ServerListResponse{
		Servers:         servers,
		TotalDiscovered: report.TotalDiscovered,
		HealthChecked:   report.HealthChecked,
		Timestamp:       at,
	}
}
