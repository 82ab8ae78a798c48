package messaging

import "time"

// Balance event kinds carried in BalanceEventMessage.Event
const (
	EventInitial = "initial"
	EventChanged = "changed"
)

// BalanceEventMessage represents an observed balance event for a tracked address
type BalanceEventMessage struct {
	Address             string    `json:"address"`
	AddressType         string    `json:"address_type"`
	ConfirmedSats       int64     `json:"confirmed_sats"`
	UnconfirmedSats     int64     `json:"unconfirmed_sats"`
	PrevConfirmedSats   int64     `json:"prev_confirmed_sats"`
	PrevUnconfirmedSats int64     `json:"prev_unconfirmed_sats"`
	DeltaSats           int64     `json:"delta_sats"`
	Event               string    `json:"event"` // "initial", "changed"
	ServerHost          string    `json:"server_host"`
	DetectedAt          time.Time `json:"detected_at"`
}

// ServerListEntry is one ranked server in a server list message
type ServerListEntry struct {
	Host           string  `json:"host"`
	Port           int     `json:"port"`
	Transport      string  `json:"transport"`
	HealthScore    float64 `json:"health_score"`
	LatencySeconds float64 `json:"latency_seconds"`
	Version        string  `json:"version"`
}

// ServerListMessage represents a refreshed ranked Electrum server list
type ServerListMessage struct {
	Servers         []ServerListEntry `json:"servers"`
	TotalDiscovered int               `json:"total_discovered"`
	HealthChecked   int               `json:"health_checked"`
	RefreshedAt     time.Time         `json:"refreshed_at"`
}
