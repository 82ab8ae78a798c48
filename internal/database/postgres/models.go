package postgres

import (
	"time"
)

// TrackedAddress represents an address under continuous balance monitoring
type TrackedAddress struct {
	ID          int64     `db:"id"`
	Address     string    `db:"address"`
	AddressType string    `db:"address_type"`
	ScriptHash  string    `db:"script_hash"`
	Label       string    `db:"label"`
	CreatedAt   time.Time `db:"created_at"`
}

// BalanceSnapshot represents an observed balance at a point in time
type BalanceSnapshot struct {
	ID              int64     `db:"id"`
	Address         string    `db:"address"`
	ConfirmedSats   int64     `db:"confirmed_sats"`
	UnconfirmedSats int64     `db:"unconfirmed_sats"`
	RecordedAt      time.Time `db:"recorded_at"`
}
