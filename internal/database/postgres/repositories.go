package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AddressRepository handles tracked address database operations
type AddressRepository struct {
	db *sql.DB
}

// NewAddressRepository creates a new address repository
func NewAddressRepository(db *sql.DB) *AddressRepository {
	return &AddressRepository{db: db}
}

// UpsertTrackedAddress inserts a tracked address or refreshes its metadata.
// The creation timestamp of an existing row is preserved.
func (r *AddressRepository) UpsertTrackedAddress(ctx context.Context, addr *TrackedAddress) error {
	query := `
		INSERT INTO tracked_addresses (address, address_type, script_hash, label, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE
		SET address_type = EXCLUDED.address_type, script_hash = EXCLUDED.script_hash, label = EXCLUDED.label
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		addr.Address, addr.AddressType, addr.ScriptHash, addr.Label, time.Now(),
	).Scan(&addr.ID, &addr.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert tracked address: %w", err)
	}

	return nil
}

// GetTrackedAddress retrieves a tracked address by its address string
func (r *AddressRepository) GetTrackedAddress(ctx context.Context, address string) (*TrackedAddress, error) {
	query := `
		SELECT id, address, address_type, script_hash, label, created_at
		FROM tracked_addresses WHERE address = $1`

	addr := &TrackedAddress{}
	err := r.db.QueryRowContext(ctx, query, address).Scan(
		&addr.ID, &addr.Address, &addr.AddressType, &addr.ScriptHash,
		&addr.Label, &addr.CreatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("tracked address not found")
		}
		return nil, fmt.Errorf("failed to get tracked address: %w", err)
	}

	return addr, nil
}

// ListTrackedAddresses retrieves all tracked addresses ordered by creation time
func (r *AddressRepository) ListTrackedAddresses(ctx context.Context) ([]*TrackedAddress, error) {
	query := `
		SELECT id, address, address_type, script_hash, label, created_at
		FROM tracked_addresses
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked addresses: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			_ = err // Ignore close errors for now
		}
	}()

	var addrs []*TrackedAddress
	for rows.Next() {
		addr := &TrackedAddress{}
		err := rows.Scan(
			&addr.ID, &addr.Address, &addr.AddressType, &addr.ScriptHash,
			&addr.Label, &addr.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tracked address: %w", err)
		}
		addrs = append(addrs, addr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tracked addresses: %w", err)
	}

	return addrs, nil
}

// SnapshotRepository handles balance snapshot database operations
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// InsertSnapshot stores a new balance snapshot
func (r *SnapshotRepository) InsertSnapshot(ctx context.Context, snap *BalanceSnapshot) error {
	query := `
		INSERT INTO balance_snapshots (address, confirmed_sats, unconfirmed_sats, recorded_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if snap.RecordedAt.IsZero() {
		snap.RecordedAt = time.Now()
	}

	err := r.db.QueryRowContext(ctx, query,
		snap.Address, snap.ConfirmedSats, snap.UnconfirmedSats, snap.RecordedAt,
	).Scan(&snap.ID)

	if err != nil {
		return fmt.Errorf("failed to insert balance snapshot: %w", err)
	}

	return nil
}

// LatestSnapshot retrieves the most recent snapshot for an address.
// It returns nil without an error when the address has no snapshots yet.
func (r *SnapshotRepository) LatestSnapshot(ctx context.Context, address string) (*BalanceSnapshot, error) {
	query := `
		SELECT id, address, confirmed_sats, unconfirmed_sats, recorded_at
		FROM balance_snapshots
		WHERE address = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1`

	snap := &BalanceSnapshot{}
	err := r.db.QueryRowContext(ctx, query, address).Scan(
		&snap.ID, &snap.Address, &snap.ConfirmedSats, &snap.UnconfirmedSats, &snap.RecordedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	return snap, nil
}

// GetSnapshotHistory retrieves snapshots for an address with pagination
func (r *SnapshotRepository) GetSnapshotHistory(ctx context.Context, address string, limit, offset int) ([]*BalanceSnapshot, error) {
	query := `
		SELECT id, address, confirmed_sats, unconfirmed_sats, recorded_at
		FROM balance_snapshots
		WHERE address = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.db.QueryContext(ctx, query, address, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			_ = err // Ignore close errors for now
		}
	}()

	var snaps []*BalanceSnapshot
	for rows.Next() {
		snap := &BalanceSnapshot{}
		err := rows.Scan(
			&snap.ID, &snap.Address, &snap.ConfirmedSats, &snap.UnconfirmedSats, &snap.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snaps, nil
}

// PruneSnapshotsBefore deletes snapshots recorded before the cutoff
func (r *SnapshotRepository) PruneSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM balance_snapshots WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned snapshots: %w", err)
	}

	return pruned, nil
}
