package pgxstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/screwyprof/fundme/roster"
	"github.com/screwyprof/fundme/roster/store/dbrow"
)

// Sentinel errors for store operations
var (
	ErrTransactionFailed = errors.New("transaction failed")
	ErrInsertFailed      = errors.New("insert operation failed")
	ErrCopyFailed        = errors.New("bulk copy operation failed")
	ErrPruneFailed       = errors.New("prune operation failed")
	ErrQueryFailed       = errors.New("snapshot query failed")
)

// DefaultSnapshotsKept is how many snapshots per contract survive a save
const DefaultSnapshotsKept = 10

const (
	insertSnapshotSQL = `
		INSERT INTO roster_snapshots (contract, fetched_at, skipped)
		VALUES ($1, $2, $3)
		RETURNING id`

	pruneSnapshotsSQL = `
		DELETE FROM roster_snapshots
		WHERE contract = $1
		  AND id NOT IN (
			SELECT id FROM roster_snapshots
			WHERE contract = $1
			ORDER BY fetched_at DESC, id DESC
			LIMIT $2
		  )`

	latestSnapshotSQL = `
		SELECT id, contract, fetched_at, skipped
		FROM roster_snapshots
		WHERE contract = $1
		ORDER BY fetched_at DESC, id DESC
		LIMIT 1`

	contributorsSQL = `
		SELECT address, amount
		FROM roster_contributors
		WHERE snapshot_id = $1
		ORDER BY position`
)

// Option configures the Store
type Option func(*Store)

// WithSnapshotsKept sets how many snapshots per contract are retained
func WithSnapshotsKept(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.keep = n
		}
	}
}

// Store implements roster.Store interface using pgx
type Store struct {
	pool *pgxpool.Pool
	keep int
}

var _ roster.Store = (*Store)(nil)

// New creates a new PostgreSQL snapshot archive with an existing connection pool
// Returns the store and a closer function
func New(pool *pgxpool.Pool, opts ...Option) (*Store, func()) {
	store := &Store{pool: pool, keep: DefaultSnapshotsKept}
	for _, opt := range opts {
		opt(store)
	}
	closer := func() {
		pool.Close()
	}
	return store, closer
}

// SaveSnapshot writes the snapshot and its contributors in one transaction
// and prunes older snapshots of the same contract
func (s *Store) SaveSnapshot(ctx context.Context, snap roster.Snapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }() // No-op if commit succeeds

	contract := snap.Contract.Hex()

	var id int64
	err = tx.QueryRow(ctx, insertSnapshotSQL, contract, snap.FetchedAt, int32(snap.Skipped)).Scan(&id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInsertFailed, err)
	}

	if len(snap.Contributors) > 0 {
		_, err = tx.CopyFrom(
			ctx,
			pgx.Identifier{"roster_contributors"},
			[]string{"snapshot_id", "position", "address", "amount"},
			pgx.CopyFromRows(dbrow.ContributorsToRows(id, snap.Contributors)),
		)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCopyFailed, err)
		}
	}

	// Contributors go with their snapshot through ON DELETE CASCADE
	if _, err = tx.Exec(ctx, pruneSnapshotsSQL, contract, s.keep); err != nil {
		return fmt.Errorf("%w: %w", ErrPruneFailed, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}

	return nil
}

// LatestSnapshot returns the newest archived snapshot of contract
func (s *Store) LatestSnapshot(ctx context.Context, contract common.Address) (roster.Snapshot, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, latestSnapshotSQL, contract.Hex())
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	header, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[dbrow.Snapshot])
	if errors.Is(err, pgx.ErrNoRows) {
		return roster.Snapshot{}, false, nil
	}
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	rows, err = tx.Query(ctx, contributorsSQL, header.ID)
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	contributors, err := pgx.CollectRows(rows, pgx.RowToStructByName[dbrow.Contributor])
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("%w: scan failed: %w", ErrQueryFailed, err)
	}

	snap, err := dbrow.ToSnapshot(header, contributors)
	if err != nil {
		return roster.Snapshot{}, false, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return snap, true, nil
}
