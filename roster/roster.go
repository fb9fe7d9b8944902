package roster

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors for failure cases
var (
	ErrFetchFailure = errors.New("funder enumeration failed")
	ErrNoContract   = errors.New("no contract handle bound")
	ErrAmountFetch  = errors.New("amount fetch failed")
	ErrArchiveLoad  = errors.New("archive load failed")
	ErrArchiveSave  = errors.New("archive save failed")
)

// Default configuration values
const (
	DefaultPollInterval    = 30 * time.Second
	DefaultReadConcurrency = 8
)

// Reader is the slice of the contract the roster needs; *chain.Contract satisfies it
type Reader interface {
	Address() common.Address
	Funder(ctx context.Context, index uint64) (common.Address, error)
	AmountFunded(ctx context.Context, funder common.Address) (*big.Int, error)
}

// Source returns the currently bound contract handle, or false when there is none
type Source func() (Reader, bool)

// Enumerator lists the distinct funder addresses in ledger order
type Enumerator interface {
	Enumerate(ctx context.Context, r Reader) ([]common.Address, error)
}

// Store archives snapshots for warm starts
type Store interface {
	// SaveSnapshot stores snap and prunes older snapshots of the same contract
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// LatestSnapshot returns the newest snapshot for contract, if any
	LatestSnapshot(ctx context.Context, contract common.Address) (Snapshot, bool, error)
}

// Contributor is one funder's cumulative stake in wei
type Contributor struct {
	Address common.Address
	Amount  *big.Int
}

// Snapshot is the roster as read at FetchedAt. It is never modified.
type Snapshot struct {
	Contract     common.Address
	Contributors []Contributor
	FetchedAt    time.Time
	Skipped      int
	Restored     bool
}

// Result is the latest view of the roster: the last good snapshot, the
// error of the last tick (nil when it succeeded) and when those happened.
type Result struct {
	Data        *Snapshot
	Err         error
	LastUpdated time.Time
	LastAttempt time.Time
}

// Event represents a service lifecycle event
// ------------------------------------------
type Event any

type PollingStarted struct {
	Interval time.Duration
}

type SnapshotProduced struct {
	Snapshot Snapshot
	Duration time.Duration
}

type SnapshotRestored struct {
	Snapshot Snapshot
}

type AddressSkipped struct {
	Address common.Address
	Err     error
}

type PollingIdle struct {
	Reason error
}

type PollingError struct {
	Err error
}

type ArchiveError struct {
	Err error
}

type PollingShutdown struct {
	Reason error // Why shutdown occurred (ctx.Err())
}
