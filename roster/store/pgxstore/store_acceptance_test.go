//go:build acceptance

package pgxstore_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/fundme/migrator/migratortest"
	"github.com/screwyprof/fundme/roster"
	"github.com/screwyprof/fundme/roster/store/pgxstore"
)

var (
	contract = common.HexToAddress("0xa5d16D02bfF5e2b3d944B2a654fe6e31920F7BCe")
	other    = common.HexToAddress("0x694AA1769357215DE4FAC081bf1f309aDC325306")
	funderA  = common.HexToAddress("0x000000000000000000000000000000000000000a")
	funderB  = common.HexToAddress("0x000000000000000000000000000000000000000b")
	t0       = time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
)

func TestStoreAcceptance(t *testing.T) {
	t.Parallel()

	t.Run("it returns nothing for an empty archive", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store, _ := pgxstore.New(migratortest.CreateSchemaTestDatabase(t))

		// Act
		_, found, err := store.LatestSnapshot(t.Context(), contract)

		// Assert
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("it round-trips contributors in order with full precision", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store, _ := pgxstore.New(migratortest.CreateSchemaTestDatabase(t))
		huge, ok := new(big.Int).SetString("123456789012345678901234567890", 10)
		require.True(t, ok)
		snap := snapshot(contract, t0, roster.Contributor{Address: funderB, Amount: huge}, roster.Contributor{Address: funderA, Amount: big.NewInt(1e17)})
		snap.Skipped = 1

		// Act
		err := store.SaveSnapshot(t.Context(), snap)
		got, found, loadErr := store.LatestSnapshot(t.Context(), contract)

		// Assert
		require.NoError(t, err)
		require.NoError(t, loadErr)
		require.True(t, found)
		assert.Equal(t, contract, got.Contract)
		assert.True(t, t0.Equal(got.FetchedAt))
		assert.Equal(t, 1, got.Skipped)
		require.Len(t, got.Contributors, 2)
		assert.Equal(t, funderB, got.Contributors[0].Address)
		assert.Equal(t, huge.String(), got.Contributors[0].Amount.String())
		assert.Equal(t, "100000000000000000", got.Contributors[1].Amount.String())
	})

	t.Run("it returns the newest snapshot of the requested contract", func(t *testing.T) {
		t.Parallel()

		// Arrange
		pool := migratortest.CreateSeededTestDatabase(t,
			snapshot(contract, t0, roster.Contributor{Address: funderA, Amount: big.NewInt(1)}),
			snapshot(contract, t0.Add(time.Minute), roster.Contributor{Address: funderB, Amount: big.NewInt(2)}),
			snapshot(other, t0.Add(time.Hour), roster.Contributor{Address: funderA, Amount: big.NewInt(3)}),
		)
		store, _ := pgxstore.New(pool)

		// Act
		got, found, err := store.LatestSnapshot(t.Context(), contract)

		// Assert
		require.NoError(t, err)
		require.True(t, found)
		require.Len(t, got.Contributors, 1)
		assert.Equal(t, funderB, got.Contributors[0].Address)
	})

	t.Run("it prunes snapshots beyond the retention limit", func(t *testing.T) {
		t.Parallel()

		// Arrange
		pool := migratortest.CreateSchemaTestDatabase(t)
		store, _ := pgxstore.New(pool, pgxstore.WithSnapshotsKept(2))

		// Act
		for i := range 4 {
			err := store.SaveSnapshot(t.Context(), snapshot(contract, t0.Add(time.Duration(i)*time.Minute),
				roster.Contributor{Address: funderA, Amount: big.NewInt(int64(i + 1))}))
			require.NoError(t, err)
		}

		// Assert
		var snapshots, contributors int
		require.NoError(t, pool.QueryRow(t.Context(), "SELECT count(*) FROM roster_snapshots").Scan(&snapshots))
		require.NoError(t, pool.QueryRow(t.Context(), "SELECT count(*) FROM roster_contributors").Scan(&contributors))
		assert.Equal(t, 2, snapshots)
		assert.Equal(t, 2, contributors)

		got, _, err := store.LatestSnapshot(t.Context(), contract)
		require.NoError(t, err)
		assert.Equal(t, "4", got.Contributors[0].Amount.String())
	})

	t.Run("it archives an empty roster", func(t *testing.T) {
		t.Parallel()

		// Arrange
		store, _ := pgxstore.New(migratortest.CreateSchemaTestDatabase(t))

		// Act
		err := store.SaveSnapshot(t.Context(), snapshot(contract, t0))
		got, found, loadErr := store.LatestSnapshot(t.Context(), contract)

		// Assert
		require.NoError(t, err)
		require.NoError(t, loadErr)
		require.True(t, found)
		assert.Empty(t, got.Contributors)
	})
}

func snapshot(addr common.Address, at time.Time, contributors ...roster.Contributor) roster.Snapshot {
	return roster.Snapshot{Contract: addr, FetchedAt: at, Contributors: contributors}
}
