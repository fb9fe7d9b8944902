package chain_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/fundme/chain"
	"github.com/screwyprof/fundme/chain/chaintest"
	"github.com/screwyprof/fundme/wallet"
)

var (
	owner    = common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")
	funderA  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	funderB  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	tenthEth = big.NewInt(100_000_000_000_000_000)
)

func TestContractReads(t *testing.T) {
	t.Parallel()

	t.Run("it reads the owner", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		c := readOnly(ledger)

		// Act
		got, err := c.Owner(t.Context())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, owner, got)
	})

	t.Run("it reads funders by index", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner).Funded(funderA, tenthEth).Funded(funderB, tenthEth)
		c := readOnly(ledger)

		// Act
		first, errFirst := c.Funder(t.Context(), 0)
		second, errSecond := c.Funder(t.Context(), 1)

		// Assert
		require.NoError(t, errFirst)
		require.NoError(t, errSecond)
		assert.Equal(t, funderA, first)
		assert.Equal(t, funderB, second)
	})

	t.Run("it reports a revert past the end of the funder array", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner).Funded(funderA, tenthEth)
		c := readOnly(ledger)

		// Act
		_, err := c.Funder(t.Context(), 1)

		// Assert
		assert.ErrorIs(t, err, chain.ErrReverted)
	})

	t.Run("it keeps transport failures distinct from reverts", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner).FailFunderAt(0, errors.New("connection refused"))
		c := readOnly(ledger)

		// Act
		_, err := c.Funder(t.Context(), 0)

		// Assert
		require.Error(t, err)
		assert.NotErrorIs(t, err, chain.ErrReverted)
	})

	t.Run("it sums repeated contributions", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner).Funded(funderA, tenthEth).Funded(funderA, tenthEth)
		c := readOnly(ledger)

		// Act
		amount, err := c.AmountFunded(t.Context(), funderA)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, 0, new(big.Int).Mul(tenthEth, big.NewInt(2)).Cmp(amount))
	})
}

func TestContractWrites(t *testing.T) {
	t.Parallel()

	t.Run("it funds through the wallet and waits for the receipt", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		w := ledger.NewWallet(funderA)
		c := chain.Bind(chaintest.Address, funderA, ledger, w)

		// Act
		hash, err := c.Fund(t.Context(), tenthEth)
		require.NoError(t, err)
		receipt, err := c.WaitMined(t.Context(), hash)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
		assert.Equal(t, []common.Address{funderA}, ledger.Funders())
		assert.Equal(t, 0, tenthEth.Cmp(ledger.AmountOf(funderA)))
	})

	t.Run("it decodes the not-owner revert on withdraw", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		c := chain.Bind(chaintest.Address, funderA, ledger, ledger.NewWallet(funderA))

		// Act
		_, err := c.CheaperWithdraw(t.Context())

		// Assert
		var rev *chain.RevertError
		require.ErrorAs(t, err, &rev)
		assert.True(t, rev.HasSelector(chain.NotOwnerSelector))
		assert.Equal(t, chain.ErrorNotOwner, rev.Reason)
		assert.True(t, chain.IsNotOwner(err))
	})

	t.Run("it leaves wallet refusals undecoded", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		c := chain.Bind(chaintest.Address, funderA, ledger, ledger.NewWallet(funderA).Reject(true))

		// Act
		_, err := c.Fund(t.Context(), tenthEth)

		// Assert
		assert.ErrorIs(t, err, wallet.ErrUserRejected)
		assert.NotErrorIs(t, err, chain.ErrReverted)
	})

	t.Run("it refuses to write without a signer", func(t *testing.T) {
		t.Parallel()

		// Arrange
		c := readOnly(chaintest.NewLedger(owner))

		// Act
		_, err := c.Fund(t.Context(), tenthEth)

		// Assert
		assert.ErrorIs(t, err, chain.ErrReadOnly)
	})

	t.Run("it reports a failed receipt", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner).FailOnChain()
		c := chain.Bind(chaintest.Address, owner, ledger, ledger.NewWallet(owner))
		hash, err := c.CheaperWithdraw(t.Context())
		require.NoError(t, err)

		// Act
		receipt, err := c.WaitMined(t.Context(), hash)

		// Assert
		assert.ErrorIs(t, err, chain.ErrTxReverted)
		require.NotNil(t, receipt)
		assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
	})

	t.Run("it recovers the revert reason of a failed receipt", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner).SkipEstimation()
		c := chain.Bind(chaintest.Address, funderA, ledger, ledger.NewWallet(funderA))
		hash, err := c.CheaperWithdraw(t.Context())
		require.NoError(t, err)

		// Act
		receipt, err := c.WaitMined(t.Context(), hash)

		// Assert
		require.NotNil(t, receipt)
		assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
		assert.ErrorIs(t, err, chain.ErrTxReverted)
		assert.True(t, chain.IsNotOwner(err))
	})
}

func TestContractWaitMined(t *testing.T) {
	t.Parallel()

	t.Run("it polls until the receipt appears", func(t *testing.T) {
		t.Parallel()

		// Arrange
		clk := newStepClock()
		ledger := chaintest.NewLedger(owner).HoldReceipts()
		c := chain.Bind(chaintest.Address, funderA, ledger, ledger.NewWallet(funderA), chain.WithClock(clk))
		hash, err := c.Fund(t.Context(), tenthEth)
		require.NoError(t, err)

		mined := make(chan error, 1)
		go func() {
			_, err := c.WaitMined(t.Context(), hash)
			mined <- err
		}()

		// Act
		<-clk.waiting
		ledger.Mine(hash)
		clk.tick <- time.Now()

		// Assert
		assert.NoError(t, <-mined)
	})

	t.Run("it stops waiting when the context ends", func(t *testing.T) {
		t.Parallel()

		// Arrange
		clk := newStepClock()
		ledger := chaintest.NewLedger(owner).HoldReceipts()
		c := chain.Bind(chaintest.Address, funderA, ledger, ledger.NewWallet(funderA), chain.WithClock(clk))
		hash, err := c.Fund(t.Context(), tenthEth)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(t.Context())
		mined := make(chan error, 1)
		go func() {
			_, err := c.WaitMined(ctx, hash)
			mined <- err
		}()

		// Act
		<-clk.waiting
		cancel()

		// Assert
		assert.ErrorIs(t, <-mined, context.Canceled)
	})
}

func readOnly(ledger *chaintest.Ledger) *chain.Contract {
	return chain.Bind(chaintest.Address, common.Address{}, ledger, nil)
}

type stepClock struct {
	tick    chan time.Time
	waiting chan struct{}
}

func newStepClock() *stepClock {
	return &stepClock{tick: make(chan time.Time), waiting: make(chan struct{}, 8)}
}

func (c *stepClock) After(time.Duration) <-chan time.Time {
	c.waiting <- struct{}{}
	return c.tick
}

func (c *stepClock) Now() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
