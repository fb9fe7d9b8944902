package chain_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/fundme/chain"
	"github.com/screwyprof/fundme/chain/chaintest"
	"github.com/screwyprof/fundme/wallet"
)

func TestDecodeRevert(t *testing.T) {
	t.Parallel()

	t.Run("it matches the not-owner selector to its error", func(t *testing.T) {
		t.Parallel()

		// Arrange
		id := chain.ABI.Errors[chain.ErrorNotOwner].ID

		// Assert
		assert.Equal(t, chain.NotOwnerSelector[:], id[:4])
		assert.Equal(t, chain.NotOwnerSelector[:], crypto.Keccak256([]byte("FundMe__NotOwner()"))[:4])
	})

	t.Run("it decodes a custom error selector", func(t *testing.T) {
		t.Parallel()

		// Act
		rev, ok := chain.DecodeRevert(fmt.Errorf("estimate gas: %w", chaintest.NotOwnerRevert()))

		// Assert
		require.True(t, ok)
		assert.Equal(t, chain.ErrorNotOwner, rev.Reason)
		assert.True(t, rev.HasSelector(chain.NotOwnerSelector))
	})

	t.Run("it decodes an Error(string) reason verbatim", func(t *testing.T) {
		t.Parallel()

		// Act
		rev, ok := chain.DecodeRevert(chaintest.ReasonRevert("You need to spend more ETH!"))

		// Assert
		require.True(t, ok)
		assert.Equal(t, "You need to spend more ETH!", rev.Reason)
		assert.Equal(t, "execution reverted: You need to spend more ETH!", rev.Error())
	})

	t.Run("it reads revert data nested in a wallet error", func(t *testing.T) {
		t.Parallel()

		// Arrange
		err := &nestedDataError{data: map[string]any{
			"originalError": map[string]any{"data": "0x579610db"},
		}}

		// Act
		rev, ok := chain.DecodeRevert(err)

		// Assert
		require.True(t, ok)
		assert.True(t, rev.HasSelector(chain.NotOwnerSelector))
	})

	t.Run("it recognises a revert without data", func(t *testing.T) {
		t.Parallel()

		// Act
		rev, ok := chain.DecodeRevert(errors.New("execution reverted"))

		// Assert
		require.True(t, ok)
		assert.Empty(t, rev.Reason)
		_, hasSelector := rev.Selector()
		assert.False(t, hasSelector)
	})

	t.Run("it falls back to the raw selector for unknown errors", func(t *testing.T) {
		t.Parallel()

		// Act
		rev, ok := chain.DecodeRevert(chaintest.Revert([]byte{0xde, 0xad, 0xbe, 0xef}))

		// Assert
		require.True(t, ok)
		assert.Equal(t, "0xdeadbeef", rev.Reason)
	})

	t.Run("it ignores errors that are not reverts", func(t *testing.T) {
		t.Parallel()

		// Act
		_, okPlain := chain.DecodeRevert(errors.New("dial tcp: connection refused"))
		_, okNil := chain.DecodeRevert(nil)

		// Assert
		assert.False(t, okPlain)
		assert.False(t, okNil)
	})

	t.Run("it keeps the original error reachable", func(t *testing.T) {
		t.Parallel()

		// Arrange
		cause := chaintest.NotOwnerRevert()

		// Act
		rev, ok := chain.DecodeRevert(cause)

		// Assert
		require.True(t, ok)
		assert.ErrorIs(t, rev, chain.ErrReverted)
		var rpcErr *chaintest.RPCError
		assert.ErrorAs(t, rev, &rpcErr)
	})

	t.Run("it does not treat user rejection as not-owner", func(t *testing.T) {
		t.Parallel()

		// Arrange
		err := wallet.Classify(&chaintest.RPCError{Code: wallet.CodeUserRejected, Message: "User rejected"})

		// Assert
		assert.False(t, chain.IsNotOwner(err))
	})
}

type nestedDataError struct{ data any }

func (e *nestedDataError) Error() string  { return "Internal JSON-RPC error." }
func (e *nestedDataError) ErrorCode() int { return -32603 }
func (e *nestedDataError) ErrorData() any { return e.data }
