// Package action submits the two write commands of the funding contract:
// fund and the owner-only withdrawal.
package action

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/screwyprof/fundme/chain"
	"github.com/screwyprof/fundme/notify"
)

// Sentinel errors for failure cases
var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrNoSession     = errors.New("no wallet session")
	ErrNotOwner      = errors.New("only the contract owner can withdraw")
	ErrChainRejected = errors.New("rejected by the ledger")
)

// ChainRejectedError carries the revert reason decoded from the ledger
type ChainRejectedError struct {
	Reason string
	cause  error
}

func (e *ChainRejectedError) Error() string {
	if e.Reason == "" {
		return ErrChainRejected.Error()
	}
	return ErrChainRejected.Error() + ": " + e.Reason
}

func (e *ChainRejectedError) Unwrap() []error {
	if e.cause == nil {
		return []error{ErrChainRejected}
	}
	return []error{ErrChainRejected, e.cause}
}

// Kind names the command
type Kind string

const (
	KindFund     Kind = "fund"
	KindWithdraw Kind = "withdraw"
)

// Handle is the signer-bound contract; *chain.Contract satisfies it
type Handle interface {
	Fund(ctx context.Context, value *big.Int) (common.Hash, error)
	CheaperWithdraw(ctx context.Context) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Source returns the handle of the current session, or false when no
// account is connected
type Source func() (Handle, bool)

// Notifier receives user-facing notices
type Notifier interface {
	Notify(ctx context.Context, n notify.Notice) notify.Notice
}

// Outcome describes a confirmed transaction
type Outcome struct {
	Kind    Kind
	Amount  *big.Int
	TxHash  common.Hash
	Receipt *types.Receipt
}

// ParseAmount converts a user-entered ether amount to wei. It accepts
// plain positive decimals with at most 18 fractional digits.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}

	wei, err := chain.ParseEther(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAmount, err)
	}
	if wei.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	return wei, nil
}
