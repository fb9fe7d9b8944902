package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/screwyprof/fundme/pkg/clock"
	"github.com/screwyprof/fundme/pkg/logger"
	"github.com/screwyprof/fundme/wallet"
)

// Sentinel errors for contract interactions
var (
	ErrReadOnly   = errors.New("contract handle has no signer")
	ErrTxReverted = errors.New("transaction reverted on chain")
)

// DefaultReceiptPollInterval is how often WaitMined asks the node for a receipt
const DefaultReceiptPollInterval = 2 * time.Second

// Backend is the node surface used for reads and receipts; *ethclient.Client satisfies it
type Backend interface {
	bind.ContractCaller
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxLookup is the optional backend surface used to replay reverted
// transactions; *ethclient.Client satisfies it
type TxLookup interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// Sender signs and broadcasts transactions; every wallet.Provider satisfies it
type Sender interface {
	SendTransaction(ctx context.Context, tx wallet.TxRequest) (common.Hash, error)
}

// Option configures a Contract
type Option func(*Contract)

// WithReceiptPollInterval sets how often WaitMined polls
func WithReceiptPollInterval(d time.Duration) Option {
	return func(c *Contract) { c.receiptInterval = d }
}

// WithClock injects a custom Clock (e.g., for testing)
func WithClock(cl clock.Clock) Option {
	return func(c *Contract) { c.clock = cl }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Contract) { c.log = l }
}

// Contract is a FundMe handle bound to one signer. It is immutable: a new
// signer means a new handle.
type Contract struct {
	address         common.Address
	from            common.Address
	bound           *bind.BoundContract
	backend         Backend
	sender          Sender
	clock           clock.Clock
	receiptInterval time.Duration
	log             *slog.Logger
}

// Bind creates a handle for the contract at address. Writes are sent from
// the from account through sender; a nil sender gives a read-only handle.
func Bind(address, from common.Address, backend Backend, sender Sender, opts ...Option) *Contract {
	c := &Contract{
		address:         address,
		from:            from,
		bound:           bind.NewBoundContract(address, ABI, backend, nil, nil),
		backend:         backend,
		sender:          sender,
		clock:           clock.SystemClock{},
		receiptInterval: DefaultReceiptPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.Component(c.log, "chain").With(slog.String("contract", address.Hex()))
	return c
}

func (c *Contract) Address() common.Address { return c.address }

// From is the signer account the handle is bound to
func (c *Contract) From() common.Address { return c.from }

// Owner calls getOwner()
func (c *Contract) Owner(ctx context.Context) (common.Address, error) {
	var out []any
	if err := c.call(ctx, &out, MethodGetOwner); err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// Funder calls getFunder(index). Reading past the end of the funder
// array reverts.
func (c *Contract) Funder(ctx context.Context, index uint64) (common.Address, error) {
	var out []any
	if err := c.call(ctx, &out, MethodGetFunder, new(big.Int).SetUint64(index)); err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// AmountFunded calls getAddressToAmountFunded(funder) and returns wei
func (c *Contract) AmountFunded(ctx context.Context, funder common.Address) (*big.Int, error) {
	var out []any
	if err := c.call(ctx, &out, MethodAmountFunded, funder); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Fund submits fund() carrying value wei and returns the transaction hash
func (c *Contract) Fund(ctx context.Context, value *big.Int) (common.Hash, error) {
	return c.transact(ctx, value, MethodFund)
}

// CheaperWithdraw submits cheaperWithdraw() and returns the transaction hash
func (c *Contract) CheaperWithdraw(ctx context.Context) (common.Hash, error) {
	return c.transact(ctx, nil, MethodCheaperWithdraw)
}

// WaitMined polls for the receipt of hash until it is mined or ctx ends.
// A mined receipt with failed status yields ErrTxReverted alongside the
// receipt, wrapping the replayed *RevertError when the backend can look
// the transaction up.
func (c *Contract) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, c.revertCause(ctx, hash, receipt)
			}
			return receipt, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			c.log.DebugContext(ctx, "Receipt lookup failed", slog.String("hash", hash.Hex()), slog.Any("error", err))
		}

		if err := clock.Sleep(ctx, c.clock, c.receiptInterval); err != nil {
			return nil, err
		}
	}
}

// revertCause replays a failed transaction as a call at its block to
// recover the revert data the receipt does not carry
func (c *Contract) revertCause(ctx context.Context, hash common.Hash, receipt *types.Receipt) error {
	reverted := fmt.Errorf("%w: %s", ErrTxReverted, hash.Hex())

	lookup, ok := c.backend.(TxLookup)
	if !ok {
		return reverted
	}
	tx, _, err := lookup.TransactionByHash(ctx, hash)
	if err != nil {
		c.log.DebugContext(ctx, "Reverted transaction lookup failed", slog.String("hash", hash.Hex()), slog.Any("error", err))
		return reverted
	}

	_, err = c.backend.CallContract(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    tx.To(),
		Gas:   tx.Gas(),
		Value: tx.Value(),
		Data:  tx.Data(),
	}, receipt.BlockNumber)
	rev, ok := DecodeRevert(err)
	if !ok {
		return reverted
	}
	return fmt.Errorf("%w: %s: %w", ErrTxReverted, hash.Hex(), rev)
}

func (c *Contract) call(ctx context.Context, out *[]any, method string, params ...any) error {
	opts := &bind.CallOpts{Context: ctx, From: c.from}
	if err := c.bound.Call(opts, out, method, params...); err != nil {
		return fmt.Errorf("%s: %w", method, classify(err))
	}
	return nil
}

func (c *Contract) transact(ctx context.Context, value *big.Int, method string) (common.Hash, error) {
	if c.sender == nil {
		return common.Hash{}, ErrReadOnly
	}

	data, err := ABI.Pack(method)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", method, err)
	}

	hash, err := c.sender.SendTransaction(ctx, wallet.TxRequest{
		From:  c.from,
		To:    c.address,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: %w", method, classify(err))
	}

	c.log.InfoContext(ctx, "Transaction submitted",
		slog.String("method", method),
		slog.String("from", c.from.Hex()),
		slog.String("hash", hash.Hex()),
	)
	return hash, nil
}

// classify turns reverts into *RevertError and leaves wallet refusals alone
func classify(err error) error {
	if errors.Is(err, wallet.ErrUserRejected) || errors.Is(err, wallet.ErrUnavailable) {
		return err
	}
	if rev, ok := DecodeRevert(err); ok {
		return rev
	}
	return err
}
