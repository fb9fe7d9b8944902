package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/screwyprof/fundme/chain"
	"github.com/screwyprof/fundme/notify"
	"github.com/screwyprof/fundme/pkg/logger"
	"github.com/screwyprof/fundme/wallet"
)

// Option configures the Submitter
type Option func(*Submitter)

// WithTxTimeout bounds submission plus receipt wait; zero waits forever
func WithTxTimeout(d time.Duration) Option {
	return func(s *Submitter) { s.txTimeout = d }
}

// WithNotifier reports every outcome as a notice
func WithNotifier(n Notifier) Option {
	return func(s *Submitter) { s.notifier = n }
}

// WithLogger sets the parent logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Submitter) { s.log = logger.Component(l, "action") }
}

// OnConfirmed registers a hook run after every confirmed transaction
func OnConfirmed(fn func(Outcome)) Option {
	return func(s *Submitter) { s.onConfirmed = fn }
}

// Submitter validates and submits fund and withdraw commands
type Submitter struct {
	source      Source
	notifier    Notifier
	txTimeout   time.Duration
	onConfirmed func(Outcome)
	log         *slog.Logger
}

// NewSubmitter creates a Submitter acting through the session handle from source
func NewSubmitter(source Source, opts ...Option) *Submitter {
	s := &Submitter{
		source:      source,
		onConfirmed: func(Outcome) {},
		log:         logger.Component(slog.Default(), "action"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Command is a validated action ready to run against the handle it was
// prepared with
type Command struct {
	Kind   Kind
	Amount *big.Int // nil for withdrawals

	run func(ctx context.Context, sent func(common.Hash)) (Outcome, error)
}

// Run submits the transaction and waits for its receipt
func (c Command) Run(ctx context.Context) (Outcome, error) {
	return c.run(ctx, func(common.Hash) {})
}

// Fund contributes amount ether and waits until the transaction is mined
func (s *Submitter) Fund(ctx context.Context, amount string) (Outcome, error) {
	cmd, err := s.PrepareFund(ctx, amount)
	if err != nil {
		return Outcome{}, err
	}
	return cmd.Run(ctx)
}

// Withdraw sends the contract balance to the owner and waits until mined
func (s *Submitter) Withdraw(ctx context.Context) (Outcome, error) {
	cmd, err := s.PrepareWithdraw(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return cmd.Run(ctx)
}

// PrepareFund validates amount and captures the current handle.
// It makes no network calls.
func (s *Submitter) PrepareFund(ctx context.Context, amount string) (Command, error) {
	wei, err := ParseAmount(amount)
	if err != nil {
		s.notify(ctx, notify.Warning, KindFund, "Enter a positive ETH amount with at most 18 decimals")
		return Command{}, err
	}

	handle, err := s.handle(ctx, KindFund)
	if err != nil {
		return Command{}, err
	}

	return Command{
		Kind:   KindFund,
		Amount: wei,
		run: func(ctx context.Context, sent func(common.Hash)) (Outcome, error) {
			return s.submit(ctx, KindFund, wei, handle, sent, func(ctx context.Context) (common.Hash, error) {
				return handle.Fund(ctx, wei)
			})
		},
	}, nil
}

// PrepareWithdraw captures the current handle. It makes no network calls;
// ownership is left to the ledger.
func (s *Submitter) PrepareWithdraw(ctx context.Context) (Command, error) {
	handle, err := s.handle(ctx, KindWithdraw)
	if err != nil {
		return Command{}, err
	}

	return Command{
		Kind: KindWithdraw,
		run: func(ctx context.Context, sent func(common.Hash)) (Outcome, error) {
			return s.submit(ctx, KindWithdraw, nil, handle, sent, handle.CheaperWithdraw)
		},
	}, nil
}

func (s *Submitter) handle(ctx context.Context, kind Kind) (Handle, error) {
	handle, ok := s.source()
	if !ok {
		s.notify(ctx, notify.Warning, kind, "Connect a wallet first")
		return nil, ErrNoSession
	}
	return handle, nil
}

func (s *Submitter) submit(
	ctx context.Context,
	kind Kind,
	amount *big.Int,
	handle Handle,
	sent func(common.Hash),
	send func(context.Context) (common.Hash, error),
) (Outcome, error) {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	out := Outcome{Kind: kind, Amount: amount}

	hash, err := send(ctx)
	if err != nil {
		return out, s.fail(ctx, kind, err)
	}
	out.TxHash = hash
	sent(hash)

	receipt, err := handle.WaitMined(ctx, hash)
	out.Receipt = receipt
	if err != nil {
		return out, s.fail(ctx, kind, err)
	}

	s.log.InfoContext(ctx, "Transaction confirmed",
		slog.String("kind", string(kind)),
		slog.String("hash", hash.Hex()),
		slog.Any("block", receipt.BlockNumber),
	)
	s.notify(ctx, notify.Success, kind, successMessage(kind, amount))
	s.onConfirmed(out)

	return out, nil
}

// fail maps err to the action's error vocabulary and reports it
func (s *Submitter) fail(ctx context.Context, kind Kind, err error) error {
	err = classify(kind, err)

	var rejected *ChainRejectedError
	switch {
	case errors.Is(err, wallet.ErrUserRejected):
		s.notify(ctx, notify.Warning, kind, "Transaction rejected in the wallet")
	case errors.Is(err, ErrNotOwner):
		s.notify(ctx, notify.Error, kind, "Only the contract owner can withdraw")
	case errors.As(err, &rejected):
		s.notify(ctx, notify.Error, kind, "Transaction rejected by the contract: "+reasonOrUnknown(rejected.Reason))
	case errors.Is(err, context.DeadlineExceeded):
		s.notify(ctx, notify.Error, kind, "Timed out waiting for the transaction")
	default:
		s.notify(ctx, notify.Error, kind, failureMessage(kind))
	}

	s.log.WarnContext(ctx, "Transaction failed", slog.String("kind", string(kind)), slog.Any("error", err))
	return err
}

func classify(kind Kind, err error) error {
	switch {
	case errors.Is(err, wallet.ErrUserRejected):
		return err
	case kind == KindWithdraw && chain.IsNotOwner(err):
		return fmt.Errorf("%w: %w", ErrNotOwner, err)
	case errors.Is(err, chain.ErrReverted), errors.Is(err, chain.ErrTxReverted):
		rejected := &ChainRejectedError{cause: err}
		var rev *chain.RevertError
		if errors.As(err, &rev) {
			rejected.Reason = rev.Reason
		}
		return rejected
	default:
		return err
	}
}

func (s *Submitter) notify(ctx context.Context, level notify.Level, kind Kind, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, notify.Notice{Level: level, Topic: string(kind), Message: message})
}

func successMessage(kind Kind, amount *big.Int) string {
	if kind == KindFund {
		return "Funded " + chain.FormatEther(amount) + " ETH"
	}
	return "Withdrawal confirmed"
}

func failureMessage(kind Kind) string {
	if kind == KindFund {
		return "Funding failed"
	}
	return "Withdrawal failed"
}

func reasonOrUnknown(reason string) string {
	if reason == "" {
		return "no reason given"
	}
	return reason
}
