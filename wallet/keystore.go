package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/screwyprof/fundme/pkg/logger"
)

// Sentinel errors for the keystore wallet
var (
	ErrNoKeystoreAccounts = errors.New("keystore holds no accounts")
	ErrAccountLocked      = errors.New("account is not unlocked")
	ErrTxBuildFailed      = errors.New("failed to build transaction")
)

// Prompter supplies the passphrase for an account; it stands in for the
// wallet's access prompt
type Prompter interface {
	Passphrase(ctx context.Context, account accounts.Account) (string, error)
}

// PrompterFunc adapts a function to Prompter
type PrompterFunc func(ctx context.Context, account accounts.Account) (string, error)

func (f PrompterFunc) Passphrase(ctx context.Context, account accounts.Account) (string, error) {
	return f(ctx, account)
}

// StaticPassphrase always answers with the same passphrase; an empty one declines
func StaticPassphrase(passphrase string) Prompter {
	return PrompterFunc(func(context.Context, accounts.Account) (string, error) {
		if passphrase == "" {
			return "", ErrPromptDeclined
		}
		return passphrase, nil
	})
}

// TxBackend is the node surface needed to build and broadcast transactions;
// *ethclient.Client satisfies it
type TxBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeystoreOption configures the keystore wallet
type KeystoreOption func(*Keystore)

// WithAccount pins the account to unlock; by default the first keystore account is used
func WithAccount(addr common.Address) KeystoreOption {
	return func(k *Keystore) { k.preferred = &addr }
}

// WithKeystoreLogger sets the logger
func WithKeystoreLogger(l *slog.Logger) KeystoreOption {
	return func(k *Keystore) { k.log = l }
}

// Keystore is a local wallet backed by an encrypted go-ethereum keystore.
// Unlocking stands in for granting account access; locking revokes it.
type Keystore struct {
	ks        *keystore.KeyStore
	backend   TxBackend
	prompt    Prompter
	preferred *common.Address
	log       *slog.Logger
	feed      event.Feed

	mu       sync.Mutex
	unlocked []common.Address
}

var (
	_ Provider          = (*Keystore)(nil)
	_ PermissionRevoker = (*Keystore)(nil)
)

// NewKeystore builds a keystore wallet that signs locally and broadcasts through backend
func NewKeystore(ks *keystore.KeyStore, backend TxBackend, prompt Prompter, opts ...KeystoreOption) *Keystore {
	k := &Keystore{ks: ks, backend: backend, prompt: prompt}
	for _, opt := range opts {
		opt(k)
	}
	k.log = logger.Component(k.log, "wallet.keystore")
	return k
}

func (k *Keystore) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	account, err := k.selectAccount()
	if err != nil {
		return nil, err
	}

	passphrase, err := k.prompt.Passphrase(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserRejected, err)
	}
	if err := k.ks.Unlock(account, passphrase); err != nil {
		if errors.Is(err, keystore.ErrDecrypt) {
			return nil, fmt.Errorf("%w: %w", ErrUserRejected, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	k.mu.Lock()
	k.unlocked = []common.Address{account.Address}
	k.mu.Unlock()

	return []common.Address{account.Address}, nil
}

func (k *Keystore) Accounts(context.Context) ([]common.Address, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Clone(k.unlocked), nil
}

func (k *Keystore) ChainID(ctx context.Context) (*big.Int, error) {
	return k.backend.ChainID(ctx)
}

// SwitchChain succeeds only when the node already serves the requested chain;
// a keystore cannot move the node elsewhere.
func (k *Keystore) SwitchChain(ctx context.Context, chainID *big.Int) error {
	current, err := k.backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if current.Cmp(chainID) != 0 {
		return fmt.Errorf("%w: node serves chain %s, wanted %s", ErrUnknownChain, current, chainID)
	}
	return nil
}

// RevokePermissions locks every unlocked account
func (k *Keystore) RevokePermissions(context.Context) error {
	k.mu.Lock()
	unlocked := k.unlocked
	k.unlocked = nil
	k.mu.Unlock()

	var errs []error
	for _, addr := range unlocked {
		if err := k.ks.Lock(addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SendTransaction builds an EIP-1559 transaction, signs it with the unlocked key and broadcasts it.
// Gas estimation errors are returned untouched so revert data reaches the caller.
func (k *Keystore) SendTransaction(ctx context.Context, req TxRequest) (common.Hash, error) {
	if !k.isUnlocked(req.From) {
		return common.Hash{}, fmt.Errorf("%w: %w %s", ErrUserRejected, ErrAccountLocked, req.From.Hex())
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	chainID, err := k.backend.ChainID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: chain id: %w", ErrTxBuildFailed, err)
	}
	nonce, err := k.backend.PendingNonceAt(ctx, req.From)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: nonce: %w", ErrTxBuildFailed, err)
	}
	tip, err := k.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: gas tip: %w", ErrTxBuildFailed, err)
	}
	head, err := k.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: head: %w", ErrTxBuildFailed, err)
	}

	to := req.To
	gas, err := k.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  req.From,
		To:    &to,
		Value: value,
		Data:  req.Data,
	})
	if err != nil {
		return common.Hash{}, err
	}

	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})

	signed, err := k.ks.SignTx(accounts.Account{Address: req.From}, tx, chainID)
	if err != nil {
		if errors.Is(err, keystore.ErrLocked) {
			return common.Hash{}, fmt.Errorf("%w: %w", ErrUserRejected, err)
		}
		return common.Hash{}, fmt.Errorf("%w: sign: %w", ErrTxBuildFailed, err)
	}
	if err := k.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, err
	}

	k.log.InfoContext(ctx, "Transaction broadcast",
		slog.String("hash", signed.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)
	return signed.Hash(), nil
}

func (k *Keystore) Subscribe(ch chan<- Event) event.Subscription {
	return k.feed.Subscribe(ch)
}

// Start forwards keystore wallet drops of an unlocked account as account changes.
// The returned channel is closed once the watcher stops.
func (k *Keystore) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	walletEvents := make(chan accounts.WalletEvent, 8)
	sub := k.ks.Subscribe(walletEvents)

	go func() {
		defer close(done)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					k.log.ErrorContext(ctx, "Keystore subscription failed", slog.Any("error", err))
				}
				return
			case ev := <-walletEvents:
				if ev.Kind != accounts.WalletDropped {
					continue
				}
				if remaining, changed := k.drop(ev.Wallet.Accounts()); changed {
					k.feed.Send(Event{Kind: AccountsChanged, Accounts: remaining})
				}
			}
		}
	}()
	return done
}

func (k *Keystore) drop(gone []accounts.Account) ([]common.Address, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	before := len(k.unlocked)
	k.unlocked = slices.DeleteFunc(k.unlocked, func(addr common.Address) bool {
		return slices.ContainsFunc(gone, func(a accounts.Account) bool { return a.Address == addr })
	})
	return slices.Clone(k.unlocked), len(k.unlocked) != before
}

func (k *Keystore) selectAccount() (accounts.Account, error) {
	if k.preferred != nil {
		account, err := k.ks.Find(accounts.Account{Address: *k.preferred})
		if err != nil {
			return accounts.Account{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return account, nil
	}
	all := k.ks.Accounts()
	if len(all) == 0 {
		return accounts.Account{}, fmt.Errorf("%w: %w", ErrUnavailable, ErrNoKeystoreAccounts)
	}
	return all[0], nil
}

func (k *Keystore) isUnlocked(addr common.Address) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return slices.Contains(k.unlocked, addr)
}
