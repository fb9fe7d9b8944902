package chaintest

import (
	"context"
	"math/big"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/screwyprof/fundme/wallet"
)

// Wallet is a scriptable wallet.Provider that executes transactions on a Ledger
type Wallet struct {
	ledger *Ledger
	feed   event.Feed

	mu          sync.Mutex
	available   []common.Address
	granted     []common.Address
	chainID     *big.Int
	knownChains []*big.Int
	reject      bool
	sendErr     error
	onSwitch    func()

	requests atomic.Int64
	sends    atomic.Int64
}

var _ wallet.Provider = (*Wallet)(nil)

// NewWallet returns a wallet holding accounts, connected to the ledger's chain
func (l *Ledger) NewWallet(accounts ...common.Address) *Wallet {
	return &Wallet{
		ledger:      l,
		available:   accounts,
		chainID:     new(big.Int).Set(Sepolia),
		knownChains: []*big.Int{Sepolia},
	}
}

// Reject makes the wallet decline prompts and signature requests
func (w *Wallet) Reject(reject bool) *Wallet {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reject = reject
	return w
}

// FailSend makes SendTransaction fail with err
func (w *Wallet) FailSend(err error) *Wallet {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sendErr = err
	return w
}

// OnChain starts the wallet on chainID and sets the chains it can switch to
func (w *Wallet) OnChain(chainID *big.Int, known ...*big.Int) *Wallet {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chainID = new(big.Int).Set(chainID)
	w.knownChains = known
	return w
}

// OnSwitch registers a hook called before every switch request is answered
func (w *Wallet) OnSwitch(fn func()) *Wallet {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onSwitch = fn
	return w
}

// Grant authorises accounts without a prompt, as if access was given earlier
func (w *Wallet) Grant(accounts ...common.Address) *Wallet {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.granted = accounts
	return w
}

// SwitchAccounts changes the granted accounts and notifies subscribers
func (w *Wallet) SwitchAccounts(accounts ...common.Address) {
	w.mu.Lock()
	w.granted = accounts
	w.mu.Unlock()
	w.feed.Send(wallet.Event{Kind: wallet.AccountsChanged, Accounts: accounts})
}

// ChangeChain moves the wallet to chainID and notifies subscribers
func (w *Wallet) ChangeChain(chainID *big.Int) {
	w.mu.Lock()
	w.chainID = new(big.Int).Set(chainID)
	w.mu.Unlock()
	w.feed.Send(wallet.Event{Kind: wallet.ChainChanged, ChainID: chainID})
}

// Requests counts every call made to the wallet
func (w *Wallet) Requests() int64 { return w.requests.Load() }

// Sends counts SendTransaction calls
func (w *Wallet) Sends() int64 { return w.sends.Load() }

func (w *Wallet) RequestAccounts(context.Context) ([]common.Address, error) {
	w.requests.Add(1)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reject {
		return nil, wallet.Classify(&RPCError{Code: wallet.CodeUserRejected, Message: "User rejected the request."})
	}
	w.granted = slices.Clone(w.available)
	return slices.Clone(w.granted), nil
}

func (w *Wallet) Accounts(context.Context) ([]common.Address, error) {
	w.requests.Add(1)
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.granted), nil
}

func (w *Wallet) ChainID(context.Context) (*big.Int, error) {
	w.requests.Add(1)
	w.mu.Lock()
	defer w.mu.Unlock()
	return new(big.Int).Set(w.chainID), nil
}

func (w *Wallet) SwitchChain(_ context.Context, chainID *big.Int) error {
	w.requests.Add(1)

	w.mu.Lock()
	hook := w.onSwitch
	w.mu.Unlock()
	if hook != nil {
		hook()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reject {
		return wallet.Classify(&RPCError{Code: wallet.CodeUserRejected, Message: "User rejected the request."})
	}
	for _, known := range w.knownChains {
		if known.Cmp(chainID) == 0 {
			w.chainID = new(big.Int).Set(chainID)
			return nil
		}
	}
	return wallet.Classify(&RPCError{Code: wallet.CodeUnrecognizedChain, Message: "Unrecognized chain ID."})
}

func (w *Wallet) SendTransaction(_ context.Context, tx wallet.TxRequest) (common.Hash, error) {
	w.requests.Add(1)
	w.sends.Add(1)

	w.mu.Lock()
	reject, sendErr := w.reject, w.sendErr
	w.mu.Unlock()

	if reject {
		return common.Hash{}, wallet.Classify(&RPCError{Code: wallet.CodeUserRejected, Message: "User denied transaction signature."})
	}
	if sendErr != nil {
		return common.Hash{}, sendErr
	}
	return w.ledger.execute(tx)
}

func (w *Wallet) Subscribe(ch chan<- wallet.Event) event.Subscription {
	return w.feed.Subscribe(ch)
}

// RevokingWallet is a Wallet that also supports permission revocation
type RevokingWallet struct {
	*Wallet
	revoked atomic.Bool
	err     error
}

var _ wallet.PermissionRevoker = (*RevokingWallet)(nil)

// WithRevocation adds RevokePermissions; a non-nil err makes it fail
func (w *Wallet) WithRevocation(err error) *RevokingWallet {
	return &RevokingWallet{Wallet: w, err: err}
}

func (w *RevokingWallet) RevokePermissions(context.Context) error {
	w.requests.Add(1)
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	w.granted = nil
	w.mu.Unlock()
	w.revoked.Store(true)
	return nil
}

// Revoked reports whether RevokePermissions succeeded
func (w *RevokingWallet) Revoked() bool { return w.revoked.Load() }
