package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"

	"github.com/screwyprof/fundme/pkg/clock"
	"github.com/screwyprof/fundme/pkg/logger"
)

// DefaultWatchInterval is how often the RPC wallet is polled for account and network changes
const DefaultWatchInterval = 2 * time.Second

// Caller is the JSON-RPC surface used by RPC; *rpc.Client satisfies it
type Caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// RPCOption configures the RPC wallet
type RPCOption func(*RPC)

// WithWatchInterval sets how often accounts and chain id are re-read
func WithWatchInterval(d time.Duration) RPCOption {
	return func(w *RPC) { w.interval = d }
}

// WithRPCClock injects a custom clock (e.g., for testing)
func WithRPCClock(c clock.Clock) RPCOption {
	return func(w *RPC) { w.clock = c }
}

// WithRPCLogger sets the logger
func WithRPCLogger(l *slog.Logger) RPCOption {
	return func(w *RPC) { w.log = l }
}

// RPC is an EIP-1193 wallet reached over JSON-RPC. Change notifications
// are produced by polling eth_accounts and eth_chainId, which works with
// every transport the wallet exposes.
type RPC struct {
	client   Caller
	clock    clock.Clock
	interval time.Duration
	log      *slog.Logger
	feed     event.Feed

	mu       sync.Mutex
	observed bool
	accounts []common.Address
	chainID  *big.Int
}

var (
	_ Provider          = (*RPC)(nil)
	_ PermissionRevoker = (*RPC)(nil)
)

// NewRPC wraps a JSON-RPC client connected to the wallet
func NewRPC(client Caller, opts ...RPCOption) *RPC {
	w := &RPC{
		client:   client,
		clock:    clock.SystemClock{},
		interval: DefaultWatchInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logger.Component(w.log, "wallet.rpc")
	return w
}

func (w *RPC) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := w.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, Classify(err)
	}
	w.remember(accounts, nil)
	return accounts, nil
}

func (w *RPC) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := w.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, Classify(err)
	}
	return accounts, nil
}

func (w *RPC) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := w.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, Classify(err)
	}
	return id.ToInt(), nil
}

type switchChainParams struct {
	ChainID *hexutil.Big `json:"chainId"`
}

func (w *RPC) SwitchChain(ctx context.Context, chainID *big.Int) error {
	params := switchChainParams{ChainID: (*hexutil.Big)(chainID)}
	if err := w.client.CallContext(ctx, nil, "wallet_switchEthereumChain", params); err != nil {
		return Classify(err)
	}
	w.remember(nil, chainID)
	return nil
}

type sendTxArgs struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value,omitempty"`
	Data  hexutil.Bytes  `json:"data,omitempty"`
}

func (w *RPC) SendTransaction(ctx context.Context, tx TxRequest) (common.Hash, error) {
	args := sendTxArgs{From: tx.From, To: tx.To, Data: tx.Data}
	if tx.Value != nil && tx.Value.Sign() > 0 {
		args.Value = (*hexutil.Big)(tx.Value)
	}

	var hash common.Hash
	if err := w.client.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, Classify(err)
	}
	return hash, nil
}

// RevokePermissions drops the eth_accounts grant. Wallets without the
// method yield ErrRevokeUnsupported.
func (w *RPC) RevokePermissions(ctx context.Context) error {
	perms := map[string]struct{}{"eth_accounts": {}}
	if err := w.client.CallContext(ctx, nil, "wallet_revokePermissions", perms); err != nil {
		classified := Classify(err)
		if errors.Is(classified, ErrUnsupported) {
			return fmt.Errorf("%w: %w", ErrRevokeUnsupported, err)
		}
		return classified
	}
	w.mu.Lock()
	w.accounts = nil
	w.mu.Unlock()
	return nil
}

func (w *RPC) Subscribe(ch chan<- Event) event.Subscription {
	return w.feed.Subscribe(ch)
}

// Start launches the change watcher and returns a channel closed once it stops.
// The first observation is the baseline and does not emit events.
func (w *RPC) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			w.poll(ctx)
			if err := clock.Sleep(ctx, w.clock, w.interval); err != nil {
				return
			}
		}
	}()
	return done
}

func (w *RPC) poll(ctx context.Context) {
	accounts, err := w.Accounts(ctx)
	if err != nil {
		w.log.DebugContext(ctx, "Wallet accounts poll failed", slog.Any("error", err))
		return
	}
	chainID, err := w.ChainID(ctx)
	if err != nil {
		w.log.DebugContext(ctx, "Wallet chain poll failed", slog.Any("error", err))
		return
	}

	for _, ev := range w.diff(accounts, chainID) {
		w.feed.Send(ev)
	}
}

// diff records the new observation and returns the events it implies
func (w *RPC) diff(accounts []common.Address, chainID *big.Int) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.observed {
		w.observed = true
		w.accounts = accounts
		w.chainID = chainID
		return nil
	}

	var events []Event
	if !sameAccounts(w.accounts, accounts) {
		w.accounts = accounts
		events = append(events, Event{Kind: AccountsChanged, Accounts: accounts})
	}
	if w.chainID == nil || w.chainID.Cmp(chainID) != 0 {
		w.chainID = chainID
		events = append(events, Event{Kind: ChainChanged, ChainID: chainID})
	}
	return events
}

// remember updates the watcher baseline after a change the caller already knows about
func (w *RPC) remember(accounts []common.Address, chainID *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if accounts != nil {
		w.accounts = accounts
	}
	if chainID != nil {
		w.chainID = chainID
	}
}
