// Package session owns the wallet connection: the active account, the
// network check and the signer-bound contract handle derived from them.
//
// Every transition takes a sequence token and only the holder of the
// latest token may publish, so when wallet notifications race the final
// state reflects the most recent one. Network checks carry their own
// token, so a slow switch request cannot overwrite a newer chain change.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/screwyprof/fundme/chain"
	"github.com/screwyprof/fundme/notify"
	"github.com/screwyprof/fundme/pkg/logger"
	"github.com/screwyprof/fundme/wallet"
)

// Sentinel errors for session operations
var (
	ErrWalletUnavailable    = errors.New("no wallet available")
	ErrWrongNetwork         = errors.New("wallet is on the wrong network")
	ErrManualRevokeRequired = errors.New("wallet access must be revoked manually")
	ErrOwnerFetch           = errors.New("failed to fetch contract owner")
)

// DefaultChainID is Sepolia
var DefaultChainID = big.NewInt(11155111)

// State is an immutable view of the session. A nil Account means
// disconnected; Contract is nil whenever Account is.
type State struct {
	Account      *common.Address
	ChainID      *big.Int
	Owner        *common.Address
	IsOwner      bool
	WrongNetwork bool
	Contract     *chain.Contract
	Seq          uint64
}

// Connected reports whether an account and a contract handle are bound
func (s State) Connected() bool {
	return s.Account != nil && s.Contract != nil
}

// Binder derives the contract handle for a signer account
type Binder func(account common.Address) *chain.Contract

// Notifier receives user-facing notices
type Notifier interface {
	Notify(ctx context.Context, n notify.Notice) notify.Notice
}

// Option configures the Manager
type Option func(*Manager)

// WithRequiredChain sets the only chain id the session accepts
func WithRequiredChain(id *big.Int) Option {
	return func(m *Manager) { m.required = id }
}

// WithNotifier sets where notices go
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// Manager drives the session lifecycle
type Manager struct {
	provider wallet.Provider
	bind     Binder
	required *big.Int
	notifier Notifier
	log      *slog.Logger
	feed     event.Feed

	seq    atomic.Uint64
	netSeq atomic.Uint64
	mu     sync.RWMutex
	state State
}

// NewManager creates a session manager. A nil provider is allowed and makes
// every wallet operation fail with ErrWalletUnavailable.
func NewManager(provider wallet.Provider, bind Binder, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		bind:     bind,
		required: DefaultChainID,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logger.Component(m.log, "session")
	return m
}

// State returns the current session
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Contract returns the bound handle, if any
func (m *Manager) Contract() (*chain.Contract, bool) {
	s := m.State()
	return s.Contract, s.Contract != nil
}

// Subscribe delivers every published State to ch
func (m *Manager) Subscribe(ch chan<- State) event.Subscription {
	return m.feed.Subscribe(ch)
}

// Init checks the network and adopts an account the wallet already
// authorised, without prompting.
func (m *Manager) Init(ctx context.Context) error {
	if m.provider == nil {
		m.notify(ctx, notify.Warning, "connect", "No wallet detected. Configure a wallet to fund the contract.")
		return ErrWalletUnavailable
	}

	seq := m.seq.Add(1)
	netErr := m.EnsureNetwork(ctx)

	accounts, err := m.provider.Accounts(ctx)
	if err != nil {
		m.log.WarnContext(ctx, "Reading authorised accounts failed", slog.Any("error", err))
		return errors.Join(netErr, err)
	}
	if len(accounts) == 0 {
		return netErr
	}
	_, err = m.adopt(ctx, seq, accounts[0])
	return errors.Join(netErr, err)
}

// Connect prompts the wallet for account access and binds the first account
func (m *Manager) Connect(ctx context.Context) (State, error) {
	if m.provider == nil {
		m.notify(ctx, notify.Error, "connect", "No wallet detected.")
		return m.State(), ErrWalletUnavailable
	}

	seq := m.seq.Add(1)
	accounts, err := m.provider.RequestAccounts(ctx)
	if err == nil && len(accounts) == 0 {
		err = wallet.ErrUserRejected
	}
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrUserRejected):
			m.notify(ctx, notify.Warning, "connect", "Connection request was rejected.")
		case errors.Is(err, wallet.ErrUnavailable):
			m.notify(ctx, notify.Error, "connect", "Wallet is not reachable.")
			err = fmt.Errorf("%w: %w", ErrWalletUnavailable, err)
		default:
			m.notify(ctx, notify.Error, "connect", "Failed to connect wallet: "+err.Error())
		}
		return m.State(), err
	}

	// a wrong network is flagged and reported but does not block the connection
	_ = m.EnsureNetwork(ctx)

	published, err := m.adopt(ctx, seq, accounts[0])
	if err != nil {
		return m.State(), err
	}
	if published {
		m.notify(ctx, notify.Success, "connect", "Wallet connected: "+accounts[0].Hex())
	}
	return m.State(), nil
}

// Disconnect clears the session and asks the wallet to revoke access. When
// the wallet cannot revoke, the local state is still cleared and
// ErrManualRevokeRequired is returned.
func (m *Manager) Disconnect(ctx context.Context) error {
	seq := m.seq.Add(1)

	var revokeErr error
	if revoker, ok := m.provider.(wallet.PermissionRevoker); ok {
		revokeErr = revoker.RevokePermissions(ctx)
	} else {
		revokeErr = wallet.ErrRevokeUnsupported
	}

	m.publish(seq, func(s *State) { clearAccount(s) })

	if revokeErr != nil {
		m.log.InfoContext(ctx, "Wallet permission revocation unavailable", slog.Any("error", revokeErr))
		m.notify(ctx, notify.Warning, "disconnect",
			"Disconnected locally. Remove this site from your wallet's connected sites to fully revoke access.")
		return fmt.Errorf("%w: %w", ErrManualRevokeRequired, revokeErr)
	}

	m.notify(ctx, notify.Success, "disconnect", "Wallet disconnected.")
	return nil
}

// HandleAccountsChanged rebinds to the first account, or disconnects when
// the list is empty.
func (m *Manager) HandleAccountsChanged(ctx context.Context, accounts []common.Address) error {
	seq := m.seq.Add(1)

	if len(accounts) == 0 {
		if m.publish(seq, func(s *State) { clearAccount(s) }) {
			m.notify(ctx, notify.Info, "account", "Wallet disconnected.")
		}
		return nil
	}

	published, err := m.adopt(ctx, seq, accounts[0])
	if err != nil {
		return err
	}
	if published {
		m.notify(ctx, notify.Info, "account", "Switched to account "+accounts[0].Hex())
	}
	return nil
}

// HandleChainChanged re-runs the network check for the new chain and
// re-derives the handle for the current account.
func (m *Manager) HandleChainChanged(ctx context.Context, chainID *big.Int) error {
	seq := m.seq.Add(1)
	netErr := m.checkNetwork(ctx, m.netSeq.Add(1), chainID)

	current := m.State()
	if current.Account == nil {
		return netErr
	}
	_, err := m.adopt(ctx, seq, *current.Account)
	return errors.Join(netErr, err)
}

// EnsureNetwork compares the wallet's chain with the required one and asks
// the wallet to switch when they differ. A refusal sets the WrongNetwork
// flag and returns ErrWrongNetwork.
func (m *Manager) EnsureNetwork(ctx context.Context) error {
	if m.provider == nil {
		return ErrWalletUnavailable
	}
	tok := m.netSeq.Add(1)
	chainID, err := m.provider.ChainID(ctx)
	if err != nil {
		m.notify(ctx, notify.Error, "network", "Failed to read the wallet network.")
		return err
	}
	return m.checkNetwork(ctx, tok, chainID)
}

// RefreshOwner re-reads the contract owner for the current account
func (m *Manager) RefreshOwner(ctx context.Context) error {
	current := m.State()
	if current.Account == nil {
		return nil
	}
	_, err := m.adopt(ctx, m.seq.Add(1), *current.Account)
	return err
}

// Start handles wallet notifications one at a time, in arrival order,
// until ctx is cancelled. The returned channel is closed once it stops.
func (m *Manager) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if m.provider == nil {
		close(done)
		return done
	}

	events := make(chan wallet.Event, 16)
	sub := m.provider.Subscribe(events)

	go func() {
		defer close(done)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-sub.Err():
				if err != nil {
					m.log.ErrorContext(ctx, "Wallet subscription failed", slog.Any("error", err))
				}
				return
			case ev := <-events:
				m.handle(ctx, ev)
			}
		}
	}()
	return done
}

func (m *Manager) handle(ctx context.Context, ev wallet.Event) {
	m.log.DebugContext(ctx, "Wallet event", slog.String("kind", ev.Kind.String()))

	var err error
	switch ev.Kind {
	case wallet.AccountsChanged:
		err = m.HandleAccountsChanged(ctx, ev.Accounts)
	case wallet.ChainChanged:
		err = m.HandleChainChanged(ctx, ev.ChainID)
	}
	if err != nil {
		m.log.WarnContext(ctx, "Wallet event handling failed",
			slog.String("kind", ev.Kind.String()),
			slog.Any("error", err),
		)
	}
}

// checkNetwork records chainID under tok and, when it is not the required
// chain, requests a switch. A result superseded by a newer check is
// dropped without a notice.
func (m *Manager) checkNetwork(ctx context.Context, tok uint64, chainID *big.Int) error {
	if chainID != nil && chainID.Cmp(m.required) == 0 {
		m.setNetwork(tok, chainID, false)
		return nil
	}

	if err := m.provider.SwitchChain(ctx, m.required); err != nil {
		if !m.setNetwork(tok, chainID, true) {
			return nil
		}
		m.notify(ctx, notify.Warning, "network",
			fmt.Sprintf("Please switch your wallet to chain %s.", m.required))
		return fmt.Errorf("%w: on chain %v: %w", ErrWrongNetwork, chainID, err)
	}

	if m.setNetwork(tok, m.required, false) {
		m.notify(ctx, notify.Info, "network", fmt.Sprintf("Switched wallet to chain %s.", m.required))
	}
	return nil
}

// adopt binds account, fetches the owner and publishes under seq. It
// reports whether the result was published.
func (m *Manager) adopt(ctx context.Context, seq uint64, account common.Address) (bool, error) {
	handle := m.bind(account)

	owner, err := handle.Owner(ctx)
	if err != nil {
		if m.publish(seq, func(s *State) {
			s.Account = &account
			s.Contract = handle
			s.Owner = nil
			s.IsOwner = false
		}) {
			m.notify(ctx, notify.Error, "owner", "Failed to fetch contract owner.")
		}
		return false, fmt.Errorf("%w: %w", ErrOwnerFetch, err)
	}

	published := m.publish(seq, func(s *State) {
		s.Account = &account
		s.Contract = handle
		s.Owner = &owner
		s.IsOwner = SameAddress(account, owner)
	})
	return published, nil
}

// publish applies change and broadcasts the result if seq is still the
// latest token. It reports whether the change was applied.
func (m *Manager) publish(seq uint64, change func(*State)) bool {
	m.mu.Lock()
	if seq != m.seq.Load() {
		m.mu.Unlock()
		m.log.Debug("Dropped stale session update", slog.Uint64("seq", seq))
		return false
	}
	next := m.state
	change(&next)
	next.Seq = seq
	m.state = next
	m.mu.Unlock()

	m.feed.Send(next)
	return true
}

// setNetwork applies the network result if tok is still the latest
// network token. It reports whether the result was applied.
func (m *Manager) setNetwork(tok uint64, chainID *big.Int, wrong bool) bool {
	m.mu.Lock()
	if tok != m.netSeq.Load() {
		m.mu.Unlock()
		m.log.Debug("Dropped stale network check", slog.Uint64("tok", tok))
		return false
	}
	next := m.state
	next.ChainID = chainID
	next.WrongNetwork = wrong
	m.state = next
	m.mu.Unlock()

	m.feed.Send(next)
	return true
}

func (m *Manager) notify(ctx context.Context, level notify.Level, topic, message string) {
	if m.notifier == nil {
		return
	}
	m.notifier.Notify(ctx, notify.Notice{Level: level, Topic: topic, Message: message})
}

func clearAccount(s *State) {
	s.Account = nil
	s.Contract = nil
	s.Owner = nil
	s.IsOwner = false
}

// SameAddress compares two addresses ignoring hex case
func SameAddress(a, b common.Address) bool {
	return strings.EqualFold(a.Hex(), b.Hex())
}
