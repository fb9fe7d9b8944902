package session_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/fundme/chain"
	"github.com/screwyprof/fundme/chain/chaintest"
	"github.com/screwyprof/fundme/notify"
	"github.com/screwyprof/fundme/pkg/logger"
	"github.com/screwyprof/fundme/session"
	"github.com/screwyprof/fundme/wallet"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	funder  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	mainnet = big.NewInt(1)
)

func TestManagerConnect(t *testing.T) {
	t.Parallel()

	t.Run("it binds the account and flags the owner", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		m, notices := managerFor(ledger, ledger.NewWallet(owner))

		// Act
		state, err := m.Connect(t.Context())

		// Assert
		require.NoError(t, err)
		require.True(t, state.Connected())
		assert.Equal(t, owner, *state.Account)
		assert.True(t, state.IsOwner)
		assert.Equal(t, owner, state.Contract.From())
		assertLastNotice(t, notices, notify.Success, "connect")
	})

	t.Run("it does not flag a funder as owner", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		m, _ := managerFor(ledger, ledger.NewWallet(funder))

		// Act
		state, err := m.Connect(t.Context())

		// Assert
		require.NoError(t, err)
		assert.False(t, state.IsOwner)
		assert.Equal(t, owner, *state.Owner)
	})

	t.Run("it reports a rejected prompt and stays disconnected", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		m, notices := managerFor(ledger, ledger.NewWallet(funder).Reject(true))

		// Act
		state, err := m.Connect(t.Context())

		// Assert
		assert.ErrorIs(t, err, wallet.ErrUserRejected)
		assert.False(t, state.Connected())
		assertLastNotice(t, notices, notify.Warning, "connect")
	})

	t.Run("it fails without a wallet", func(t *testing.T) {
		t.Parallel()

		// Arrange
		m := session.NewManager(nil, nil, session.WithLogger(logger.Discard()))

		// Act
		_, err := m.Connect(t.Context())

		// Assert
		assert.ErrorIs(t, err, session.ErrWalletUnavailable)
	})

	t.Run("it keeps the account when the owner cannot be read", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner).FailOwner(errors.New("node unreachable"))
		m, notices := managerFor(ledger, ledger.NewWallet(owner))

		// Act
		state, err := m.Connect(t.Context())

		// Assert
		assert.ErrorIs(t, err, session.ErrOwnerFetch)
		require.NotNil(t, state.Account)
		assert.NotNil(t, state.Contract)
		assert.False(t, state.IsOwner)
		assertLastNotice(t, notices, notify.Error, "owner")
	})
}

func TestManagerRefreshOwner(t *testing.T) {
	t.Parallel()

	t.Run("it flags the owner once the owner can be read again", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner).FailOwner(errors.New("node unreachable"))
		m, _ := managerFor(ledger, ledger.NewWallet(owner))
		_, err := m.Connect(t.Context())
		require.ErrorIs(t, err, session.ErrOwnerFetch)
		ledger.FailOwner(nil)

		// Act
		err = m.RefreshOwner(t.Context())

		// Assert
		require.NoError(t, err)
		state := m.State()
		require.NotNil(t, state.Owner)
		assert.Equal(t, owner, *state.Owner)
		assert.True(t, state.IsOwner)
	})

	t.Run("it does nothing while disconnected", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		m, _ := managerFor(ledger, ledger.NewWallet(owner))

		// Act
		err := m.RefreshOwner(t.Context())

		// Assert
		require.NoError(t, err)
		assertDisconnected(t, m.State())
		assert.Zero(t, ledger.Reads())
	})
}

func TestManagerInit(t *testing.T) {
	t.Parallel()

	t.Run("it adopts an already authorised account without prompting", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		m, _ := managerFor(ledger, ledger.NewWallet(owner).Grant(owner))

		// Act
		err := m.Init(t.Context())

		// Assert
		require.NoError(t, err)
		assert.True(t, m.State().Connected())
		assert.True(t, m.State().IsOwner)
	})

	t.Run("it switches to the required network", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		w := ledger.NewWallet(owner).OnChain(mainnet, mainnet, chaintest.Sepolia)
		m, _ := managerFor(ledger, w)

		// Act
		err := m.Init(t.Context())

		// Assert
		require.NoError(t, err)
		assert.False(t, m.State().WrongNetwork)
		assert.Equal(t, 0, chaintest.Sepolia.Cmp(m.State().ChainID))
	})

	t.Run("it flags the wrong network when the wallet cannot switch", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		w := ledger.NewWallet(owner).OnChain(mainnet, mainnet)
		m, notices := managerFor(ledger, w)

		// Act
		err := m.Init(t.Context())

		// Assert
		assert.ErrorIs(t, err, session.ErrWrongNetwork)
		assert.ErrorIs(t, err, wallet.ErrUnknownChain)
		assert.True(t, m.State().WrongNetwork)
		assert.False(t, m.State().Connected())
		assertLastNotice(t, notices, notify.Warning, "network")
	})

	t.Run("it warns when no wallet is configured", func(t *testing.T) {
		t.Parallel()

		// Arrange
		notices := &recordingNotifier{}
		m := session.NewManager(nil, nil, session.WithNotifier(notices), session.WithLogger(logger.Discard()))

		// Act
		err := m.Init(t.Context())

		// Assert
		assert.ErrorIs(t, err, session.ErrWalletUnavailable)
		assertLastNotice(t, notices, notify.Warning, "connect")
	})
}

func TestManagerDisconnect(t *testing.T) {
	t.Parallel()

	t.Run("it asks for manual revocation when the wallet cannot revoke", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		m, notices := managerFor(ledger, ledger.NewWallet(owner))
		_, err := m.Connect(t.Context())
		require.NoError(t, err)

		// Act
		err = m.Disconnect(t.Context())

		// Assert
		assert.ErrorIs(t, err, session.ErrManualRevokeRequired)
		assertDisconnected(t, m.State())
		assertLastNotice(t, notices, notify.Warning, "disconnect")
	})

	t.Run("it revokes and confirms when the wallet supports it", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		w := ledger.NewWallet(owner).WithRevocation(nil)
		m, notices := managerFor(ledger, w)
		_, err := m.Connect(t.Context())
		require.NoError(t, err)

		// Act
		err = m.Disconnect(t.Context())

		// Assert
		require.NoError(t, err)
		assert.True(t, w.Revoked())
		assertDisconnected(t, m.State())
		assertLastNotice(t, notices, notify.Success, "disconnect")
	})

	t.Run("it clears local state even when revocation fails", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		w := ledger.NewWallet(owner).WithRevocation(errors.New("boom"))
		m, _ := managerFor(ledger, w)
		_, err := m.Connect(t.Context())
		require.NoError(t, err)

		// Act
		err = m.Disconnect(t.Context())

		// Assert
		assert.ErrorIs(t, err, session.ErrManualRevokeRequired)
		assertDisconnected(t, m.State())
	})
}

func TestManagerWalletEvents(t *testing.T) {
	t.Parallel()

	t.Run("it disconnects on an empty account list", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		m, _ := managerFor(ledger, ledger.NewWallet(owner))
		_, err := m.Connect(t.Context())
		require.NoError(t, err)

		// Act
		err = m.HandleAccountsChanged(t.Context(), nil)

		// Assert
		require.NoError(t, err)
		assertDisconnected(t, m.State())
	})

	t.Run("it rebinds to the new account and recomputes the owner flag", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		m, _ := managerFor(ledger, ledger.NewWallet(owner))
		_, err := m.Connect(t.Context())
		require.NoError(t, err)
		before := m.State().Contract

		// Act
		err = m.HandleAccountsChanged(t.Context(), []common.Address{funder})

		// Assert
		require.NoError(t, err)
		after := m.State()
		assert.Equal(t, funder, *after.Account)
		assert.False(t, after.IsOwner)
		assert.NotSame(t, before, after.Contract)
		assert.Equal(t, funder, after.Contract.From())
	})

	t.Run("it lets the latest notification win", func(t *testing.T) {
		t.Parallel()

		// Arrange
		entered := make(chan struct{})
		release := make(chan struct{})
		var calls atomic.Int32
		ledger := chaintest.NewLedger(owner).OnRead(func(method string) {
			if method == chain.MethodGetOwner && calls.Add(1) == 1 {
				close(entered)
				<-release
			}
		})
		m, _ := managerFor(ledger, ledger.NewWallet(owner))

		slow := make(chan error, 1)
		go func() { slow <- m.HandleAccountsChanged(context.Background(), []common.Address{owner}) }()
		<-entered

		// Act
		err := m.HandleAccountsChanged(t.Context(), []common.Address{funder})
		close(release)
		slowErr := <-slow

		// Assert
		require.NoError(t, err)
		require.NoError(t, slowErr)
		assert.Equal(t, funder, *m.State().Account)
		assert.False(t, m.State().IsOwner)
	})

	t.Run("it keeps a chain change made while a switch request is pending", func(t *testing.T) {
		t.Parallel()

		// Arrange
		entered := make(chan struct{})
		release := make(chan struct{})
		var switches atomic.Int32
		ledger := chaintest.NewLedger(owner)
		w := ledger.NewWallet(owner).OnChain(mainnet, mainnet).OnSwitch(func() {
			if switches.Add(1) == 1 {
				close(entered)
				<-release
			}
		})
		m, notices := managerFor(ledger, w)

		slow := make(chan error, 1)
		go func() {
			_, err := m.Connect(context.Background())
			slow <- err
		}()
		<-entered

		// Act
		err := m.HandleChainChanged(t.Context(), chaintest.Sepolia)
		close(release)
		slowErr := <-slow

		// Assert
		require.NoError(t, err)
		require.NoError(t, slowErr)
		state := m.State()
		assert.Equal(t, 0, chaintest.Sepolia.Cmp(state.ChainID))
		assert.False(t, state.WrongNetwork)
		for _, n := range notices.all() {
			assert.NotEqual(t, "network", n.Topic, "stale switch result must not be reported")
		}
	})

	t.Run("it follows wallet notifications while started", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		w := ledger.NewWallet(owner)
		m, _ := managerFor(ledger, w)
		states := make(chan session.State, 8)
		sub := m.Subscribe(states)
		defer sub.Unsubscribe()

		ctx, cancel := context.WithCancel(t.Context())
		done := m.Start(ctx)
		defer func() {
			cancel()
			<-done
		}()

		// Act
		w.SwitchAccounts(funder)

		// Assert
		for state := range states {
			if state.Account != nil && *state.Account == funder {
				assert.False(t, state.IsOwner)
				return
			}
		}
	})

	t.Run("it flags the wrong network after a chain change it cannot undo", func(t *testing.T) {
		t.Parallel()

		// Arrange
		ledger := chaintest.NewLedger(owner)
		w := ledger.NewWallet(owner)
		m, _ := managerFor(ledger, w)
		_, err := m.Connect(t.Context())
		require.NoError(t, err)
		w.Reject(true)

		// Act
		err = m.HandleChainChanged(t.Context(), mainnet)

		// Assert
		assert.ErrorIs(t, err, session.ErrWrongNetwork)
		assert.True(t, m.State().WrongNetwork)
		assert.True(t, m.State().Connected())
	})
}

func TestSameAddress(t *testing.T) {
	t.Parallel()

	t.Run("it ignores hex case", func(t *testing.T) {
		t.Parallel()

		lower := common.HexToAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd")
		upper := common.HexToAddress("0xABCDEFABCDEFABCDEFABCDEFABCDEFABCDEFABCD")

		assert.True(t, session.SameAddress(lower, upper))
		assert.False(t, session.SameAddress(lower, owner))
	})
}

func managerFor(ledger *chaintest.Ledger, w wallet.Provider) (*session.Manager, *recordingNotifier) {
	notices := &recordingNotifier{}
	bind := func(account common.Address) *chain.Contract {
		return chain.Bind(chaintest.Address, account, ledger, w)
	}
	m := session.NewManager(w, bind,
		session.WithRequiredChain(chaintest.Sepolia),
		session.WithNotifier(notices),
		session.WithLogger(logger.Discard()),
	)
	return m, notices
}

func assertDisconnected(t *testing.T, s session.State) {
	t.Helper()
	assert.Nil(t, s.Account)
	assert.False(t, s.IsOwner)
	assert.Nil(t, s.Contract)
}

func assertLastNotice(t *testing.T, n *recordingNotifier, level notify.Level, topic string) {
	t.Helper()
	last, ok := n.last()
	require.True(t, ok, "expected a notice")
	assert.Equal(t, level, last.Level)
	assert.Equal(t, topic, last.Topic)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notify.Notice
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notice) notify.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return n
}

func (r *recordingNotifier) last() (notify.Notice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return notify.Notice{}, false
	}
	return r.notices[len(r.notices)-1], true
}

func (r *recordingNotifier) all() []notify.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notice(nil), r.notices...)
}
