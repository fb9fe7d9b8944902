package main

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/screwyprof/fundme/action"
	"github.com/screwyprof/fundme/chain"
	"github.com/screwyprof/fundme/cmd/fundme/config"
	"github.com/screwyprof/fundme/notify"
	"github.com/screwyprof/fundme/pkg/logger"
	"github.com/screwyprof/fundme/pkg/pgxdb"
	"github.com/screwyprof/fundme/roster"
	"github.com/screwyprof/fundme/roster/store/pgxstore"
	"github.com/screwyprof/fundme/session"
	"github.com/screwyprof/fundme/web"
)

// These values are overridden at build time using -ldflags
var (
	version = "dev"
	date    = "unknown"
)

func main() {
	// Load configuration
	cfg := config.New()

	// Initialize logger and set as default
	log := logger.NewFromConfig(logger.Config{
		LogLevel:         cfg.LogLevel,
		LogHumanFriendly: cfg.LogHumanFriendly,
	})
	slog.SetDefault(log)

	// Prepare context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.InfoContext(ctx, "FundMe daemon starting",
		slog.String("version", version),
		slog.String("date", date),
		slog.String("contract", cfg.Contract().Hex()),
		slog.String("wallet", cfg.WalletKind),
	)

	// Ledger node
	node, err := ethclient.DialContext(ctx, cfg.NodeURL)
	if err != nil {
		log.ErrorContext(ctx, "Failed to connect to node", slog.Any("error", err))
		os.Exit(1)
	}
	defer node.Close()

	center := notify.NewCenter(notify.WithCapacity(cfg.NoticesKept), notify.WithLogger(log))

	// Wallet and session
	w, err := openWallet(ctx, cfg, node, log)
	if err != nil {
		log.ErrorContext(ctx, "Failed to open wallet", slog.Any("error", err))
		os.Exit(1)
	}
	defer w.close()

	bindContract := func(account common.Address) *chain.Contract {
		return chain.Bind(cfg.Contract(), account, node, w.provider,
			chain.WithReceiptPollInterval(cfg.ReceiptPollInterval),
			chain.WithLogger(log),
		)
	}
	sessions := session.NewManager(w.provider, bindContract,
		session.WithRequiredChain(big.NewInt(cfg.ChainID)),
		session.WithNotifier(center),
		session.WithLogger(log),
	)

	// Roster synchronizer, optionally archived
	rosterOpts := []roster.Option{
		roster.WithPollInterval(cfg.PollInterval),
		roster.WithEnumerator(roster.LinearProbe{MaxFunders: cfg.MaxFunders}),
		roster.WithReadConcurrency(cfg.ReadConcurrency),
	}
	if cfg.DatabaseURL != "" {
		db, err := pgxdb.NewConnection(ctx, cfg.DatabaseURL)
		if err != nil {
			log.ErrorContext(ctx, "Failed to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()

		store, storeCloser := pgxstore.New(db, pgxstore.WithSnapshotsKept(cfg.SnapshotsKept))
		defer storeCloser()

		rosterOpts = append(rosterOpts, roster.WithArchive(store, cfg.Contract()))
	}
	rosterService := roster.NewService(rosterSource(sessions), rosterOpts...)

	// Actions
	submitter := action.NewSubmitter(actionSource(sessions),
		action.WithTxTimeout(cfg.TxTimeout),
		action.WithNotifier(center),
		action.WithLogger(log),
		action.OnConfirmed(func(action.Outcome) {
			rosterService.Refresh()
			retryOwner(ctx, sessions, log)
		}),
	)
	tracker := action.NewTracker(ctx, submitter, action.WithMaxConcurrent(cfg.MaxConcurrentActions))

	// Start services
	walletDone := w.start(ctx)
	sessionDone := sessions.Start(ctx)
	if err := sessions.Init(ctx); err != nil {
		log.WarnContext(ctx, "Session not restored", slog.Any("error", err))
	}

	refreshDone := refreshOnSessionChange(ctx, sessions, rosterService)

	events, rosterDone := rosterService.Start(ctx)
	subCloser := setupEventLogging(ctx, events, log, center)
	defer subCloser()

	// HTTP API
	addr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
	server := &http.Server{
		Addr: addr,
		Handler: web.NewHandler(log, web.Deps{
			Session:     sessions,
			Roster:      rosterService,
			Actions:     tracker,
			Notices:     center,
			CheckOrigin: originChecker(cfg.AllowedOrigins),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		// Streams end with the daemon
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.InfoContext(ctx, "Server started", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorContext(ctx, "Server failed to start", slog.Any("error", err))
			stop()
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	log.InfoContext(ctx, "Shutting down...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.ErrorContext(shutdownCtx, "Server forced to shutdown", slog.Any("error", err))
	}

	tracker.Stop()
	<-rosterDone
	<-refreshDone
	<-sessionDone
	<-walletDone

	log.InfoContext(shutdownCtx, "FundMe daemon exited gracefully")
}

// rosterSource reads through whatever handle the session currently holds
func rosterSource(m *session.Manager) roster.Source {
	return func() (roster.Reader, bool) {
		c, ok := m.Contract()
		if !ok {
			return nil, false
		}
		return c, true
	}
}

func actionSource(m *session.Manager) action.Source {
	return func() (action.Handle, bool) {
		c, ok := m.Contract()
		if !ok {
			return nil, false
		}
		return c, true
	}
}

// retryOwner re-reads the contract owner when the session is bound but
// the last owner fetch failed
func retryOwner(ctx context.Context, m *session.Manager, log *slog.Logger) {
	if s := m.State(); !s.Connected() || s.Owner != nil {
		return
	}
	if err := m.RefreshOwner(ctx); err != nil {
		log.WarnContext(ctx, "Owner still unavailable", slog.Any("error", err))
	}
}

// refreshOnSessionChange asks for a roster tick whenever the bound handle changes
func refreshOnSessionChange(ctx context.Context, m *session.Manager, svc *roster.Service) <-chan struct{} {
	done := make(chan struct{})
	states := make(chan session.State, 16)
	sub := m.Subscribe(states)

	go func() {
		defer close(done)
		defer sub.Unsubscribe()

		bound := m.State().Contract
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Err():
				return
			case s := <-states:
				if s.Contract != bound {
					bound = s.Contract
					svc.Refresh()
				}
			}
		}
	}()
	return done
}

// originChecker allows the listed origins; nil keeps the same-origin default
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		return slices.Contains(allowed, r.Header.Get("Origin"))
	}
}
