package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/screwyprof/fundme/cmd/fundme/config"
	"github.com/screwyprof/fundme/wallet"
)

// openedWallet is the configured provider plus its lifecycle hooks.
// provider is nil when no wallet is configured.
type openedWallet struct {
	provider wallet.Provider
	start    func(ctx context.Context) <-chan struct{}
	close    func()
}

func openWallet(ctx context.Context, cfg config.Config, node *ethclient.Client, log *slog.Logger) (openedWallet, error) {
	switch cfg.WalletKind {
	case config.WalletRPC:
		client, err := rpc.DialContext(ctx, cfg.WalletRPCURL)
		if err != nil {
			return openedWallet{}, fmt.Errorf("dial wallet: %w", err)
		}
		w := wallet.NewRPC(client,
			wallet.WithWatchInterval(cfg.WalletWatchInterval),
			wallet.WithRPCLogger(log),
		)
		return openedWallet{provider: w, start: w.Start, close: client.Close}, nil

	case config.WalletKeystore:
		ks := keystore.NewKeyStore(cfg.KeystoreDir, keystore.StandardScryptN, keystore.StandardScryptP)
		opts := []wallet.KeystoreOption{wallet.WithKeystoreLogger(log)}
		if cfg.KeystoreAccount != "" {
			opts = append(opts, wallet.WithAccount(common.HexToAddress(cfg.KeystoreAccount)))
		}
		w := wallet.NewKeystore(ks, node, passphraseFile(cfg.PassphraseFile), opts...)
		return openedWallet{provider: w, start: w.Start, close: func() {}}, nil

	default:
		return openedWallet{start: closedDone, close: func() {}}, nil
	}
}

// passphraseFile reads the passphrase on every prompt so it can be
// supplied or withdrawn while the daemon runs; an empty or missing file
// declines
func passphraseFile(path string) wallet.Prompter {
	return wallet.PrompterFunc(func(context.Context, accounts.Account) (string, error) {
		if path == "" {
			return "", wallet.ErrPromptDeclined
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("%w: %w", wallet.ErrPromptDeclined, err)
		}
		passphrase := strings.TrimRight(string(raw), "\r\n")
		if passphrase == "" {
			return "", wallet.ErrPromptDeclined
		}
		return passphrase, nil
	})
}

func closedDone(context.Context) <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}
