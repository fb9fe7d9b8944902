package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
)

// Wallet kinds
const (
	WalletKeystore = "keystore"
	WalletRPC      = "rpc"
	WalletNone     = "none"
)

// Sentinel errors for configuration validation
var (
	ErrInvalidContract   = errors.New("invalid contract address")
	ErrInvalidWalletKind = errors.New("invalid wallet kind")
	ErrMissingWalletURL  = errors.New("wallet RPC URL is required for the rpc wallet")
	ErrInvalidAccount    = errors.New("invalid keystore account")
)

// Config holds all configuration loaded from FUNDME_-prefixed environment variables
type Config struct {
	// Ledger
	NodeURL         string `env:"NODE_URL" envDefault:"http://localhost:8545"`
	ContractAddress string `env:"CONTRACT_ADDRESS,required"`
	ChainID         int64  `env:"CHAIN_ID" envDefault:"11155111"`

	// Wallet
	WalletKind          string        `env:"WALLET_KIND" envDefault:"keystore"`
	WalletRPCURL        string        `env:"WALLET_RPC_URL"`
	KeystoreDir         string        `env:"KEYSTORE_DIR" envDefault:"./keystore"`
	KeystoreAccount     string        `env:"KEYSTORE_ACCOUNT"`
	PassphraseFile      string        `env:"PASSPHRASE_FILE"`
	WalletWatchInterval time.Duration `env:"WALLET_WATCH_INTERVAL" envDefault:"2s"`

	// Roster
	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"30s"`
	MaxFunders      uint64        `env:"MAX_FUNDERS" envDefault:"0"`
	ReadConcurrency int           `env:"READ_CONCURRENCY" envDefault:"8"`

	// Actions
	ReceiptPollInterval  time.Duration `env:"RECEIPT_POLL_INTERVAL" envDefault:"2s"`
	TxTimeout            time.Duration `env:"TX_TIMEOUT" envDefault:"5m"`
	MaxConcurrentActions int           `env:"MAX_CONCURRENT_ACTIONS" envDefault:"4"`

	NoticesKept int `env:"NOTICES_KEPT" envDefault:"50"`

	// HTTP API
	HTTPHost       string   `env:"HTTP_HOST" envDefault:"localhost"`
	HTTPPort       string   `env:"HTTP_PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`

	// Roster archive; an empty URL disables it
	DatabaseURL   string `env:"DATABASE_URL"`
	SnapshotsKept int    `env:"SNAPSHOTS_KEPT" envDefault:"10"`

	// Logging configuration
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogHumanFriendly bool   `env:"LOG_HUMAN_FRIENDLY" envDefault:"false"`
}

// Parse loads and validates the configuration
func Parse() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "FUNDME_"}); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// New loads all configuration from environment variables
func New() Config {
	return env.Must(Parse())
}

// Validate checks the values env tags cannot express
func (c Config) Validate() error {
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("%w: %q", ErrInvalidContract, c.ContractAddress)
	}
	if c.KeystoreAccount != "" && !common.IsHexAddress(c.KeystoreAccount) {
		return fmt.Errorf("%w: %q", ErrInvalidAccount, c.KeystoreAccount)
	}

	switch c.WalletKind {
	case WalletKeystore, WalletNone:
	case WalletRPC:
		if c.WalletRPCURL == "" {
			return ErrMissingWalletURL
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidWalletKind, c.WalletKind)
	}
	return nil
}

// Contract returns the parsed contract address
func (c Config) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}
