package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screwyprof/fundme/cmd/fundme/config"
)

const contract = "0xa5d16D02bfF5e2b3d944B2a654fe6e31920F7BCe"

func TestParse(t *testing.T) {
	t.Run("it applies defaults", func(t *testing.T) {
		// Arrange
		t.Setenv("FUNDME_CONTRACT_ADDRESS", contract)

		// Act
		cfg, err := config.Parse()

		// Assert
		require.NoError(t, err)
		assert.Equal(t, int64(11155111), cfg.ChainID)
		assert.Equal(t, config.WalletKeystore, cfg.WalletKind)
		assert.Equal(t, "30s", cfg.PollInterval.String())
		assert.Empty(t, cfg.DatabaseURL)
		assert.Equal(t, contract, cfg.Contract().Hex())
	})

	t.Run("it splits allowed origins", func(t *testing.T) {
		// Arrange
		t.Setenv("FUNDME_CONTRACT_ADDRESS", contract)
		t.Setenv("FUNDME_WS_ALLOWED_ORIGINS", "http://localhost:3000,https://fundme.example")

		// Act
		cfg, err := config.Parse()

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []string{"http://localhost:3000", "https://fundme.example"}, cfg.AllowedOrigins)
	})

	t.Run("it requires a contract address", func(t *testing.T) {
		// Arrange
		t.Setenv("FUNDME_CONTRACT_ADDRESS", "")

		// Act
		_, err := config.Parse()

		// Assert
		require.Error(t, err)
	})

	t.Run("it rejects a malformed contract address", func(t *testing.T) {
		// Arrange
		t.Setenv("FUNDME_CONTRACT_ADDRESS", "0x1234")

		// Act
		_, err := config.Parse()

		// Assert
		require.ErrorIs(t, err, config.ErrInvalidContract)
	})

	t.Run("it requires a URL for the rpc wallet", func(t *testing.T) {
		// Arrange
		t.Setenv("FUNDME_CONTRACT_ADDRESS", contract)
		t.Setenv("FUNDME_WALLET_KIND", config.WalletRPC)

		// Act
		_, err := config.Parse()

		// Assert
		require.ErrorIs(t, err, config.ErrMissingWalletURL)
	})

	t.Run("it rejects an unknown wallet kind", func(t *testing.T) {
		// Arrange
		t.Setenv("FUNDME_CONTRACT_ADDRESS", contract)
		t.Setenv("FUNDME_WALLET_KIND", "ledger")

		// Act
		_, err := config.Parse()

		// Assert
		require.ErrorIs(t, err, config.ErrInvalidWalletKind)
	})
}
