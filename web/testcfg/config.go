package testcfg

import (
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/screwyprof/fundme/pkg/logger"
)

// Config holds test-specific configuration for web API tests
type Config struct {
	LogLevel         string `env:"FUNDME_TEST_LOG_LEVEL" envDefault:"error"`
	LogHumanFriendly bool   `env:"FUNDME_TEST_LOG_HUMAN_FRIENDLY" envDefault:"true"`
}

// parseConfig wraps env.Parse to return (Config, error) for use with env.Must
func parseConfig() (Config, error) {
	var cfg Config
	err := env.Parse(&cfg)
	return cfg, err
}

// New loads test configuration from environment variables
func New() Config {
	return env.Must(parseConfig())
}

// Logger builds the logger tests hand to the API
func (c Config) Logger() *slog.Logger {
	return logger.NewFromConfig(logger.Config{
		LogLevel:         c.LogLevel,
		LogHumanFriendly: c.LogHumanFriendly,
	})
}
