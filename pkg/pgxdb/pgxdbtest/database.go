// Package pgxdbtest creates throwaway Postgres databases for acceptance tests.
package pgxdbtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for pgtestdb
	"github.com/peterldowns/pgtestdb"
	"github.com/stretchr/testify/require"
)

// Config is the server pgtestdb clones template databases on
func Config() pgtestdb.Config {
	return pgtestdb.Config{
		DriverName: "pgx",
		User:       "fundme",
		Password:   "fundme",
		Host:       "localhost",
		Port:       "5432",
		Options:    "sslmode=disable",
	}
}

// CreateTestDatabase creates a test database prepared by migrator.
// Returns the connection pool and database URL for further connections.
func CreateTestDatabase(t *testing.T, migrator pgtestdb.Migrator) (*pgxpool.Pool, string) {
	t.Helper()

	dbConfig := pgtestdb.Custom(t, Config(), migrator)
	dbURL := dbConfig.URL()

	t.Logf("testdbconf: %s", dbURL)

	pool, err := createTestConnection(t.Context(), dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool, dbURL
}

// createTestConnection creates a small, fail-fast pool for tests
func createTestConnection(ctx context.Context, connectionString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connectionString)
	if err != nil {
		return nil, err
	}

	config.MinConns = 1
	config.MaxConns = 2

	config.MaxConnLifetime = 10 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second

	config.ConnConfig.ConnectTimeout = 5 * time.Second

	return pgxpool.NewWithConfig(ctx, config)
}
