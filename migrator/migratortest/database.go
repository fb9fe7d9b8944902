package migratortest

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/screwyprof/fundme/migrator"
	"github.com/screwyprof/fundme/pkg/pgxdb/pgxdbtest"
	"github.com/screwyprof/fundme/roster"
)

// CreateSchemaTestDatabase creates a test database with the archive schema applied.
func CreateSchemaTestDatabase(t *testing.T) *pgxpool.Pool {
	t.Helper()

	pool, _ := pgxdbtest.CreateTestDatabase(t, migrator.NewSchemaMigrator())
	return pool
}

// CreateSeededTestDatabase creates a test database whose archive already
// holds snapshots, saved oldest first.
func CreateSeededTestDatabase(t *testing.T, snapshots ...roster.Snapshot) *pgxpool.Pool {
	t.Helper()

	pool, _ := pgxdbtest.CreateTestDatabase(t, migrator.NewSeededMigrator(snapshots...))
	return pool
}
