// Package migrator applies the roster archive schema. Migrations are
// embedded so the daemon binary and tests need no migrations directory.
package migrator

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/peterldowns/pgtestdb"
	"github.com/peterldowns/pgtestdb/migrators/sqlmigrator"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/screwyprof/fundme/pkg/pgxdb"
	"github.com/screwyprof/fundme/roster"
	"github.com/screwyprof/fundme/roster/store/pgxstore"
)

// Migration constants
const (
	migrationsTableName = "schema_migrations"
	schemaHashPrefix    = "schema_only_"
	seededHashPrefix    = "seeded_roster_"
)

// Migration-related errors
var (
	ErrMigrationExecution = errors.New("migration execution failed")
	ErrMigrationHash      = errors.New("migration hash failed")
	ErrSeedFailed         = errors.New("seeding failed")
)

//go:embed migrations/*.sql
var migrations embed.FS

// Source returns the embedded migrations
func Source() migrate.MigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{FileSystem: migrations, Root: "migrations"}
}

func migrationSet() *migrate.MigrationSet {
	return &migrate.MigrationSet{TableName: migrationsTableName}
}

func schemaHash() (string, error) {
	baseHash, err := sqlmigrator.New(Source(), migrationSet()).Hash()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMigrationHash, err)
	}
	return baseHash, nil
}

// SchemaMigrator applies only database schema migrations
// Used for production and tests that need schema-only setup
type SchemaMigrator struct{}

// NewSchemaMigrator creates a migrator that applies schema migrations only
func NewSchemaMigrator() *SchemaMigrator {
	return &SchemaMigrator{}
}

func (m *SchemaMigrator) Hash() (string, error) {
	baseHash, err := schemaHash()
	if err != nil {
		return "", err
	}
	return schemaHashPrefix + baseHash, nil
}

func (m *SchemaMigrator) Migrate(_ context.Context, db *sql.DB, _ pgtestdb.Config) error {
	_, err := applyMigrations(db)
	return err
}

// SeededMigrator applies schema migrations and archives the given snapshots
// Used for tests that need a warm-start archive to read from
type SeededMigrator struct {
	snapshots []roster.Snapshot
}

// NewSeededMigrator creates a migrator that applies schema + seeds snapshots in order
func NewSeededMigrator(snapshots ...roster.Snapshot) *SeededMigrator {
	return &SeededMigrator{snapshots: snapshots}
}

func (m *SeededMigrator) Hash() (string, error) {
	baseHash, err := schemaHash()
	if err != nil {
		return "", err
	}
	return seededHashPrefix + baseHash + "_" + snapshotsHash(m.snapshots), nil
}

func (m *SeededMigrator) Migrate(ctx context.Context, db *sql.DB, conf pgtestdb.Config) error {
	if _, err := applyMigrations(db); err != nil {
		return err
	}
	return m.seed(ctx, conf.URL())
}

// seed archives the snapshots through the same store the daemon uses
func (m *SeededMigrator) seed(ctx context.Context, dbURL string) error {
	slog.InfoContext(ctx, "🌱 Seeding roster archive", slog.Int("snapshots", len(m.snapshots)))

	pool, err := pgxdb.NewConnection(ctx, dbURL, pgxdb.WithMaxConns(2))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSeedFailed, err)
	}

	store, closer := pgxstore.New(pool, pgxstore.WithSnapshotsKept(len(m.snapshots)+1))
	defer closer()

	for _, snap := range m.snapshots {
		if err := store.SaveSnapshot(ctx, snap); err != nil {
			return fmt.Errorf("%w: %w", ErrSeedFailed, err)
		}
	}
	return nil
}

// ApplyMigrations applies the embedded migrations with the provided pgx pool
// and returns how many were applied
func ApplyMigrations(pool *pgxpool.Pool) (int, error) {
	// Create sql.DB from the pgx pool for sql-migrate
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	return applyMigrations(db)
}

// PendingMigrations lists the ids of migrations not yet applied
func PendingMigrations(pool *pgxpool.Pool) ([]string, error) {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	planned, _, err := migrationSet().PlanMigration(db, "postgres", Source(), migrate.Up, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMigrationExecution, err)
	}

	ids := make([]string, 0, len(planned))
	for _, p := range planned {
		ids = append(ids, p.Id)
	}
	return ids, nil
}

func applyMigrations(db *sql.DB) (int, error) {
	n, err := migrationSet().Exec(db, "postgres", Source(), migrate.Up)
	if err != nil {
		return n, fmt.Errorf("%w: %w", ErrMigrationExecution, err)
	}
	return n, nil
}

func snapshotsHash(snapshots []roster.Snapshot) string {
	h := sha256.New()
	for _, s := range snapshots {
		h.Write([]byte(s.Contract.Hex()))
		h.Write([]byte(s.FetchedAt.UTC().Format("2006-01-02T15:04:05.999999999")))
		h.Write([]byte(strconv.Itoa(s.Skipped)))
		for _, c := range s.Contributors {
			h.Write(c.Address.Bytes())
			h.Write([]byte(c.Amount.String()))
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
