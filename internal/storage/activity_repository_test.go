package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a throwaway Postgres, applies migrations/postgres and
// returns a connected PostgresDB
func setupPostgres(t *testing.T) *PostgresDB {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("scorer"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrationsPath := filepath.Join(findProjectRoot(t), "migrations", "postgres")
	require.NoError(t, RunMigrations(dsn, migrationsPath))

	version, dirty, err := MigrationVersion(dsn, migrationsPath)
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), version)

	db, err := NewPostgresDBFromDSN(dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	return db
}

func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

func TestPostgresActivityRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupPostgres(t)
	runActivityRepositoryContract(t, testContext(t), NewPostgresActivityRepository(db))
}

func TestPostgresActivityRepository_RejectsMixedCaseAddress(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := setupPostgres(t)
	repo := NewPostgresActivityRepository(db)

	err := repo.Upsert(testContext(t), sampleRecord("0x00000000000000000000000000000000000000AA", 1))
	require.Error(t, err)
}
