//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/familylink/internal/platform/db"
	"github.com/ehr/familylink/migrations"
)

// globalPool is the shared database, initialized once in TestMain.
var globalPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr, cleanup, err := postgresURL(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up postgres: %v\n", err)
		os.Exit(1)
	}

	pool, err := db.NewPool(ctx, connStr, 10, 1)
	if err != nil {
		cleanup()
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}

	globalPool = pool
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// postgresURL uses TEST_DATABASE_URL when set and otherwise starts a
// throwaway container.
func postgresURL(ctx context.Context) (string, func(), error) {
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		return url, func() {}, nil
	}
	return startPostgresContainer(ctx)
}

// createTenant creates and migrates a tenant schema, dropping it when the
// test ends.
func createTenant(t *testing.T, ctx context.Context, prefix string) string {
	t.Helper()
	tenantID := fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(uuid.NewString()[:8], "-", ""))
	migrator := db.NewMigrator(globalPool, migrations.FS)
	if err := db.CreateTenantSchema(ctx, globalPool, tenantID, migrator); err != nil {
		t.Fatalf("create tenant schema %s: %v", tenantID, err)
	}
	t.Cleanup(func() {
		schema, _ := db.SchemaFor(tenantID)
		if _, err := globalPool.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})
	return tenantID
}

// tenantCtx pins a tenant connection for the rest of the test.
func tenantCtx(t *testing.T, ctx context.Context, tenantID string) context.Context {
	t.Helper()
	scoped, release, err := db.WithTenantConn(ctx, globalPool, tenantID)
	if err != nil {
		t.Fatalf("tenant connection for %s: %v", tenantID, err)
	}
	t.Cleanup(release)
	return scoped
}
