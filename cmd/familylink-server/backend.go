package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/ehr/familylink/internal/config"
	"github.com/ehr/familylink/internal/domain/directory"
	"github.com/ehr/familylink/internal/domain/relationship"
	"github.com/ehr/familylink/internal/platform/db"
)

// patientDirectory is what both directory backends provide.
type patientDirectory interface {
	directory.Directory
	directory.Pager
	directory.Writer
	relationship.PatientChecker
}

// backend holds the storage chosen by DB_DRIVER.
type backend struct {
	store     relationship.Store
	directory patientDirectory
	health    echo.HandlerFunc
	pool      *pgxpool.Pool // nil for sqlite
	sqlite    *sql.DB
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return newSQLiteBackend(ctx, sqlDB, cfg.DirectoryLimit)
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:     relationship.NewLinkRepoPG(pool),
			directory: directory.NewPatientDirectoryPG(pool, cfg.DirectoryLimit),
			health:    db.PoolHealthHandler(pool),
			pool:      pool,
		}, nil
	}
	return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
}

// newSQLiteBackend creates the standalone schema on sqlDB if needed.
func newSQLiteBackend(ctx context.Context, sqlDB *sql.DB, limit int) (*backend, error) {
	if err := directory.EnsurePatientSchema(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := relationship.EnsureLinkSchema(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &backend{
		store:     relationship.NewLinkRepoSQLite(sqlDB),
		directory: directory.NewPatientDirectorySQLite(sqlDB, limit),
		health:    db.SQLiteHealthHandler(sqlDB),
		sqlite:    sqlDB,
	}, nil
}

// scope pins a tenant connection for work done outside a request. SQLite
// has no tenants and returns ctx unchanged.
func (b *backend) scope(tenantID string) relationship.Scope {
	return func(ctx context.Context) (context.Context, func(), error) {
		if b.pool == nil {
			return ctx, func() {}, nil
		}
		return db.WithTenantConn(ctx, b.pool, tenantID)
	}
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.sqlite != nil {
		b.sqlite.Close()
	}
}
