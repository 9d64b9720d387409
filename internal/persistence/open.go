// Package persistence selects the session value store backend.
package persistence

import (
	"context"
	"fmt"

	"paramflow/internal/config"
	"paramflow/internal/infra/persistence/memory"
	"paramflow/internal/infra/persistence/postgres"
	"paramflow/internal/infra/persistence/sqlite"
	"paramflow/pkg/domain"
)

// Driver identifies a concrete value store implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Open returns the value store selected by cfg. Defaults to sqlite.
func Open(ctx context.Context, cfg config.Persistence) (domain.ValueStore, error) {
	switch Driver(cfg.Driver) {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite, "":
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
