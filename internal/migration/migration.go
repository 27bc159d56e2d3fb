package migration

import (
	"context"
	"fmt"

	"tenderwatch/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	dialect, err := dialectFor(db.DriverName())
	if err != nil {
		return err
	}

	if err := r.createCounterfactualCacheTable(ctx, db, dialect); err != nil {
		return errors.Wrap(err, "failed to create counterfactual_cache table")
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.Wrap(err, "failed to create indexes")
	}

	return nil
}

type dialect struct {
	serialPK  string
	jsonType  string
	timestamp string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "postgres":
		return dialect{serialPK: "BIGSERIAL PRIMARY KEY", jsonType: "JSONB", timestamp: "TIMESTAMPTZ"}, nil
	case "sqlite", "sqlite3":
		return dialect{serialPK: "INTEGER PRIMARY KEY AUTOINCREMENT", jsonType: "TEXT", timestamp: "TIMESTAMP"}, nil
	default:
		return dialect{}, errors.ConfigInvalid(fmt.Sprintf("unsupported database driver %q", driver))
	}
}

func (r *MigrationRunner) createCounterfactualCacheTable(ctx context.Context, db *sqlx.DB, d dialect) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS counterfactual_cache (
			id %s,
			tender_id VARCHAR(255) NOT NULL,
			original_score DOUBLE PRECISION NOT NULL,
			counterfactual_features %s NOT NULL,
			counterfactual_score DOUBLE PRECISION NOT NULL,
			distance DOUBLE PRECISION NOT NULL,
			feasibility_score DOUBLE PRECISION NOT NULL,
			num_changes INTEGER NOT NULL,
			meets_target BOOLEAN NOT NULL DEFAULT FALSE,
			generated_at %s NOT NULL
		)`, d.serialPK, d.jsonType, d.timestamp)

	_, err := db.ExecContext(ctx, query)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_counterfactual_cache_tender ON counterfactual_cache(tender_id)`,
		`CREATE INDEX IF NOT EXISTS idx_counterfactual_cache_generated ON counterfactual_cache(generated_at)`,
	}

	for _, index := range indexes {
		if _, err := db.ExecContext(ctx, index); err != nil {
			return err
		}
	}
	return nil
}
