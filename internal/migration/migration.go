package migration

import (
	"context"
	"log"

	"neurodiff/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the result store schema. Statements are idempotent
// and portable between PostgreSQL and SQLite.
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

type step struct {
	name string
	sql  string
}

var steps = []step{
	{"runs table", `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			dataset_hash TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			status VARCHAR(20) NOT NULL,
			failed_stage VARCHAR(20) NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			genes INTEGER NOT NULL DEFAULT 0,
			samples INTEGER NOT NULL DEFAULT 0,
			expressed INTEGER NOT NULL DEFAULT 0,
			tested INTEGER NOT NULL DEFAULT 0,
			significant INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)`},
	{"de_records table", `
		CREATE TABLE IF NOT EXISTS de_records (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			row_index INTEGER NOT NULL,
			gene_id TEXT NOT NULL,
			symbol TEXT NOT NULL DEFAULT '',
			base_mean DOUBLE PRECISION NOT NULL,
			log2_fold_change DOUBLE PRECISION NOT NULL,
			lfc_se DOUBLE PRECISION NOT NULL,
			stat DOUBLE PRECISION,
			pvalue DOUBLE PRECISION,
			padj DOUBLE PRECISION,
			dispersion DOUBLE PRECISION NOT NULL,
			status VARCHAR(20) NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, gene_id)
		)`},
	{"enrichment_reports table", `
		CREATE TABLE IF NOT EXISTS enrichment_reports (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			config TEXT NOT NULL,
			threshold TEXT NOT NULL,
			list_size INTEGER NOT NULL,
			up_count INTEGER NOT NULL,
			down_count INTEGER NOT NULL,
			cutoff DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (run_id, config)
		)`},
	{"enrichment_databases table", `
		CREATE TABLE IF NOT EXISTS enrichment_databases (
			run_id TEXT NOT NULL,
			config TEXT NOT NULL,
			database_name TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			unavailable BOOLEAN NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL,
			PRIMARY KEY (run_id, config, database_name),
			FOREIGN KEY (run_id, config) REFERENCES enrichment_reports(run_id, config) ON DELETE CASCADE
		)`},
	{"enrichment_hits table", `
		CREATE TABLE IF NOT EXISTS enrichment_hits (
			run_id TEXT NOT NULL,
			config TEXT NOT NULL,
			database_name TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			term TEXT NOT NULL,
			pvalue DOUBLE PRECISION NOT NULL,
			adjusted_pvalue DOUBLE PRECISION NOT NULL,
			overlap_count INTEGER NOT NULL,
			term_size INTEGER NOT NULL,
			overlap_genes TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, config, database_name, row_index),
			FOREIGN KEY (run_id, config, database_name)
				REFERENCES enrichment_databases(run_id, config, database_name) ON DELETE CASCADE
		)`},
	{"indexes", `CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`},
	{"indexes", `CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint)`},
}

// Run executes all database migrations in order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	for _, s := range steps {
		if _, err := db.ExecContext(ctx, s.sql); err != nil {
			return errors.WithCode(errors.CodeDatabaseError, errors.Wrapf(err, "failed to create %s", s.name))
		}
	}
	log.Printf("[Migration] schema %s applied (%d statements)", r.version, len(steps))
	return nil
}
