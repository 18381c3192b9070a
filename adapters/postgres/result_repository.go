package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"neurodiff/domain/core"
	"neurodiff/domain/run"
	"neurodiff/domain/stats"
	"neurodiff/ports"

	"github.com/jmoiron/sqlx"
)

// resultRepository implements ports.ResultRepository on sqlx. Queries use
// "?" placeholders rebound for the connected driver.
type resultRepository struct {
	db *sqlx.DB
}

// NewResultRepository creates a result repository on db
func NewResultRepository(db *sqlx.DB) ports.ResultRepository {
	return &resultRepository{db: db}
}

const runColumns = `id, dataset_hash, fingerprint, status, failed_stage, error,
	genes, samples, expressed, tested, significant, started_at, finished_at`

// SaveRun inserts or updates a run record
func (r *resultRepository) SaveRun(ctx context.Context, rn *run.Run) error {
	query := `INSERT INTO runs (` + runColumns + `) VALUES (
		:id, :dataset_hash, :fingerprint, :status, :failed_stage, :error,
		:genes, :samples, :expressed, :tested, :significant, :started_at, :finished_at
	) ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		failed_stage = excluded.failed_stage,
		error = excluded.error,
		genes = excluded.genes,
		samples = excluded.samples,
		expressed = excluded.expressed,
		tested = excluded.tested,
		significant = excluded.significant,
		finished_at = excluded.finished_at`

	if _, err := r.db.NamedExecContext(ctx, query, rn); err != nil {
		return fmt.Errorf("failed to save run %s: %w", rn.ID, err)
	}
	return nil
}

// GetRun retrieves a run by ID
func (r *resultRepository) GetRun(ctx context.Context, id core.RunID) (*run.Run, error) {
	var rn run.Run
	query := r.db.Rebind(`SELECT ` + runColumns + ` FROM runs WHERE id = ?`)
	if err := r.db.GetContext(ctx, &rn, query, string(id)); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &rn, nil
}

// ListRuns returns runs newest first
func (r *resultRepository) ListRuns(ctx context.Context, limit, offset int) ([]*run.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	runs := []*run.Run{}
	query := r.db.Rebind(`SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id LIMIT ? OFFSET ?`)
	if err := r.db.SelectContext(ctx, &runs, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

type deRow struct {
	RunID    string `db:"run_id"`
	RowIndex int    `db:"row_index"`
	stats.GeneRecord
}

// SaveDEResult replaces the stored DE table of a run, keeping row order
func (r *resultRepository) SaveDEResult(ctx context.Context, id core.RunID, result *stats.DEResult) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM de_records WHERE run_id = ?`), string(id)); err != nil {
			return err
		}
		stmt, err := tx.PrepareNamedContext(ctx, `INSERT INTO de_records (
			run_id, row_index, gene_id, symbol, base_mean, log2_fold_change, lfc_se,
			stat, pvalue, padj, dispersion, status, reason
		) VALUES (
			:run_id, :row_index, :gene_id, :symbol, :base_mean, :log2_fold_change, :lfc_se,
			:stat, :pvalue, :padj, :dispersion, :status, :reason
		)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, rec := range result.Records {
			if _, err := stmt.ExecContext(ctx, deRow{RunID: string(id), RowIndex: i, GeneRecord: rec}); err != nil {
				return fmt.Errorf("gene %s: %w", rec.GeneID, err)
			}
		}
		return nil
	})
}

// GetDERecords returns the DE table of a run in stored order
func (r *resultRepository) GetDERecords(ctx context.Context, id core.RunID) ([]stats.GeneRecord, error) {
	if _, err := r.GetRun(ctx, id); err != nil {
		return nil, err
	}
	records := []stats.GeneRecord{}
	query := r.db.Rebind(`SELECT gene_id, symbol, base_mean, log2_fold_change, lfc_se,
		stat, pvalue, padj, dispersion, status, reason
		FROM de_records WHERE run_id = ? ORDER BY row_index`)
	if err := r.db.SelectContext(ctx, &records, query, string(id)); err != nil {
		return nil, fmt.Errorf("failed to get DE records: %w", err)
	}
	return records, nil
}

type reportRow struct {
	RunID     string  `db:"run_id"`
	Config    string  `db:"config"`
	Threshold string  `db:"threshold"`
	ListSize  int     `db:"list_size"`
	Up        int     `db:"up_count"`
	Down      int     `db:"down_count"`
	Cutoff    float64 `db:"cutoff"`
}

type databaseRow struct {
	RunID       string `db:"run_id"`
	Config      string `db:"config"`
	Database    string `db:"database_name"`
	RowIndex    int    `db:"row_index"`
	Unavailable bool   `db:"unavailable"`
	Error       string `db:"error_message"`
	Attempts    int    `db:"attempts"`
}

type hitRow struct {
	RunID          string  `db:"run_id"`
	Config         string  `db:"config"`
	Database       string  `db:"database_name"`
	RowIndex       int     `db:"row_index"`
	Term           string  `db:"term"`
	PValue         float64 `db:"pvalue"`
	AdjustedPValue float64 `db:"adjusted_pvalue"`
	OverlapCount   int     `db:"overlap_count"`
	TermSize       int     `db:"term_size"`
	OverlapGenes   string  `db:"overlap_genes"`
}

// SaveEnrichment replaces the stored report for one threshold configuration
func (r *resultRepository) SaveEnrichment(ctx context.Context, id core.RunID, report *stats.EnrichmentReport) error {
	threshold, err := json.Marshal(report.Threshold)
	if err != nil {
		return fmt.Errorf("failed to marshal threshold: %w", err)
	}
	config := report.Threshold.Name

	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, table := range []string{"enrichment_hits", "enrichment_databases", "enrichment_reports"} {
			q := tx.Rebind(`DELETE FROM ` + table + ` WHERE run_id = ? AND config = ?`)
			if _, err := tx.ExecContext(ctx, q, string(id), config); err != nil {
				return err
			}
		}

		if _, err := tx.NamedExecContext(ctx, `INSERT INTO enrichment_reports (
			run_id, config, threshold, list_size, up_count, down_count, cutoff
		) VALUES (:run_id, :config, :threshold, :list_size, :up_count, :down_count, :cutoff)`,
			reportRow{
				RunID: string(id), Config: config, Threshold: string(threshold),
				ListSize: report.ListSize, Up: report.Up, Down: report.Down, Cutoff: report.Cutoff,
			}); err != nil {
			return err
		}

		for i, d := range report.Databases {
			if _, err := tx.NamedExecContext(ctx, `INSERT INTO enrichment_databases (
				run_id, config, database_name, row_index, unavailable, error_message, attempts
			) VALUES (:run_id, :config, :database_name, :row_index, :unavailable, :error_message, :attempts)`,
				databaseRow{
					RunID: string(id), Config: config, Database: d.Database, RowIndex: i,
					Unavailable: d.Unavailable, Error: d.Error, Attempts: d.Attempts,
				}); err != nil {
				return fmt.Errorf("database %s: %w", d.Database, err)
			}
			for j, h := range d.Hits {
				if _, err := tx.NamedExecContext(ctx, `INSERT INTO enrichment_hits (
					run_id, config, database_name, row_index, term, pvalue, adjusted_pvalue,
					overlap_count, term_size, overlap_genes
				) VALUES (
					:run_id, :config, :database_name, :row_index, :term, :pvalue, :adjusted_pvalue,
					:overlap_count, :term_size, :overlap_genes
				)`, hitRow{
					RunID: string(id), Config: config, Database: d.Database, RowIndex: j,
					Term: h.Term, PValue: h.PValue, AdjustedPValue: h.AdjustedPValue,
					OverlapCount: h.OverlapCount, TermSize: h.TermSize,
					OverlapGenes: strings.Join(h.OverlapGenes, ";"),
				}); err != nil {
					return fmt.Errorf("term %s: %w", h.Term, err)
				}
			}
		}
		return nil
	})
}

// GetEnrichment reassembles the report stored for config
func (r *resultRepository) GetEnrichment(ctx context.Context, id core.RunID, config string) (*stats.EnrichmentReport, error) {
	var head reportRow
	err := r.db.GetContext(ctx, &head, r.db.Rebind(`SELECT run_id, config, threshold, list_size, up_count, down_count, cutoff
		FROM enrichment_reports WHERE run_id = ? AND config = ?`), string(id), config)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s for run %s", core.ErrConfigNotFound, config, id)
		}
		return nil, fmt.Errorf("failed to get enrichment report: %w", err)
	}

	report := &stats.EnrichmentReport{
		ListSize: head.ListSize, Up: head.Up, Down: head.Down, Cutoff: head.Cutoff,
		Databases: []stats.DatabaseResult{},
	}
	if err := json.Unmarshal([]byte(head.Threshold), &report.Threshold); err != nil {
		return nil, fmt.Errorf("failed to unmarshal threshold: %w", err)
	}

	var dbs []databaseRow
	if err := r.db.SelectContext(ctx, &dbs, r.db.Rebind(`SELECT run_id, config, database_name, row_index, unavailable, error_message, attempts
		FROM enrichment_databases WHERE run_id = ? AND config = ? ORDER BY row_index`), string(id), config); err != nil {
		return nil, fmt.Errorf("failed to get enrichment databases: %w", err)
	}
	var hits []hitRow
	if err := r.db.SelectContext(ctx, &hits, r.db.Rebind(`SELECT run_id, config, database_name, row_index, term, pvalue,
		adjusted_pvalue, overlap_count, term_size, overlap_genes
		FROM enrichment_hits WHERE run_id = ? AND config = ? ORDER BY database_name, row_index`), string(id), config); err != nil {
		return nil, fmt.Errorf("failed to get enrichment hits: %w", err)
	}

	byDB := make(map[string][]stats.TermHit)
	for _, h := range hits {
		var genes []string
		if h.OverlapGenes != "" {
			genes = strings.Split(h.OverlapGenes, ";")
		}
		byDB[h.Database] = append(byDB[h.Database], stats.TermHit{
			Term: h.Term, PValue: h.PValue, AdjustedPValue: h.AdjustedPValue,
			OverlapCount: h.OverlapCount, TermSize: h.TermSize, OverlapGenes: genes,
		})
	}
	for _, d := range dbs {
		res := stats.DatabaseResult{
			Database: d.Database, Unavailable: d.Unavailable, Error: d.Error, Attempts: d.Attempts,
			Hits: byDB[d.Database],
		}
		if res.Hits == nil {
			res.Hits = []stats.TermHit{}
		}
		report.Databases = append(report.Databases, res)
	}
	return report, nil
}

func (r *resultRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("transaction failed: %w", err)
	}
	return tx.Commit()
}
