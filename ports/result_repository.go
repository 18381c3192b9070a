package ports

import (
	"context"

	"neurodiff/domain/core"
	"neurodiff/domain/run"
	"neurodiff/domain/stats"
)

// ResultRepository persists run records and their result tables
type ResultRepository interface {
	// Run lifecycle
	SaveRun(ctx context.Context, r *run.Run) error
	GetRun(ctx context.Context, id core.RunID) (*run.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*run.Run, error)

	// Result tables
	SaveDEResult(ctx context.Context, id core.RunID, result *stats.DEResult) error
	GetDERecords(ctx context.Context, id core.RunID) ([]stats.GeneRecord, error)
	SaveEnrichment(ctx context.Context, id core.RunID, report *stats.EnrichmentReport) error
	GetEnrichment(ctx context.Context, id core.RunID, config string) (*stats.EnrichmentReport, error)
}
