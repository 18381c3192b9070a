package enrichment

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"neurodiff/domain/stats"
)

// Batch runs one enrichment job per threshold configuration. Jobs are
// independent: each extracts its own gene list and produces its own report.
type Batch struct {
	Engine  *Engine
	Workers int
}

type batchJob struct {
	index     int
	threshold stats.Threshold
}

// NewBatch creates a batch runner over engine.
func NewBatch(engine *Engine, workers int) *Batch {
	return &Batch{Engine: engine, Workers: workers}
}

// Run extracts a gene list per threshold from result and enriches it against
// databases. Reports are returned in threshold order. Database failures are
// recorded in the reports; only invalid thresholds or cancellation return an
// error.
func (b *Batch) Run(ctx context.Context, result *stats.DEResult, thresholds []stats.Threshold, databases []string) ([]*stats.EnrichmentReport, error) {
	start := time.Now()
	seen := make(map[string]bool)
	for _, t := range thresholds {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("duplicate threshold configuration %q", t.Name)
		}
		seen[t.Name] = true
	}

	workers := b.Workers
	if workers < 1 {
		workers = 1
	}

	reports := make([]*stats.EnrichmentReport, len(thresholds))
	jobs := make(chan batchJob, len(thresholds))
	for i, t := range thresholds {
		jobs <- batchJob{index: i, threshold: t}
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				list := result.GeneList(job.threshold)
				log.Printf("[EnrichmentBatch] %s (%s): %d genes (%d up, %d down)",
					job.threshold.Name, job.threshold, list.Len(), list.Up, list.Down)
				reports[job.index] = b.Engine.Enrich(ctx, list, databases)
			}
		}()
	}
	wg.Wait()

	log.Printf("[EnrichmentBatch] %d configurations × %d databases in %.2fms",
		len(thresholds), len(databases), float64(time.Since(start).Nanoseconds())/1e6)
	return reports, ctx.Err()
}
