// Package enrichment runs gene lists through an enrichment service, one task
// per database, isolating failures so one unavailable database never hides
// the results of the others.
package enrichment

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"neurodiff/domain/stats"
	"neurodiff/ports"

	"golang.org/x/sync/semaphore"
)

// Engine queries each database for a gene list
type Engine struct {
	service ports.EnrichmentService
	sem     *semaphore.Weighted // bounds in-flight service calls across all lists

	Retry  RetryPolicy
	Cutoff float64

	sleep func(context.Context, time.Duration) error
}

// NewEngine creates an engine allowing at most concurrency simultaneous calls.
func NewEngine(service ports.EnrichmentService, concurrency int) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		service: service,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		Retry:   DefaultRetryPolicy(),
		Cutoff:  stats.DefaultEnrichmentCutoff,
		sleep:   sleepContext,
	}
}

// Enrich tests list against every database. An empty list yields empty
// results without calling the service. A database that fails permanently,
// or transiently on every attempt, is marked Unavailable.
func (e *Engine) Enrich(ctx context.Context, list stats.GeneList, databases []string) *stats.EnrichmentReport {
	report := &stats.EnrichmentReport{
		Threshold: list.Threshold,
		ListSize:  list.Len(),
		Up:        list.Up,
		Down:      list.Down,
		Cutoff:    e.Cutoff,
		Databases: make([]stats.DatabaseResult, len(databases)),
	}

	if list.Empty() {
		for i, db := range databases {
			report.Databases[i] = stats.DatabaseResult{Database: db, Hits: []stats.TermHit{}}
		}
		log.Printf("[Enrichment] %s: empty gene list, skipping %d databases", list.Threshold.Name, len(databases))
		return report
	}

	var wg sync.WaitGroup
	for i, db := range databases {
		wg.Add(1)
		go func(index int, database string) {
			defer wg.Done()
			report.Databases[index] = e.queryDatabase(ctx, list, database)
		}(i, db)
	}
	wg.Wait()

	for _, d := range report.Databases {
		if d.Unavailable {
			log.Printf("[Enrichment] %s/%s unavailable after %d attempts: %s", list.Threshold.Name, d.Database, d.Attempts, d.Error)
		} else {
			log.Printf("[Enrichment] %s/%s: %d terms at or below %.2f", list.Threshold.Name, d.Database, len(d.Hits), e.Cutoff)
		}
	}
	return report
}

func (e *Engine) queryDatabase(ctx context.Context, list stats.GeneList, database string) stats.DatabaseResult {
	result := stats.DatabaseResult{Database: database}
	maxAttempts := e.Retry.attempts()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			lastErr = err
			break
		}
		result.Attempts = attempt
		hits, err := e.service.Enrich(ctx, list.Symbols, database)
		e.sem.Release(1)

		if err == nil {
			result.Hits = e.filter(hits, list.Symbols)
			return result
		}
		lastErr = err
		if !ports.IsTransient(err) || attempt == maxAttempts {
			break
		}
		if err := e.sleep(ctx, e.Retry.Backoff(attempt)); err != nil {
			lastErr = fmt.Errorf("%v (retry abandoned: %w)", lastErr, err)
			break
		}
	}

	result.Unavailable = true
	result.Hits = []stats.TermHit{}
	if lastErr != nil {
		result.Error = lastErr.Error()
	}
	return result
}

// filter keeps terms whose adjusted p-value is at or below the cutoff, restricts
// overlap genes to members of the submitted list, and orders the rows by
// adjusted p, raw p, then term name.
func (e *Engine) filter(hits []stats.TermHit, symbols []string) []stats.TermHit {
	inList := make(map[string]string, len(symbols))
	for _, s := range symbols {
		inList[strings.ToUpper(s)] = s
	}

	out := []stats.TermHit{}
	for _, h := range hits {
		h.AdjustedPValue = clampUnit(h.AdjustedPValue)
		h.PValue = clampUnit(h.PValue)
		if !(h.AdjustedPValue <= e.Cutoff) {
			continue
		}

		var overlap []string
		seen := make(map[string]bool)
		for _, g := range h.OverlapGenes {
			sym, ok := inList[strings.ToUpper(g)]
			if !ok || seen[sym] {
				continue
			}
			seen[sym] = true
			overlap = append(overlap, sym)
		}
		if len(overlap) == 0 {
			continue
		}
		h.OverlapGenes = overlap
		h.OverlapCount = len(overlap)
		out = append(out, h)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].AdjustedPValue != out[j].AdjustedPValue {
			return out[i].AdjustedPValue < out[j].AdjustedPValue
		}
		if out[i].PValue != out[j].PValue {
			return out[i].PValue < out[j].PValue
		}
		return out[i].Term < out[j].Term
	})
	return out
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 1
	}
	return math.Max(0, math.Min(1, v))
}
