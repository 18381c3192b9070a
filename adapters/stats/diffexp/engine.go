// Package diffexp runs the negative-binomial Wald test of the Test level
// against the Reference level for every gene.
package diffexp

import (
	"context"
	"fmt"
	"log"
	"math"
	"runtime"
	"time"

	"neurodiff/adapters/stats/dispersion"
	"neurodiff/adapters/stats/multitest"
	"neurodiff/adapters/stats/nbglm"
	"neurodiff/domain/dataset"
	"neurodiff/domain/stats"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Untested reasons.
const (
	ReasonAllZero      = "all counts zero"
	ReasonFitFailed    = "GLM fit failed"
	ReasonNonFiniteSE  = "non-finite standard error"
	ReasonNoDispersion = "dispersion unavailable"
)

// Engine fits one NB GLM per gene and adjusts the Wald p-values.
type Engine struct {
	Workers    int
	Alpha      float64
	GLM        nbglm.Options
	Dispersion *dispersion.Estimator
}

// NewEngine creates an engine using every available CPU.
func NewEngine() *Engine {
	e := &Engine{
		Workers:    runtime.GOMAXPROCS(0),
		Alpha:      stats.DefaultAlpha,
		GLM:        nbglm.DefaultOptions(),
		Dispersion: dispersion.NewEstimator(),
	}
	e.Dispersion.Workers = e.Workers
	return e
}

// Run tests every gene of ds under design. The returned table is sorted by
// adjusted p-value; untested genes are kept at the end with a reason.
func (e *Engine) Run(ctx context.Context, ds *dataset.Dataset, design dataset.Design) (*stats.DEResult, error) {
	start := time.Now()
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	resolved, err := design.Resolve(ds)
	if err != nil {
		return nil, err
	}
	mm, err := resolved.Matrix(ds)
	if err != nil {
		return nil, err
	}
	x := nbglm.DesignMatrix(mm)

	sf, err := nbglm.SizeFactors(ds.Counts)
	if err != nil {
		return nil, err
	}

	est, err := e.Dispersion.Genewise(ctx, ds.Counts, x, sf)
	if err != nil {
		return nil, err
	}
	trend, err := e.Dispersion.Trend(est)
	if err != nil {
		return nil, err
	}
	shrunk, err := e.Dispersion.Shrink(ctx, ds.Counts, x, est, trend)
	if err != nil {
		return nil, err
	}

	records := make([]stats.GeneRecord, ds.NumGenes())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.Workers, 1))
	for i := range ds.Counts {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			records[i] = e.testGene(ds, i, x, sf, mm.TestColumn, est[i], shrunk.Genes[i])
			return nil
		})
	}
	// Every per-gene fit must finish before the correction sees the p-values.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pvalues := make([]*float64, len(records))
	for i := range records {
		pvalues[i] = records[i].PValue
	}
	for i, padj := range multitest.BenjaminiHochberg(pvalues) {
		records[i].PAdj = padj
	}
	stats.SortRecords(records)

	result := &stats.DEResult{
		Design:      resolved,
		Coefficient: mm.Columns[mm.TestColumn],
		SizeFactors: sf,
		Trend:       trend,
		PriorVar:    shrunk.PriorVar,
		Records:     records,
	}
	sum := result.Summarize(e.alpha())
	log.Printf("[DiffExp] %s: %d tested, %d untested, %d significant at %.2f (%d up, %d down) in %.2fms",
		result.Coefficient, sum.Tested, sum.Untested, sum.Significant, sum.Alpha, sum.Up, sum.Down,
		float64(time.Since(start).Nanoseconds())/1e6)
	return result, nil
}

func (e *Engine) alpha() float64 {
	if e.Alpha <= 0 {
		return stats.DefaultAlpha
	}
	return e.Alpha
}

func (e *Engine) testGene(ds *dataset.Dataset, i int, x *mat.Dense, sf []float64, coef int, est dispersion.GeneEstimate, disp dispersion.GeneDispersion) stats.GeneRecord {
	rec := stats.GeneRecord{
		GeneID:     ds.GeneIDs[i],
		Symbol:     ds.Symbols[i],
		BaseMean:   est.BaseMean,
		Dispersion: disp.Final,
		Status:     stats.StatusUntested,
	}
	y := ds.Counts[i]
	if nbglm.AllZero(y) {
		rec.Reason = ReasonAllZero
		return rec
	}
	if !disp.Usable || disp.Final <= 0 {
		rec.Reason = ReasonNoDispersion
		return rec
	}

	fit, err := nbglm.FitGene(y, x, sf, disp.Final, e.GLM)
	if err != nil {
		rec.Reason = fmt.Sprintf("%s: %v", ReasonFitFailed, err)
		return rec
	}

	beta, se := fit.Beta[coef], fit.SE[coef]
	rec.Log2FoldChange = beta / math.Ln2
	rec.LfcSE = se / math.Ln2
	if se <= 0 || math.IsNaN(se) || math.IsInf(se, 0) {
		rec.Reason = ReasonNonFiniteSE
		return rec
	}

	z := beta / se
	p := 2 * distuv.UnitNormal.Survival(math.Abs(z))
	rec.Stat = stats.Float(z)
	rec.PValue = stats.Float(p)
	if rec.PValue == nil {
		rec.Stat = nil
		rec.Reason = ReasonNonFiniteSE
		return rec
	}
	rec.Status = stats.StatusTested
	return rec
}
