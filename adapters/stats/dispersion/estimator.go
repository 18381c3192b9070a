// Package dispersion estimates negative-binomial dispersions in two passes:
// gene-wise Cox-Reid estimates with a parametric mean-dispersion trend, then
// maximum a posteriori shrinkage of every gene towards that trend.
package dispersion

import (
	"context"
	"fmt"
	"log"
	"math"
	"runtime"
	"time"

	"neurodiff/adapters/stats/nbglm"
	"neurodiff/domain/core"
	"neurodiff/domain/dataset"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// Estimator holds the bounds and worker limit shared by both passes.
type Estimator struct {
	MinDisp   float64
	MaxDisp   float64 // zero means max(10, samples)
	OutlierSD float64
	Workers   int
	GLM       nbglm.Options
}

// NewEstimator returns an estimator with the standard bounds.
func NewEstimator() *Estimator {
	return &Estimator{
		MinDisp:   1e-8,
		OutlierSD: 2,
		Workers:   runtime.GOMAXPROCS(0),
		GLM:       nbglm.DefaultOptions(),
	}
}

// GeneEstimate is the pass-one result for one gene.
type GeneEstimate struct {
	BaseMean float64
	Genewise float64
	Mu       []float64 // fitted means used by the Cox-Reid likelihood
	Usable   bool      // false for genes with no counts
}

// GeneDispersion is the pass-two result for one gene.
type GeneDispersion struct {
	Genewise float64
	Trend    float64
	MAP      float64
	Final    float64
	Outlier  bool // gene-wise estimate kept because it sits far above the trend
	Usable   bool
}

// Shrinkage is the complete pass-two output.
type Shrinkage struct {
	Genes    []GeneDispersion
	PriorVar float64 // variance of the log-normal prior
	LogVar   float64 // observed variance of log residuals around the trend
}

func (e *Estimator) maxDisp(samples int) float64 {
	if e.MaxDisp > 0 {
		return e.MaxDisp
	}
	return math.Max(10, float64(samples))
}

func (e *Estimator) workers() int {
	if e.Workers < 1 {
		return 1
	}
	return e.Workers
}

// Genewise runs pass one: a rough moment estimate, a GLM fit for the means and
// maximisation of the Cox-Reid adjusted profile likelihood for each gene.
func (e *Estimator) Genewise(ctx context.Context, counts [][]int, x *mat.Dense, sf []float64) ([]GeneEstimate, error) {
	start := time.Now()
	n, p := x.Dims()
	if n <= p {
		return nil, fmt.Errorf("%w: %d samples for %d coefficients", core.ErrInsufficientSamples, n, p)
	}
	lo, hi := math.Log(e.MinDisp), math.Log(e.maxDisp(n))

	out := make([]GeneEstimate, len(counts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i := range counts {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = e.genewise(counts[i], x, sf, lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Printf("[Dispersion] gene-wise estimates for %d genes in %.2fms",
		len(counts), float64(time.Since(start).Nanoseconds())/1e6)
	return out, nil
}

func (e *Estimator) genewise(y []int, x *mat.Dense, sf []float64, lo, hi float64) GeneEstimate {
	est := GeneEstimate{BaseMean: nbglm.BaseMean(y, sf)}
	if nbglm.AllZero(y) {
		return est
	}
	est.Usable = true

	init := clamp(roughDispersion(y, x, sf), math.Exp(lo), math.Exp(hi))
	if fit, err := nbglm.FitGene(y, x, sf, init, e.GLM); err == nil {
		est.Mu = fit.Mu
	} else {
		est.Mu = make([]float64, len(y))
		for j := range y {
			est.Mu[j] = math.Max(sf[j]*est.BaseMean, e.GLM.MinMu)
		}
	}

	apl := func(logA float64) float64 {
		return adjustedProfileLikelihood(y, x, est.Mu, math.Exp(logA))
	}
	est.Genewise = math.Exp(maximise(apl, lo, hi, math.Log(init)))
	return est
}

// Trend fits alpha(mu) = a0 + a1/mu over genes whose gene-wise estimate is
// clear of the lower bound, falling back to a constant mean when the
// parametric fit fails.
func (e *Estimator) Trend(est []GeneEstimate) (dataset.DispersionTrend, error) {
	var means, disps []float64
	for _, g := range est {
		if g.Usable && g.Genewise >= 100*e.MinDisp {
			means = append(means, g.BaseMean)
			disps = append(disps, g.Genewise)
		}
	}
	if len(means) == 0 {
		return dataset.DispersionTrend{}, fmt.Errorf("%w: all gene-wise dispersions are at the lower bound", core.ErrDispersionFit)
	}

	trend, err := FitParametricTrend(means, disps)
	if err == nil {
		log.Printf("[Dispersion] parametric trend a0=%.4g a1=%.4g over %d genes", trend.Asymptotic, trend.Extra, len(means))
		return trend, nil
	}

	var fallback []float64
	for _, g := range est {
		if g.Usable && g.Genewise >= 10*e.MinDisp {
			fallback = append(fallback, g.Genewise)
		}
	}
	m, merr := stats.Mean(fallback)
	if merr != nil {
		return dataset.DispersionTrend{}, fmt.Errorf("%w: %v", core.ErrDispersionFit, err)
	}
	log.Printf("[Dispersion] parametric trend failed (%v); using constant %.4g", err, m)
	return dataset.DispersionTrend{Asymptotic: m}, nil
}

// Shrink runs pass two. Each gene is a pure function of its own counts, the
// trend and the prior variance computed up front.
func (e *Estimator) Shrink(ctx context.Context, counts [][]int, x *mat.Dense, est []GeneEstimate, trend dataset.DispersionTrend) (*Shrinkage, error) {
	start := time.Now()
	n, p := x.Dims()
	lo, hi := math.Log(e.MinDisp), math.Log(e.maxDisp(n))

	var resid []float64
	for _, g := range est {
		if g.Usable && g.Genewise >= 100*e.MinDisp {
			resid = append(resid, math.Log(g.Genewise)-math.Log(trend.At(g.BaseMean)))
		}
	}
	if len(resid) == 0 {
		return nil, fmt.Errorf("%w: no gene-wise estimates above the lower bound", core.ErrDispersionFit)
	}
	mad, err := stats.MedianAbsoluteDeviationPopulation(resid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDispersionFit, err)
	}
	logVar := math.Pow(1.4826*mad, 2)
	priorVar := math.Max(logVar-Trigamma(float64(n-p)/2), 0.25)

	out := &Shrinkage{Genes: make([]GeneDispersion, len(est)), PriorVar: priorVar, LogVar: logVar}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers())
	for i := range est {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out.Genes[i] = e.shrinkGene(counts[i], x, est[i], trend, priorVar, logVar, lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	outliers := 0
	for _, d := range out.Genes {
		if d.Outlier {
			outliers++
		}
	}
	log.Printf("[Dispersion] MAP shrinkage prior var %.4f, %d outliers, in %.2fms",
		priorVar, outliers, float64(time.Since(start).Nanoseconds())/1e6)
	return out, nil
}

func (e *Estimator) shrinkGene(y []int, x *mat.Dense, est GeneEstimate, trend dataset.DispersionTrend, priorVar, logVar, lo, hi float64) GeneDispersion {
	d := GeneDispersion{Genewise: est.Genewise, Usable: est.Usable}
	if !est.Usable {
		return d
	}
	d.Trend = trend.At(est.BaseMean)
	logTrend := math.Log(d.Trend)

	posterior := func(logA float64) float64 {
		dev := logA - logTrend
		return adjustedProfileLikelihood(y, x, est.Mu, math.Exp(logA)) - dev*dev/(2*priorVar)
	}
	d.MAP = math.Exp(maximise(posterior, lo, hi, clamp(logTrend, lo, hi)))

	d.Final = d.MAP
	if math.Log(est.Genewise) > logTrend+e.OutlierSD*math.Sqrt(logVar) {
		d.Final = est.Genewise
		d.Outlier = true
	}
	d.Final = clamp(d.Final, math.Exp(lo), math.Exp(hi))
	return d
}

// adjustedProfileLikelihood is the NB log-likelihood with the Cox-Reid
// correction -1/2 log det(X'WX).
func adjustedProfileLikelihood(y []int, x *mat.Dense, mu []float64, alpha float64) float64 {
	ll := nbglm.LogLikelihood(y, mu, alpha)
	logDet, ok := nbglm.LogDetInformation(x, mu, alpha)
	if !ok {
		return ll
	}
	return ll - 0.5*logDet
}

// roughDispersion is the smaller of a linear-model and a method-of-moments
// estimate on normalised counts.
func roughDispersion(y []int, x *mat.Dense, sf []float64) float64 {
	n, p := x.Dims()
	norm := nbglm.Normalized(y, sf)

	rough := math.Inf(1)
	var b mat.VecDense
	if err := b.SolveVec(x, mat.NewVecDense(n, append([]float64(nil), norm...))); err == nil {
		var fit mat.VecDense
		fit.MulVec(x, &b)
		s := 0.0
		for i, v := range norm {
			m := math.Max(fit.AtVec(i), 1)
			s += ((v-m)*(v-m) - m) / (m * m)
		}
		rough = math.Max(s/float64(n-p), 0)
	}

	mean, _ := stats.Mean(norm)
	variance, _ := stats.SampleVariance(norm)
	invSF := 0.0
	for _, s := range sf {
		invSF += 1 / s
	}
	invSF /= float64(n)
	moments := math.Inf(1)
	if mean > 0 {
		moments = (variance - invSF*mean) / (mean * mean)
	}

	return math.Min(rough, moments)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
