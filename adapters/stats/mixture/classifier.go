// Package mixture splits genes into expressed and background populations with
// a seeded two-component Gaussian mixture on median log2 counts.
package mixture

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"neurodiff/domain/core"
	"neurodiff/domain/dataset"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Components is the only supported model order.
const Components = 2

// Classifier fits the expressed/background mixture. The zero value is not
// usable; construct with NewClassifier.
type Classifier struct {
	Seed          int64
	MaxIter       int
	Tol           float64 // relative log-likelihood change for convergence
	Restarts      int
	MinWeight     float64 // smallest admissible mixing weight
	MinSeparation float64 // smallest admissible Ashman's D
	VarianceFloor float64 // relative to the variance of the fitted values
}

// NewClassifier creates a classifier with the given seed and default limits.
func NewClassifier(seed int64) *Classifier {
	return &Classifier{
		Seed:          seed,
		MaxIter:       1000,
		Tol:           1e-10,
		Restarts:      5,
		MinWeight:     0.01,
		MinSeparation: 2.0,
		VarianceFloor: 1e-6,
	}
}

type params struct {
	mu [2]float64
	v  [2]float64
	w  [2]float64
}

// Classify labels every gene of ds. Genes with zero total count never enter
// the fit and are labelled background.
func (c *Classifier) Classify(ctx context.Context, ds *dataset.Dataset) (*dataset.ExpressedGeneSet, error) {
	start := time.Now()

	medians := MedianLog2(ds.Counts)
	inFit := make([]bool, len(medians))
	x := make([]float64, 0, len(medians))
	for g, row := range ds.Counts {
		if total(row) > 0 {
			inFit[g] = true
			x = append(x, medians[g])
		}
	}

	fit, best, err := c.fit(ctx, x)
	if err != nil {
		return nil, err
	}

	set := &dataset.ExpressedGeneSet{
		GeneIDs:   append([]string(nil), ds.GeneIDs...),
		Expressed: make([]bool, len(medians)),
		Posterior: make([]float64, len(medians)),
		Seed:      c.Seed,
		Fit:       fit,
	}
	for g, m := range medians {
		if !inFit[g] {
			continue
		}
		post := best.posteriorHigh(m)
		set.Posterior[g] = post
		// Below the background mean the wider expressed tail can win; keep those in background.
		set.Expressed[g] = post > 0.5 && m > best.mu[0]
	}

	log.Printf("[Mixture] %d/%d genes expressed (means %.2f/%.2f, D=%.2f, %d iterations) in %.2fms",
		set.Count(), len(medians), fit.Means[0], fit.Means[1], fit.Separation, fit.Iterations,
		float64(time.Since(start).Nanoseconds())/1e6)
	return set, nil
}

// MedianLog2 returns the per-gene median of log2(count+1) across samples.
func MedianLog2(counts [][]int) []float64 {
	out := make([]float64, len(counts))
	buf := make([]float64, 0)
	for g, row := range counts {
		buf = buf[:0]
		for _, v := range row {
			buf = append(buf, math.Log2(float64(v)+1))
		}
		m, err := stats.Median(buf)
		if err != nil {
			m = 0
		}
		out[g] = m
	}
	return out
}

func (c *Classifier) fit(ctx context.Context, x []float64) (dataset.MixtureFit, params, error) {
	if len(x) < 4 {
		return dataset.MixtureFit{}, params{}, fmt.Errorf("%w: %d genes with non-zero counts, need at least 4", core.ErrMixtureDegenerate, len(x))
	}

	totalVar, err := stats.PopulationVariance(x)
	if err != nil || totalVar <= 0 {
		return dataset.MixtureFit{}, params{}, fmt.Errorf("%w: median log2 expression has zero variance", core.ErrMixtureDegenerate)
	}
	floor := c.VarianceFloor * totalVar

	rng := rand.New(rand.NewSource(c.Seed))

	var (
		best      params
		bestLL    = math.Inf(-1)
		bestIters int
		found     bool
		lastErr   error
	)
	restarts := c.Restarts
	if restarts < 1 {
		restarts = 1
	}
	for r := 0; r < restarts; r++ {
		if err := ctx.Err(); err != nil {
			return dataset.MixtureFit{}, params{}, err
		}

		init, err := initialParams(rng, x, totalVar)
		if err != nil {
			return dataset.MixtureFit{}, params{}, err
		}
		p, ll, iters, err := c.em(x, init, floor)
		if err != nil {
			lastErr = err
			continue
		}
		if ll > bestLL {
			best, bestLL, bestIters, found = p, ll, iters, true
		}
	}
	if !found {
		return dataset.MixtureFit{}, params{}, lastErr
	}

	if best.mu[0] > best.mu[1] {
		best.mu[0], best.mu[1] = best.mu[1], best.mu[0]
		best.v[0], best.v[1] = best.v[1], best.v[0]
		best.w[0], best.w[1] = best.w[1], best.w[0]
	}

	d := math.Sqrt2 * math.Abs(best.mu[1]-best.mu[0]) / math.Sqrt(best.v[0]+best.v[1])
	fit := dataset.MixtureFit{
		Means:         best.mu,
		Variances:     best.v,
		Weights:       best.w,
		LogLikelihood: bestLL,
		Iterations:    bestIters,
		Separation:    d,
		FitGenes:      len(x),
	}

	if math.Min(best.w[0], best.w[1]) < c.MinWeight {
		return fit, best, fmt.Errorf("%w: component weight %.4f below %.4f", core.ErrMixtureDegenerate, math.Min(best.w[0], best.w[1]), c.MinWeight)
	}
	if d < c.MinSeparation {
		return fit, best, fmt.Errorf("%w: components not separated (Ashman's D %.3f < %.3f)", core.ErrMixtureDegenerate, d, c.MinSeparation)
	}
	return fit, best, nil
}

// initialParams seeds the two means at distinct random data points.
func initialParams(rng *rand.Rand, x []float64, totalVar float64) (params, error) {
	for attempt := 0; attempt < 100; attempt++ {
		a := x[rng.Intn(len(x))]
		b := x[rng.Intn(len(x))]
		if a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		return params{
			mu: [2]float64{a, b},
			v:  [2]float64{totalVar, totalVar},
			w:  [2]float64{0.5, 0.5},
		}, nil
	}
	return params{}, fmt.Errorf("%w: could not draw two distinct starting means", core.ErrMixtureDegenerate)
}

func (c *Classifier) em(x []float64, p params, floor float64) (params, float64, int, error) {
	n := float64(len(x))
	resp := make([]float64, len(x))
	prevLL := math.Inf(-1)

	for iter := 1; iter <= c.MaxIter; iter++ {
		lo := distuv.Normal{Mu: p.mu[0], Sigma: math.Sqrt(p.v[0])}
		hi := distuv.Normal{Mu: p.mu[1], Sigma: math.Sqrt(p.v[1])}
		logW0, logW1 := math.Log(p.w[0]), math.Log(p.w[1])

		ll := 0.0
		for i, xi := range x {
			l0 := logW0 + lo.LogProb(xi)
			l1 := logW1 + hi.LogProb(xi)
			lse := logSumExp(l0, l1)
			resp[i] = math.Exp(l1 - lse)
			ll += lse
		}

		var n1, s1, s0 float64
		for i, xi := range x {
			n1 += resp[i]
			s1 += resp[i] * xi
			s0 += (1 - resp[i]) * xi
		}
		n0 := n - n1
		if n0 < 1e-9 || n1 < 1e-9 {
			return p, ll, iter, fmt.Errorf("%w: component emptied after %d iterations", core.ErrMixtureDegenerate, iter)
		}

		var next params
		next.mu = [2]float64{s0 / n0, s1 / n1}
		var v0, v1 float64
		for i, xi := range x {
			d0 := xi - next.mu[0]
			d1 := xi - next.mu[1]
			v0 += (1 - resp[i]) * d0 * d0
			v1 += resp[i] * d1 * d1
		}
		next.v = [2]float64{v0 / n0, v1 / n1}
		next.w = [2]float64{n0 / n, n1 / n}
		if next.v[0] < floor || next.v[1] < floor {
			return p, ll, iter, fmt.Errorf("%w: component variance collapsed (%.3g, %.3g)", core.ErrMixtureDegenerate, next.v[0], next.v[1])
		}
		p = next

		if math.Abs(ll-prevLL) <= c.Tol*(1+math.Abs(ll)) {
			return p, ll, iter, nil
		}
		prevLL = ll
	}
	return p, prevLL, c.MaxIter, fmt.Errorf("%w: no convergence within %d iterations", core.ErrMixtureNotConverged, c.MaxIter)
}

func (p params) posteriorHigh(x float64) float64 {
	lo := distuv.Normal{Mu: p.mu[0], Sigma: math.Sqrt(p.v[0])}
	hi := distuv.Normal{Mu: p.mu[1], Sigma: math.Sqrt(p.v[1])}
	l0 := math.Log(p.w[0]) + lo.LogProb(x)
	l1 := math.Log(p.w[1]) + hi.LogProb(x)
	return math.Exp(l1 - logSumExp(l0, l1))
}

func logSumExp(a, b float64) float64 {
	if a > b {
		return a + math.Log1p(math.Exp(b-a))
	}
	return b + math.Log1p(math.Exp(a-b))
}

func total(row []int) int {
	s := 0
	for _, v := range row {
		s += v
	}
	return s
}
