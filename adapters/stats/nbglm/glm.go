package nbglm

import (
	"errors"
	"fmt"
	"math"

	"neurodiff/domain/dataset"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrSingular is returned when the weighted normal equations cannot be solved.
	ErrSingular = errors.New("weighted design matrix is singular")
	// ErrNotConverged is returned when IRLS exhausts its iterations.
	ErrNotConverged = errors.New("IRLS did not converge")
	// ErrNonFinite is returned when coefficients or deviance stop being finite.
	ErrNonFinite = errors.New("non-finite coefficients")
)

// maxLogCoefficient bounds |beta| on the natural log scale (2^30 fold).
var maxLogCoefficient = 30 * math.Ln2

// Options controls the IRLS solver.
type Options struct {
	MaxIter int
	Tol     float64 // relative deviance change
	Ridge   float64 // added to the diagonal of X'WX
	MinMu   float64 // floor on fitted means inside the iteration
}

// DefaultOptions returns the solver settings used by the pipeline.
func DefaultOptions() Options {
	return Options{MaxIter: 100, Tol: 1e-8, Ridge: 1e-6, MinMu: 0.5}
}

// Fit is a single-gene GLM fit. Coefficients are on the natural log scale.
type Fit struct {
	Beta       []float64
	SE         []float64
	Mu         []float64
	Deviance   float64
	Iterations int
}

// DesignMatrix converts a model matrix into a dense samples × coefficients matrix.
func DesignMatrix(mm *dataset.ModelMatrix) *mat.Dense {
	n := len(mm.Rows)
	p := mm.NumCoefficients()
	x := mat.NewDense(n, p, nil)
	for i, row := range mm.Rows {
		x.SetRow(i, row)
	}
	return x
}

// FitGene fits y ~ NB(mu, alpha) with log(mu) = X beta + log(sf).
func FitGene(y []int, x *mat.Dense, sf []float64, alpha float64, opts Options) (*Fit, error) {
	n, p := x.Dims()
	if len(y) != n || len(sf) != n {
		return nil, fmt.Errorf("gene has %d counts and %d size factors for %d design rows", len(y), len(sf), n)
	}

	beta, err := initialBeta(y, x, sf)
	if err != nil {
		return nil, err
	}

	mu := make([]float64, n)
	w := make([]float64, n)
	z := make([]float64, n)
	fitted(x, beta, sf, opts.MinMu, mu)

	dev := Deviance(y, mu, alpha)
	iter := 0
	converged := false
	for iter = 1; iter <= opts.MaxIter; iter++ {
		for i := 0; i < n; i++ {
			w[i] = mu[i] / (1 + alpha*mu[i])
			z[i] = math.Log(mu[i]/sf[i]) + (float64(y[i])-mu[i])/mu[i]
		}

		var ch mat.Cholesky
		if !ch.Factorize(weightedGram(x, w, opts.Ridge)) {
			return nil, ErrSingular
		}
		rhs := mat.NewVecDense(p, nil)
		for k := 0; k < p; k++ {
			s := 0.0
			for i := 0; i < n; i++ {
				s += x.At(i, k) * w[i] * z[i]
			}
			rhs.SetVec(k, s)
		}
		var next mat.VecDense
		if err := ch.SolveVecTo(&next, rhs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSingular, err)
		}
		for k := 0; k < p; k++ {
			beta[k] = next.AtVec(k)
			if math.IsNaN(beta[k]) || math.IsInf(beta[k], 0) {
				return nil, ErrNonFinite
			}
		}
		if maxAbs(beta) > maxLogCoefficient {
			break
		}

		fitted(x, beta, sf, opts.MinMu, mu)
		newDev := Deviance(y, mu, alpha)
		if math.IsNaN(newDev) || math.IsInf(newDev, 0) {
			return nil, ErrNonFinite
		}
		if math.Abs(newDev-dev)/(math.Abs(newDev)+0.1) < opts.Tol {
			dev = newDev
			converged = true
			break
		}
		dev = newDev
	}
	if !converged {
		return nil, fmt.Errorf("%w after %d iterations", ErrNotConverged, iter)
	}

	for i := 0; i < n; i++ {
		w[i] = mu[i] / (1 + alpha*mu[i])
	}
	var ch mat.Cholesky
	if !ch.Factorize(weightedGram(x, w, opts.Ridge)) {
		return nil, ErrSingular
	}
	var cov mat.SymDense
	if err := ch.InverseTo(&cov); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	se := make([]float64, p)
	for k := range se {
		se[k] = math.Sqrt(cov.At(k, k))
	}

	return &Fit{
		Beta:       beta,
		SE:         se,
		Mu:         mu,
		Deviance:   dev,
		Iterations: iter,
	}, nil
}

// LogDetInformation returns log det(X'WX) with W = mu/(1+alpha*mu), the
// Cox-Reid adjustment term.
func LogDetInformation(x *mat.Dense, mu []float64, alpha float64) (float64, bool) {
	w := make([]float64, len(mu))
	for i, m := range mu {
		w[i] = m / (1 + alpha*m)
	}
	var ch mat.Cholesky
	if !ch.Factorize(weightedGram(x, w, 0)) {
		return 0, false
	}
	return ch.LogDet(), true
}

// initialBeta solves least squares on log normalised counts.
func initialBeta(y []int, x *mat.Dense, sf []float64) ([]float64, error) {
	n, p := x.Dims()
	z := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		z.SetVec(i, math.Log(float64(y[i])/sf[i]+0.1))
	}
	var b mat.VecDense
	if err := b.SolveVec(x, z); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	beta := make([]float64, p)
	for k := range beta {
		beta[k] = b.AtVec(k)
	}
	return beta, nil
}

func weightedGram(x *mat.Dense, w []float64, ridge float64) *mat.SymDense {
	n, p := x.Dims()
	g := mat.NewSymDense(p, nil)
	for a := 0; a < p; a++ {
		for b := a; b < p; b++ {
			s := 0.0
			for i := 0; i < n; i++ {
				s += x.At(i, a) * w[i] * x.At(i, b)
			}
			if a == b {
				s += ridge
			}
			g.SetSym(a, b, s)
		}
	}
	return g
}

func fitted(x *mat.Dense, beta, sf []float64, minMu float64, mu []float64) {
	n, p := x.Dims()
	for i := 0; i < n; i++ {
		eta := 0.0
		for k := 0; k < p; k++ {
			eta += x.At(i, k) * beta[k]
		}
		mu[i] = math.Max(sf[i]*math.Exp(eta), minMu)
	}
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
