package dispersion

import (
	"errors"
	"fmt"
	"math"

	"neurodiff/domain/dataset"

	"gonum.org/v1/gonum/mat"
)

var errTrendNotConverged = errors.New("parametric dispersion trend did not converge")

// FitParametricTrend fits alpha = a0 + a1/mu with a gamma-family identity-link
// GLM, iteratively dropping genes whose ratio to the current fit falls outside
// (1e-4, 15). Both coefficients must stay positive.
func FitParametricTrend(means, disps []float64) (dataset.DispersionTrend, error) {
	if len(means) != len(disps) || len(means) < 3 {
		return dataset.DispersionTrend{}, fmt.Errorf("need at least 3 genes for a trend, have %d", len(means))
	}

	coefs := [2]float64{0.1, 1}
	for iter := 0; iter < 10; iter++ {
		var xs, ys []float64
		for i, m := range means {
			r := disps[i] / (coefs[0] + coefs[1]/m)
			if r > 1e-4 && r < 15 {
				xs = append(xs, 1/m)
				ys = append(ys, disps[i])
			}
		}
		if len(xs) < 3 {
			return dataset.DispersionTrend{}, fmt.Errorf("only %d genes left after residual filtering", len(xs))
		}

		next, err := gammaIdentityGLM(xs, ys, coefs)
		if err != nil {
			return dataset.DispersionTrend{}, err
		}
		if next[0] <= 0 || next[1] <= 0 {
			return dataset.DispersionTrend{}, fmt.Errorf("non-positive trend coefficients (%.4g, %.4g)", next[0], next[1])
		}

		change := math.Pow(math.Log(next[0]/coefs[0]), 2) + math.Pow(math.Log(next[1]/coefs[1]), 2)
		coefs = next
		if change < 1e-6 {
			return dataset.DispersionTrend{Asymptotic: coefs[0], Extra: coefs[1], Parametric: true}, nil
		}
	}
	return dataset.DispersionTrend{}, errTrendNotConverged
}

// gammaIdentityGLM solves y ~ b0 + b1*x by IRLS with weights 1/fitted^2.
func gammaIdentityGLM(xs, ys []float64, start [2]float64) ([2]float64, error) {
	n := len(xs)
	coefs := start
	a := mat.NewDense(n, 2, nil)
	b := mat.NewVecDense(n, nil)
	for iter := 0; iter < 25; iter++ {
		for i := range xs {
			fit := coefs[0] + coefs[1]*xs[i]
			if fit <= 0 {
				return coefs, fmt.Errorf("fitted dispersion became non-positive")
			}
			w := 1 / fit
			a.Set(i, 0, w)
			a.Set(i, 1, w*xs[i])
			b.SetVec(i, w*ys[i])
		}
		var sol mat.VecDense
		if err := sol.SolveVec(a, b); err != nil {
			return coefs, err
		}
		next := [2]float64{sol.AtVec(0), sol.AtVec(1)}
		done := math.Abs(next[0]-coefs[0]) <= 1e-8*(math.Abs(coefs[0])+1e-8) &&
			math.Abs(next[1]-coefs[1]) <= 1e-8*(math.Abs(coefs[1])+1e-8)
		coefs = next
		if done {
			break
		}
	}
	return coefs, nil
}
