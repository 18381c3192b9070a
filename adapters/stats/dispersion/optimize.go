package dispersion

import (
	"math"

	"gonum.org/v1/gonum/optimize"
)

const gridPoints = 21

// maximise finds the maximum of f on [lo, hi] with a coarse grid followed by
// Nelder-Mead refinement from the best grid point.
func maximise(f func(float64) float64, lo, hi, start float64) float64 {
	best, bestVal := start, f(start)
	step := (hi - lo) / (gridPoints - 1)
	for k := 0; k < gridPoints; k++ {
		x := lo + float64(k)*step
		if v := f(x); v > bestVal {
			best, bestVal = x, v
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			c := clamp(x[0], lo, hi)
			v := f(c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return math.MaxFloat64
			}
			// Outside the bounds the objective keeps rising so the simplex walks back.
			return -v + 1e3*(x[0]-c)*(x[0]-c)
		},
	}
	settings := &optimize.Settings{FuncEvaluations: 200}
	result, _ := optimize.Minimize(problem, []float64{best}, settings, &optimize.NelderMead{})
	if result != nil && len(result.X) == 1 {
		x := clamp(result.X[0], lo, hi)
		if v := f(x); v > bestVal {
			return x
		}
	}
	return best
}

// Trigamma is the second derivative of log Gamma.
func Trigamma(x float64) float64 {
	if x <= 0 {
		return math.NaN()
	}
	acc := 0.0
	for x < 10 {
		acc += 1 / (x * x)
		x++
	}
	x2 := 1 / (x * x)
	// Asymptotic expansion: 1/x + 1/2x^2 + 1/6x^3 - 1/30x^5 + 1/42x^7 - 1/30x^9 + 5/66x^11
	series := 1/x + x2/2 + (x2/x)*(1.0/6-x2*(1.0/30-x2*(1.0/42-x2*(1.0/30-x2*5.0/66))))
	return acc + series
}
