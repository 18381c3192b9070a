package nbglm

import "math"

// LogPMF is the negative-binomial log probability of y with mean mu and
// dispersion alpha (variance mu + alpha*mu^2).
func LogPMF(y int, mu, alpha float64) float64 {
	k := float64(y)
	r := 1 / alpha
	a, _ := math.Lgamma(k + r)
	b, _ := math.Lgamma(r)
	c, _ := math.Lgamma(k + 1)
	return a - b - c + k*math.Log(mu/(mu+r)) + r*math.Log(r/(mu+r))
}

// LogLikelihood sums LogPMF over the samples of one gene.
func LogLikelihood(y []int, mu []float64, alpha float64) float64 {
	ll := 0.0
	for i, v := range y {
		ll += LogPMF(v, mu[i], alpha)
	}
	return ll
}

// Deviance is -2 times the log-likelihood.
func Deviance(y []int, mu []float64, alpha float64) float64 {
	return -2 * LogLikelihood(y, mu, alpha)
}
