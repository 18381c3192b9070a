// Package multitest implements the Benjamini-Hochberg step-up correction
// shared by differential expression and enrichment.
package multitest

import (
	"math"
	"sort"
)

// BenjaminiHochberg returns BH-adjusted p-values. Nil entries are not tests:
// they stay nil and do not count towards the number of hypotheses m. The
// output is monotone in the raw p-values and clamped to [0,1].
func BenjaminiHochberg(pvalues []*float64) []*float64 {
	adjusted := make([]*float64, len(pvalues))

	idx := make([]int, 0, len(pvalues))
	for i, p := range pvalues {
		if p != nil && !math.IsNaN(*p) {
			idx = append(idx, i)
		}
	}
	m := len(idx)
	if m == 0 {
		return adjusted
	}

	sort.SliceStable(idx, func(a, b int) bool {
		return *pvalues[idx[a]] < *pvalues[idx[b]]
	})

	// Step up from the largest p-value, carrying the running minimum.
	running := 1.0
	for rank := m; rank >= 1; rank-- {
		i := idx[rank-1]
		p := *pvalues[i]
		q := math.Max(p, p*(float64(m)/float64(rank)))
		if q < running {
			running = q
		}
		v := clamp01(running)
		adjusted[i] = &v
	}
	return adjusted
}

// Adjust is BenjaminiHochberg for dense inputs where every value is a test.
func Adjust(pvalues []float64) []float64 {
	ptrs := make([]*float64, len(pvalues))
	for i := range pvalues {
		ptrs[i] = &pvalues[i]
	}
	adj := BenjaminiHochberg(ptrs)
	out := make([]float64, len(pvalues))
	for i, a := range adj {
		if a == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *a
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
