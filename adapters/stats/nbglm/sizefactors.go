// Package nbglm fits negative-binomial generalised linear models with a log
// link and a per-sample size-factor offset.
package nbglm

import (
	"fmt"
	"math"

	"neurodiff/domain/core"

	"github.com/montanaflynn/stats"
)

// SizeFactors estimates per-sample size factors with the median-of-ratios
// method. Only genes with a positive count in every sample contribute to the
// geometric reference.
func SizeFactors(counts [][]int) ([]float64, error) {
	if len(counts) == 0 {
		return nil, fmt.Errorf("%w: no genes", core.ErrSizeFactors)
	}
	nSamples := len(counts[0])
	if nSamples == 0 {
		return nil, fmt.Errorf("%w: no samples", core.ErrSizeFactors)
	}

	ratios := make([][]float64, nSamples)
	used := 0
	for _, row := range counts {
		if !allPositive(row) {
			continue
		}
		logGeo := 0.0
		for _, c := range row {
			logGeo += math.Log(float64(c))
		}
		logGeo /= float64(nSamples)
		for j, c := range row {
			ratios[j] = append(ratios[j], math.Log(float64(c))-logGeo)
		}
		used++
	}
	if used == 0 {
		return nil, fmt.Errorf("%w: every gene has a zero in at least one sample", core.ErrSizeFactors)
	}

	sf := make([]float64, nSamples)
	for j := range sf {
		m, err := stats.Median(ratios[j])
		if err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", core.ErrSizeFactors, j, err)
		}
		sf[j] = math.Exp(m)
	}
	return sf, nil
}

// Normalized divides each count by its sample's size factor.
func Normalized(row []int, sf []float64) []float64 {
	out := make([]float64, len(row))
	for j, c := range row {
		out[j] = float64(c) / sf[j]
	}
	return out
}

// BaseMean is the mean of the size-factor normalised counts.
func BaseMean(row []int, sf []float64) float64 {
	m, err := stats.Mean(Normalized(row, sf))
	if err != nil {
		return 0
	}
	return m
}

func allPositive(row []int) bool {
	for _, c := range row {
		if c <= 0 {
			return false
		}
	}
	return true
}

// AllZero reports whether a gene has no counts in any sample.
func AllZero(row []int) bool {
	for _, c := range row {
		if c != 0 {
			return false
		}
	}
	return true
}
