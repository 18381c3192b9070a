// Package pca projects samples onto principal components of normalised
// expression and correlates each component with sample metadata.
package pca

import (
	"fmt"
	"log"
	"math"

	"neurodiff/domain/core"
	"neurodiff/domain/dataset"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultComponents is the number of components reported by default.
const DefaultComponents = 5

// Projection holds per-sample scores on the leading components.
type Projection struct {
	SampleIDs         []string           `json:"sample_ids"`
	Scores            [][]float64        `json:"scores"` // samples × components
	VarianceExplained []float64          `json:"variance_explained"`
	Correlations      []EigenCorrelation `json:"correlations,omitempty"`
}

// Components returns the number of retained components.
func (p *Projection) Components() int { return len(p.VarianceExplained) }

// Component returns the scores of component pc (1-based).
func (p *Projection) Component(pc int) []float64 {
	out := make([]float64, len(p.Scores))
	for j, row := range p.Scores {
		out[j] = row[pc-1]
	}
	return out
}

// Project runs PCA with samples as observations and genes as variables.
// At most min(samples-1, genes, components) components are returned.
func Project(m *dataset.NormalizedMatrix, components int) (*Projection, error) {
	nGenes := len(m.Values)
	nSamples := len(m.SampleIDs)
	if nSamples < 2 || nGenes < 1 {
		return nil, fmt.Errorf("%w: PCA needs at least 2 samples and 1 gene, got %d and %d", core.ErrInsufficientData, nSamples, nGenes)
	}
	if components <= 0 {
		components = DefaultComponents
	}
	k := min(components, nSamples-1, nGenes)

	a := mat.NewDense(nSamples, nGenes, nil)
	for g, row := range m.Values {
		if len(row) != nSamples {
			return nil, core.NewDimensionError("normalized row", len(row), nSamples)
		}
		for j, v := range row {
			a.Set(j, g, v)
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(a, nil); !ok {
		return nil, fmt.Errorf("%w: principal component decomposition failed", core.ErrInsufficientData)
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	totalVar := 0.0
	for _, v := range vars {
		totalVar += v
	}

	centred := mat.DenseCopyOf(a)
	for g := 0; g < nGenes; g++ {
		mean := stat.Mean(mat.Col(nil, g, a), nil)
		for j := 0; j < nSamples; j++ {
			centred.Set(j, g, a.At(j, g)-mean)
		}
	}
	var scores mat.Dense
	scores.Mul(centred, vecs.Slice(0, nGenes, 0, k))

	p := &Projection{
		SampleIDs:         append([]string(nil), m.SampleIDs...),
		Scores:            make([][]float64, nSamples),
		VarianceExplained: make([]float64, k),
	}
	for c := 0; c < k; c++ {
		if totalVar > 0 {
			p.VarianceExplained[c] = vars[c] / totalVar
		}
		// Fix the sign so the largest loading is positive.
		sign := 1.0
		best := 0.0
		for g := 0; g < nGenes; g++ {
			if v := vecs.At(g, c); math.Abs(v) > math.Abs(best) {
				best = v
			}
		}
		if best < 0 {
			sign = -1
		}
		for j := 0; j < nSamples; j++ {
			if c == 0 {
				p.Scores[j] = make([]float64, k)
			}
			p.Scores[j][c] = sign * scores.At(j, c)
		}
	}

	log.Printf("[PCA] %d samples × %d genes, PC1 explains %.1f%%", nSamples, nGenes, 100*p.VarianceExplained[0])
	return p, nil
}
