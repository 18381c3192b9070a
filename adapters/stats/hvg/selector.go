// Package hvg picks the genes with the highest variance across samples.
package hvg

import (
	"sort"

	"neurodiff/domain/dataset"

	"github.com/montanaflynn/stats"
)

// DefaultK is the number of genes kept when no count is configured.
const DefaultK = 500

// Selection is an ordered set of row indices into a NormalizedMatrix.
type Selection struct {
	Indices   []int     // descending variance, ties in original gene order
	Variances []float64 // variance of each selected gene
	source    *dataset.NormalizedMatrix
}

// Select returns the k most variable genes of m. When k exceeds the number
// of genes every gene is selected; k <= 0 selects DefaultK.
func Select(m *dataset.NormalizedMatrix, k int) Selection {
	if k <= 0 {
		k = DefaultK
	}
	variances := make([]float64, len(m.Values))
	for g, row := range m.Values {
		v, err := stats.SampleVariance(row)
		if err != nil {
			v = 0
		}
		variances[g] = v
	}

	order := make([]int, len(variances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return variances[order[a]] > variances[order[b]]
	})
	if k > len(order) {
		k = len(order)
	}

	sel := Selection{Indices: order[:k], Variances: make([]float64, k), source: m}
	for i, g := range sel.Indices {
		sel.Variances[i] = variances[g]
	}
	return sel
}

// GeneIDs returns the selected gene ids in selection order.
func (s Selection) GeneIDs() []string {
	out := make([]string, len(s.Indices))
	for i, g := range s.Indices {
		out[i] = s.source.GeneIDs[g]
	}
	return out
}

// Subset returns a new matrix holding only the selected rows.
func (s Selection) Subset() *dataset.NormalizedMatrix {
	return s.source.Rows(s.Indices)
}
