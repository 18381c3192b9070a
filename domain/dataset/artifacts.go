package dataset

// MixtureFit records the fitted two-component Gaussian mixture on per-gene
// median log2 expression. Index 1 is always the higher-mean component.
type MixtureFit struct {
	Means         [2]float64 `json:"means"`
	Variances     [2]float64 `json:"variances"`
	Weights       [2]float64 `json:"weights"`
	LogLikelihood float64    `json:"log_likelihood"`
	Iterations    int        `json:"iterations"`
	Separation    float64    `json:"separation"` // Ashman's D
	FitGenes      int        `json:"fit_genes"`
}

// ExpressedGeneSet is the immutable classifier output for one dataset + seed.
type ExpressedGeneSet struct {
	GeneIDs   []string   `json:"gene_ids"`
	Expressed []bool     `json:"expressed"`
	Posterior []float64  `json:"posterior"` // P(expressed | median log2 count)
	Seed      int64      `json:"seed"`
	Fit       MixtureFit `json:"fit"`
}

// Count returns the number of expressed genes.
func (s *ExpressedGeneSet) Count() int {
	n := 0
	for _, e := range s.Expressed {
		if e {
			n++
		}
	}
	return n
}

// IDs returns the expressed gene ids in dataset order.
func (s *ExpressedGeneSet) IDs() []string {
	var out []string
	for g, e := range s.Expressed {
		if e {
			out = append(out, s.GeneIDs[g])
		}
	}
	return out
}

// DispersionTrend is the parametric mean-dispersion relationship
// alpha(mu) = Asymptotic + Extra/mu.
type DispersionTrend struct {
	Asymptotic float64 `json:"asymptotic"`
	Extra      float64 `json:"extra"`
	Parametric bool    `json:"parametric"` // false when the fit fell back to a constant
}

// At evaluates the trend at mean mu.
func (t DispersionTrend) At(mu float64) float64 {
	if mu <= 0 {
		return t.Asymptotic + t.Extra
	}
	return t.Asymptotic + t.Extra/mu
}

// NormalizedMatrix holds variance-stabilised expression values. It is only
// comparable to matrices produced under the same Design.
type NormalizedMatrix struct {
	GeneIDs     []string        `json:"gene_ids"`
	Symbols     []string        `json:"symbols"`
	SampleIDs   []string        `json:"sample_ids"`
	Values      [][]float64     `json:"values"` // genes × samples
	Design      Design          `json:"design"`
	SizeFactors []float64       `json:"size_factors"`
	Trend       DispersionTrend `json:"trend"`
}

// Rows returns a new matrix restricted to the given row indices, in order.
func (m *NormalizedMatrix) Rows(idx []int) *NormalizedMatrix {
	out := &NormalizedMatrix{
		SampleIDs:   append([]string(nil), m.SampleIDs...),
		Design:      m.Design,
		SizeFactors: append([]float64(nil), m.SizeFactors...),
		Trend:       m.Trend,
	}
	for _, g := range idx {
		out.GeneIDs = append(out.GeneIDs, m.GeneIDs[g])
		out.Symbols = append(out.Symbols, m.Symbols[g])
		out.Values = append(out.Values, append([]float64(nil), m.Values[g]...))
	}
	return out
}
