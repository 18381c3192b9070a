package pca

import (
	"fmt"
	"math"
	"sort"

	"neurodiff/domain/core"
	"neurodiff/domain/dataset"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Kind distinguishes numeric covariates from categorical fields.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
)

// EigenCorrelation associates one component with one metadata field.
// Statistic is Pearson r for numeric fields and eta for categorical ones.
type EigenCorrelation struct {
	Component int     `json:"component"` // 1-based
	Field     string  `json:"field"`
	Kind      Kind    `json:"kind"`
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
}

// EigenCorrelate tests every retained component against each numeric
// covariate and categorical factor. p is not modified; attach the results
// with WithCorrelations. They are advisory and play no part in differential
// testing.
func EigenCorrelate(p *Projection, samples []dataset.SampleMeta, covariates, factors []string) ([]EigenCorrelation, error) {
	if len(samples) != len(p.SampleIDs) {
		return nil, core.NewDimensionError("sample metadata", len(samples), len(p.SampleIDs))
	}
	for j, s := range samples {
		if s.ID != p.SampleIDs[j] {
			return nil, fmt.Errorf("%w: sample %d is %q in metadata but %q in projection", core.ErrDimensionMismatch, j, s.ID, p.SampleIDs[j])
		}
	}

	var out []EigenCorrelation
	for c := 1; c <= p.Components(); c++ {
		scores := p.Component(c)
		for _, field := range covariates {
			values := make([]float64, len(samples))
			for j, s := range samples {
				v, ok := s.Numeric(field)
				if !ok {
					return nil, core.NewMissingColumnError(field, s.ID)
				}
				values[j] = v
			}
			r, pv := pearson(scores, values)
			out = append(out, EigenCorrelation{Component: c, Field: field, Kind: KindNumeric, Statistic: r, PValue: pv})
		}
		for _, field := range factors {
			labels := make([]string, len(samples))
			for j, s := range samples {
				v, ok := s.Field(field)
				if !ok {
					return nil, core.NewMissingColumnError(field, s.ID)
				}
				labels[j] = v
			}
			eta, pv := oneWay(scores, labels)
			out = append(out, EigenCorrelation{Component: c, Field: field, Kind: KindCategorical, Statistic: eta, PValue: pv})
		}
	}
	return out, nil
}

// WithCorrelations returns a copy of p carrying corr.
func (p *Projection) WithCorrelations(corr []EigenCorrelation) *Projection {
	cp := *p
	cp.Correlations = append([]EigenCorrelation(nil), corr...)
	return &cp
}

// CorrelationFor returns the stored association of component pc with field.
func (p *Projection) CorrelationFor(pc int, field string) (EigenCorrelation, bool) {
	for _, c := range p.Correlations {
		if c.Component == pc && c.Field == field {
			return c, true
		}
	}
	return EigenCorrelation{}, false
}

func pearson(x, y []float64) (float64, float64) {
	n := float64(len(x))
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) || n < 3 {
		return 0, 1
	}
	if math.Abs(r) >= 1 {
		return r, 0
	}
	t := r * math.Sqrt((n-2)/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: n - 2}
	return r, 2 * dist.Survival(math.Abs(t))
}

// oneWay returns eta (the square root of the between-group share of the sum
// of squares) and the one-way ANOVA F-test p-value.
func oneWay(x []float64, labels []string) (float64, float64) {
	groups := make(map[string][]float64)
	for j, l := range labels {
		groups[l] = append(groups[l], x[j])
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	grand := stat.Mean(x, nil)
	var ssb, ssw float64
	for _, k := range keys {
		vals := groups[k]
		m := stat.Mean(vals, nil)
		ssb += float64(len(vals)) * (m - grand) * (m - grand)
		for _, v := range vals {
			ssw += (v - m) * (v - m)
		}
	}
	sst := ssb + ssw
	levels := float64(len(keys))
	n := float64(len(x))
	if levels < 2 || sst == 0 {
		return 0, 1
	}
	eta := math.Sqrt(ssb / sst)
	if n-levels < 1 {
		return eta, 1
	}
	if ssw == 0 {
		return eta, 0
	}
	f := (ssb / (levels - 1)) / (ssw / (n - levels))
	dist := distuv.F{D1: levels - 1, D2: n - levels}
	return eta, dist.Survival(f)
}
