package dataset

import (
	"fmt"
	"sort"
	"strings"

	"neurodiff/domain/core"
)

// Design names the group factor and the covariates a model conditions on.
// Reference is mandatory: fold-changes are reported as Test relative to
// Reference, so a positive log2 fold-change means higher in Test.
type Design struct {
	Group      string   `json:"group"`      // metadata field holding the group label
	Reference  string   `json:"reference"`  // baseline level
	Test       string   `json:"test"`       // level compared against Reference
	Covariates []string `json:"covariates"` // numeric covariates
	Factors    []string `json:"factors"`    // categorical covariates (batch, sex, ...)
}

// ModelMatrix is a samples × coefficients design matrix.
type ModelMatrix struct {
	Columns []string
	Rows    [][]float64
	// TestColumn is the index of the Test-vs-Reference indicator.
	TestColumn int
}

// NumCoefficients returns the number of model coefficients
func (m *ModelMatrix) NumCoefficients() int { return len(m.Columns) }

// Resolve validates the design against ds and fills Test when the group has
// exactly two levels. The receiver is not modified.
func (d Design) Resolve(ds *Dataset) (Design, error) {
	if strings.TrimSpace(d.Reference) == "" {
		return d, core.ErrReferenceLevelUnset
	}
	if d.Group == "" {
		d.Group = "group"
	}
	if ds.NumSamples() < 2 {
		return d, fmt.Errorf("%w: design needs at least 2 samples, got %d", core.ErrInsufficientSamples, ds.NumSamples())
	}

	levels, err := d.groupLevels(ds)
	if err != nil {
		return d, err
	}
	if len(levels) < 2 {
		return d, fmt.Errorf("%w: group %q has %d level(s), need at least 2", core.ErrInvalidDesign, d.Group, len(levels))
	}
	if !contains(levels, d.Reference) {
		return d, fmt.Errorf("%w: reference level %q not among %v", core.ErrInvalidDesign, d.Reference, levels)
	}

	if d.Test == "" {
		if len(levels) > 2 {
			return d, fmt.Errorf("%w: group %q has %d levels, test level must be named", core.ErrInvalidDesign, d.Group, len(levels))
		}
		for _, l := range levels {
			if l != d.Reference {
				d.Test = l
			}
		}
	}
	if d.Test == d.Reference || !contains(levels, d.Test) {
		return d, fmt.Errorf("%w: test level %q invalid for reference %q", core.ErrInvalidDesign, d.Test, d.Reference)
	}

	for _, s := range ds.Samples {
		for _, c := range d.Covariates {
			if _, ok := s.Numeric(c); !ok {
				return d, core.NewMissingColumnError(c, s.ID)
			}
		}
		for _, f := range d.Factors {
			if _, ok := s.Field(f); !ok {
				return d, core.NewMissingColumnError(f, s.ID)
			}
		}
	}

	d.Covariates = append([]string(nil), d.Covariates...)
	d.Factors = append([]string(nil), d.Factors...)
	return d, nil
}

// Matrix builds the model matrix: intercept, centred numeric covariates,
// treatment-coded factors (sorted first level is baseline) and one indicator
// per non-reference group level. Call Resolve first.
func (d Design) Matrix(ds *Dataset) (*ModelMatrix, error) {
	levels, err := d.groupLevels(ds)
	if err != nil {
		return nil, err
	}

	n := ds.NumSamples()
	m := &ModelMatrix{Columns: []string{"intercept"}, TestColumn: -1}
	cols := [][]float64{ones(n)}

	for _, c := range d.Covariates {
		col := make([]float64, n)
		mean := 0.0
		for j, s := range ds.Samples {
			v, ok := s.Numeric(c)
			if !ok {
				return nil, core.NewMissingColumnError(c, s.ID)
			}
			col[j] = v
			mean += v
		}
		mean /= float64(n)
		for j := range col {
			col[j] -= mean
		}
		m.Columns = append(m.Columns, c)
		cols = append(cols, col)
	}

	for _, f := range d.Factors {
		values := make([]string, n)
		for j, s := range ds.Samples {
			v, ok := s.Field(f)
			if !ok {
				return nil, core.NewMissingColumnError(f, s.ID)
			}
			values[j] = v
		}
		fl := distinct(values)
		sort.Strings(fl)
		for _, level := range fl[1:] {
			col := make([]float64, n)
			for j, v := range values {
				if v == level {
					col[j] = 1
				}
			}
			m.Columns = append(m.Columns, f+"_"+level)
			cols = append(cols, col)
		}
	}

	for _, level := range levels {
		if level == d.Reference {
			continue
		}
		col := make([]float64, n)
		for j, s := range ds.Samples {
			g, _ := s.Field(d.Group)
			if g == level {
				col[j] = 1
			}
		}
		if level == d.Test {
			m.TestColumn = len(m.Columns)
		}
		m.Columns = append(m.Columns, fmt.Sprintf("%s_%s_vs_%s", d.Group, level, d.Reference))
		cols = append(cols, col)
	}
	if m.TestColumn < 0 {
		return nil, fmt.Errorf("%w: test level %q not present", core.ErrInvalidDesign, d.Test)
	}
	if len(m.Columns) >= n {
		return nil, fmt.Errorf("%w: %d coefficients need more than %d samples", core.ErrInsufficientSamples, len(m.Columns), n)
	}

	m.Rows = make([][]float64, n)
	for j := 0; j < n; j++ {
		m.Rows[j] = make([]float64, len(cols))
		for k, col := range cols {
			m.Rows[j][k] = col[j]
		}
	}
	return m, nil
}

// GroupLabels returns the group label of every sample, in sample order.
func (d Design) GroupLabels(ds *Dataset) []string {
	out := make([]string, ds.NumSamples())
	for j, s := range ds.Samples {
		out[j], _ = s.Field(d.Group)
	}
	return out
}

func (d Design) groupLevels(ds *Dataset) ([]string, error) {
	values := make([]string, 0, ds.NumSamples())
	for _, s := range ds.Samples {
		v, ok := s.Field(d.Group)
		if !ok {
			return nil, core.NewMissingColumnError(d.Group, s.ID)
		}
		values = append(values, v)
	}
	levels := distinct(values)
	sort.Strings(levels)
	return levels, nil
}

func distinct(values []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func ones(n int) []float64 {
	f := make([]float64, n)
	for i := range f {
		f[i] = 1
	}
	return f
}
