package stats

import (
	"math"
	"sort"

	"neurodiff/domain/dataset"
)

// TestStatus tells whether a gene received a Wald test.
type TestStatus string

const (
	StatusTested   TestStatus = "tested"
	StatusUntested TestStatus = "untested"
)

// DefaultAlpha is the adjusted p-value cutoff used for summaries.
const DefaultAlpha = 0.1

// GeneRecord is one row of the differential expression table.
// PValue, PAdj and Stat are nil for untested genes.
type GeneRecord struct {
	GeneID         string     `json:"gene_id" db:"gene_id"`
	Symbol         string     `json:"symbol" db:"symbol"`
	BaseMean       float64    `json:"base_mean" db:"base_mean"`
	Log2FoldChange float64    `json:"log2_fold_change" db:"log2_fold_change"`
	LfcSE          float64    `json:"lfc_se" db:"lfc_se"`
	Stat           *float64   `json:"stat" db:"stat"`
	PValue         *float64   `json:"pvalue" db:"pvalue"`
	PAdj           *float64   `json:"padj" db:"padj"`
	Dispersion     float64    `json:"dispersion" db:"dispersion"`
	Status         TestStatus `json:"status" db:"status"`
	Reason         string     `json:"reason,omitempty" db:"reason"`
}

// Tested reports whether the gene carries a p-value.
func (r GeneRecord) Tested() bool {
	return r.Status == StatusTested && r.PValue != nil
}

// DEResult is the full differential expression table for one design.
type DEResult struct {
	Design      dataset.Design          `json:"design"`
	Coefficient string                  `json:"coefficient"`
	SizeFactors []float64               `json:"size_factors"`
	Trend       dataset.DispersionTrend `json:"trend"`
	PriorVar    float64                 `json:"prior_var"`
	Records     []GeneRecord            `json:"records"`
}

// Summary counts genes passing an adjusted p-value cutoff, split by sign.
type Summary struct {
	Alpha       float64 `json:"alpha"`
	Total       int     `json:"total"`
	Tested      int     `json:"tested"`
	Untested    int     `json:"untested"`
	Significant int     `json:"significant"`
	Up          int     `json:"up"`
	Down        int     `json:"down"`
}

// Summarize counts significant genes at alpha; Up means higher in the test
// level relative to the reference.
func (r *DEResult) Summarize(alpha float64) Summary {
	s := Summary{Alpha: alpha, Total: len(r.Records)}
	for _, rec := range r.Records {
		if !rec.Tested() {
			s.Untested++
			continue
		}
		s.Tested++
		if rec.PAdj == nil || *rec.PAdj >= alpha {
			continue
		}
		s.Significant++
		if rec.Log2FoldChange > 0 {
			s.Up++
		} else if rec.Log2FoldChange < 0 {
			s.Down++
		}
	}
	return s
}

// SortRecords orders records by adjusted p ascending, raw p ascending, then
// log2 fold-change descending. Untested genes sink to the bottom; remaining
// ties keep their input order.
func SortRecords(records []GeneRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if c := compareNullable(a.PAdj, b.PAdj); c != 0 {
			return c < 0
		}
		if c := compareNullable(a.PValue, b.PValue); c != 0 {
			return c < 0
		}
		return a.Log2FoldChange > b.Log2FoldChange
	})
}

// compareNullable orders nil after every value.
func compareNullable(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}

// Lookup finds a record by gene id.
func (r *DEResult) Lookup(geneID string) (GeneRecord, bool) {
	for _, rec := range r.Records {
		if rec.GeneID == geneID {
			return rec, true
		}
	}
	return GeneRecord{}, false
}

// Float returns a pointer to v, or nil when v is not finite.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
