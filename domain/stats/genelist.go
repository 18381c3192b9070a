package stats

import (
	"fmt"
	"math"
)

// Metric selects which significance column a threshold reads.
type Metric string

const (
	MetricPValue Metric = "pvalue"
	MetricPAdj   Metric = "padj"
)

// Threshold is a (fold-change, significance, metric) triple. A gene passes when
// |log2FC| > MinAbsLog2FC and its Metric value < MaxSignificance.
type Threshold struct {
	Name            string  `json:"name"`
	MinAbsLog2FC    float64 `json:"min_abs_log2fc"`
	MaxSignificance float64 `json:"max_significance"`
	Metric          Metric  `json:"metric"`
}

// String renders the threshold the way it is labelled in reports.
func (t Threshold) String() string {
	return fmt.Sprintf("|log2FC|>%g, %s<%g", t.MinAbsLog2FC, t.Metric, t.MaxSignificance)
}

// Validate rejects unknown metrics and out-of-range cutoffs.
func (t Threshold) Validate() error {
	if t.Metric != MetricPValue && t.Metric != MetricPAdj {
		return fmt.Errorf("threshold %q: unknown metric %q", t.Name, t.Metric)
	}
	if t.MinAbsLog2FC < 0 || math.IsNaN(t.MinAbsLog2FC) {
		return fmt.Errorf("threshold %q: fold-change cutoff must be >= 0", t.Name)
	}
	if t.MaxSignificance <= 0 || t.MaxSignificance > 1 {
		return fmt.Errorf("threshold %q: significance cutoff must be in (0,1]", t.Name)
	}
	return nil
}

// DefaultThresholds returns the three list configurations used for enrichment.
func DefaultThresholds() []Threshold {
	return []Threshold{
		{Name: "fdr10", MinAbsLog2FC: 0, MaxSignificance: 0.1, Metric: MetricPAdj},
		{Name: "lfc0.5_fdr05", MinAbsLog2FC: 0.5, MaxSignificance: 0.05, Metric: MetricPAdj},
		{Name: "lfc0.5_p001", MinAbsLog2FC: 0.5, MaxSignificance: 0.001, Metric: MetricPValue},
	}
}

// Passes reports whether rec satisfies t. Untested genes never pass.
func (t Threshold) Passes(rec GeneRecord) bool {
	if !rec.Tested() {
		return false
	}
	var sig *float64
	switch t.Metric {
	case MetricPAdj:
		sig = rec.PAdj
	default:
		sig = rec.PValue
	}
	if sig == nil || !(*sig < t.MaxSignificance) {
		return false
	}
	return math.Abs(rec.Log2FoldChange) > t.MinAbsLog2FC
}

// GeneList is an ordered, de-duplicated symbol view over a DEResult.
type GeneList struct {
	Threshold Threshold `json:"threshold"`
	Symbols   []string  `json:"symbols"`
	Up        int       `json:"up"`
	Down      int       `json:"down"`
}

// Len returns the number of symbols in the list.
func (l GeneList) Len() int { return len(l.Symbols) }

// Empty reports whether no gene passed the threshold.
func (l GeneList) Empty() bool { return len(l.Symbols) == 0 }

// GeneList extracts the symbols passing t in result order. A symbol shared by
// several genes is kept once, with the direction of its best-ranked gene.
func (r *DEResult) GeneList(t Threshold) GeneList {
	list := GeneList{Threshold: t, Symbols: []string{}}
	seen := make(map[string]bool)
	for _, rec := range r.Records {
		if !t.Passes(rec) {
			continue
		}
		symbol := rec.Symbol
		if symbol == "" {
			symbol = rec.GeneID
		}
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		list.Symbols = append(list.Symbols, symbol)
		if rec.Log2FoldChange > 0 {
			list.Up++
		} else {
			list.Down++
		}
	}
	return list
}
