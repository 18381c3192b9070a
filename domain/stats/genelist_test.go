package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id string, lfc, p, padj float64) GeneRecord {
	return GeneRecord{
		GeneID:         id,
		Symbol:         "Sym" + id,
		Log2FoldChange: lfc,
		PValue:         Float(p),
		PAdj:           Float(padj),
		Status:         StatusTested,
	}
}

func sampleResult() *DEResult {
	records := []GeneRecord{
		rec("a", 2.0, 1e-6, 1e-4),
		rec("b", -1.2, 1e-4, 0.004),
		rec("c", 0.3, 0.0005, 0.02),
		rec("d", -0.7, 0.01, 0.08),
		rec("e", 0.1, 0.2, 0.5),
		{GeneID: "f", Symbol: "Symf", Status: StatusUntested, Reason: "all-zero counts"},
	}
	return &DEResult{Records: records}
}

func TestSortRecords(t *testing.T) {
	records := []GeneRecord{
		{GeneID: "untested", Status: StatusUntested},
		rec("late", 1, 0.04, 0.2),
		rec("tieLow", -1, 0.01, 0.05),
		rec("tieHigh", 1, 0.01, 0.05),
		rec("first", 3, 0.001, 0.01),
	}
	SortRecords(records)

	var order []string
	for _, r := range records {
		order = append(order, r.GeneID)
	}
	assert.Equal(t, []string{"first", "tieHigh", "tieLow", "late", "untested"}, order)
}

func TestSummarize(t *testing.T) {
	s := sampleResult().Summarize(DefaultAlpha)
	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 5, s.Tested)
	assert.Equal(t, 1, s.Untested)
	assert.Equal(t, 4, s.Significant)
	assert.Equal(t, 2, s.Up)
	assert.Equal(t, 2, s.Down)
}

func TestGeneListThresholds(t *testing.T) {
	res := sampleResult()

	for _, th := range DefaultThresholds() {
		require.NoError(t, th.Validate())
		list := res.GeneList(th)
		assert.GreaterOrEqual(t, list.Up, 0)
		assert.GreaterOrEqual(t, list.Down, 0)
		assert.Equal(t, list.Len(), list.Up+list.Down, "threshold %s", th)
	}

	loose := res.GeneList(Threshold{MinAbsLog2FC: 0, MaxSignificance: 0.1, Metric: MetricPAdj})
	strict := res.GeneList(Threshold{MinAbsLog2FC: 0.5, MaxSignificance: 0.05, Metric: MetricPAdj})
	assert.Equal(t, []string{"Syma", "Symb", "Symc", "Symd"}, loose.Symbols)
	assert.Equal(t, []string{"Syma", "Symb"}, strict.Symbols)
	assert.Subset(t, loose.Symbols, strict.Symbols)

	pList := res.GeneList(Threshold{MinAbsLog2FC: 0.5, MaxSignificance: 0.001, Metric: MetricPValue})
	assert.Equal(t, []string{"Syma", "Symb"}, pList.Symbols)
}

func TestGeneListMonotoneInCutoffs(t *testing.T) {
	res := sampleResult()
	prev := -1
	for _, sig := range []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1} {
		n := res.GeneList(Threshold{MinAbsLog2FC: 0.2, MaxSignificance: sig, Metric: MetricPAdj}).Len()
		assert.GreaterOrEqual(t, n, prev, "loosening significance must not shrink the list")
		prev = n
	}

	prev = -1
	for _, lfc := range []float64{3, 1.5, 1, 0.5, 0.2, 0} {
		n := res.GeneList(Threshold{MinAbsLog2FC: lfc, MaxSignificance: 0.1, Metric: MetricPAdj}).Len()
		assert.GreaterOrEqual(t, n, prev, "loosening fold-change must not shrink the list")
		prev = n
	}
}

func TestGeneListDeduplicatesSymbols(t *testing.T) {
	res := &DEResult{Records: []GeneRecord{
		rec("a", 1, 0.001, 0.01),
		rec("b", -1, 0.002, 0.02),
	}}
	res.Records[1].Symbol = res.Records[0].Symbol

	list := res.GeneList(DefaultThresholds()[0])
	assert.Equal(t, 1, list.Len())
	assert.Equal(t, 1, list.Up)
	assert.Equal(t, 0, list.Down)
}

func TestThresholdValidate(t *testing.T) {
	assert.Error(t, Threshold{Name: "x", MaxSignificance: 0.1, Metric: "qvalue"}.Validate())
	assert.Error(t, Threshold{Name: "x", MaxSignificance: 0, Metric: MetricPAdj}.Validate())
	assert.Error(t, Threshold{Name: "x", MinAbsLog2FC: -1, MaxSignificance: 0.1, Metric: MetricPAdj}.Validate())
}
