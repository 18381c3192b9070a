package diffexp

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"neurodiff/adapters/stats/multitest"
	"neurodiff/domain/core"
	"neurodiff/domain/dataset"
	"neurodiff/domain/stats"
	"neurodiff/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	simOnce sync.Once
	sim     *testkit.ExpressionSimulation
	simRes  *stats.DEResult
	simErr  error
)

// defaultRun runs the engine once on the default simulation: 2 groups of 4,
// 2000 expressed genes of which 500 are shifted two-fold.
func defaultRun(t *testing.T) (*testkit.ExpressionSimulation, *stats.DEResult) {
	t.Helper()
	simOnce.Do(func() {
		sim = testkit.NewExpressionDataGenerator(testkit.DefaultExpressionConfig()).Generate()
		simRes, simErr = NewEngine().Run(context.Background(), sim.Dataset, dataset.Design{Reference: "PV"})
	})
	require.NoError(t, simErr)
	return sim, simRes
}

func TestEngine_RecoversShiftedGenes(t *testing.T) {
	sim, res := defaultRun(t)
	assert.Equal(t, "group_SST_vs_PV", res.Coefficient)
	assert.Len(t, res.Records, sim.Dataset.NumGenes())

	var truePos, falsePos, sigCount int
	for _, rec := range res.Records {
		if rec.PAdj == nil || *rec.PAdj >= 0.1 {
			continue
		}
		sigCount++
		if sim.Shifted[rec.GeneID] {
			truePos++
		} else {
			falsePos++
		}
	}
	t.Logf("significant=%d true=%d false=%d", sigCount, truePos, falsePos)

	assert.GreaterOrEqual(t, float64(truePos)/float64(len(sim.Shifted)), 0.7)
	require.Greater(t, sigCount, 0)
	assert.LessOrEqual(t, float64(falsePos)/float64(sigCount), 0.2)
}

func TestEngine_FoldChangeDirection(t *testing.T) {
	sim, res := defaultRun(t)

	agree, total := 0, 0
	for _, rec := range res.Records {
		want := sim.TrueLog2FC[rec.GeneID]
		if want == 0 || !rec.Tested() {
			continue
		}
		total++
		if math.Signbit(want) == math.Signbit(rec.Log2FoldChange) {
			agree++
		}
		assert.InDelta(t, want, rec.Log2FoldChange, 1.0, rec.GeneID)
	}
	require.Equal(t, len(sim.Shifted), total)
	assert.Equal(t, total, agree)
}

func TestEngine_TableInvariants(t *testing.T) {
	_, res := defaultRun(t)

	seenUntested := false
	var tested []*float64
	for i, rec := range res.Records {
		if rec.Tested() {
			assert.False(t, seenUntested, "tested gene after untested at %d", i)
			require.NotNil(t, rec.PAdj)
			assert.GreaterOrEqual(t, *rec.PAdj, *rec.PValue)
			assert.LessOrEqual(t, *rec.PAdj, 1.0)
			tested = append(tested, rec.PValue)
		} else {
			seenUntested = true
			assert.Nil(t, rec.PValue)
			assert.Nil(t, rec.PAdj)
			assert.NotEmpty(t, rec.Reason)
		}
		if i > 0 && rec.PAdj != nil && res.Records[i-1].PAdj != nil {
			assert.LessOrEqual(t, *res.Records[i-1].PAdj, *rec.PAdj)
		}
	}

	// Adjustment uses only tested genes as the denominator.
	adjusted := multitest.BenjaminiHochberg(tested)
	for i, rec := range res.Records[:len(tested)] {
		assert.InDelta(t, *adjusted[i], *rec.PAdj, 1e-12)
	}

	sum := res.Summarize(stats.DefaultAlpha)
	assert.Equal(t, len(res.Records), sum.Tested+sum.Untested)
	assert.Equal(t, sum.Significant, sum.Up+sum.Down)
}

func TestEngine_UntestedGenes(t *testing.T) {
	cfg := testkit.DefaultExpressionConfig()
	cfg.ExpressedGenes = 300
	cfg.ShiftedGenes = 60
	cfg.BackgroundGenes = 0
	ds := testkit.NewExpressionDataGenerator(cfg).Generate().Dataset
	for j := range ds.Counts[3] {
		ds.Counts[3][j] = 0
	}

	res, err := NewEngine().Run(context.Background(), ds, dataset.Design{Reference: "PV"})
	require.NoError(t, err)

	rec, ok := res.Lookup(ds.GeneIDs[3])
	require.True(t, ok)
	assert.Equal(t, stats.StatusUntested, rec.Status)
	assert.Equal(t, ReasonAllZero, rec.Reason)
	assert.Nil(t, rec.PValue)
	sum := res.Summarize(stats.DefaultAlpha)
	for i, r := range res.Records {
		if r.GeneID == rec.GeneID {
			assert.GreaterOrEqual(t, i, sum.Tested, "untested genes sort after tested ones")
		}
	}
}

func TestEngine_WorkerCountDoesNotChangeResults(t *testing.T) {
	cfg := testkit.DefaultExpressionConfig()
	cfg.ExpressedGenes = 300
	cfg.ShiftedGenes = 60
	cfg.BackgroundGenes = 50
	ds := testkit.NewExpressionDataGenerator(cfg).Generate().Dataset
	design := dataset.Design{Reference: "PV", Covariates: []string{"rin"}}

	serial := NewEngine()
	serial.Workers = 1
	serial.Dispersion.Workers = 1
	a, err := serial.Run(context.Background(), ds, design)
	require.NoError(t, err)

	parallel := NewEngine()
	parallel.Workers = 8
	parallel.Dispersion.Workers = 8
	b, err := parallel.Run(context.Background(), ds, design)
	require.NoError(t, err)

	assert.Equal(t, a.Records, b.Records)
}

func TestEngine_DesignErrors(t *testing.T) {
	ds := testkit.NewExpressionDataGenerator(testkit.ExpressionGeneratorConfig{
		Seed: 1, Reference: "PV", Test: "SST", SamplesPerGroup: 3,
		ExpressedGenes: 50, FoldChange: 1, Dispersion: 0.05,
		MeanRange: [2]float64{100, 200}, SizeFactorSD: 0.1,
	}).Generate().Dataset

	t.Run("reference unset", func(t *testing.T) {
		_, err := NewEngine().Run(context.Background(), ds, dataset.Design{})
		assert.True(t, errors.Is(err, core.ErrReferenceLevelUnset))
		assert.True(t, core.IsValidationError(err))
	})

	t.Run("unknown covariate", func(t *testing.T) {
		_, err := NewEngine().Run(context.Background(), ds, dataset.Design{Reference: "PV", Covariates: []string{"age"}})
		assert.True(t, errors.Is(err, core.ErrMissingColumn))
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewEngine().Run(ctx, ds, dataset.Design{Reference: "PV"})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
