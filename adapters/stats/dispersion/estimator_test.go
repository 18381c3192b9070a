package dispersion

import (
	"context"
	"math"
	"sort"
	"testing"

	"neurodiff/adapters/stats/nbglm"
	"neurodiff/domain/dataset"
	"neurodiff/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigamma(t *testing.T) {
	assert.InDelta(t, math.Pi*math.Pi/6, Trigamma(1), 1e-10)
	assert.InDelta(t, math.Pi*math.Pi/6-1.25, Trigamma(3), 1e-10)
	assert.InDelta(t, math.Pi*math.Pi/2, Trigamma(0.5), 1e-10)
	assert.True(t, math.IsNaN(Trigamma(0)))

	// Past the recurrence the asymptotic series alone must hold.
	want := math.Pi * math.Pi / 6
	for k := 1.0; k < 20; k++ {
		want -= 1 / (k * k)
	}
	assert.InDelta(t, want, Trigamma(20), 1e-12)
}

func TestFitParametricTrend(t *testing.T) {
	t.Run("recovers noise-free coefficients", func(t *testing.T) {
		var means, disps []float64
		for m := 1.0; m < 5000; m *= 1.3 {
			means = append(means, m)
			disps = append(disps, 0.05+2/m)
		}
		trend, err := FitParametricTrend(means, disps)
		require.NoError(t, err)
		assert.True(t, trend.Parametric)
		assert.InDelta(t, 0.05, trend.Asymptotic, 1e-6)
		assert.InDelta(t, 2, trend.Extra, 1e-5)
	})

	t.Run("decreasing with mean is required", func(t *testing.T) {
		var means, disps []float64
		for m := 1.0; m < 5000; m *= 1.3 {
			means = append(means, m)
			disps = append(disps, 0.5-0.4/m)
		}
		_, err := FitParametricTrend(means, disps)
		assert.Error(t, err)
	})

	t.Run("too few genes", func(t *testing.T) {
		_, err := FitParametricTrend([]float64{1, 2}, []float64{0.1, 0.2})
		assert.Error(t, err)
	})
}

func fixture(t *testing.T) (*dataset.Dataset, *dataset.ModelMatrix, []float64) {
	t.Helper()
	cfg := testkit.DefaultExpressionConfig()
	cfg.ExpressedGenes = 800
	cfg.ShiftedGenes = 200
	cfg.BackgroundGenes = 0
	ds := testkit.NewExpressionDataGenerator(cfg).Generate().Dataset

	design, err := dataset.Design{Reference: cfg.Reference}.Resolve(ds)
	require.NoError(t, err)
	mm, err := design.Matrix(ds)
	require.NoError(t, err)
	sf, err := nbglm.SizeFactors(ds.Counts)
	require.NoError(t, err)
	return ds, mm, sf
}

func TestEstimator_TwoPass(t *testing.T) {
	ds, mm, sf := fixture(t)
	x := nbglm.DesignMatrix(mm)
	e := NewEstimator()

	est, err := e.Genewise(context.Background(), ds.Counts, x, sf)
	require.NoError(t, err)
	require.Len(t, est, ds.NumGenes())

	trend, err := e.Trend(est)
	require.NoError(t, err)
	// Simulated dispersion is 0.04 for every gene.
	assert.InDelta(t, 0.04, trend.At(1000), 0.025)

	shrunk, err := e.Shrink(context.Background(), ds.Counts, x, est, trend)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, shrunk.PriorVar, 0.25)

	var before, after []float64
	for _, d := range shrunk.Genes {
		require.True(t, d.Usable)
		assert.GreaterOrEqual(t, d.Final, e.MinDisp)
		assert.LessOrEqual(t, d.Final, 10.0)
		if d.Outlier {
			assert.Equal(t, d.Genewise, d.Final)
			continue
		}
		before = append(before, math.Abs(math.Log(d.Genewise)-math.Log(d.Trend)))
		after = append(after, math.Abs(math.Log(d.MAP)-math.Log(d.Trend)))
	}
	assert.Less(t, median(after), median(before), "shrinkage should pull estimates towards the trend")
}

func TestEstimator_Deterministic(t *testing.T) {
	ds, mm, sf := fixture(t)
	x := nbglm.DesignMatrix(mm)

	run := func(workers int) []float64 {
		e := NewEstimator()
		e.Workers = workers
		est, err := e.Genewise(context.Background(), ds.Counts, x, sf)
		require.NoError(t, err)
		trend, err := e.Trend(est)
		require.NoError(t, err)
		shrunk, err := e.Shrink(context.Background(), ds.Counts, x, est, trend)
		require.NoError(t, err)
		out := make([]float64, len(shrunk.Genes))
		for i, d := range shrunk.Genes {
			out[i] = d.Final
		}
		return out
	}

	assert.Equal(t, run(1), run(8))
}

func TestEstimator_AllZeroGeneUnusable(t *testing.T) {
	ds, mm, sf := fixture(t)
	for j := range ds.Counts[5] {
		ds.Counts[5][j] = 0
	}
	est, err := NewEstimator().Genewise(context.Background(), ds.Counts, nbglm.DesignMatrix(mm), sf)
	require.NoError(t, err)
	assert.False(t, est[5].Usable)
	assert.True(t, est[6].Usable)
}

func TestEstimator_Cancelled(t *testing.T) {
	ds, mm, sf := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEstimator().Genewise(ctx, ds.Counts, nbglm.DesignMatrix(mm), sf)
	assert.ErrorIs(t, err, context.Canceled)
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	return s[len(s)/2]
}
