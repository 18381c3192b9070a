package mixture

import (
	"context"
	"errors"
	"testing"

	"neurodiff/domain/core"
	"neurodiff/domain/dataset"
	"neurodiff/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simulated(t *testing.T) *testkit.ExpressionSimulation {
	t.Helper()
	cfg := testkit.DefaultExpressionConfig()
	cfg.ExpressedGenes = 600
	cfg.ShiftedGenes = 100
	cfg.BackgroundGenes = 300
	return testkit.NewExpressionDataGenerator(cfg).Generate()
}

func TestClassifier_SeparatesExpressedFromBackground(t *testing.T) {
	sim := simulated(t)

	set, err := NewClassifier(7).Classify(context.Background(), sim.Dataset)
	require.NoError(t, err)
	require.Len(t, set.Expressed, sim.Dataset.NumGenes())

	var missed, leaked int
	for g, id := range sim.Dataset.GeneIDs {
		switch {
		case sim.Background[id] && set.Expressed[g]:
			leaked++
		case !sim.Background[id] && !set.Expressed[g]:
			missed++
		}
	}
	assert.LessOrEqual(t, missed, 6, "expressed genes classified as background")
	assert.LessOrEqual(t, leaked, 3, "background genes classified as expressed")
	assert.Greater(t, set.Fit.Means[1], set.Fit.Means[0])
	assert.GreaterOrEqual(t, set.Fit.Separation, 2.0)
}

func TestClassifier_SameSeedSameMembership(t *testing.T) {
	sim := simulated(t)

	a, err := NewClassifier(11).Classify(context.Background(), sim.Dataset)
	require.NoError(t, err)
	b, err := NewClassifier(11).Classify(context.Background(), sim.Dataset)
	require.NoError(t, err)

	assert.Equal(t, a.Expressed, b.Expressed)
	assert.Equal(t, a.Fit, b.Fit)
}

func TestClassifier_ZeroTotalGenesAreBackground(t *testing.T) {
	sim := simulated(t)
	ds := sim.Dataset
	for j := range ds.Counts[0] {
		ds.Counts[0][j] = 0
	}

	set, err := NewClassifier(3).Classify(context.Background(), ds)
	require.NoError(t, err)
	assert.False(t, set.Expressed[0])
	assert.Zero(t, set.Posterior[0])
	assert.Equal(t, ds.NumGenes()-countZeroTotal(ds), set.Fit.FitGenes)
}

func TestClassifier_DegenerateInput(t *testing.T) {
	tests := []struct {
		name   string
		counts [][]int
	}{
		{"too few genes", [][]int{{5, 6}, {100, 90}, {0, 1}}},
		{"identical medians", [][]int{{8, 8}, {8, 8}, {8, 8}, {8, 8}, {8, 8}, {8, 8}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := &dataset.Dataset{Counts: tt.counts}
			for i := range tt.counts {
				ds.GeneIDs = append(ds.GeneIDs, string(rune('a'+i)))
			}
			_, err := NewClassifier(1).Classify(context.Background(), ds)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrMixtureDegenerate))
			assert.True(t, core.IsModelFitError(err))
		})
	}
}

func TestClassifier_HonoursCancellation(t *testing.T) {
	sim := simulated(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClassifier(1).Classify(ctx, sim.Dataset)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMedianLog2(t *testing.T) {
	got := MedianLog2([][]int{{0, 1, 3}, {7, 7, 15, 15}})
	assert.InDelta(t, 1.0, got[0], 1e-12)
	assert.InDelta(t, 3.5, got[1], 1e-12)
}

func countZeroTotal(ds *dataset.Dataset) int {
	n := 0
	for _, row := range ds.Counts {
		if total(row) == 0 {
			n++
		}
	}
	return n
}
