package vst

import (
	"context"
	"errors"
	"math"
	"testing"

	"neurodiff/domain/core"
	"neurodiff/domain/dataset"
	"neurodiff/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simulatedDataset() *dataset.Dataset {
	cfg := testkit.DefaultExpressionConfig()
	cfg.ExpressedGenes = 400
	cfg.ShiftedGenes = 100
	cfg.BackgroundGenes = 0
	return testkit.NewExpressionDataGenerator(cfg).Generate().Dataset
}

func TestStabilize(t *testing.T) {
	trend := dataset.DispersionTrend{Asymptotic: 0.05, Extra: 1, Parametric: true}

	t.Run("monotone", func(t *testing.T) {
		prev := math.Inf(-1)
		for _, q := range []float64{0, 0.5, 1, 10, 100, 1e4} {
			v := Stabilize(q, trend)
			assert.Greater(t, v, prev)
			prev = v
		}
	})

	t.Run("log2 slope at high counts", func(t *testing.T) {
		assert.InDelta(t, 1.0, Stabilize(2e6, trend)-Stabilize(1e6, trend), 1e-4)
	})

	t.Run("no asymptotic dispersion", func(t *testing.T) {
		assert.Equal(t, math.Log2(8), Stabilize(7, dataset.DispersionTrend{}))
	})
}

func TestTransform_Deterministic(t *testing.T) {
	ds := simulatedDataset()
	design := dataset.Design{Reference: "PV"}

	a, err := NewNormalizer().Transform(context.Background(), ds, design)
	require.NoError(t, err)
	b, err := NewNormalizer().Transform(context.Background(), ds, design)
	require.NoError(t, err)

	assert.Equal(t, a.Values, b.Values)
	assert.Equal(t, a.SizeFactors, b.SizeFactors)
	assert.Equal(t, "SST", a.Design.Test)
	assert.Len(t, a.Values, ds.NumGenes())
}

func TestTransform_DoesNotModifyInput(t *testing.T) {
	ds := simulatedDataset()
	before := ds.Counts[0][0]

	m, err := NewNormalizer().Transform(context.Background(), ds, dataset.Design{Reference: "PV"})
	require.NoError(t, err)
	m.GeneIDs[0] = "changed"
	assert.Equal(t, before, ds.Counts[0][0])
	assert.NotEqual(t, "changed", ds.GeneIDs[0])
}

func TestTransform_DesignMatters(t *testing.T) {
	ds := simulatedDataset()

	plain, err := NewNormalizer().Transform(context.Background(), ds, dataset.Design{Reference: "PV"})
	require.NoError(t, err)
	withRIN, err := NewNormalizer().Transform(context.Background(), ds, dataset.Design{Reference: "PV", Covariates: []string{"rin"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"rin"}, withRIN.Design.Covariates)
	assert.NotEqual(t, plain.Trend, withRIN.Trend)
}

func TestTransform_Errors(t *testing.T) {
	t.Run("too few samples", func(t *testing.T) {
		ds := simulatedDataset()
		ds.SampleIDs = ds.SampleIDs[:1]
		_, err := NewNormalizer().Transform(context.Background(), ds, dataset.Design{Reference: "PV"})
		assert.True(t, errors.Is(err, core.ErrInsufficientSamples))
	})

	t.Run("missing covariate", func(t *testing.T) {
		_, err := NewNormalizer().Transform(context.Background(), simulatedDataset(), dataset.Design{Reference: "PV", Covariates: []string{"age"}})
		assert.True(t, errors.Is(err, core.ErrMissingColumn))
	})

	t.Run("no reference", func(t *testing.T) {
		_, err := NewNormalizer().Transform(context.Background(), simulatedDataset(), dataset.Design{})
		assert.True(t, errors.Is(err, core.ErrReferenceLevelUnset))
	})

	t.Run("no gene positive everywhere", func(t *testing.T) {
		ds := simulatedDataset()
		for g := range ds.Counts {
			ds.Counts[g][g%ds.NumSamples()] = 0
		}
		_, err := NewNormalizer().Transform(context.Background(), ds, dataset.Design{Reference: "PV"})
		assert.True(t, errors.Is(err, core.ErrSizeFactors))
	})
}
