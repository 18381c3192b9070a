package dataset

import (
	"errors"
	"testing"

	"neurodiff/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallDataset() *Dataset {
	return &Dataset{
		GeneIDs:   []string{"ENSMUSG01", "ENSMUSG02", "ENSMUSG03"},
		Symbols:   []string{"Snap25", "Gad1", "Slc17a7"},
		SampleIDs: []string{"s1", "s2", "s3", "s4"},
		Counts: [][]int{
			{10, 12, 30, 28},
			{0, 0, 0, 0},
			{5, 6, 7, 8},
		},
		Samples: []SampleMeta{
			{ID: "s1", Group: "PV", Batch: "b1", Covariates: map[string]float64{"rin": 8.1}, Attributes: map[string]string{"sex": "F"}},
			{ID: "s2", Group: "PV", Batch: "b2", Covariates: map[string]float64{"rin": 7.9}, Attributes: map[string]string{"sex": "M"}},
			{ID: "s3", Group: "SST", Batch: "b1", Covariates: map[string]float64{"rin": 8.4}, Attributes: map[string]string{"sex": "F"}},
			{ID: "s4", Group: "SST", Batch: "b2", Covariates: map[string]float64{"rin": 9.0}, Attributes: map[string]string{"sex": "M"}},
		},
	}
}

func TestDatasetValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, smallDataset().Validate())
	})

	t.Run("symbol length mismatch", func(t *testing.T) {
		ds := smallDataset()
		ds.Symbols = ds.Symbols[:2]
		err := ds.Validate()
		assert.True(t, errors.Is(err, core.ErrDimensionMismatch), "got %v", err)
	})

	t.Run("short count row", func(t *testing.T) {
		ds := smallDataset()
		ds.Counts[1] = []int{1, 2}
		assert.True(t, errors.Is(ds.Validate(), core.ErrDimensionMismatch))
	})

	t.Run("negative count", func(t *testing.T) {
		ds := smallDataset()
		ds.Counts[0][0] = -1
		assert.True(t, errors.Is(ds.Validate(), core.ErrNegativeCount))
	})

	t.Run("metadata order", func(t *testing.T) {
		ds := smallDataset()
		ds.Samples[0], ds.Samples[1] = ds.Samples[1], ds.Samples[0]
		assert.Error(t, ds.Validate())
	})
}

func TestSubsetGenesDoesNotAlias(t *testing.T) {
	ds := smallDataset()
	sub, err := ds.SubsetGenes([]bool{true, false, true})
	require.NoError(t, err)

	assert.Equal(t, []string{"ENSMUSG01", "ENSMUSG03"}, sub.GeneIDs)
	sub.Counts[0][0] = 999
	sub.Samples[0].Covariates["rin"] = 0
	assert.Equal(t, 10, ds.Counts[0][0], "subset must not share count rows")
	assert.Equal(t, 8.1, ds.Samples[0].Covariates["rin"], "subset must not share metadata maps")
}

func TestExcludeSamples(t *testing.T) {
	ds := smallDataset()

	out, err := ds.ExcludeSamples([]string{"s2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s3", "s4"}, out.SampleIDs)
	assert.Equal(t, []int{10, 30, 28}, out.Counts[0])
	require.NoError(t, out.Validate())
	assert.Len(t, ds.SampleIDs, 4, "original dataset untouched")

	_, err = ds.ExcludeSamples([]string{"nope"})
	assert.Error(t, err)
}

func TestDesignResolve(t *testing.T) {
	ds := smallDataset()

	t.Run("reference required", func(t *testing.T) {
		_, err := Design{Group: "group"}.Resolve(ds)
		assert.True(t, errors.Is(err, core.ErrReferenceLevelUnset))
	})

	t.Run("test level inferred for two levels", func(t *testing.T) {
		d, err := Design{Group: "group", Reference: "PV"}.Resolve(ds)
		require.NoError(t, err)
		assert.Equal(t, "SST", d.Test)
	})

	t.Run("unknown reference", func(t *testing.T) {
		_, err := Design{Group: "group", Reference: "VIP"}.Resolve(ds)
		assert.True(t, errors.Is(err, core.ErrInvalidDesign))
	})

	t.Run("missing covariate column", func(t *testing.T) {
		_, err := Design{Group: "group", Reference: "PV", Covariates: []string{"age"}}.Resolve(ds)
		assert.True(t, errors.Is(err, core.ErrMissingColumn))
		assert.True(t, core.IsValidationError(err))
	})

	t.Run("single level", func(t *testing.T) {
		one := smallDataset()
		for i := range one.Samples {
			one.Samples[i].Group = "PV"
		}
		_, err := Design{Group: "group", Reference: "PV"}.Resolve(one)
		assert.True(t, errors.Is(err, core.ErrInvalidDesign))
	})
}

func TestDesignMatrix(t *testing.T) {
	ds := smallDataset()
	d, err := Design{Group: "group", Reference: "PV", Covariates: []string{"rin"}}.Resolve(ds)
	require.NoError(t, err)

	m, err := d.Matrix(ds)
	require.NoError(t, err)
	assert.Equal(t, []string{"intercept", "rin", "group_SST_vs_PV"}, m.Columns)
	assert.Equal(t, 2, m.TestColumn)

	rinSum := 0.0
	for j, row := range m.Rows {
		assert.Equal(t, 1.0, row[0])
		rinSum += row[1]
		want := 0.0
		if ds.Samples[j].Group == "SST" {
			want = 1
		}
		assert.Equal(t, want, row[2])
	}
	assert.InDelta(t, 0, rinSum, 1e-12, "numeric covariates are centred")

	t.Run("factor coding", func(t *testing.T) {
		d2, err := Design{Group: "group", Reference: "PV", Factors: []string{"batch"}}.Resolve(ds)
		require.NoError(t, err)
		m2, err := d2.Matrix(ds)
		require.NoError(t, err)
		assert.Equal(t, []string{"intercept", "batch_b2", "group_SST_vs_PV"}, m2.Columns)
	})

	t.Run("too many coefficients", func(t *testing.T) {
		d3, err := Design{Group: "group", Reference: "PV", Covariates: []string{"rin"}, Factors: []string{"batch", "sex"}}.Resolve(ds)
		require.NoError(t, err)
		_, err = d3.Matrix(ds)
		assert.True(t, errors.Is(err, core.ErrInsufficientSamples))
	})
}
