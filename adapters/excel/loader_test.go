package excel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"neurodiff/domain/core"
	"neurodiff/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallSimulation() *testkit.ExpressionSimulation {
	cfg := testkit.DefaultExpressionConfig()
	cfg.SamplesPerGroup = 3
	cfg.ExpressedGenes = 40
	cfg.ShiftedGenes = 10
	cfg.BackgroundGenes = 10
	return testkit.NewExpressionDataGenerator(cfg).Generate()
}

func TestLoader_WorkbookRoundTrip(t *testing.T) {
	sim := smallSimulation()
	path := filepath.Join(t.TempDir(), "dataset.xlsx")
	require.NoError(t, WriteDatasetWorkbook(sim.Dataset, path))

	ds, err := NewLoader(DefaultLoaderConfig()).LoadExpressionDataset(context.Background(), path)
	require.NoError(t, err)

	want := sim.Dataset
	assert.Equal(t, want.GeneIDs, ds.GeneIDs)
	assert.Equal(t, want.Symbols, ds.Symbols)
	assert.Equal(t, want.SampleIDs, ds.SampleIDs)
	assert.Equal(t, want.Counts, ds.Counts)
	assert.Equal(t, want.Fingerprint(), ds.Fingerprint())

	require.Len(t, ds.TPM, len(want.TPM))
	for g := range want.TPM {
		assert.InDeltaSlice(t, want.TPM[g], ds.TPM[g], 1e-9)
	}
	for j, s := range ds.Samples {
		assert.Equal(t, want.Samples[j].Group, s.Group)
		assert.Equal(t, want.Samples[j].Batch, s.Batch)
		assert.InDelta(t, want.Samples[j].Covariates["rin"], s.Covariates["rin"], 1e-9)
		assert.Equal(t, want.Samples[j].Attributes["sex"], s.Attributes["sex"])
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoader_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "counts.tsv",
		"gene_id\tS2\tS1\tS3\n"+
			"g1\t10\t12\t0\n"+
			"g2\t5.6\t3\t8\n")
	writeFile(t, dir, "samples.csv",
		"sample_id,group,rin,sex\n"+
			"S1,PV,8.1,F\n"+
			"S2,SST,7.9,M\n"+
			"S3,PV,9,\n"+
			"S9,PV,9,F\n")
	writeFile(t, dir, "genes.tsv", "gene_id\tsymbol\ng2\tGad1\n")

	ds, err := NewLoader(DefaultLoaderConfig()).LoadExpressionDataset(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"S2", "S1", "S3"}, ds.SampleIDs)
	assert.Equal(t, []string{"g1", "g2"}, ds.GeneIDs)
	assert.Equal(t, []string{"", "Gad1"}, ds.Symbols)
	assert.Equal(t, [][]int{{10, 12, 0}, {6, 3, 8}}, ds.Counts)
	assert.Nil(t, ds.TPM)

	assert.Equal(t, "SST", ds.Samples[0].Group)
	assert.Equal(t, 8.1, ds.Samples[1].Covariates["rin"])
	assert.Equal(t, "F", ds.Samples[1].Attributes["sex"])
	assert.NotContains(t, ds.Samples[2].Attributes, "sex")
}

func TestLoader_Errors(t *testing.T) {
	loader := NewLoader(DefaultLoaderConfig())

	t.Run("missing metadata row", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "counts.tsv", "gene_id\tS1\tS2\ng1\t1\t2\n")
		writeFile(t, dir, "samples.tsv", "sample_id\tgroup\nS1\tPV\n")
		_, err := loader.LoadExpressionDataset(context.Background(), dir)
		assert.ErrorIs(t, err, core.ErrDimensionMismatch)
	})

	t.Run("non-numeric count", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "counts.tsv", "gene_id\tS1\ng1\tmany\n")
		writeFile(t, dir, "samples.tsv", "sample_id\tgroup\nS1\tPV\n")
		_, err := loader.LoadExpressionDataset(context.Background(), dir)
		assert.True(t, core.IsValidationError(err))
	})

	t.Run("non-integer count when rounding is off", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "counts.tsv", "gene_id\tS1\ng1\t1.5\n")
		writeFile(t, dir, "samples.tsv", "sample_id\tgroup\nS1\tPV\n")
		cfg := DefaultLoaderConfig()
		cfg.RoundCounts = false
		_, err := NewLoader(cfg).LoadExpressionDataset(context.Background(), dir)
		assert.True(t, core.IsValidationError(err))
	})

	t.Run("negative count", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "counts.tsv", "gene_id\tS1\ng1\t-1\n")
		writeFile(t, dir, "samples.tsv", "sample_id\tgroup\nS1\tPV\n")
		_, err := loader.LoadExpressionDataset(context.Background(), dir)
		assert.ErrorIs(t, err, core.ErrNegativeCount)
	})

	t.Run("no group column", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "counts.tsv", "gene_id\tS1\ng1\t1\n")
		writeFile(t, dir, "samples.tsv", "sample_id\tcondition\nS1\tPV\n")
		_, err := loader.LoadExpressionDataset(context.Background(), dir)
		assert.ErrorIs(t, err, core.ErrMissingColumn)
	})

	t.Run("missing counts", func(t *testing.T) {
		_, err := loader.LoadExpressionDataset(context.Background(), t.TempDir())
		assert.True(t, core.IsValidationError(err))
	})

	t.Run("missing source", func(t *testing.T) {
		_, err := loader.LoadExpressionDataset(context.Background(), filepath.Join(t.TempDir(), "absent.xlsx"))
		assert.Error(t, err)
	})
}
