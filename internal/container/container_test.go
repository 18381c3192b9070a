package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"neurodiff/domain/run"
	"neurodiff/internal/config"
	"neurodiff/internal/testkit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(genesetDir string) *config.Config {
	return &config.Config{
		Pipeline: config.PipelineConfig{
			Seed:        42,
			HVGCount:    200,
			Components:  3,
			Alpha:       0.1,
			Workers:     2,
			Group:       "group",
			Reference:   "PV",
			Test:        "SST",
			Covariates:  []string{"rin"},
			CodeVersion: "test",
		},
		Enrichment: config.EnrichmentConfig{
			Enabled:           true,
			Backend:           "local",
			GeneSetDir:        genesetDir,
			RequestsPerSecond: 10,
			Burst:             1,
			MaxAttempts:       2,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        time.Millisecond,
			Cutoff:            0.1,
			Concurrency:       2,
		},
		Store:  config.StoreConfig{Enabled: true, Driver: "sqlite", DSN: ":memory:"},
		Server: config.ServerConfig{Port: "0"},
	}
}

func TestContainer_Pipeline(t *testing.T) {
	gen := testkit.DefaultExpressionConfig()
	gen.ExpressedGenes = 600
	gen.ShiftedGenes = 150
	gen.BackgroundGenes = 200
	kit := testkit.NewTestKit(gen)

	dir := t.TempDir()
	for _, db := range kit.Databases {
		require.NoError(t, os.WriteFile(filepath.Join(dir, db.Name+".gmt"), []byte(testkit.GMT(db)), 0o644))
	}

	ctx := context.Background()
	c, err := New(testConfig(dir))
	require.NoError(t, err)
	require.NoError(t, c.InitStore(ctx))
	require.NoError(t, c.InitEnrichment())
	c.InitEvents()
	defer c.Shutdown(ctx)

	assert.Equal(t, []string{"Housekeeping", "Neuro_Pathways"}, c.Databases)

	req := c.Request("")
	req.Dataset = kit.Simulation.Dataset
	report, err := c.Pipeline().Run(ctx, req)
	require.NoError(t, err)

	stored, err := c.Results.GetRun(ctx, report.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusSucceeded, stored.Status)
	assert.Equal(t, report.Run.Significant, stored.Significant)

	records, err := c.Results.GetDERecords(ctx, report.Run.ID)
	require.NoError(t, err)
	assert.Len(t, records, len(report.DE.Records))

	for _, r := range report.Enrichment {
		got, err := c.Results.GetEnrichment(ctx, report.Run.ID, r.Threshold.Name)
		require.NoError(t, err)
		assert.Len(t, got.Databases, 2)
	}

	latest, ok := c.Events.Latest(string(report.Run.ID))
	require.True(t, ok)
	assert.Equal(t, run.EventRunFinished, latest.Kind)
}

func TestContainer_Disabled(t *testing.T) {
	cfg := testConfig("")
	cfg.Enrichment.Enabled = false
	cfg.Store.Enabled = false

	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.InitStore(context.Background()))
	require.NoError(t, c.InitEnrichment())

	assert.Nil(t, c.Results)
	assert.Nil(t, c.Batch)
	assert.Empty(t, c.Request("x.xlsx").Databases)
}

func TestContainer_EmptyGeneSetDir(t *testing.T) {
	c, err := New(testConfig(t.TempDir()))
	require.NoError(t, err)
	assert.Error(t, c.InitEnrichment())
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
