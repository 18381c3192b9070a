package config

import (
	"testing"
	"time"

	"neurodiff/domain/stats"
	"neurodiff/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.Pipeline.Seed)
	assert.Equal(t, 500, cfg.Pipeline.HVGCount)
	assert.Equal(t, 0.1, cfg.Pipeline.Alpha)
	assert.Equal(t, "group", cfg.Pipeline.Group)
	assert.Equal(t, stats.DefaultDatabases, cfg.Enrichment.Databases)
	assert.Equal(t, 3, cfg.Enrichment.MaxAttempts)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "neurodiff.db", cfg.Store.DSN)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("NEURODIFF_SEED", "7")
	t.Setenv("EXCLUDE_SAMPLES", "PV_3, SST_1 ,")
	t.Setenv("DESIGN_REFERENCE", "PV")
	t.Setenv("DESIGN_COVARIATES", "rin")
	t.Setenv("ENRICHMENT_BACKEND", "local")
	t.Setenv("GENESET_DIR", "/data/gmt")
	t.Setenv("ENRICHMENT_DATABASES", "KEGG_2021_Human")
	t.Setenv("ENRICHMENT_BACKOFF", "250ms")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/neurodiff")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(7), cfg.Pipeline.Seed)
	assert.Equal(t, []string{"PV_3", "SST_1"}, cfg.Pipeline.Exclusions)
	assert.Equal(t, "PV", cfg.Pipeline.Reference)
	assert.Equal(t, []string{"rin"}, cfg.Pipeline.Covariates)
	assert.Equal(t, []string{"KEGG_2021_Human"}, cfg.Enrichment.Databases)
	assert.Equal(t, 250*time.Millisecond, cfg.Enrichment.InitialBackoff)
	assert.Equal(t, "postgres://localhost/neurodiff", cfg.Store.DSN)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"hvg count", map[string]string{"HVG_COUNT": "0"}},
		{"alpha", map[string]string{"DE_ALPHA": "1.5"}},
		{"backend", map[string]string{"ENRICHMENT_BACKEND": "david"}},
		{"local without dir", map[string]string{"ENRICHMENT_BACKEND": "local"}},
		{"duplicate database", map[string]string{"ENRICHMENT_DATABASES": "A,A"}},
		{"cutoff", map[string]string{"ENRICHMENT_CUTOFF": "0"}},
		{"store driver", map[string]string{"STORE_DRIVER": "mysql"}},
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres", "DATABASE_URL": ""}},
		{"port", map[string]string{"PORT": "http"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}
