package main

import (
	"neurodiff/internal/config"

	"github.com/spf13/cobra"
)

// designFlags override the pipeline configuration for one invocation. Only
// flags set on the command line take effect.
type designFlags struct {
	cmd *cobra.Command

	group      string
	reference  string
	test       string
	covariates []string
	factors    []string
	exclude    []string
	seed       int64
	hvg        int
	components int
	alpha      float64
	workers    int
}

func addDesignFlags(cmd *cobra.Command) *designFlags {
	f := &designFlags{cmd: cmd}
	fs := cmd.Flags()
	fs.StringVar(&f.group, "group", "group", "Sample metadata field holding the population label")
	fs.StringVar(&f.reference, "reference", "", "Reference population (fold-changes are test vs reference)")
	fs.StringVar(&f.test, "test", "", "Test population (defaults to the only other level)")
	fs.StringSliceVar(&f.covariates, "covariates", nil, "Numeric covariates to condition on")
	fs.StringSliceVar(&f.factors, "factors", nil, "Categorical covariates to condition on, e.g. batch")
	fs.StringSliceVar(&f.exclude, "exclude", nil, "Sample ids removed before any stage")
	fs.Int64Var(&f.seed, "seed", 42, "Seed for the mixture classifier restarts")
	fs.IntVar(&f.hvg, "hvg", 500, "Number of high-variance genes used for PCA")
	fs.IntVar(&f.components, "components", 5, "Principal components retained")
	fs.Float64Var(&f.alpha, "alpha", 0.1, "Adjusted p-value cutoff for summaries")
	fs.IntVar(&f.workers, "workers", 0, "Concurrent gene fits (default from WORKERS)")
	return f
}

func (f *designFlags) apply(p *config.PipelineConfig) {
	changed := f.cmd.Flags().Changed
	if changed("group") {
		p.Group = f.group
	}
	if changed("reference") {
		p.Reference = f.reference
	}
	if changed("test") {
		p.Test = f.test
	}
	if changed("covariates") {
		p.Covariates = f.covariates
	}
	if changed("factors") {
		p.Factors = f.factors
	}
	if changed("exclude") {
		p.Exclusions = f.exclude
	}
	if changed("seed") {
		p.Seed = f.seed
	}
	if changed("hvg") {
		p.HVGCount = f.hvg
	}
	if changed("components") {
		p.Components = f.components
	}
	if changed("alpha") {
		p.Alpha = f.alpha
	}
	if changed("workers") && f.workers > 0 {
		p.Workers = f.workers
	}
}
