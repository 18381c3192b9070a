package main

import (
	"context"
	"fmt"
	"math"
	"os"

	"neurodiff/adapters/genesets"
	"neurodiff/app"
	"neurodiff/domain/dataset"
	"neurodiff/internal/config"
	"neurodiff/internal/container"
	"neurodiff/internal/enrichment"
	"neurodiff/internal/testkit"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "neurodiff-dev",
		Short: "neurodiff development tools",
	}

	rootCmd.AddCommand(
		newSmokeTestCmd(),
		newDeterminismTestCmd(),
		newMigrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSmokeTestCmd() *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run the pipeline on simulated data and check it recovers the planted signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSmokeTests(cmd.Context(), seed)
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 42, "Simulation and classifier seed")
	return cmd
}

func newDeterminismTestCmd() *cobra.Command {
	var seed int64
	cmd := &cobra.Command{
		Use:   "determinism",
		Short: "Run the pipeline twice with the same seed and compare results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return testDeterminism(cmd.Context(), seed)
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 42, "Simulation and classifier seed")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the result store schema configured by STORE_DRIVER and STORE_DSN",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			cfg.Store.Enabled = true
			c, err := container.New(cfg)
			if err != nil {
				return err
			}
			if err := c.InitStore(cmd.Context()); err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())
			fmt.Printf("Schema applied to %s store\n", cfg.Store.Driver)
			return nil
		},
	}
}

func simulate(seed int64) *testkit.TestKit {
	cfg := testkit.DefaultExpressionConfig()
	cfg.Seed = seed
	return testkit.NewTestKit(cfg)
}

func pipeline(kit *testkit.TestKit) (*app.PipelineService, app.PipelineRequest) {
	engine := enrichment.NewEngine(genesets.NewService(kit.Databases...), 4)
	svc := app.NewPipelineService(nil, kit.Repository, enrichment.NewBatch(engine, 3), nil)
	req := app.PipelineRequest{
		Dataset:   kit.Simulation.Dataset,
		Design:    dataset.Design{Group: "group", Reference: "PV", Test: "SST", Covariates: []string{"rin"}, Factors: []string{"batch"}},
		Databases: []string{"Neuro_Pathways", "Housekeeping"},
	}
	return svc, req
}

func runSmokeTests(ctx context.Context, seed int64) error {
	fmt.Println("Running smoke tests...")

	kit := simulate(seed)
	svc, req := pipeline(kit)
	req.Seed = seed
	report, err := svc.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}
	sim := kit.Simulation

	tests := []struct {
		name string
		fn   func() error
	}{
		{"background_removed", func() error {
			for _, rec := range report.DE.Records {
				if sim.Background[rec.GeneID] {
					return fmt.Errorf("background gene %s was tested", rec.GeneID)
				}
			}
			return nil
		}},
		{"shifted_recovered", func() error {
			found := 0
			for _, rec := range report.DE.Records {
				if sim.Shifted[rec.GeneID] && rec.PAdj != nil && *rec.PAdj < 0.1 {
					found++
				}
			}
			recall := float64(found) / float64(len(sim.Shifted))
			fmt.Printf(" recall %.2f", recall)
			if recall < 0.8 {
				return fmt.Errorf("recall %.2f below 0.8", recall)
			}
			return nil
		}},
		{"direction", func() error {
			for _, rec := range report.DE.Records {
				truth := sim.TrueLog2FC[rec.GeneID]
				if truth != 0 && rec.PAdj != nil && *rec.PAdj < 0.01 && math.Signbit(truth) != math.Signbit(rec.Log2FoldChange) {
					return fmt.Errorf("gene %s: sign of %.3f disagrees with %.3f", rec.GeneID, rec.Log2FoldChange, truth)
				}
			}
			return nil
		}},
		{"enrichment", func() error {
			if len(report.Enrichment) != len(report.GeneLists) {
				return fmt.Errorf("%d enrichment reports for %d gene lists", len(report.Enrichment), len(report.GeneLists))
			}
			neuro, ok := report.Enrichment[0].Database("Neuro_Pathways")
			if !ok || neuro.Unavailable {
				return fmt.Errorf("Neuro_Pathways missing from first configuration")
			}
			for _, h := range neuro.Hits {
				if h.Term == "Synaptic vesicle cycle" {
					return nil
				}
			}
			return fmt.Errorf("planted term not enriched")
		}},
	}

	passed := 0
	for _, test := range tests {
		fmt.Printf("  Running %s...", test.name)
		if err := test.fn(); err != nil {
			fmt.Printf(" FAILED: %v\n", err)
		} else {
			fmt.Println(" PASSED")
			passed++
		}
	}

	fmt.Printf("\nSmoke tests: %d/%d passed\n", passed, len(tests))
	if passed < len(tests) {
		return fmt.Errorf("some smoke tests failed")
	}
	return nil
}

func testDeterminism(ctx context.Context, seed int64) error {
	fmt.Printf("Testing determinism with seed %d...\n", seed)

	var reports [2]*app.RunReport
	for i := range reports {
		kit := simulate(seed)
		svc, req := pipeline(kit)
		req.Seed = seed
		report, err := svc.Run(ctx, req)
		if err != nil {
			return fmt.Errorf("run %d failed: %w", i+1, err)
		}
		reports[i] = report
	}

	if err := compareRuns(reports[0], reports[1]); err != nil {
		return fmt.Errorf("determinism test failed: %w", err)
	}
	fmt.Println("Determinism test passed - results identical")
	return nil
}

func compareRuns(original, replay *app.RunReport) error {
	if original.Run.Fingerprint != replay.Run.Fingerprint {
		return fmt.Errorf("fingerprints differ")
	}
	for i, e := range original.Expressed.Expressed {
		if replay.Expressed.Expressed[i] != e {
			return fmt.Errorf("gene %s membership differs", original.Expressed.GeneIDs[i])
		}
	}
	if len(original.DE.Records) != len(replay.DE.Records) {
		return fmt.Errorf("record counts differ: %d vs %d", len(original.DE.Records), len(replay.DE.Records))
	}
	for i, a := range original.DE.Records {
		b := replay.DE.Records[i]
		if a.GeneID != b.GeneID || a.Log2FoldChange != b.Log2FoldChange || !sameValue(a.PAdj, b.PAdj) {
			return fmt.Errorf("record %d differs: %s %.17g vs %s %.17g", i, a.GeneID, a.Log2FoldChange, b.GeneID, b.Log2FoldChange)
		}
	}
	for i, v := range original.Normalized.SizeFactors {
		if replay.Normalized.SizeFactors[i] != v {
			return fmt.Errorf("size factor %d differs", i)
		}
	}
	return nil
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
