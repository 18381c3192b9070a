package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"neurodiff/adapters/excel"
	"neurodiff/adapters/export"
	"neurodiff/adapters/stats/mixture"
	"neurodiff/app"
	"neurodiff/domain/stats"
	"neurodiff/internal/testkit"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var outDir, workbook string
	var fullPrecision, noEnrich, noStore bool
	var flags *designFlags

	cmd := &cobra.Command{
		Use:   "run [source]",
		Short: "Run the full pipeline: classify, normalise, project, test and enrich",
		Long: `Run every stage on a dataset and write the result tables.

The source is an xlsx workbook with counts, samples, and optionally tpm and
genes sheets, or a directory holding counts.tsv, samples.tsv and friends.

Example: neurodiff run data.xlsx --reference PV --test SST --covariates rin --factors batch --out results/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(flags)
			if err != nil {
				return err
			}
			c.Config.Enrichment.Enabled = c.Config.Enrichment.Enabled && !noEnrich
			c.Config.Store.Enabled = c.Config.Store.Enabled && !noStore

			ctx := cmd.Context()
			if err := c.InitStore(ctx); err != nil {
				return err
			}
			defer c.Shutdown(ctx)
			if err := c.InitEnrichment(); err != nil {
				return err
			}

			report, err := c.Pipeline().Run(ctx, c.Request(args[0]))
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)

			bundle := export.Bundle{
				Expressed:  report.Expressed,
				DE:         report.DE,
				Enrichment: report.Enrichment,
				Projection: report.Projection,
			}
			opts := export.Options{FullPrecision: fullPrecision}
			if outDir != "" {
				paths, err := export.WriteDir(outDir, bundle, opts)
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
				}
			}
			if workbook != "" {
				if err := export.WriteWorkbook(workbook, bundle, opts); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", workbook)
			}
			return nil
		},
	}

	flags = addDesignFlags(cmd)
	cmd.Flags().StringVar(&outDir, "out", "", "Directory for TSV result tables")
	cmd.Flags().StringVar(&workbook, "xlsx", "", "Write every result table to this workbook")
	cmd.Flags().BoolVar(&fullPrecision, "full-precision", false, "Write floats with 17 significant digits")
	cmd.Flags().BoolVar(&noEnrich, "no-enrich", false, "Skip the enrichment stage")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not persist the run")
	return cmd
}

func newClassifyCmd() *cobra.Command {
	var out string
	var flags *designFlags

	cmd := &cobra.Command{
		Use:   "classify [source]",
		Short: "Split genes into expressed and background with the two-component mixture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(flags)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			p := c.Config.Pipeline

			ds, err := c.Loader.LoadExpressionDataset(ctx, args[0])
			if err != nil {
				return err
			}
			if ds, err = ds.ExcludeSamples(p.Exclusions); err != nil {
				return err
			}
			set, err := mixture.NewClassifier(p.Seed).Classify(ctx, ds)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fit := set.Fit
			fmt.Fprintf(w, "expressed %d of %d genes (seed %d)\n", set.Count(), len(set.GeneIDs), set.Seed)
			fmt.Fprintf(w, "background mean %.3f sd %.3f weight %.3f\n", fit.Means[0], math.Sqrt(fit.Variances[0]), fit.Weights[0])
			fmt.Fprintf(w, "expressed  mean %.3f sd %.3f weight %.3f\n", fit.Means[1], math.Sqrt(fit.Variances[1]), fit.Weights[1])
			fmt.Fprintf(w, "separation %.2f after %d iterations\n", fit.Separation, fit.Iterations)

			if out == "" {
				return nil
			}
			return writeFile(out, func(f io.Writer) error {
				return export.WriteExpressed(f, set, export.Options{})
			})
		},
	}

	flags = addDesignFlags(cmd)
	cmd.Flags().StringVar(&out, "out", "", "Write per-gene membership to this TSV file")
	return cmd
}

func newDECmd() *cobra.Command {
	var out string
	var fullPrecision bool
	var flags *designFlags

	cmd := &cobra.Command{
		Use:   "de [source]",
		Short: "Test expressed genes for differential expression without enrichment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(flags)
			if err != nil {
				return err
			}
			c.Config.Enrichment.Enabled = false
			c.Config.Store.Enabled = false

			report, err := c.Pipeline().Run(cmd.Context(), c.Request(args[0]))
			if err != nil {
				return err
			}
			printReport(cmd.ErrOrStderr(), report)

			opts := export.Options{FullPrecision: fullPrecision}
			if out == "" {
				return export.WriteDE(cmd.OutOrStdout(), report.DE, opts)
			}
			return writeFile(out, func(f io.Writer) error {
				return export.WriteDE(f, report.DE, opts)
			})
		},
	}

	flags = addDesignFlags(cmd)
	cmd.Flags().StringVar(&out, "out", "", "Write the DE table to this TSV file instead of stdout")
	cmd.Flags().BoolVar(&fullPrecision, "full-precision", false, "Write floats with 17 significant digits")
	return cmd
}

func newEnrichCmd() *cobra.Command {
	var out, name string
	var databases []string

	cmd := &cobra.Command{
		Use:   "enrich [gene-list-file]",
		Short: "Test a gene symbol list for over-representation",
		Long: `Test a list of gene symbols, one per line, against each database. Lines
starting with # are ignored. The backend follows ENRICHMENT_BACKEND.

Example: neurodiff enrich up_genes.txt --database GO_Biological_Process_2023`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols, err := readSymbols(args[0])
			if err != nil {
				return err
			}
			c, err := newContainer(nil)
			if err != nil {
				return err
			}
			c.Config.Enrichment.Enabled = true
			if err := c.InitEnrichment(); err != nil {
				return err
			}
			if len(databases) == 0 {
				databases = c.Databases
			}

			list := stats.GeneList{Threshold: stats.Threshold{Name: name}, Symbols: symbols}
			report := c.Enrichment.Enrich(cmd.Context(), list, databases)
			for _, d := range report.Databases {
				if d.Unavailable {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s unavailable: %s\n", d.Database, d.Error)
				}
			}

			if out == "" {
				return export.WriteEnrichment(cmd.OutOrStdout(), report, export.Options{})
			}
			return writeFile(out, func(f io.Writer) error {
				return export.WriteEnrichment(f, report, export.Options{})
			})
		},
	}

	cmd.Flags().StringSliceVar(&databases, "database", nil, "Database to query (repeatable; default from configuration)")
	cmd.Flags().StringVar(&name, "name", "custom", "Label recorded for the list")
	cmd.Flags().StringVar(&out, "out", "", "Write rows to this TSV file instead of stdout")
	return cmd
}

func newSimulateCmd() *cobra.Command {
	var genesetDir string
	config := testkit.DefaultExpressionConfig()

	cmd := &cobra.Command{
		Use:   "simulate [output.xlsx]",
		Short: "Write a simulated two-population count workbook",
		Long: `Draw negative-binomial counts for two populations with a known set of
shifted genes and write them as a workbook the run command can read.
--genesets also writes matching GMT files for the local enrichment backend.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kit := testkit.NewTestKit(config)
			if err := excel.WriteDatasetWorkbook(kit.Simulation.Dataset, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d genes, %d samples, %d shifted\n",
				args[0], kit.Simulation.Dataset.NumGenes(), kit.Simulation.Dataset.NumSamples(), len(kit.Simulation.Shifted))

			if genesetDir == "" {
				return nil
			}
			if err := os.MkdirAll(genesetDir, 0o755); err != nil {
				return err
			}
			for _, db := range kit.Databases {
				p := filepath.Join(genesetDir, db.Name+".gmt")
				if err := os.WriteFile(p, []byte(testkit.GMT(db)), 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
			}
			return nil
		},
	}

	fs := cmd.Flags()
	fs.Int64Var(&config.Seed, "seed", config.Seed, "Simulation seed")
	fs.IntVar(&config.SamplesPerGroup, "samples", config.SamplesPerGroup, "Samples per population")
	fs.IntVar(&config.ExpressedGenes, "expressed", config.ExpressedGenes, "Expressed genes")
	fs.IntVar(&config.ShiftedGenes, "shifted", config.ShiftedGenes, "Expressed genes carrying a fold-change")
	fs.IntVar(&config.BackgroundGenes, "background", config.BackgroundGenes, "Low-count background genes")
	fs.Float64Var(&config.FoldChange, "fold-change", config.FoldChange, "Fold-change of shifted genes")
	fs.StringVar(&genesetDir, "genesets", "", "Directory for matching GMT files")
	return cmd
}

func printReport(w io.Writer, report *app.RunReport) {
	rn := report.Run
	fmt.Fprintf(w, "run %s (%s)\n", rn.ID, rn.Fingerprint)
	fmt.Fprintf(w, "genes %d, samples %d, expressed %d\n", rn.Genes, rn.Samples, rn.Expressed)
	s := report.Summary
	fmt.Fprintf(w, "tested %d, untested %d, padj < %.2g: %d (%d up, %d down)\n",
		s.Tested, s.Untested, s.Alpha, s.Significant, s.Up, s.Down)
	for _, l := range report.GeneLists {
		fmt.Fprintf(w, "  %-16s %5d genes (%d up, %d down)\n", l.Threshold.Name, l.Len(), l.Up, l.Down)
	}
	for _, e := range report.Enrichment {
		for _, d := range e.Databases {
			status := fmt.Sprintf("%d terms", len(d.Hits))
			if d.Unavailable {
				status = "unavailable: " + d.Error
			}
			fmt.Fprintf(w, "  %-16s %-32s %s\n", e.Threshold.Name, d.Database, status)
		}
	}
}

func readSymbols(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var symbols []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || seen[line] {
			continue
		}
		seen[line] = true
		symbols = append(symbols, line)
	}
	return symbols, scanner.Err()
}

func writeFile(path string, fn func(io.Writer) error) error {
	start := time.Now()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Printf("[CLI] wrote %s in %.2fms", path, float64(time.Since(start).Nanoseconds())/1e6)
	return nil
}
