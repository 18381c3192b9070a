package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"neurodiff/adapters/stats/diffexp"
	"neurodiff/adapters/stats/hvg"
	"neurodiff/adapters/stats/mixture"
	"neurodiff/adapters/stats/pca"
	"neurodiff/adapters/stats/vst"
	"neurodiff/domain/core"
	"neurodiff/domain/dataset"
	"neurodiff/domain/run"
	"neurodiff/domain/stats"
	"neurodiff/internal"
	"neurodiff/internal/enrichment"
	"neurodiff/ports"
)

// pipelineStages is the number of stages reported in progress events.
const pipelineStages = 10

// PipelineService runs the full analysis for one dataset and design:
// load, exclude, classify, normalise, select, project, test, extract lists,
// enrich and store.
type PipelineService struct {
	loader     ports.DatasetLoader
	repository ports.ResultRepository // optional
	batch      *enrichment.Batch      // optional; nil skips enrichment
	sink       ports.ProgressSink     // optional
	logger     *internal.Logger

	Normalizer *vst.Normalizer
	DE         *diffexp.Engine
}

// PipelineRequest describes one run. Dataset takes precedence over Source.
// RunID is generated when empty.
type PipelineRequest struct {
	RunID       core.RunID
	Source      string
	Dataset     *dataset.Dataset
	Design      dataset.Design
	Exclusions  []string
	Thresholds  []stats.Threshold
	Databases   []string
	Seed        int64
	HVGCount    int
	Components  int
	CodeVersion string
}

// RunReport is a PipelineResult plus the intermediate artifacts that are
// not persisted.
type RunReport struct {
	*run.PipelineResult
	Normalized *dataset.NormalizedMatrix
	HVG        hvg.Selection
	Projection *pca.Projection
}

// NewPipelineService wires a pipeline. repository, batch and sink may be nil.
func NewPipelineService(loader ports.DatasetLoader, repository ports.ResultRepository, batch *enrichment.Batch, sink ports.ProgressSink) *PipelineService {
	return &PipelineService{
		loader:     loader,
		repository: repository,
		batch:      batch,
		sink:       sink,
		logger:     internal.DefaultLogger,
		Normalizer: vst.NewNormalizer(),
		DE:         diffexp.NewEngine(),
	}
}

// Run executes every stage in order. A fatal error is returned as an
// errors.StageError naming the failing stage; the run record is still
// stored with status failed when a repository is configured.
func (s *PipelineService) Run(ctx context.Context, req PipelineRequest) (*RunReport, error) {
	start := time.Now()
	if len(req.Thresholds) == 0 {
		req.Thresholds = stats.DefaultThresholds()
	}
	if req.HVGCount <= 0 {
		req.HVGCount = hvg.DefaultK
	}
	if req.Components <= 0 {
		req.Components = pca.DefaultComponents
	}
	if req.CodeVersion == "" {
		req.CodeVersion = "dev"
	}

	if req.RunID == "" {
		req.RunID = core.NewRunID()
	}

	rn := &run.Run{ID: req.RunID, Status: run.StatusRunning, StartedAt: start.UTC()}
	report := &RunReport{PipelineResult: &run.PipelineResult{Run: rn}}
	runner := NewStageRunner(s.sink, pipelineStages)
	log.Printf("[Pipeline] run %s started", rn.ID)

	var (
		ds       *dataset.Dataset
		design   dataset.Design
		expr     *dataset.Dataset
		stage    core.Stage
		stageErr error
	)
	step := func(st core.Stage, fn func(ctx context.Context) error) bool {
		if stageErr != nil {
			return false
		}
		stage = st
		stageErr = runner.Do(ctx, rn.ID, st, fn)
		return stageErr == nil
	}

	step(core.StageLoad, func(ctx context.Context) error {
		loaded := req.Dataset
		if loaded == nil {
			if s.loader == nil || req.Source == "" {
				return core.NewValidationError("source", "no dataset or source given")
			}
			var err error
			if loaded, err = s.loader.LoadExpressionDataset(ctx, req.Source); err != nil {
				return err
			}
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		var err error
		ds, err = loaded.ExcludeSamples(req.Exclusions)
		if err != nil {
			return err
		}
		rn.DatasetHash = ds.Fingerprint()
		rn.Genes, rn.Samples = ds.NumGenes(), ds.NumSamples()
		if len(req.Exclusions) > 0 {
			log.Printf("[Pipeline] excluded %d samples: %v", len(req.Exclusions), req.Exclusions)
		}
		return nil
	})

	step(core.StageValidate, func(ctx context.Context) error {
		var err error
		if design, err = req.Design.Resolve(ds); err != nil {
			return err
		}
		for _, t := range req.Thresholds {
			if err := t.Validate(); err != nil {
				return core.NewValidationError("thresholds", err.Error())
			}
		}
		manifest := run.NewRunManifest(rn.ID, rn.DatasetHash, design, req.Exclusions,
			req.Thresholds, req.Databases, req.Seed, req.HVGCount, req.CodeVersion)
		if err := manifest.Validate(); err != nil {
			return err
		}
		report.Manifest = manifest
		rn.Fingerprint = manifest.Fingerprint.Fingerprint
		if s.repository != nil {
			return s.repository.SaveRun(ctx, rn)
		}
		return nil
	})

	step(core.StageClassify, func(ctx context.Context) error {
		set, err := mixture.NewClassifier(req.Seed).Classify(ctx, ds)
		if err != nil {
			return err
		}
		report.Expressed = set
		rn.Expressed = set.Count()
		if rn.Expressed == 0 {
			return fmt.Errorf("%w: no gene classified as expressed", core.ErrInsufficientData)
		}
		expr, err = ds.SubsetGenes(set.Expressed)
		s.logger.Debug("[Pipeline] mixture means %.3f/%.3f separation %.2f", set.Fit.Means[0], set.Fit.Means[1], set.Fit.Separation)
		return err
	})

	step(core.StageNormalize, func(ctx context.Context) error {
		var err error
		report.Normalized, err = s.Normalizer.Transform(ctx, expr, design)
		return err
	})

	step(core.StageHVG, func(ctx context.Context) error {
		report.HVG = hvg.Select(report.Normalized, req.HVGCount)
		s.logger.Debug("[Pipeline] selected %d high-variance genes", len(report.HVG.Indices))
		return nil
	})

	step(core.StagePCA, func(ctx context.Context) error {
		p, err := pca.Project(report.HVG.Subset(), req.Components)
		if err != nil {
			return err
		}
		covariates, factors := sharedFields(expr.Samples)
		corr, err := pca.EigenCorrelate(p, expr.Samples, covariates, factors)
		if err != nil {
			return err
		}
		report.Projection = p.WithCorrelations(corr)
		return nil
	})

	step(core.StageDiffExpr, func(ctx context.Context) error {
		result, err := s.DE.Run(ctx, expr, design)
		if err != nil {
			return err
		}
		report.DE = result
		report.Summary = result.Summarize(s.DE.Alpha)
		rn.Tested, rn.Significant = report.Summary.Tested, report.Summary.Significant
		return nil
	})

	step(core.StageGeneLists, func(ctx context.Context) error {
		for _, t := range req.Thresholds {
			report.GeneLists = append(report.GeneLists, report.DE.GeneList(t))
		}
		return nil
	})

	step(core.StageEnrichment, func(ctx context.Context) error {
		if s.batch == nil || len(req.Databases) == 0 {
			log.Printf("[Pipeline] enrichment disabled")
			return nil
		}
		reports, err := s.batch.Run(ctx, report.DE, req.Thresholds, req.Databases)
		report.Enrichment = reports
		return err
	})

	step(core.StageStore, func(ctx context.Context) error {
		if s.repository == nil {
			return nil
		}
		if err := s.repository.SaveDEResult(ctx, rn.ID, report.DE); err != nil {
			return err
		}
		for _, r := range report.Enrichment {
			if err := s.repository.SaveEnrichment(ctx, rn.ID, r); err != nil {
				return err
			}
		}
		return nil
	})

	rn.Finish(stage, stageErr)
	if s.repository != nil && report.Manifest != nil {
		// recorded even when ctx is cancelled
		if err := s.repository.SaveRun(context.Background(), rn); err != nil && stageErr == nil {
			stageErr = fmt.Errorf("failed to save run: %w", err)
		}
	}
	runner.Finish(rn)

	if stageErr != nil {
		return report, stageErr
	}
	log.Printf("[Pipeline] run %s: %d genes, %d expressed, %d tested, %d significant in %.2fms",
		rn.ID, rn.Genes, rn.Expressed, rn.Tested, rn.Significant, float64(time.Since(start).Nanoseconds())/1e6)
	return report, nil
}

// sharedFields lists numeric covariates and categorical fields defined on
// every sample, group and batch included.
func sharedFields(samples []dataset.SampleMeta) (covariates, factors []string) {
	if len(samples) == 0 {
		return nil, nil
	}
	numeric := make(map[string]int)
	categorical := make(map[string]int)
	for _, s := range samples {
		for k := range s.Covariates {
			numeric[k]++
		}
		for k := range s.Attributes {
			categorical[k]++
		}
		if s.Group != "" {
			categorical["group"]++
		}
		if s.Batch != "" {
			categorical["batch"]++
		}
	}
	for k, n := range numeric {
		if n == len(samples) {
			covariates = append(covariates, k)
		}
	}
	for k, n := range categorical {
		if n == len(samples) {
			factors = append(factors, k)
		}
	}
	sort.Strings(covariates)
	sort.Strings(factors)
	return covariates, factors
}
