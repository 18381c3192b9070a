package container

import (
	"context"
	"fmt"
	"log"

	"neurodiff/adapters/enrichr"
	"neurodiff/adapters/excel"
	"neurodiff/adapters/genesets"
	"neurodiff/adapters/postgres"
	"neurodiff/app"
	"neurodiff/domain/dataset"
	"neurodiff/internal/api"
	"neurodiff/internal/config"
	"neurodiff/internal/enrichment"
	"neurodiff/internal/migration"
	"neurodiff/ports"

	"github.com/jmoiron/sqlx"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config

	// Infrastructure
	DB *sqlx.DB

	// Data access
	Loader  ports.DatasetLoader
	Results ports.ResultRepository

	// Enrichment
	EnrichmentService ports.EnrichmentService
	Enrichment        *enrichment.Engine
	Batch             *enrichment.Batch
	Databases         []string

	// Progress
	SSEHub *api.SSEHub
	Events *api.EventRecorder
}

// New creates a container with the loader and event plumbing; the store and
// enrichment backend are initialised separately.
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	c := &Container{
		Config: cfg,
		Loader: excel.NewLoader(excel.DefaultLoaderConfig()),
	}
	return c, nil
}

// InitStore opens the result store and applies the schema. A disabled store
// leaves Results nil.
func (c *Container) InitStore(ctx context.Context) error {
	store := c.Config.Store
	if !store.Enabled {
		log.Printf("[Container] result store disabled")
		return nil
	}

	db, err := postgres.Open(ctx, store.Driver, store.DSN)
	if err != nil {
		return err
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to migrate result store: %w", err)
	}
	c.DB = db
	c.Results = postgres.NewResultRepository(db)
	return nil
}

// InitEnrichment builds the enrichment backend chosen by configuration. A
// disabled backend leaves Batch nil and the pipeline skips enrichment.
func (c *Container) InitEnrichment() error {
	cfg := c.Config.Enrichment
	if !cfg.Enabled {
		log.Printf("[Container] enrichment disabled")
		return nil
	}

	switch cfg.Backend {
	case "local":
		dbs, err := genesets.LoadDir(cfg.GeneSetDir)
		if err != nil {
			return fmt.Errorf("failed to load gene-set databases: %w", err)
		}
		svc := genesets.NewService(dbs...)
		c.EnrichmentService = svc
		c.Databases = svc.Databases()
	default:
		c.EnrichmentService = enrichr.NewClient(enrichr.Config{
			BaseURL:           cfg.BaseURL,
			Timeout:           cfg.Timeout,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		})
		c.Databases = cfg.Databases
	}
	if len(c.Databases) == 0 {
		return fmt.Errorf("no gene-set databases configured for %s backend", cfg.Backend)
	}

	c.Enrichment = enrichment.NewEngine(c.EnrichmentService, cfg.Concurrency)
	c.Enrichment.Cutoff = cfg.Cutoff
	c.Enrichment.Retry.MaxAttempts = cfg.MaxAttempts
	c.Enrichment.Retry.InitialBackoff = cfg.InitialBackoff
	c.Enrichment.Retry.MaxBackoff = cfg.MaxBackoff
	c.Batch = enrichment.NewBatch(c.Enrichment, cfg.Concurrency)

	log.Printf("[Container] enrichment via %s against %d databases", c.EnrichmentService.Name(), len(c.Databases))
	return nil
}

// InitEvents starts the SSE hub and the recorder in front of it.
func (c *Container) InitEvents() {
	c.SSEHub = api.NewSSEHub()
	c.Events = api.NewEventRecorder(c.SSEHub)
}

// Pipeline returns a pipeline service over the initialised components.
func (c *Container) Pipeline() *app.PipelineService {
	var sink ports.ProgressSink
	if c.Events != nil {
		sink = c.Events
	}
	svc := app.NewPipelineService(c.Loader, c.Results, c.Batch, sink)
	p := c.Config.Pipeline
	svc.DE.Alpha = p.Alpha
	svc.DE.Workers = p.Workers
	svc.DE.Dispersion.Workers = p.Workers
	return svc
}

// Request builds a pipeline request for source from the configured defaults.
func (c *Container) Request(source string) app.PipelineRequest {
	p := c.Config.Pipeline
	req := app.PipelineRequest{
		Source: source,
		Design: dataset.Design{
			Group:      p.Group,
			Reference:  p.Reference,
			Test:       p.Test,
			Covariates: p.Covariates,
			Factors:    p.Factors,
		},
		Exclusions:  p.Exclusions,
		Seed:        p.Seed,
		HVGCount:    p.HVGCount,
		Components:  p.Components,
		CodeVersion: p.CodeVersion,
	}
	if c.Batch != nil {
		req.Databases = c.Databases
	}
	return req
}

// Shutdown releases the store and stops the event hub
func (c *Container) Shutdown(ctx context.Context) error {
	if c.SSEHub != nil {
		c.SSEHub.Close()
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			return fmt.Errorf("failed to close result store: %w", err)
		}
	}
	log.Printf("[Container] shutdown complete")
	return nil
}
