package testkit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"neurodiff/domain/core"
	"neurodiff/domain/run"
	"neurodiff/domain/stats"

	"github.com/stretchr/testify/mock"
)

// TestKit bundles the fixtures shared by pipeline-level tests
type TestKit struct {
	Simulation *ExpressionSimulation
	Databases  []*stats.GeneSetDatabase
	Repository *InMemoryResultRepository
}

// NewTestKit simulates a dataset with config and builds gene-set databases
// whose terms are drawn from the simulated genes.
func NewTestKit(config ExpressionGeneratorConfig) *TestKit {
	sim := NewExpressionDataGenerator(config).Generate()
	return &TestKit{
		Simulation: sim,
		Databases:  SampleDatabases(sim),
		Repository: NewInMemoryResultRepository(),
	}
}

// SampleDatabases builds two small databases from a simulation. In
// "Neuro_Pathways" the first term holds up-shifted genes and the second
// down-shifted ones; "Housekeeping" only holds unshifted genes.
func SampleDatabases(sim *ExpressionSimulation) []*stats.GeneSetDatabase {
	ds := sim.Dataset
	var up, down, flat []string
	for g, id := range ds.GeneIDs {
		switch lfc := sim.TrueLog2FC[id]; {
		case lfc > 0:
			up = append(up, ds.Symbols[g])
		case lfc < 0:
			down = append(down, ds.Symbols[g])
		case !sim.Background[id]:
			flat = append(flat, ds.Symbols[g])
		}
	}

	take := func(src []string, from, n int) []string {
		if from >= len(src) {
			return nil
		}
		return append([]string(nil), src[from:min(from+n, len(src))]...)
	}

	neuro := &stats.GeneSetDatabase{Name: "Neuro_Pathways", Version: "test", Terms: []stats.Term{
		{Name: "Synaptic vesicle cycle", Genes: take(up, 0, 40)},
		{Name: "Axon guidance", Genes: take(down, 0, 40)},
		{Name: "Ribosome", Genes: take(flat, 0, 60)},
		{Name: "Mixed signalling", Genes: append(take(up, 40, 5), take(flat, 60, 55)...)},
	}}
	house := &stats.GeneSetDatabase{Name: "Housekeeping", Version: "test", Terms: []stats.Term{
		{Name: "Proteasome", Genes: take(flat, 120, 50)},
		{Name: "Spliceosome", Genes: take(flat, 170, 50)},
	}}
	return []*stats.GeneSetDatabase{neuro, house}
}

// GMT renders a database in GMT format.
func GMT(db *stats.GeneSetDatabase) string {
	var b strings.Builder
	for _, t := range db.Terms {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", t.Name, db.Name, strings.Join(t.Genes, "\t"))
	}
	return b.String()
}

// MockEnrichmentService is a testify mock of ports.EnrichmentService
type MockEnrichmentService struct {
	mock.Mock
}

func (m *MockEnrichmentService) Name() string { return "mock" }

func (m *MockEnrichmentService) Enrich(ctx context.Context, symbols []string, database string) ([]stats.TermHit, error) {
	args := m.Called(ctx, symbols, database)
	hits, _ := args.Get(0).([]stats.TermHit)
	return hits, args.Error(1)
}

// InMemoryResultRepository implements ports.ResultRepository with in-memory storage
type InMemoryResultRepository struct {
	runs       map[core.RunID]*run.Run
	de         map[core.RunID][]stats.GeneRecord
	enrichment map[core.RunID]map[string]*stats.EnrichmentReport
	mu         sync.RWMutex
}

func NewInMemoryResultRepository() *InMemoryResultRepository {
	return &InMemoryResultRepository{
		runs:       make(map[core.RunID]*run.Run),
		de:         make(map[core.RunID][]stats.GeneRecord),
		enrichment: make(map[core.RunID]map[string]*stats.EnrichmentReport),
	}
}

func (s *InMemoryResultRepository) SaveRun(ctx context.Context, r *run.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.runs[r.ID] = &cp
	return nil
}

func (s *InMemoryResultRepository) GetRun(ctx context.Context, id core.RunID) (*run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	cp := *r
	return &cp, nil
}

func (s *InMemoryResultRepository) ListRuns(ctx context.Context, limit, offset int) ([]*run.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*run.Run, 0, len(s.runs))
	for _, r := range s.runs {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if offset >= len(out) {
		return []*run.Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryResultRepository) SaveDEResult(ctx context.Context, id core.RunID, result *stats.DEResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.de[id] = append([]stats.GeneRecord(nil), result.Records...)
	return nil
}

func (s *InMemoryResultRepository) GetDERecords(ctx context.Context, id core.RunID) ([]stats.GeneRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs, ok := s.de[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrRunNotFound, id)
	}
	return append([]stats.GeneRecord(nil), recs...), nil
}

func (s *InMemoryResultRepository) SaveEnrichment(ctx context.Context, id core.RunID, report *stats.EnrichmentReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enrichment[id] == nil {
		s.enrichment[id] = make(map[string]*stats.EnrichmentReport)
	}
	s.enrichment[id][report.Threshold.Name] = report
	return nil
}

func (s *InMemoryResultRepository) GetEnrichment(ctx context.Context, id core.RunID, config string) (*stats.EnrichmentReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rep, ok := s.enrichment[id][config]
	if !ok {
		return nil, fmt.Errorf("%w: %s for run %s", core.ErrConfigNotFound, config, id)
	}
	return rep, nil
}
