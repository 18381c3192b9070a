package genesets

import (
	"context"
	"math"
	"sort"
	"strings"

	"neurodiff/adapters/stats/multitest"
	"neurodiff/domain/core"
	"neurodiff/domain/stats"

	"gonum.org/v1/gonum/stat/combin"
)

// Service runs over-representation tests against in-memory databases. The
// background of each test is the set of genes annotated in that database.
// Symbols are matched case-insensitively.
type Service struct {
	databases map[string]*stats.GeneSetDatabase
}

// NewService indexes the given databases by name.
func NewService(dbs ...*stats.GeneSetDatabase) *Service {
	s := &Service{databases: make(map[string]*stats.GeneSetDatabase, len(dbs))}
	for _, db := range dbs {
		s.databases[db.Name] = db
	}
	return s
}

// Name identifies the backend.
func (s *Service) Name() string { return "local-gmt" }

// Databases lists the loaded database names in sorted order.
func (s *Service) Databases() []string {
	out := make([]string, 0, len(s.databases))
	for name := range s.databases {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Enrich tests every term of database against symbols. Hits are ordered by
// p-value, then term name; adjusted p-values are Benjamini-Hochberg over all
// terms of the database.
func (s *Service) Enrich(ctx context.Context, symbols []string, database string) ([]stats.TermHit, error) {
	db, ok := s.databases[database]
	if !ok {
		return nil, core.NewNotFoundError("gene-set database", database)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	background := make(map[string]bool)
	for g := range db.Background() {
		background[strings.ToUpper(g)] = true
	}
	list := make(map[string]string)
	for _, sym := range symbols {
		key := strings.ToUpper(sym)
		if background[key] {
			if _, dup := list[key]; !dup {
				list[key] = sym
			}
		}
	}

	total := len(background)
	drawn := len(list)
	hits := make([]stats.TermHit, 0, len(db.Terms))
	for _, term := range db.Terms {
		members := make(map[string]bool, len(term.Genes))
		for _, g := range term.Genes {
			members[strings.ToUpper(g)] = true
		}
		var overlap []string
		for key, sym := range list {
			if members[key] {
				overlap = append(overlap, sym)
			}
		}
		sort.Strings(overlap)
		hits = append(hits, stats.TermHit{
			Term:         term.Name,
			PValue:       HypergeometricUpper(len(overlap), total, len(members), drawn),
			OverlapCount: len(overlap),
			TermSize:     len(members),
			OverlapGenes: overlap,
		})
	}

	raw := make([]float64, len(hits))
	for i, h := range hits {
		raw[i] = h.PValue
	}
	for i, adj := range multitest.Adjust(raw) {
		hits[i].AdjustedPValue = adj
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].PValue != hits[j].PValue {
			return hits[i].PValue < hits[j].PValue
		}
		return hits[i].Term < hits[j].Term
	})
	return hits, nil
}

// HypergeometricUpper returns P(X >= k) when drawing n genes from a population
// of N of which K are in the term.
func HypergeometricUpper(k, N, K, n int) float64 {
	if k <= 0 {
		return 1
	}
	hi := min(n, K)
	if k > hi {
		return 0
	}
	logDenom := combin.LogGeneralizedBinomial(float64(N), float64(n))
	terms := make([]float64, 0, hi-k+1)
	maxLog := math.Inf(-1)
	for i := k; i <= hi; i++ {
		if n-i > N-K {
			continue
		}
		l := combin.LogGeneralizedBinomial(float64(K), float64(i)) +
			combin.LogGeneralizedBinomial(float64(N-K), float64(n-i)) - logDenom
		terms = append(terms, l)
		maxLog = math.Max(maxLog, l)
	}
	if len(terms) == 0 {
		return 0
	}
	sum := 0.0
	for _, l := range terms {
		sum += math.Exp(l - maxLog)
	}
	return math.Min(1, math.Exp(maxLog)*sum)
}
