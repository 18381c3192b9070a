package stats

// DefaultEnrichmentCutoff is the adjusted p-value reporting cutoff.
const DefaultEnrichmentCutoff = 0.1

// DefaultDatabases are the four ontology sources queried per gene list.
var DefaultDatabases = []string{
	"GO_Biological_Process_2023",
	"GO_Molecular_Function_2023",
	"GO_Cellular_Component_2023",
	"KEGG_2021_Human",
}

// Term is one named gene set inside a database.
type Term struct {
	Name  string   `json:"name"`
	Genes []string `json:"genes"`
}

// GeneSetDatabase is a named, versioned collection of terms.
type GeneSetDatabase struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Terms   []Term `json:"terms"`
}

// Background returns every gene annotated to at least one term.
func (db *GeneSetDatabase) Background() map[string]bool {
	bg := make(map[string]bool)
	for _, t := range db.Terms {
		for _, g := range t.Genes {
			bg[g] = true
		}
	}
	return bg
}

// TermHit is one overrepresentation row for a (gene list, database, term).
type TermHit struct {
	Term           string   `json:"term" db:"term"`
	PValue         float64  `json:"pvalue" db:"pvalue"`
	AdjustedPValue float64  `json:"adjusted_pvalue" db:"adjusted_pvalue"`
	OverlapCount   int      `json:"overlap_count" db:"overlap_count"`
	TermSize       int      `json:"term_size" db:"term_size"`
	OverlapGenes   []string `json:"overlap_genes"`
}

// OverlapRatio is overlap size over term size; 0 when the term size is unknown.
func (h TermHit) OverlapRatio() float64 {
	if h.TermSize <= 0 {
		return 0
	}
	return float64(h.OverlapCount) / float64(h.TermSize)
}

// DatabaseResult holds the reported hits for one database, or the reason the
// database could not be queried.
type DatabaseResult struct {
	Database    string    `json:"database"`
	Hits        []TermHit `json:"hits"`
	Unavailable bool      `json:"unavailable"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
}

// EnrichmentReport is the per-configuration enrichment outcome. Reports for
// different thresholds are never merged.
type EnrichmentReport struct {
	Threshold Threshold        `json:"threshold"`
	ListSize  int              `json:"list_size"`
	Up        int              `json:"up"`
	Down      int              `json:"down"`
	Cutoff    float64          `json:"cutoff"`
	Databases []DatabaseResult `json:"databases"`
}

// Database returns the result for the named database.
func (r *EnrichmentReport) Database(name string) (DatabaseResult, bool) {
	for _, d := range r.Databases {
		if d.Database == name {
			return d, true
		}
	}
	return DatabaseResult{}, false
}

// Unavailable lists databases that could not be queried.
func (r *EnrichmentReport) Unavailable() []string {
	var out []string
	for _, d := range r.Databases {
		if d.Unavailable {
			out = append(out, d.Database)
		}
	}
	return out
}
