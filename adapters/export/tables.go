package export

import (
	"strconv"
	"strings"

	"neurodiff/adapters/stats/pca"
	"neurodiff/domain/dataset"
	"neurodiff/domain/stats"
)

// Bundle groups the tables of one pipeline run.
type Bundle struct {
	Expressed  *dataset.ExpressedGeneSet
	DE         *stats.DEResult
	Enrichment []*stats.EnrichmentReport
	Projection *pca.Projection
}

// table is a header plus string rows
type table struct {
	name   string
	header []string
	rows   [][]string
}

func deTable(result *stats.DEResult, opts Options) table {
	t := table{
		name:   "de",
		header: []string{"gene_id", "symbol", "base_mean", "log2_fold_change", "lfc_se", "stat", "pvalue", "padj", "dispersion", "status", "reason"},
	}
	for _, r := range result.Records {
		t.rows = append(t.rows, []string{
			r.GeneID,
			r.Symbol,
			opts.number(r.BaseMean),
			opts.log2FC(r.Log2FoldChange),
			opts.number(r.LfcSE),
			opts.nullableNumber(r.Stat),
			opts.nullablePValue(r.PValue),
			opts.nullablePValue(r.PAdj),
			opts.number(r.Dispersion),
			string(r.Status),
			r.Reason,
		})
	}
	return t
}

// enrichmentTable renders one configuration. Unavailable databases appear as
// a single row carrying the error so their absence is visible.
func enrichmentTable(report *stats.EnrichmentReport, opts Options) table {
	t := table{
		name:   SheetName("enrich_", report.Threshold.Name),
		header: []string{"database", "term", "pvalue", "adjusted_pvalue", "overlap_count", "term_size", "overlap_genes", "status"},
	}
	for _, d := range report.Databases {
		if d.Unavailable {
			t.rows = append(t.rows, []string{d.Database, "", "", "", "", "", "", "unavailable: " + d.Error})
			continue
		}
		for _, h := range d.Hits {
			t.rows = append(t.rows, []string{
				d.Database,
				h.Term,
				opts.pvalue(h.PValue),
				opts.pvalue(h.AdjustedPValue),
				strconv.Itoa(h.OverlapCount),
				strconv.Itoa(h.TermSize),
				strings.Join(h.OverlapGenes, ";"),
				"ok",
			})
		}
	}
	return t
}

func expressedTable(set *dataset.ExpressedGeneSet, opts Options) table {
	t := table{name: "expressed", header: []string{"gene_id", "expressed", "posterior"}}
	for i, id := range set.GeneIDs {
		posterior := missing
		if i < len(set.Posterior) {
			posterior = opts.number(set.Posterior[i])
		}
		t.rows = append(t.rows, []string{id, strconv.FormatBool(set.Expressed[i]), posterior})
	}
	return t
}

func projectionTable(p *pca.Projection, opts Options) table {
	t := table{name: "pca", header: []string{"sample_id"}}
	for pc := 1; pc <= p.Components(); pc++ {
		t.header = append(t.header, "PC"+strconv.Itoa(pc))
	}
	for i, id := range p.SampleIDs {
		row := []string{id}
		for _, v := range p.Scores[i] {
			row = append(row, opts.number(v))
		}
		t.rows = append(t.rows, row)
	}
	row := []string{"variance_explained"}
	for _, v := range p.VarianceExplained {
		row = append(row, opts.number(v))
	}
	t.rows = append(t.rows, row)
	return t
}

func eigencorTable(p *pca.Projection, opts Options) table {
	t := table{name: "eigencor", header: []string{"component", "field", "kind", "statistic", "pvalue"}}
	for _, c := range p.Correlations {
		t.rows = append(t.rows, []string{
			"PC" + strconv.Itoa(c.Component),
			c.Field,
			string(c.Kind),
			opts.number(c.Statistic),
			opts.pvalue(c.PValue),
		})
	}
	return t
}

func (b Bundle) tables(opts Options) []table {
	var out []table
	if b.Expressed != nil {
		out = append(out, expressedTable(b.Expressed, opts))
	}
	if b.DE != nil {
		out = append(out, deTable(b.DE, opts))
	}
	for _, r := range b.Enrichment {
		out = append(out, enrichmentTable(r, opts))
	}
	if b.Projection != nil {
		out = append(out, projectionTable(b.Projection, opts))
		if len(b.Projection.Correlations) > 0 {
			out = append(out, eigencorTable(b.Projection, opts))
		}
	}
	return out
}
