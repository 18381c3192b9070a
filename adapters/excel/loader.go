package excel

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"time"

	"neurodiff/domain/core"
	"neurodiff/domain/dataset"
)

// Loader builds expression datasets from workbooks or directories of
// delimited files. It implements ports.DatasetLoader.
//
// Expected layout:
//   - counts: gene id column, optional symbol column, one column per sample
//   - samples: sample id, group, optional batch, then free metadata columns;
//     a column whose every value parses as a number becomes a covariate,
//     anything else a categorical attribute
//   - tpm (optional): same layout as counts
//   - genes (optional): gene id and symbol, overriding symbols from counts
type Loader struct {
	config LoaderConfig
}

// NewLoader creates a loader with config
func NewLoader(config LoaderConfig) *Loader {
	return &Loader{config: config}
}

// LoadExpressionDataset reads source and returns a validated dataset whose
// sample order follows the count matrix columns.
func (l *Loader) LoadExpressionDataset(ctx context.Context, source string) (*dataset.Dataset, error) {
	start := time.Now()
	reader := NewDataReader(source)
	if reader.fileType == "csv" || reader.fileType == "tsv" {
		return nil, core.NewValidationError("source", "expected an .xlsx workbook or a directory, got a single delimited file")
	}

	counts, ok, err := reader.ReadTable(l.config.CountsSheet)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.NewValidationError("source", fmt.Sprintf("no %q sheet in %s", l.config.CountsSheet, source))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	samples, ok, err := reader.ReadTable(l.config.SamplesSheet)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, core.NewValidationError("source", fmt.Sprintf("no %q sheet in %s", l.config.SamplesSheet, source))
	}

	ds := &dataset.Dataset{}
	if err := l.fillCounts(ds, counts); err != nil {
		return nil, err
	}
	if err := l.fillSamples(ds, samples); err != nil {
		return nil, err
	}

	if tpm, ok, err := reader.ReadTable(l.config.TPMSheet); err != nil {
		return nil, err
	} else if ok {
		if ds.TPM, err = l.alignedMatrix(ds, tpm); err != nil {
			return nil, err
		}
	}
	if genes, ok, err := reader.ReadTable(l.config.GenesSheet); err != nil {
		return nil, err
	} else if ok {
		if err := l.applySymbols(ds, genes); err != nil {
			return nil, err
		}
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	log.Printf("[DatasetLoader] %s: %d genes × %d samples in %.2fms",
		source, ds.NumGenes(), ds.NumSamples(), float64(time.Since(start).Nanoseconds())/1e6)
	return ds, nil
}

// sampleColumns returns the index of the first sample column of a gene-major
// table, after the gene id and optional symbol columns.
func (l *Loader) sampleColumns(t *Table) (geneCol, symbolCol, first int, err error) {
	geneCol = t.Column(l.config.GeneIDColumn)
	if geneCol < 0 {
		geneCol = 0
	}
	symbolCol = t.Column(l.config.SymbolColumn)
	first = max(geneCol, symbolCol) + 1
	if first >= len(t.Headers) {
		return 0, 0, 0, core.NewValidationError(t.Name, "no sample columns")
	}
	return geneCol, symbolCol, first, nil
}

func (l *Loader) fillCounts(ds *dataset.Dataset, t *Table) error {
	geneCol, symbolCol, first, err := l.sampleColumns(t)
	if err != nil {
		return err
	}
	ds.SampleIDs = append([]string(nil), t.Headers[first:]...)

	rounded := 0
	for r, row := range t.Rows {
		id := row[geneCol]
		if id == "" {
			return core.NewValidationError(t.Name, fmt.Sprintf("row %d has no gene id", r+2))
		}
		ds.GeneIDs = append(ds.GeneIDs, id)
		symbol := ""
		if symbolCol >= 0 {
			symbol = row[symbolCol]
		}
		ds.Symbols = append(ds.Symbols, symbol)

		values := make([]int, len(ds.SampleIDs))
		for j, cell := range row[first:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return core.NewValidationError(t.Name, fmt.Sprintf("gene %s sample %s: %q is not a count", id, ds.SampleIDs[j], cell))
			}
			if v != math.Trunc(v) {
				if !l.config.RoundCounts {
					return core.NewValidationError(t.Name, fmt.Sprintf("gene %s sample %s: non-integer count %g", id, ds.SampleIDs[j], v))
				}
				rounded++
			}
			values[j] = int(math.Round(v))
		}
		ds.Counts = append(ds.Counts, values)
	}
	if rounded > 0 {
		log.Printf("[DatasetLoader] rounded %d non-integer counts", rounded)
	}
	return nil
}

// fillSamples attaches metadata rows to the count matrix columns.
func (l *Loader) fillSamples(ds *dataset.Dataset, t *Table) error {
	idCol := t.Column(l.config.SampleIDColumn)
	if idCol < 0 {
		idCol = 0
	}
	groupCol := t.Column(l.config.GroupColumn)
	if groupCol < 0 {
		return core.NewMissingColumnError(l.config.GroupColumn, t.Name)
	}
	batchCol := t.Column(l.config.BatchColumn)

	numeric := make(map[int]bool)
	for c := range t.Headers {
		if c == idCol || c == groupCol || c == batchCol {
			continue
		}
		numeric[c] = true
		for _, row := range t.Rows {
			if _, err := strconv.ParseFloat(row[c], 64); err != nil {
				numeric[c] = false
				break
			}
		}
	}

	byID := make(map[string][]string, len(t.Rows))
	for _, row := range t.Rows {
		if _, dup := byID[row[idCol]]; dup {
			return core.NewValidationError(t.Name, fmt.Sprintf("duplicate sample %s", row[idCol]))
		}
		byID[row[idCol]] = row
	}

	extra := make([]string, 0)
	for id := range byID {
		if !contains(ds.SampleIDs, id) {
			extra = append(extra, id)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		log.Printf("[DatasetLoader] ignoring metadata for %d samples absent from counts: %v", len(extra), extra)
	}

	ds.Samples = make([]dataset.SampleMeta, len(ds.SampleIDs))
	for j, id := range ds.SampleIDs {
		row, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: sample %s has no metadata row", core.ErrDimensionMismatch, id)
		}
		meta := dataset.SampleMeta{ID: id, Group: row[groupCol]}
		if batchCol >= 0 {
			meta.Batch = row[batchCol]
		}
		for c, h := range t.Headers {
			isNumeric, tracked := numeric[c]
			if !tracked {
				continue
			}
			if isNumeric {
				v, _ := strconv.ParseFloat(row[c], 64)
				if meta.Covariates == nil {
					meta.Covariates = make(map[string]float64)
				}
				meta.Covariates[h] = v
			} else if row[c] != "" {
				if meta.Attributes == nil {
					meta.Attributes = make(map[string]string)
				}
				meta.Attributes[h] = row[c]
			}
		}
		ds.Samples[j] = meta
	}
	return nil
}

// alignedMatrix reads a gene-major numeric table reordered to the dataset's
// genes and samples.
func (l *Loader) alignedMatrix(ds *dataset.Dataset, t *Table) ([][]float64, error) {
	geneCol, _, first, err := l.sampleColumns(t)
	if err != nil {
		return nil, err
	}
	colOf := make(map[string]int)
	for c, h := range t.Headers[first:] {
		colOf[h] = first + c
	}
	rowOf := make(map[string][]string, len(t.Rows))
	for _, row := range t.Rows {
		rowOf[row[geneCol]] = row
	}

	out := make([][]float64, ds.NumGenes())
	for g, id := range ds.GeneIDs {
		row, ok := rowOf[id]
		if !ok {
			return nil, fmt.Errorf("%w: gene %s missing from %s", core.ErrDimensionMismatch, id, t.Name)
		}
		out[g] = make([]float64, ds.NumSamples())
		for j, sid := range ds.SampleIDs {
			c, ok := colOf[sid]
			if !ok {
				return nil, fmt.Errorf("%w: sample %s missing from %s", core.ErrDimensionMismatch, sid, t.Name)
			}
			v, err := strconv.ParseFloat(row[c], 64)
			if err != nil {
				return nil, core.NewValidationError(t.Name, fmt.Sprintf("gene %s sample %s: %q is not numeric", id, sid, row[c]))
			}
			out[g][j] = v
		}
	}
	return out, nil
}

func (l *Loader) applySymbols(ds *dataset.Dataset, t *Table) error {
	geneCol := t.Column(l.config.GeneIDColumn)
	symbolCol := t.Column(l.config.SymbolColumn)
	if geneCol < 0 || symbolCol < 0 {
		return core.NewMissingColumnError(l.config.SymbolColumn, t.Name)
	}
	symbols := make(map[string]string, len(t.Rows))
	for _, row := range t.Rows {
		symbols[row[geneCol]] = row[symbolCol]
	}
	for g, id := range ds.GeneIDs {
		if s, ok := symbols[id]; ok && s != "" {
			ds.Symbols[g] = s
		}
	}
	return nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
