package dataset

import (
	"fmt"

	"neurodiff/domain/core"
)

// SampleMeta describes one sequenced sample.
type SampleMeta struct {
	ID         string             `json:"id"`
	Group      string             `json:"group"`
	Batch      string             `json:"batch,omitempty"`
	Covariates map[string]float64 `json:"covariates,omitempty"` // numeric covariates (RIN, age, ...)
	Attributes map[string]string  `json:"attributes,omitempty"` // categorical fields (sex, litter, ...)
}

// Field returns a categorical metadata value. "group" and "batch" resolve to
// the dedicated fields.
func (s SampleMeta) Field(name string) (string, bool) {
	switch name {
	case "group":
		return s.Group, s.Group != ""
	case "batch":
		return s.Batch, s.Batch != ""
	}
	v, ok := s.Attributes[name]
	return v, ok
}

// Numeric returns a numeric covariate value.
func (s SampleMeta) Numeric(name string) (float64, bool) {
	v, ok := s.Covariates[name]
	return v, ok
}

// Dataset is the expression container handed to the pipeline by a loader.
// Matrices are genes × samples; every stage treats a Dataset as read-only and
// derives new ones instead of editing in place.
type Dataset struct {
	GeneIDs   []string     `json:"gene_ids"`
	Symbols   []string     `json:"symbols"`
	SampleIDs []string     `json:"sample_ids"`
	Counts    [][]int      `json:"counts"`
	TPM       [][]float64  `json:"tpm,omitempty"`
	Samples   []SampleMeta `json:"samples"`
}

// NumGenes returns the number of genes
func (d *Dataset) NumGenes() int { return len(d.GeneIDs) }

// NumSamples returns the number of samples
func (d *Dataset) NumSamples() int { return len(d.SampleIDs) }

// Validate checks that all matrices and annotations agree in shape and order.
func (d *Dataset) Validate() error {
	nGenes := len(d.GeneIDs)
	nSamples := len(d.SampleIDs)

	if nGenes == 0 || nSamples == 0 {
		return fmt.Errorf("%w: dataset has %d genes and %d samples", core.ErrInsufficientData, nGenes, nSamples)
	}
	if len(d.Symbols) != nGenes {
		return core.NewDimensionError("gene symbols", len(d.Symbols), nGenes)
	}
	if len(d.Samples) != nSamples {
		return core.NewDimensionError("sample metadata", len(d.Samples), nSamples)
	}
	if len(d.Counts) != nGenes {
		return core.NewDimensionError("count rows", len(d.Counts), nGenes)
	}
	if d.TPM != nil && len(d.TPM) != nGenes {
		return core.NewDimensionError("TPM rows", len(d.TPM), nGenes)
	}

	seen := make(map[string]bool, nSamples)
	for j, id := range d.SampleIDs {
		if seen[id] {
			return core.NewValidationError("sample_ids", fmt.Sprintf("duplicate sample %s", id))
		}
		seen[id] = true
		if d.Samples[j].ID != id {
			return core.NewValidationError("samples", fmt.Sprintf("metadata order differs at %d: %s != %s", j, d.Samples[j].ID, id))
		}
	}

	genes := make(map[string]bool, nGenes)
	for g, id := range d.GeneIDs {
		if genes[id] {
			return core.NewValidationError("gene_ids", fmt.Sprintf("duplicate gene %s", id))
		}
		genes[id] = true

		if len(d.Counts[g]) != nSamples {
			return core.NewDimensionError(fmt.Sprintf("count row %s", id), len(d.Counts[g]), nSamples)
		}
		for _, c := range d.Counts[g] {
			if c < 0 {
				return fmt.Errorf("%w: gene %s", core.ErrNegativeCount, id)
			}
		}
		if d.TPM != nil && len(d.TPM[g]) != nSamples {
			return core.NewDimensionError(fmt.Sprintf("TPM row %s", id), len(d.TPM[g]), nSamples)
		}
	}

	return nil
}

// Fingerprint hashes counts together with gene and sample order.
func (d *Dataset) Fingerprint() core.DatasetHash {
	return core.ComputeDatasetHash(d.GeneIDs, d.SampleIDs, d.Counts)
}

// SubsetGenes returns a new dataset holding the genes where keep is true.
// Row slices are copied so the result shares no backing arrays with d.
func (d *Dataset) SubsetGenes(keep []bool) (*Dataset, error) {
	if len(keep) != d.NumGenes() {
		return nil, core.NewDimensionError("gene mask", len(keep), d.NumGenes())
	}

	out := &Dataset{
		SampleIDs: append([]string(nil), d.SampleIDs...),
		Samples:   cloneSamples(d.Samples),
	}
	for g, k := range keep {
		if !k {
			continue
		}
		out.GeneIDs = append(out.GeneIDs, d.GeneIDs[g])
		out.Symbols = append(out.Symbols, d.Symbols[g])
		out.Counts = append(out.Counts, append([]int(nil), d.Counts[g]...))
		if d.TPM != nil {
			out.TPM = append(out.TPM, append([]float64(nil), d.TPM[g]...))
		}
	}
	return out, nil
}

// ExcludeSamples drops the listed sample ids. Unknown ids are reported so a
// stale exclusion list cannot silently do nothing.
func (d *Dataset) ExcludeSamples(ids []string) (*Dataset, error) {
	if len(ids) == 0 {
		return d.clone(), nil
	}

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	for _, id := range d.SampleIDs {
		delete(drop, id)
	}
	for id := range drop {
		return nil, core.NewValidationError("exclusions", fmt.Sprintf("sample %s not in dataset", id))
	}

	excluded := make(map[string]bool, len(ids))
	for _, id := range ids {
		excluded[id] = true
	}

	var cols []int
	out := &Dataset{
		GeneIDs: append([]string(nil), d.GeneIDs...),
		Symbols: append([]string(nil), d.Symbols...),
	}
	for j, id := range d.SampleIDs {
		if excluded[id] {
			continue
		}
		cols = append(cols, j)
		out.SampleIDs = append(out.SampleIDs, id)
		out.Samples = append(out.Samples, cloneSample(d.Samples[j]))
	}

	out.Counts = make([][]int, len(d.Counts))
	for g, row := range d.Counts {
		out.Counts[g] = make([]int, len(cols))
		for k, j := range cols {
			out.Counts[g][k] = row[j]
		}
	}
	if d.TPM != nil {
		out.TPM = make([][]float64, len(d.TPM))
		for g, row := range d.TPM {
			out.TPM[g] = make([]float64, len(cols))
			for k, j := range cols {
				out.TPM[g][k] = row[j]
			}
		}
	}
	return out, nil
}

// GroupLevels returns the distinct group labels in first-seen order.
func (d *Dataset) GroupLevels() []string {
	var levels []string
	seen := make(map[string]bool)
	for _, s := range d.Samples {
		if !seen[s.Group] {
			seen[s.Group] = true
			levels = append(levels, s.Group)
		}
	}
	return levels
}

// SymbolIndex maps gene id to display symbol.
func (d *Dataset) SymbolIndex() map[string]string {
	idx := make(map[string]string, len(d.GeneIDs))
	for g, id := range d.GeneIDs {
		idx[id] = d.Symbols[g]
	}
	return idx
}

func (d *Dataset) clone() *Dataset {
	keep := make([]bool, d.NumGenes())
	for i := range keep {
		keep[i] = true
	}
	out, _ := d.SubsetGenes(keep)
	return out
}

func cloneSamples(in []SampleMeta) []SampleMeta {
	out := make([]SampleMeta, len(in))
	for i, s := range in {
		out[i] = cloneSample(s)
	}
	return out
}

func cloneSample(s SampleMeta) SampleMeta {
	c := s
	if s.Covariates != nil {
		c.Covariates = make(map[string]float64, len(s.Covariates))
		for k, v := range s.Covariates {
			c.Covariates[k] = v
		}
	}
	if s.Attributes != nil {
		c.Attributes = make(map[string]string, len(s.Attributes))
		for k, v := range s.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}
