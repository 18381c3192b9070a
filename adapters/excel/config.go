package excel

// LoaderConfig names the sheets (or files, for a directory source) and the
// key columns of an expression workbook.
type LoaderConfig struct {
	CountsSheet  string `json:"counts_sheet"`
	TPMSheet     string `json:"tpm_sheet"`
	SamplesSheet string `json:"samples_sheet"`
	GenesSheet   string `json:"genes_sheet"`

	GeneIDColumn   string `json:"gene_id_column"`
	SymbolColumn   string `json:"symbol_column"`
	SampleIDColumn string `json:"sample_id_column"`
	GroupColumn    string `json:"group_column"`
	BatchColumn    string `json:"batch_column"`

	// RoundCounts accepts non-integer counts (e.g. expected counts from
	// transcript quantifiers) by rounding to the nearest integer.
	RoundCounts bool `json:"round_counts"`
}

// DefaultLoaderConfig returns the sheet and column names written by Export.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		CountsSheet:    "counts",
		TPMSheet:       "tpm",
		SamplesSheet:   "samples",
		GenesSheet:     "genes",
		GeneIDColumn:   "gene_id",
		SymbolColumn:   "symbol",
		SampleIDColumn: "sample_id",
		GroupColumn:    "group",
		BatchColumn:    "batch",
		RoundCounts:    true,
	}
}
