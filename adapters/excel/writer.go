package excel

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"neurodiff/domain/dataset"

	"github.com/xuri/excelize/v2"
)

// WriteDatasetWorkbook writes ds in the layout read by Loader with
// DefaultLoaderConfig.
func WriteDatasetWorkbook(ds *dataset.Dataset, path string) error {
	start := time.Now()
	cfg := DefaultLoaderConfig()
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", cfg.CountsSheet); err != nil {
		return fmt.Errorf("failed to name counts sheet: %w", err)
	}
	header := append([]interface{}{cfg.GeneIDColumn, cfg.SymbolColumn}, toCells(ds.SampleIDs)...)
	if err := f.SetSheetRow(cfg.CountsSheet, "A1", &header); err != nil {
		return err
	}
	for g, id := range ds.GeneIDs {
		row := []interface{}{id, ds.Symbols[g]}
		for _, c := range ds.Counts[g] {
			row = append(row, c)
		}
		if err := setRow(f, cfg.CountsSheet, g+2, row); err != nil {
			return err
		}
	}

	if ds.TPM != nil {
		if _, err := f.NewSheet(cfg.TPMSheet); err != nil {
			return err
		}
		if err := f.SetSheetRow(cfg.TPMSheet, "A1", &header); err != nil {
			return err
		}
		for g, id := range ds.GeneIDs {
			row := []interface{}{id, ds.Symbols[g]}
			for _, v := range ds.TPM[g] {
				row = append(row, v)
			}
			if err := setRow(f, cfg.TPMSheet, g+2, row); err != nil {
				return err
			}
		}
	}

	if _, err := f.NewSheet(cfg.SamplesSheet); err != nil {
		return err
	}
	covariates, attributes := metadataColumns(ds.Samples)
	sampleHeader := []interface{}{cfg.SampleIDColumn, cfg.GroupColumn, cfg.BatchColumn}
	sampleHeader = append(sampleHeader, toCells(covariates)...)
	sampleHeader = append(sampleHeader, toCells(attributes)...)
	if err := f.SetSheetRow(cfg.SamplesSheet, "A1", &sampleHeader); err != nil {
		return err
	}
	for j, s := range ds.Samples {
		row := []interface{}{s.ID, s.Group, s.Batch}
		for _, c := range covariates {
			row = append(row, strconv.FormatFloat(s.Covariates[c], 'g', -1, 64))
		}
		for _, a := range attributes {
			row = append(row, s.Attributes[a])
		}
		if err := setRow(f, cfg.SamplesSheet, j+2, row); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	log.Printf("[DataWriter] %s written in %.2fms", path, float64(time.Since(start).Nanoseconds())/1e6)
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toCells(xs []string) []interface{} {
	out := make([]interface{}, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func metadataColumns(samples []dataset.SampleMeta) (covariates, attributes []string) {
	cov := make(map[string]bool)
	attr := make(map[string]bool)
	for _, s := range samples {
		for k := range s.Covariates {
			cov[k] = true
		}
		for k := range s.Attributes {
			attr[k] = true
		}
	}
	for k := range cov {
		covariates = append(covariates, k)
	}
	for k := range attr {
		attributes = append(attributes, k)
	}
	sort.Strings(covariates)
	sort.Strings(attributes)
	return covariates, attributes
}
