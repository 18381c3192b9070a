package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"neurodiff/domain/dataset"
	"neurodiff/domain/stats"

	"github.com/xuri/excelize/v2"
)

// WriteDE writes the differential expression table as TSV.
func WriteDE(w io.Writer, result *stats.DEResult, opts Options) error {
	return writeTSV(w, deTable(result, opts))
}

// WriteEnrichment writes one configuration's enrichment rows as TSV.
func WriteEnrichment(w io.Writer, report *stats.EnrichmentReport, opts Options) error {
	return writeTSV(w, enrichmentTable(report, opts))
}

// WriteExpressed writes the classifier membership, one gene per row.
func WriteExpressed(w io.Writer, set *dataset.ExpressedGeneSet, opts Options) error {
	return writeTSV(w, expressedTable(set, opts))
}

func writeTSV(w io.Writer, t table) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(t.header); err != nil {
		return err
	}
	if err := cw.WriteAll(t.rows); err != nil {
		return fmt.Errorf("failed to write %s table: %w", t.name, err)
	}
	return nil
}

// WriteDir writes one <table>.tsv per table of b into dir and returns the
// paths written.
func WriteDir(dir string, b Bundle, opts Options) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	var paths []string
	for _, t := range b.tables(opts) {
		p := filepath.Join(dir, t.name+".tsv")
		f, err := os.Create(p)
		if err != nil {
			return paths, fmt.Errorf("failed to create %s: %w", p, err)
		}
		err = writeTSV(f, t)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	log.Printf("[Export] wrote %d tables to %s", len(paths), dir)
	return paths, nil
}

// WriteWorkbook writes every table of b to its own sheet of an xlsx file.
func WriteWorkbook(path string, b Bundle, opts Options) error {
	start := time.Now()
	tables := b.tables(opts)
	if len(tables) == 0 {
		return fmt.Errorf("nothing to export")
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", t.name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(t.name); err != nil {
			return fmt.Errorf("failed to add sheet %s: %w", t.name, err)
		}

		sw, err := f.NewStreamWriter(t.name)
		if err != nil {
			return err
		}
		if err := sw.SetRow("A1", cells(t.header)); err != nil {
			return err
		}
		for r, row := range t.rows {
			cell, _ := excelize.CoordinatesToCellName(1, r+2)
			if err := sw.SetRow(cell, cells(row)); err != nil {
				return fmt.Errorf("failed to write %s row %d: %w", t.name, r+2, err)
			}
		}
		if err := sw.Flush(); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	log.Printf("[Export] %s: %d sheets in %.2fms", path, len(tables), float64(time.Since(start).Nanoseconds())/1e6)
	return nil
}

func cells(row []string) []interface{} {
	out := make([]interface{}, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}
