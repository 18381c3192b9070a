package excel

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// DataReader reads tables from an xlsx workbook or from delimited files
type DataReader struct {
	path     string
	fileType string // "xlsx", "csv", "tsv" or "dir"
}

// NewDataReader creates a reader for a workbook, a single delimited file or a
// directory of delimited files named after their sheet.
func NewDataReader(path string) *DataReader {
	fileType := "dir"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		fileType = "xlsx"
	case ".csv":
		fileType = "csv"
	case ".tsv", ".txt":
		fileType = "tsv"
	}
	return &DataReader{path: path, fileType: fileType}
}

// ReadTable reads the named sheet. For a directory source the sheet is the
// file <dir>/<sheet>.tsv, .csv or .txt; for a single delimited file the sheet
// name is ignored. ok is false when an optional sheet is absent.
func (r *DataReader) ReadTable(sheet string) (table *Table, ok bool, err error) {
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		return nil, false, fmt.Errorf("%s source not found: %s", r.fileType, r.path)
	}

	start := time.Now()
	var rows [][]string
	name := sheet
	switch r.fileType {
	case "xlsx":
		rows, ok, err = r.readSheet(sheet)
	case "csv", "tsv":
		name = strings.TrimSuffix(filepath.Base(r.path), filepath.Ext(r.path))
		rows, err = readDelimited(r.path, delimiterFor(r.path))
		ok = err == nil
	default:
		rows, ok, err = r.readDirEntry(sheet)
	}
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(rows) < 2 {
		return nil, true, fmt.Errorf("%s: need a header row and at least one data row", name)
	}

	table = toTable(name, rows)
	log.Printf("[DataReader] %s read in %.2fms (%d columns, %d rows)",
		name, float64(time.Since(start).Nanoseconds())/1e6, len(table.Headers), len(table.Rows))
	return table, true, nil
}

func (r *DataReader) readSheet(sheet string) ([][]string, bool, error) {
	f, err := excelize.OpenFile(r.path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(sheet)
	if err != nil || idx < 0 {
		return nil, false, nil
	}
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, true, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return rows, true, nil
}

func (r *DataReader) readDirEntry(sheet string) ([][]string, bool, error) {
	for _, ext := range []string{".tsv", ".csv", ".txt"} {
		p := filepath.Join(r.path, sheet+ext)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		rows, err := readDelimited(p, delimiterFor(p))
		return rows, true, err
	}
	return nil, false, nil
}

func delimiterFor(path string) rune {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ','
	}
	return '\t'
}

func readDelimited(path string, comma rune) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.Comment = '#'
	reader.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// toTable trims cells, drops blank rows and pads short rows.
func toTable(name string, rows [][]string) *Table {
	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	t := &Table{Name: name, Headers: headers}
	for _, row := range rows[1:] {
		cells := make([]string, len(headers))
		blank := true
		for j := 0; j < len(headers) && j < len(row); j++ {
			cells[j] = strings.TrimSpace(row[j])
			if cells[j] != "" {
				blank = false
			}
		}
		if !blank {
			t.Rows = append(t.Rows, cells)
		}
	}
	return t
}

func equalFold(a, b string) bool { return strings.EqualFold(a, b) }
