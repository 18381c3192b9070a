package excel

// Table is one sheet or delimited file as trimmed strings
type Table struct {
	Name    string     // sheet or file name
	Headers []string   // first row
	Rows    [][]string // data rows, padded to len(Headers)
}

// Column returns the index of the named header, case-insensitively.
func (t *Table) Column(name string) int {
	for i, h := range t.Headers {
		if equalFold(h, name) {
			return i
		}
	}
	return -1
}
