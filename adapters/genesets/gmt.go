// Package genesets reads gene-set databases from GMT files and tests gene
// lists against them locally with the hypergeometric distribution.
package genesets

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"neurodiff/domain/stats"
)

// ParseGMT reads a GMT stream: one term per line, tab separated, with the term
// name, a description and then the member genes. Blank lines are skipped and
// duplicate genes within a term are collapsed.
func ParseGMT(r io.Reader, name string) (*stats.GeneSetDatabase, error) {
	db := &stats.GeneSetDatabase{Name: name}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s line %d: expected term, description and genes, got %d fields", name, line, len(fields))
		}

		term := stats.Term{Name: strings.TrimSpace(fields[0])}
		seen := make(map[string]bool)
		for _, g := range fields[2:] {
			// Some exports append ",weight" to each gene.
			g = strings.TrimSpace(strings.SplitN(g, ",", 2)[0])
			if g == "" || seen[g] {
				continue
			}
			seen[g] = true
			term.Genes = append(term.Genes, g)
		}
		if term.Name == "" || len(term.Genes) == 0 {
			continue
		}
		db.Terms = append(db.Terms, term)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return db, nil
}

// LoadDir parses every *.gmt file in dir. The database name is the file name
// without its extension.
func LoadDir(dir string) ([]*stats.GeneSetDatabase, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.gmt"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var out []*stats.GeneSetDatabase
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open gene-set file: %w", err)
		}
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		db, err := ParseGMT(f, name)
		f.Close()
		if err != nil {
			return nil, err
		}
		log.Printf("[GeneSets] loaded %s: %d terms", name, len(db.Terms))
		out = append(out, db)
	}
	return out, nil
}
