// Package export writes result tables as tab-separated text or xlsx
// workbooks. Display rounding happens here and only here; stored and in-memory
// results keep full precision.
package export

import (
	"strconv"
	"strings"
)

// Options controls value rendering.
type Options struct {
	// FullPrecision writes every float with 17 significant digits instead of
	// the display rounding (log2FC to 3 decimals, p-values to 3 significant
	// figures).
	FullPrecision bool
}

const missing = "NA"

func (o Options) log2FC(v float64) string {
	if o.FullPrecision {
		return full(v)
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func (o Options) pvalue(v float64) string {
	if o.FullPrecision {
		return full(v)
	}
	return strconv.FormatFloat(v, 'g', 3, 64)
}

func (o Options) nullablePValue(v *float64) string {
	if v == nil {
		return missing
	}
	return o.pvalue(*v)
}

func (o Options) number(v float64) string {
	if o.FullPrecision {
		return full(v)
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func (o Options) nullableNumber(v *float64) string {
	if v == nil {
		return missing
	}
	return o.number(*v)
}

func full(v float64) string {
	return strconv.FormatFloat(v, 'g', 17, 64)
}

// SheetName turns a configuration name into a file or sheet name.
func SheetName(prefix, name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "[", "_", "]", "_", " ", "_")
	s := prefix + r.Replace(name)
	if len(s) > 31 {
		s = s[:31]
	}
	return s
}
