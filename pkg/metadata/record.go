package metadata

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Entry is one scan parameter: a stable key, the display label the
// instrument software uses, and a typed value (int, float64, string or
// bool).
type Entry struct {
	Key   string
	Label string
	Value any
}

// Record is an ordered set of scan parameters. Order is fixed per
// container variant and matches the instrument's own display order.
type Record struct {
	Entries []Entry
}

func (r *Record) add(key, label string, value any) {
	r.Entries = append(r.Entries, Entry{Key: key, Label: label, Value: value})
}

// Get returns the value for a parameter key.
func (r *Record) Get(key string) (any, bool) {
	for _, e := range r.Entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Float returns a float64 parameter, or NaN if absent or differently
// typed.
func (r *Record) Float(key string) float64 {
	if v, ok := r.Get(key); ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return math.NaN()
}

// WriteTab writes the record as tab-delimited text, one "Label:\tvalue"
// line per parameter.
func (r *Record) WriteTab(w io.Writer) error {
	for _, e := range r.Entries {
		if _, err := fmt.Fprintf(w, "%s:\t%s\n", e.Label, formatValue(e.Value)); err != nil {
			return err
		}
	}
	return nil
}

// WriteCSV writes the record as comma-delimited text in the same line
// shape as WriteTab with the tab replaced by a comma.
func (r *Record) WriteCSV(w io.Writer) error {
	for _, e := range r.Entries {
		if _, err := fmt.Fprintf(w, "%s:,%s\n", e.Label, formatValue(e.Value)); err != nil {
			return err
		}
	}
	return nil
}

// Fprint writes the record for console display.
func (r *Record) Fprint(w io.Writer) {
	for _, e := range r.Entries {
		fmt.Fprintf(w, "%s:\t%s\n", e.Label, formatValue(e.Value))
	}
}

// OutputName builds the export filename for a record:
// {stem}_{recipe}_{suffix}.{ext} for recipe records, {stem}_{suffix}.{ext}
// otherwise.
func OutputName(containerPath, recipeName, ext string) string {
	base := containerPath[strings.LastIndexAny(containerPath, `/\`)+1:]
	suffix := ""
	if i := strings.LastIndex(base, "."); i >= 0 {
		suffix = base[i+1:]
		base = base[:i]
	}
	if recipeName != "" {
		return fmt.Sprintf("%s_%s_%s.%s", base, recipeName, suffix, ext)
	}
	return fmt.Sprintf("%s_%s.%s", base, suffix, ext)
}

// formatValue renders a parameter the way the instrument software
// prints it; whole floats keep a trailing ".0".
func formatValue(v any) string {
	switch t := v.(type) {
	case float64:
		s := strconv.FormatFloat(t, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") && !strings.Contains(s, "Inf") && s != "NaN" {
			s += ".0"
		}
		return s
	case bool:
		if t {
			return "Enabled"
		}
		return "Disabled"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// roundN rounds to n decimal places with half-to-even ties, matching
// the rounding the instrument software applied when formatting.
func roundN(v float64, n int) float64 {
	p := math.Pow(10, float64(n))
	return math.RoundToEven(v*p) / p
}
