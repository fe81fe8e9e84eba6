// Package featuretable holds the samples by sequence-variant abundance
// matrix.
package featuretable

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// Table is an abundance matrix. Counts[i][j] is the count of Features[j] in
// Samples[i]. Sample and feature names are unique and counts are
// non-negative.
type Table struct {
	Samples  []string
	Features []string
	Counts   [][]int
}

// New validates and returns a table. The slices are not copied.
func New(samples, features []string, counts [][]int) (*Table, error) {
	t := &Table{Samples: samples, Features: features, Counts: counts}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func duplicate(names []string) (string, bool) {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return n, true
		}
		seen[n] = true
	}
	return "", false
}

// Validate checks the table's shape and invariants.
func (t *Table) Validate() error {
	if d, ok := duplicate(t.Samples); ok {
		return errors.E(errors.Invalid, fmt.Sprintf("featuretable: duplicate sample %q", d))
	}
	if d, ok := duplicate(t.Features); ok {
		return errors.E(errors.Invalid, fmt.Sprintf("featuretable: duplicate feature %q", d))
	}
	if len(t.Counts) != len(t.Samples) {
		return errors.E(errors.Invalid, fmt.Sprintf("featuretable: %d rows for %d samples", len(t.Counts), len(t.Samples)))
	}
	for i, row := range t.Counts {
		if len(row) != len(t.Features) {
			return errors.E(errors.Invalid, fmt.Sprintf("featuretable: sample %q has %d counts for %d features", t.Samples[i], len(row), len(t.Features)))
		}
		for j, c := range row {
			if c < 0 {
				return errors.E(errors.Invalid, fmt.Sprintf("featuretable: negative count %d for sample %q feature %q", c, t.Samples[i], t.Features[j]))
			}
		}
	}
	return nil
}

// Make builds a table from per-sample sequence abundances. Columns are
// ordered by decreasing total abundance, ties by sequence.
func Make(samples []string, abundances []map[string]int) (*Table, error) {
	if len(samples) != len(abundances) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("featuretable: %d samples but %d abundance sets", len(samples), len(abundances)))
	}
	totals := map[string]int{}
	for _, a := range abundances {
		for s, n := range a {
			totals[s] += n
		}
	}
	features := make([]string, 0, len(totals))
	for s := range totals {
		features = append(features, s)
	}
	sort.Slice(features, func(i, j int) bool {
		if totals[features[i]] != totals[features[j]] {
			return totals[features[i]] > totals[features[j]]
		}
		return features[i] < features[j]
	})
	counts := make([][]int, len(samples))
	for i, a := range abundances {
		counts[i] = make([]int, len(features))
		for j, f := range features {
			counts[i][j] = a[f]
		}
	}
	return New(append([]string(nil), samples...), features, counts)
}

// SampleIndex returns the row of the named sample, or -1.
func (t *Table) SampleIndex(s string) int {
	for i, n := range t.Samples {
		if n == s {
			return i
		}
	}
	return -1
}

// FeatureIndex returns the column of the named feature, or -1.
func (t *Table) FeatureIndex(f string) int {
	for j, n := range t.Features {
		if n == f {
			return j
		}
	}
	return -1
}

// Total returns the sum of all counts.
func (t *Table) Total() int {
	n := 0
	for _, row := range t.Counts {
		for _, c := range row {
			n += c
		}
	}
	return n
}

// RowSums returns per-sample totals.
func (t *Table) RowSums() []int {
	sums := make([]int, len(t.Samples))
	for i, row := range t.Counts {
		for _, c := range row {
			sums[i] += c
		}
	}
	return sums
}

// ColSums returns per-feature totals.
func (t *Table) ColSums() []int {
	sums := make([]int, len(t.Features))
	for _, row := range t.Counts {
		for j, c := range row {
			sums[j] += c
		}
	}
	return sums
}

// Column returns a copy of the counts of feature j.
func (t *Table) Column(j int) []int {
	col := make([]int, len(t.Samples))
	for i, row := range t.Counts {
		col[i] = row[j]
	}
	return col
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := &Table{
		Samples:  append([]string(nil), t.Samples...),
		Features: append([]string(nil), t.Features...),
		Counts:   make([][]int, len(t.Counts)),
	}
	for i, row := range t.Counts {
		c.Counts[i] = append([]int(nil), row...)
	}
	return c
}

// Subset returns a new table holding the named samples, in the given order.
func (t *Table) Subset(samples []string) (*Table, error) {
	rows := make([][]int, len(samples))
	for i, s := range samples {
		r := t.SampleIndex(s)
		if r < 0 {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("featuretable: no sample %q", s))
		}
		rows[i] = append([]int(nil), t.Counts[r]...)
	}
	return New(append([]string(nil), samples...), append([]string(nil), t.Features...), rows)
}

// SelectFeatures returns a new table holding the columns for which keep
// returns true, in their original order.
func (t *Table) SelectFeatures(keep func(j int, name string) bool) *Table {
	var cols []int
	for j, f := range t.Features {
		if keep(j, f) {
			cols = append(cols, j)
		}
	}
	out := &Table{
		Samples:  append([]string(nil), t.Samples...),
		Features: make([]string, len(cols)),
		Counts:   make([][]int, len(t.Counts)),
	}
	for k, j := range cols {
		out.Features[k] = t.Features[j]
	}
	for i, row := range t.Counts {
		out.Counts[i] = make([]int, len(cols))
		for k, j := range cols {
			out.Counts[i][k] = row[j]
		}
	}
	return out
}

// DropEmptyFeatures removes columns whose counts are all zero.
func (t *Table) DropEmptyFeatures() *Table {
	sums := t.ColSums()
	return t.SelectFeatures(func(j int, _ string) bool { return sums[j] > 0 })
}

// RenameFeatures returns a copy of the table with new column names.
func (t *Table) RenameFeatures(names []string) (*Table, error) {
	if len(names) != len(t.Features) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("featuretable: %d names for %d features", len(names), len(t.Features)))
	}
	c := t.Clone()
	c.Features = append([]string(nil), names...)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// IDColumn is the header of the sample column written by Write.
const IDColumn = "sample"

// Write writes the table as a TSV with one row per sample.
func (t *Table) Write(w io.Writer) error {
	tw := tsv.NewWriter(w)
	tw.WriteString(IDColumn)
	for _, f := range t.Features {
		tw.WriteString(f)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for i, s := range t.Samples {
		tw.WriteString(s)
		for _, c := range t.Counts[i] {
			tw.WriteString(strconv.Itoa(c))
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Read parses a table written by Write.
func Read(r io.Reader) (*Table, error) {
	tr := tsv.NewReader(r)
	header, err := tr.Reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.E(errors.Invalid, "featuretable: empty table")
		}
		return nil, errors.E(err, "featuretable: read header")
	}
	header = append([]string(nil), header...)
	t := &Table{Features: header[1:]}
	for {
		row, err := tr.Reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(err, "featuretable: read")
		}
		if len(row) != len(header) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("featuretable: row for %q has %d fields, header has %d", row[0], len(row), len(header)))
		}
		counts := make([]int, len(row)-1)
		for j := range counts {
			if counts[j], err = strconv.Atoi(row[j+1]); err != nil {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("featuretable: sample %q feature %q: bad count %q", row[0], header[j+1], row[j+1]))
			}
		}
		t.Samples = append(t.Samples, row[0])
		t.Counts = append(t.Counts, counts)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// ReadFile reads a table from path.
func ReadFile(ctx context.Context, path string) (*Table, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "featuretable: open", path)
	}
	t, err := Read(in.Reader(ctx))
	if e := in.Close(ctx); e != nil && err == nil {
		err = e
	}
	return t, err
}

// WriteFile writes the table to path.
func (t *Table) WriteFile(ctx context.Context, path string) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "featuretable: create", path)
	}
	once := errors.Once{}
	once.Set(t.Write(out.Writer(ctx)))
	once.Set(out.Close(ctx))
	return once.Err()
}
