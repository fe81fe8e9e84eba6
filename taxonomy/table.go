// Package taxonomy assigns taxonomic lineages to sequence variants and stores
// the resulting per-feature table.
package taxonomy

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// DefaultRanks are the ranks of a lineage-in-header reference database.
var DefaultRanks = []string{"Kingdom", "Phylum", "Class", "Order", "Family", "Genus"}

// SpeciesRank is the rank added by AddSpecies.
const SpeciesRank = "Species"

// Table maps features to lineages. Lineages[i] runs from the broadest rank
// to the narrowest and has one entry per rank; an empty entry is
// unassigned.
type Table struct {
	Ranks    []string
	Features []string
	Lineages [][]string
	index    map[string]int
}

// NewTable validates and returns a table.
func NewTable(ranks, features []string, lineages [][]string) (*Table, error) {
	t := &Table{Ranks: ranks, Features: features, Lineages: lineages}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that features are unique and every lineage has one entry
// per rank.
func (t *Table) Validate() error {
	if len(t.Features) != len(t.Lineages) {
		return errors.E(errors.Invalid, fmt.Sprintf("taxonomy: %d features but %d lineages", len(t.Features), len(t.Lineages)))
	}
	index := make(map[string]int, len(t.Features))
	for i, f := range t.Features {
		if _, ok := index[f]; ok {
			return errors.E(errors.Invalid, fmt.Sprintf("taxonomy: duplicate feature %q", f))
		}
		index[f] = i
		if len(t.Lineages[i]) != len(t.Ranks) {
			return errors.E(errors.Invalid, fmt.Sprintf("taxonomy: feature %q has %d ranks, want %d", f, len(t.Lineages[i]), len(t.Ranks)))
		}
	}
	t.index = index
	return nil
}

// Get returns the lineage of a feature.
func (t *Table) Get(feature string) ([]string, bool) {
	i, ok := t.index[feature]
	if !ok {
		return nil, false
	}
	return t.Lineages[i], true
}

// RankIndex returns the index of a rank, or -1.
func (t *Table) RankIndex(rank string) int {
	for i, r := range t.Ranks {
		if r == rank {
			return i
		}
	}
	return -1
}

// Subset returns a new table holding the named features, in the given order.
func (t *Table) Subset(features []string) (*Table, error) {
	lineages := make([][]string, len(features))
	for i, f := range features {
		l, ok := t.Get(f)
		if !ok {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("taxonomy: no feature %q", f))
		}
		lineages[i] = append([]string(nil), l...)
	}
	return NewTable(append([]string(nil), t.Ranks...), append([]string(nil), features...), lineages)
}

// RenameFeatures returns a copy of the table with features renamed through
// names, which must cover every feature.
func (t *Table) RenameFeatures(names map[string]string) (*Table, error) {
	features := make([]string, len(t.Features))
	lineages := make([][]string, len(t.Lineages))
	for i, f := range t.Features {
		n, ok := names[f]
		if !ok {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("taxonomy: no new name for %q", f))
		}
		features[i] = n
		lineages[i] = append([]string(nil), t.Lineages[i]...)
	}
	return NewTable(append([]string(nil), t.Ranks...), features, lineages)
}

// IDColumn is the header of the feature column written by Write.
const IDColumn = "feature"

// Write writes the table as a TSV with one row per feature.
func (t *Table) Write(w io.Writer) error {
	tw := tsv.NewWriter(w)
	tw.WriteString(IDColumn)
	for _, r := range t.Ranks {
		tw.WriteString(r)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for i, f := range t.Features {
		tw.WriteString(f)
		for _, name := range t.Lineages[i] {
			tw.WriteString(name)
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
			return nil, errors.E(errors.Invalid, "taxonomy: empty table")
		}
		return nil, errors.E(err, "taxonomy: read header")
	}
	header = append([]string(nil), header...)
	var (
		features []string
		lineages [][]string
	)
	for {
		row, err := tr.Reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(err, "taxonomy: read")
		}
		if len(row) != len(header) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("taxonomy: row for %q has %d fields, header has %d", row[0], len(row), len(header)))
		}
		features = append(features, row[0])
		lineages = append(lineages, append([]string(nil), row[1:]...))
	}
	return NewTable(header[1:], features, lineages)
}

// ReadFile reads a table from path.
func ReadFile(ctx context.Context, path string) (*Table, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "taxonomy: open", path)
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
		return errors.E(err, "taxonomy: create", path)
	}
	once := errors.Once{}
	once.Set(t.Write(out.Writer(ctx)))
	once.Set(out.Close(ctx))
	return once.Err()
}
