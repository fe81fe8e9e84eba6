// Package sample holds per-sample metadata (sex, injury status, treatment,
// timepoint, ...) keyed by sample identifier, and the display relabeling
// applied when results are exported.
package sample

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// Sample is one row of the metadata table.
type Sample struct {
	ID string
	// Fields maps column name to value. The identifier column is not
	// included.
	Fields map[string]string
}

// Metadata is an immutable sample metadata table.
type Metadata struct {
	// IDColumn is the header of the identifier column.
	IDColumn string
	// Columns lists the covariate columns in file order.
	Columns []string
	samples []Sample
	index   map[string]int
}

// New builds a metadata table. Duplicate sample identifiers are an error.
func New(idColumn string, columns []string, samples []Sample) (*Metadata, error) {
	m := &Metadata{
		IDColumn: idColumn,
		Columns:  append([]string(nil), columns...),
		samples:  make([]Sample, len(samples)),
		index:    make(map[string]int, len(samples)),
	}
	for i, s := range samples {
		if s.ID == "" {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("sample: empty identifier in row %d", i+1))
		}
		if _, ok := m.index[s.ID]; ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("sample: duplicate sample identifier %q", s.ID))
		}
		fields := make(map[string]string, len(s.Fields))
		for k, v := range s.Fields {
			fields[k] = v
		}
		m.samples[i] = Sample{ID: s.ID, Fields: fields}
		m.index[s.ID] = i
	}
	return m, nil
}

// Read parses a tab-separated metadata table. The first row is the header and
// the first column holds sample identifiers.
func Read(r io.Reader) (*Metadata, error) {
	tr := tsv.NewReader(r)
	tr.LazyQuotes = true
	tr.Comment = '#'
	header, err := tr.Reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.E(errors.Invalid, "sample: empty metadata table")
		}
		return nil, errors.E(err, "sample: read header")
	}
	header = append([]string(nil), header...)
	if len(header) < 1 {
		return nil, errors.E(errors.Invalid, "sample: metadata header has no columns")
	}
	var samples []Sample
	for {
		row, err := tr.Reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(err, "sample: read metadata")
		}
		if len(row) != len(header) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("sample: row for %q has %d fields, header has %d", row[0], len(row), len(header)))
		}
		s := Sample{ID: row[0], Fields: make(map[string]string, len(row)-1)}
		for i := 1; i < len(row); i++ {
			s.Fields[header[i]] = row[i]
		}
		samples = append(samples, s)
	}
	return New(header[0], header[1:], samples)
}

// ReadFile reads a metadata table from path.
func ReadFile(ctx context.Context, path string) (*Metadata, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "sample: open", path)
	}
	m, err := Read(in.Reader(ctx))
	if e := in.Close(ctx); e != nil && err == nil {
		err = e
	}
	return m, err
}

// Write writes the table in the format accepted by Read.
func (m *Metadata) Write(w io.Writer) error {
	tw := tsv.NewWriter(w)
	tw.WriteString(m.IDColumn)
	for _, c := range m.Columns {
		tw.WriteString(c)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, s := range m.samples {
		tw.WriteString(s.ID)
		for _, c := range m.Columns {
			tw.WriteString(s.Fields[c])
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Len returns the number of samples.
func (m *Metadata) Len() int { return len(m.samples) }

// IDs returns the sample identifiers in table order.
func (m *Metadata) IDs() []string {
	ids := make([]string, len(m.samples))
	for i, s := range m.samples {
		ids[i] = s.ID
	}
	return ids
}

// Get returns a copy of the sample with the given identifier.
func (m *Metadata) Get(id string) (Sample, bool) {
	i, ok := m.index[id]
	if !ok {
		return Sample{}, false
	}
	s := Sample{ID: id, Fields: make(map[string]string, len(m.samples[i].Fields))}
	for k, v := range m.samples[i].Fields {
		s.Fields[k] = v
	}
	return s, true
}

// Value returns the value of column for sample id.
func (m *Metadata) Value(id, column string) (string, bool) {
	i, ok := m.index[id]
	if !ok {
		return "", false
	}
	v, ok := m.samples[i].Fields[column]
	return v, ok
}

// HasColumn reports whether column is a covariate of the table.
func (m *Metadata) HasColumn(column string) bool {
	for _, c := range m.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Groups partitions sample identifiers by their value of column. Identifiers
// within a group keep table order.
func (m *Metadata) Groups(column string) (map[string][]string, error) {
	if !m.HasColumn(column) {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("sample: no metadata column %q", column))
	}
	groups := map[string][]string{}
	for _, s := range m.samples {
		v := s.Fields[column]
		groups[v] = append(groups[v], s.ID)
	}
	return groups, nil
}

// Levels returns the distinct values of column, sorted.
func (m *Metadata) Levels(column string) []string {
	seen := map[string]bool{}
	var levels []string
	for _, s := range m.samples {
		if v := s.Fields[column]; !seen[v] {
			seen[v] = true
			levels = append(levels, v)
		}
	}
	sort.Strings(levels)
	return levels
}

// Subset returns a new table holding the given samples, in the given order.
func (m *Metadata) Subset(ids []string) (*Metadata, error) {
	samples := make([]Sample, len(ids))
	for i, id := range ids {
		s, ok := m.Get(id)
		if !ok {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("sample: unknown sample %q", id))
		}
		samples[i] = s
	}
	return New(m.IDColumn, m.Columns, samples)
}
