package sample

import (
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// LabelMap is a declarative relabeling of categorical metadata values for
// display, e.g. injury "sham" -> "Sham", treatment "fmt" -> "FMT". It is
// applied at the presentation boundary only and never alters Metadata.
type LabelMap struct {
	labels map[string]map[string]string
	order  map[string][]string
}

// NewLabelMap returns an empty map. Unmapped values display as themselves.
func NewLabelMap() *LabelMap {
	return &LabelMap{labels: map[string]map[string]string{}, order: map[string][]string{}}
}

// Set maps value of column to label. Labels of a column keep the order in
// which they were first set.
func (l *LabelMap) Set(column, value, label string) {
	m, ok := l.labels[column]
	if !ok {
		m = map[string]string{}
		l.labels[column] = m
	}
	if _, ok := m[value]; !ok {
		l.order[column] = append(l.order[column], value)
	}
	m[value] = label
}

// Label returns the display label of value in column.
func (l *LabelMap) Label(column, value string) string {
	if l == nil {
		return value
	}
	if label, ok := l.labels[column][value]; ok {
		return label
	}
	return value
}

// Order returns levels sorted by declaration order of their labels; values
// without a declared label follow in their given order.
func (l *LabelMap) Order(column string, levels []string) []string {
	if l == nil {
		return levels
	}
	rank := map[string]int{}
	for i, v := range l.order[column] {
		rank[v] = i
	}
	var declared, rest []string
	for _, v := range levels {
		if _, ok := rank[v]; ok {
			declared = append(declared, v)
		} else {
			rest = append(rest, v)
		}
	}
	for i := 1; i < len(declared); i++ {
		for j := i; j > 0 && rank[declared[j]] < rank[declared[j-1]]; j-- {
			declared[j], declared[j-1] = declared[j-1], declared[j]
		}
	}
	return append(declared, rest...)
}

type labelRow struct {
	Column string `tsv:"column"`
	Value  string `tsv:"value"`
	Label  string `tsv:"label"`
}

// ReadLabelMap reads a three-column TSV with header "column value label".
func ReadLabelMap(r io.Reader) (*LabelMap, error) {
	tr := tsv.NewReader(r)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	tr.Comment = '#'
	l := NewLabelMap()
	for {
		var row labelRow
		if err := tr.Read(&row); err != nil {
			if err == io.EOF {
				return l, nil
			}
			return nil, errors.E(err, "sample: read label map")
		}
		if row.Column == "" || row.Value == "" {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("sample: label map row %+v lacks a column or value", row))
		}
		l.Set(row.Column, row.Value, row.Label)
	}
}

// ReadLabelMapFile reads a label map from path.
func ReadLabelMapFile(ctx context.Context, path string) (*LabelMap, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "sample: open", path)
	}
	l, err := ReadLabelMap(in.Reader(ctx))
	if e := in.Close(ctx); e != nil && err == nil {
		err = e
	}
	return l, err
}
