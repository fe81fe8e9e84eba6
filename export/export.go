// Package export writes analysis results as TSV tables for downstream figure
// and manuscript work. Metadata values are written through a LabelMap.
package export

import (
	"context"
	"io"
	"strconv"

	"github.com/grailbio/amplicon/diffabund"
	"github.com/grailbio/amplicon/diversity"
	"github.com/grailbio/amplicon/sample"
	"github.com/grailbio/amplicon/taxonomy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteFile creates path and passes its writer to write.
func WriteFile(ctx context.Context, path string, write func(w io.Writer) error) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "export: create", path)
	}
	if err := write(out.Writer(ctx)); err != nil {
		_ = out.Close(ctx)
		return errors.E(err, "export: write", path)
	}
	return out.Close(ctx)
}

// Alpha writes one row per sample: the identifier, every metadata column
// (labeled), then every metric.
func Alpha(w io.Writer, a *diversity.AlphaTable, meta *sample.Metadata, labels *sample.LabelMap) error {
	tw := tsv.NewWriter(w)
	tw.WriteString(meta.IDColumn)
	for _, c := range meta.Columns {
		tw.WriteString(c)
	}
	for _, m := range a.Metrics {
		tw.WriteString(m)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for i, s := range a.Samples {
		tw.WriteString(s)
		for _, c := range meta.Columns {
			v, _ := meta.Value(s, c)
			tw.WriteString(labels.Label(c, v))
		}
		for _, v := range a.Values[i] {
			tw.WriteString(formatFloat(v))
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Distances writes a distance matrix with a header row of sample
// identifiers.
func Distances(w io.Writer, m *diversity.DistanceMatrix) error {
	tw := tsv.NewWriter(w)
	tw.WriteString(m.Metric)
	for _, id := range m.IDs {
		tw.WriteString(id)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for i, id := range m.IDs {
		tw.WriteString(id)
		for _, d := range m.D[i] {
			tw.WriteString(formatFloat(d))
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Ordination writes one row per sample with columns sample, PC1, PC2, ...
// and a final row "explained" holding each axis's explained fraction.
func Ordination(w io.Writer, o *diversity.Ordination) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("sample")
	for k := range o.Eigenvalues {
		tw.WriteString("PC" + strconv.Itoa(k+1))
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	row := func(name string, v []float64) error {
		tw.WriteString(name)
		for _, x := range v {
			tw.WriteString(formatFloat(x))
		}
		return tw.EndLine()
	}
	for i, id := range o.IDs {
		if err := row(id, o.Coords[i]); err != nil {
			return err
		}
	}
	if err := row("explained", o.Explained); err != nil {
		return err
	}
	return tw.Flush()
}

// Permanova writes one row per test.
func Permanova(w io.Writer, results []diversity.PermanovaResult) error {
	tw := tsv.NewWriter(w)
	for _, h := range []string{"metric", "groups", "n", "pseudo_f", "p", "permutations"} {
		tw.WriteString(h)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, r := range results {
		tw.WriteString(r.Metric)
		tw.WriteString(strconv.Itoa(len(r.Groups)))
		tw.WriteString(strconv.Itoa(r.N))
		tw.WriteString(formatFloat(r.F))
		tw.WriteString(formatFloat(r.P))
		tw.WriteString(strconv.Itoa(r.Permutations))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// DiffAbund writes differential-abundance results with each feature's
// lineage. taxa may be nil.
func DiffAbund(w io.Writer, results []diffabund.Result, taxa *taxonomy.Table) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("feature")
	var ranks []string
	if taxa != nil {
		ranks = taxa.Ranks
	}
	for _, r := range ranks {
		tw.WriteString(r)
	}
	for _, h := range []string{"mean_a", "mean_b", "log2fc", "statistic", "p", "q"} {
		tw.WriteString(h)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, r := range results {
		tw.WriteString(r.Feature)
		if taxa != nil {
			lineage, ok := taxa.Get(r.Feature)
			for k := range ranks {
				v := ""
				if ok {
					v = lineage[k]
				}
				tw.WriteString(v)
			}
		}
		for _, v := range []float64{r.MeanA, r.MeanB, r.Log2FC, r.Statistic, r.P, r.Q} {
			tw.WriteString(formatFloat(v))
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// GroupTest is a test of one alpha metric across the groups of a metadata
// column.
type GroupTest struct {
	Metric, Column string
	H, P           float64
}

// GroupTests writes one row per test.
func GroupTests(w io.Writer, tests []GroupTest) error {
	tw := tsv.NewWriter(w)
	for _, h := range []string{"metric", "column", "kruskal_h", "p"} {
		tw.WriteString(h)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for _, t := range tests {
		tw.WriteString(t.Metric)
		tw.WriteString(t.Column)
		tw.WriteString(formatFloat(t.H))
		tw.WriteString(formatFloat(t.P))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
