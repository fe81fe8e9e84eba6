package dataset

import (
	"fmt"
	"math/rand"
	"strings"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/amplicon/featuretable"
	"github.com/grailbio/amplicon/sample"
	"github.com/grailbio/amplicon/taxonomy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Subset returns a view holding the named samples, in the given order. All
// features are kept, including ones that become empty.
func (d *Dataset) Subset(samples []string) (*Dataset, error) {
	table, err := d.table.Subset(samples)
	if err != nil {
		return nil, err
	}
	meta, err := d.meta.Subset(samples)
	if err != nil {
		return nil, err
	}
	return &Dataset{table: table, seqs: d.Sequences(), taxa: d.Taxonomy(), tree: d.Tree(), meta: meta}, nil
}

// FilterSamples returns a view holding the samples for which keep returns
// true.
func (d *Dataset) FilterSamples(keep func(s sample.Sample) bool) (*Dataset, error) {
	var ids []string
	for _, id := range d.table.Samples {
		s, _ := d.meta.Get(id)
		if keep(s) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.E(errors.Invalid, "dataset: no samples selected")
	}
	return d.Subset(ids)
}

// PruneFeatures returns a view holding the features for which keep returns
// true. The tree is pruned to the kept features.
func (d *Dataset) PruneFeatures(keep func(id string) bool) (*Dataset, error) {
	var (
		kept = map[string]bool{}
		ids  []string
		seqs []string
	)
	for j, f := range d.table.Features {
		if keep(f) {
			kept[f] = true
			ids = append(ids, f)
			if d.seqs != nil {
				seqs = append(seqs, d.seqs[j])
			}
		}
	}
	if len(ids) == 0 {
		return nil, errors.E(errors.Invalid, "dataset: no features selected")
	}
	table := d.table.SelectFeatures(func(_ int, f string) bool { return kept[f] })
	taxa, err := d.taxa.Subset(ids)
	if err != nil {
		return nil, err
	}
	out := &Dataset{table: table, taxa: taxa, meta: d.meta}
	if d.seqs != nil {
		out.seqs = seqs
	}
	if d.tree != nil {
		if out.tree, err = d.tree.Prune(func(name string) bool { return kept[name] }); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DropEmptyFeatures returns a view without all-zero features.
func (d *Dataset) DropEmptyFeatures() (*Dataset, error) {
	sums := d.table.ColSums()
	nonEmpty := make(map[string]bool, len(sums))
	for j, f := range d.table.Features {
		nonEmpty[f] = sums[j] > 0
	}
	return d.PruneFeatures(func(f string) bool { return nonEmpty[f] })
}

// Rarefy returns a view in which every sample is subsampled without
// replacement to depth reads. Samples with fewer reads are dropped, as are
// features left empty. Each sample draws from its own generator, seeded from
// seed and the sample identifier, so a sample's draw does not depend on which
// other samples are present.
func (d *Dataset) Rarefy(depth int, seed uint64) (*Dataset, error) {
	if depth < 1 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: rarefaction depth %d", depth))
	}
	var (
		sums    = d.table.RowSums()
		samples []string
		rows    [][]int
	)
	for i, s := range d.table.Samples {
		if sums[i] < depth {
			log.Printf("dataset: rarefy: dropping sample %s with %d reads (< %d)", s, sums[i], depth)
			continue
		}
		r := rand.New(rand.NewSource(int64(seed ^ seahash.Sum64([]byte(s)))))
		row := make([]int, len(d.table.Features))
		// Selection sampling over the sample's reads, in column order.
		need, left := depth, sums[i]
		for j, c := range d.table.Counts[i] {
			for k := 0; k < c && need > 0; k++ {
				if r.Intn(left) < need {
					row[j]++
					need--
				}
				left--
			}
		}
		samples = append(samples, s)
		rows = append(rows, row)
	}
	if len(samples) == 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: no sample has %d reads", depth))
	}
	table, err := featuretable.New(samples, d.Features(), rows)
	if err != nil {
		return nil, err
	}
	meta, err := d.meta.Subset(samples)
	if err != nil {
		return nil, err
	}
	view := &Dataset{table: table, seqs: d.Sequences(), taxa: d.Taxonomy(), tree: d.Tree(), meta: meta}
	return view.DropEmptyFeatures()
}

// Relative returns per-sample proportions, in the shape of Counts. Empty
// samples have all-zero rows.
func (d *Dataset) Relative() [][]float64 {
	sums := d.table.RowSums()
	out := make([][]float64, len(d.table.Counts))
	for i, row := range d.table.Counts {
		out[i] = make([]float64, len(row))
		if sums[i] == 0 {
			continue
		}
		for j, c := range row {
			out[i][j] = float64(c) / float64(sums[i])
		}
	}
	return out
}

// Glom returns a view in which features sharing a lineage down to rank are
// summed into one feature. The new feature identifiers are the
// ";"-joined lineages. Features unassigned at rank are dropped. The view has
// no tree and no sequences.
func (d *Dataset) Glom(rank string) (*Dataset, error) {
	r := d.taxa.RankIndex(rank)
	if r < 0 {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("dataset: no rank %q", rank))
	}
	var (
		groups   = map[string]int{}
		names    []string
		lineages [][]string
		colGroup = make([]int, len(d.table.Features))
	)
	for j, f := range d.table.Features {
		l, _ := d.taxa.Get(f)
		if l[r] == "" {
			colGroup[j] = -1
			continue
		}
		key := strings.Join(l[:r+1], ";")
		g, ok := groups[key]
		if !ok {
			g = len(names)
			groups[key] = g
			names = append(names, key)
			lineages = append(lineages, append([]string(nil), l[:r+1]...))
		}
		colGroup[j] = g
	}
	if len(names) == 0 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: no feature is assigned at rank %s", rank))
	}
	rows := make([][]int, len(d.table.Counts))
	for i, row := range d.table.Counts {
		rows[i] = make([]int, len(names))
		for j, c := range row {
			if g := colGroup[j]; g >= 0 {
				rows[i][g] += c
			}
		}
	}
	table, err := featuretable.New(d.Samples(), names, rows)
	if err != nil {
		return nil, err
	}
	taxa, err := taxonomy.NewTable(append([]string(nil), d.taxa.Ranks[:r+1]...), append([]string(nil), names...), lineages)
	if err != nil {
		return nil, err
	}
	return &Dataset{table: table, taxa: taxa, meta: d.meta}, nil
}
