// Package dataset joins the feature table, representative sequences,
// taxonomy, phylogenetic tree and sample metadata into one immutable
// dataset. Assembly succeeds only when every identifier is accounted for:
// nothing is silently dropped or duplicated.
package dataset

import (
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/amplicon/asvid"
	"github.com/grailbio/amplicon/encoding/fasta"
	"github.com/grailbio/amplicon/encoding/newick"
	"github.com/grailbio/amplicon/featuretable"
	"github.com/grailbio/amplicon/sample"
	"github.com/grailbio/amplicon/taxonomy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Inputs are the parts of a dataset. Table columns are feature identifiers.
type Inputs struct {
	Table *featuretable.Table
	// Sequences holds one record per feature, named by identifier.
	Sequences []fasta.Record
	Taxonomy  *taxonomy.Table
	Tree      *newick.Tree
	Metadata  *sample.Metadata
	// Assigner recomputes identifiers from sequences. The zero value uses
	// asvid.ID.
	Assigner asvid.Assigner
}

// IntegrityError lists every referential-integrity violation found by
// Assemble. Each field holds sorted identifiers.
type IntegrityError struct {
	// Table is set when the feature table itself is malformed.
	Table error

	// Features without a taxonomy entry, repeated entries, and entries for
	// features not in the table.
	MissingTaxonomy, DuplicateTaxonomy, OrphanTaxonomy []string
	// Features that are not a tree leaf, features on more than one leaf, and
	// leaves that are not features.
	MissingLeaves, DuplicateLeaves, UnmatchedLeaves []string
	// Table samples without metadata, repeated metadata rows, and metadata
	// rows without a table sample.
	MissingMetadata, DuplicateMetadata, OrphanMetadata []string
	// Features without a sequence, repeated sequence records, records for
	// features not in the table, and features whose identifier is not the
	// hash of their sequence.
	MissingSequences, DuplicateSequences, OrphanSequences, MismatchedIDs []string
	// Collision is set when distinct sequences share an identifier.
	Collision *asvid.CollisionError
}

func (e *IntegrityError) empty() bool {
	return e.Table == nil && e.Collision == nil && len(e.categories()) == 0
}

type category struct {
	name string
	ids  []string
}

func (e *IntegrityError) categories() []category {
	var cs []category
	for _, c := range []category{
		{"features without taxonomy", e.MissingTaxonomy},
		{"duplicate taxonomy entries", e.DuplicateTaxonomy},
		{"taxonomy entries not in table", e.OrphanTaxonomy},
		{"features missing from tree", e.MissingLeaves},
		{"features on several tree leaves", e.DuplicateLeaves},
		{"unmatched tree leaves", e.UnmatchedLeaves},
		{"samples without metadata", e.MissingMetadata},
		{"duplicate metadata rows", e.DuplicateMetadata},
		{"metadata rows not in table", e.OrphanMetadata},
		{"features without sequence", e.MissingSequences},
		{"duplicate sequence records", e.DuplicateSequences},
		{"sequences not in table", e.OrphanSequences},
		{"identifiers not matching sequence", e.MismatchedIDs},
	} {
		if len(c.ids) > 0 {
			cs = append(cs, c)
		}
	}
	return cs
}

func (e *IntegrityError) Error() string {
	var parts []string
	if e.Table != nil {
		parts = append(parts, e.Table.Error())
	}
	for _, c := range e.categories() {
		parts = append(parts, fmt.Sprintf("%s: %s", c.name, strings.Join(c.ids, ", ")))
	}
	if e.Collision != nil {
		parts = append(parts, e.Collision.Error())
	}
	return "dataset: integrity check failed: " + strings.Join(parts, "; ")
}

// match compares a reference set of identifiers with the identifiers of
// another part. It returns the references with no match, the identifiers
// occurring more than once, and the identifiers not among the references.
func match(refs, ids []string) (missing, dups, orphans []string) {
	count := make(map[string]int, len(ids))
	for _, id := range ids {
		count[id]++
	}
	want := make(map[string]bool, len(refs))
	for _, r := range refs {
		want[r] = true
		if count[r] == 0 {
			missing = append(missing, r)
		}
	}
	for id, n := range count {
		if n > 1 {
			dups = append(dups, id)
		}
		if !want[id] {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(missing)
	sort.Strings(dups)
	sort.Strings(orphans)
	return
}

// Dataset is an assembled dataset. It is never modified: every
// transformation returns a new Dataset.
type Dataset struct {
	table *featuretable.Table
	// seqs is aligned with table.Features; nil for aggregated views.
	seqs []string
	// taxa rows are aligned with table.Features.
	taxa *taxonomy.Table
	// tree is nil for aggregated views.
	tree *newick.Tree
	// meta rows are aligned with table.Samples.
	meta *sample.Metadata
}

// Assemble validates the inputs and joins them. Any violation yields an
// *IntegrityError naming every offending identifier.
func Assemble(in Inputs) (*Dataset, error) {
	e := &IntegrityError{}
	if in.Table == nil || in.Taxonomy == nil || in.Tree == nil || in.Metadata == nil {
		e.Table = errors.E(errors.Invalid, fmt.Sprintf("dataset: missing input (table %v, taxonomy %v, tree %v, metadata %v)",
			in.Table != nil, in.Taxonomy != nil, in.Tree != nil, in.Metadata != nil))
		return nil, e
	}
	if err := in.Table.Validate(); err != nil {
		e.Table = err
		return nil, e
	}
	features := in.Table.Features

	e.MissingTaxonomy, e.DuplicateTaxonomy, e.OrphanTaxonomy = match(features, in.Taxonomy.Features)
	e.MissingLeaves, e.DuplicateLeaves, e.UnmatchedLeaves = match(features, in.Tree.Leaves())
	e.MissingMetadata, e.DuplicateMetadata, e.OrphanMetadata = match(in.Table.Samples, in.Metadata.IDs())

	names := make([]string, len(in.Sequences))
	bySeqName := make(map[string]string, len(in.Sequences))
	for i, r := range in.Sequences {
		names[i] = r.Name
		bySeqName[r.Name] = r.Seq
	}
	e.MissingSequences, e.DuplicateSequences, e.OrphanSequences = match(features, names)
	var (
		seqs     = make([]string, len(features))
		complete = len(e.MissingSequences) == 0
	)
	for j, f := range features {
		seqs[j] = bySeqName[f]
	}
	if complete {
		ids, err := in.Assigner.Assign(seqs)
		switch err := err.(type) {
		case nil:
			for j, f := range features {
				if ids[j] != f {
					e.MismatchedIDs = append(e.MismatchedIDs, f)
				}
			}
			sort.Strings(e.MismatchedIDs)
		case *asvid.CollisionError:
			e.Collision = err
		default:
			e.Table = err
		}
	}
	if !e.empty() {
		return nil, e
	}

	taxa, err := in.Taxonomy.Subset(features)
	if err != nil {
		return nil, err
	}
	meta, err := in.Metadata.Subset(in.Table.Samples)
	if err != nil {
		return nil, err
	}
	for j := range seqs {
		seqs[j] = strings.ToUpper(seqs[j])
	}
	return &Dataset{
		table: in.Table.Clone(),
		seqs:  seqs,
		taxa:  taxa,
		tree:  in.Tree.Clone(),
		meta:  meta,
	}, nil
}

// Samples returns the sample identifiers, in row order.
func (d *Dataset) Samples() []string { return append([]string(nil), d.table.Samples...) }

// Features returns the feature identifiers, in column order.
func (d *Dataset) Features() []string { return append([]string(nil), d.table.Features...) }

// Table returns a copy of the feature table.
func (d *Dataset) Table() *featuretable.Table { return d.table.Clone() }

// Counts returns the count matrix. The caller must not modify it.
func (d *Dataset) Counts() [][]int { return d.table.Counts }

// Taxonomy returns a copy of the taxonomy table, in column order.
func (d *Dataset) Taxonomy() *taxonomy.Table {
	t, err := d.taxa.Subset(d.taxa.Features)
	if err != nil {
		log.Panicf("dataset: taxonomy copy: %v", err)
	}
	return t
}

// Tree returns a copy of the tree, or nil for aggregated views.
func (d *Dataset) Tree() *newick.Tree {
	if d.tree == nil {
		return nil
	}
	return d.tree.Clone()
}

// Metadata returns the sample metadata, in row order.
func (d *Dataset) Metadata() *sample.Metadata { return d.meta }

// Sequences returns the feature sequences in column order, or nil for
// aggregated views.
func (d *Dataset) Sequences() []string {
	if d.seqs == nil {
		return nil
	}
	return append([]string(nil), d.seqs...)
}
