package dataset

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/amplicon/asvid"
	"github.com/grailbio/amplicon/encoding/fasta"
	"github.com/grailbio/amplicon/encoding/newick"
	"github.com/grailbio/amplicon/featuretable"
	"github.com/grailbio/amplicon/sample"
	"github.com/grailbio/amplicon/taxonomy"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seqs = []string{"ACGTACGTAA", "ACGTACGTCC", "TTGGCCAATT"}

func ids() []string {
	out := make([]string, len(seqs))
	for i, s := range seqs {
		out[i] = asvid.ID(s)
	}
	return out
}

func mustTree(t *testing.T, s string) *newick.Tree {
	tree, err := newick.ParseString(s)
	require.NoError(t, err)
	return tree
}

func testMetadata(t *testing.T, ids ...string) *sample.Metadata {
	var samples []sample.Sample
	for _, id := range ids {
		// Odd-numbered samples are treated.
		treatment := "FMT"
		if (id[len(id)-1]-'0')%2 == 0 {
			treatment = "Vehicle"
		}
		samples = append(samples, sample.Sample{ID: id, Fields: map[string]string{"treatment": treatment}})
	}
	m, err := sample.New("sample", []string{"treatment"}, samples)
	require.NoError(t, err)
	return m
}

func testInputs(t *testing.T) Inputs {
	id := ids()
	table, err := featuretable.New([]string{"S1", "S2", "S3"}, id, [][]int{
		{10, 5, 0},
		{2, 0, 8},
		{0, 0, 1},
	})
	require.NoError(t, err)
	// Taxonomy and sequences in a different order than the table.
	taxa, err := taxonomy.NewTable([]string{"Kingdom", "Phylum", "Genus"}, []string{id[2], id[1], id[0]}, [][]string{
		{"Bacteria", "Bacteroidetes", "Bacteroides"},
		{"Bacteria", "Firmicutes", ""},
		{"Bacteria", "Firmicutes", "Lactobacillus"},
	})
	require.NoError(t, err)
	var recs []fasta.Record
	for i := len(seqs) - 1; i >= 0; i-- {
		recs = append(recs, fasta.Record{Name: id[i], Seq: strings.ToLower(seqs[i])})
	}
	return Inputs{
		Table:     table,
		Sequences: recs,
		Taxonomy:  taxa,
		Tree:      mustTree(t, "(("+id[0]+":1,"+id[1]+":1):0.5,"+id[2]+":2);"),
		Metadata:  testMetadata(t, "S3", "S1", "S2"),
	}
}

func TestAssemble(t *testing.T) {
	in := testInputs(t)
	d, err := Assemble(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2", "S3"}, d.Samples())
	assert.Equal(t, ids(), d.Features())
	assert.Equal(t, seqs, d.Sequences())
	assert.Equal(t, ids(), d.Taxonomy().Features)
	assert.Equal(t, []string{"Bacteria", "Firmicutes", "Lactobacillus"}, d.Taxonomy().Lineages[0])
	assert.Equal(t, []string{"S1", "S2", "S3"}, d.Metadata().IDs())
	assert.Equal(t, in.Table, d.Table())

	// The dataset holds its own copies.
	in.Table.Counts[0][0] = 99
	assert.Equal(t, 10, d.Counts()[0][0])
	tbl := d.Table()
	tbl.Counts[0][0] = 99
	assert.Equal(t, 10, d.Counts()[0][0])
}

// letters names sequences by a fixed map, so tests can use short
// identifiers.
func letters(m map[string]string) asvid.Assigner {
	return asvid.Assigner{Hash: func(s string) string { return m[s] }}
}

func TestMismatchedTree(t *testing.T) {
	hash := map[string]string{"AAAA": "A", "CCCC": "B", "GGGG": "C"}
	table, err := featuretable.New([]string{"S1"}, []string{"A", "B", "C"}, [][]int{{1, 2, 3}})
	require.NoError(t, err)
	taxa, err := taxonomy.NewTable([]string{"Kingdom"}, []string{"A", "B", "C"}, [][]string{{"Bacteria"}, {"Bacteria"}, {"Bacteria"}})
	require.NoError(t, err)
	in := Inputs{
		Table:     table,
		Sequences: []fasta.Record{{Name: "A", Seq: "AAAA"}, {Name: "B", Seq: "CCCC"}, {Name: "C", Seq: "GGGG"}},
		Taxonomy:  taxa,
		Tree:      mustTree(t, "((A:1,B:1):1,D:1);"),
		Metadata:  testMetadata(t, "S1"),
		Assigner:  letters(hash),
	}
	_, err = Assemble(in)
	require.Error(t, err)
	ie, ok := err.(*IntegrityError)
	require.True(t, ok, "%T", err)
	assert.Equal(t, &IntegrityError{UnmatchedLeaves: []string{"D"}, MissingLeaves: []string{"C"}}, ie)
	expect.HasSubstr(t, err.Error(), "unmatched tree leaves: D")
	expect.HasSubstr(t, err.Error(), "features missing from tree: C")

	in.Tree = mustTree(t, "((A:1,B:1):1,C:1);")
	_, err = Assemble(in)
	assert.NoError(t, err)
}

func TestIntegrityViolations(t *testing.T) {
	id := ids()
	for _, test := range []struct {
		name   string
		modify func(in *Inputs)
		want   func(e *IntegrityError) []string
		ids    []string
	}{
		{
			"orphan taxonomy",
			func(in *Inputs) {
				in.Taxonomy.Features = append(in.Taxonomy.Features, "extra")
				in.Taxonomy.Lineages = append(in.Taxonomy.Lineages, []string{"", "", ""})
			},
			func(e *IntegrityError) []string { return e.OrphanTaxonomy },
			[]string{"extra"},
		},
		{
			"missing taxonomy",
			func(in *Inputs) {
				in.Taxonomy, _ = in.Taxonomy.Subset([]string{id[0], id[2]})
			},
			func(e *IntegrityError) []string { return e.MissingTaxonomy },
			[]string{id[1]},
		},
		{
			"duplicate taxonomy",
			func(in *Inputs) {
				in.Taxonomy.Features = append(in.Taxonomy.Features, id[2])
				in.Taxonomy.Lineages = append(in.Taxonomy.Lineages, []string{"", "", ""})
			},
			func(e *IntegrityError) []string { return e.DuplicateTaxonomy },
			[]string{id[2]},
		},
		{
			"duplicate leaf",
			func(in *Inputs) {
				in.Tree = mustTree(t, "(("+id[0]+":1,"+id[1]+":1):0.5,("+id[2]+":2,"+id[0]+":1));")
			},
			func(e *IntegrityError) []string { return e.DuplicateLeaves },
			[]string{id[0]},
		},
		{
			"orphan metadata",
			func(in *Inputs) { in.Metadata = testMetadata(t, "S1", "S2", "S3", "S4") },
			func(e *IntegrityError) []string { return e.OrphanMetadata },
			[]string{"S4"},
		},
		{
			"missing metadata",
			func(in *Inputs) { in.Metadata = testMetadata(t, "S1", "S3") },
			func(e *IntegrityError) []string { return e.MissingMetadata },
			[]string{"S2"},
		},
		{
			"missing sequence",
			func(in *Inputs) { in.Sequences = in.Sequences[1:] },
			func(e *IntegrityError) []string { return e.MissingSequences },
			[]string{id[2]},
		},
		{
			"duplicate sequence",
			func(in *Inputs) { in.Sequences = append(in.Sequences, in.Sequences[0]) },
			func(e *IntegrityError) []string { return e.DuplicateSequences },
			[]string{id[2]},
		},
		{
			"mismatched identifier",
			func(in *Inputs) { in.Sequences[0].Seq = "ACGT" },
			func(e *IntegrityError) []string { return e.MismatchedIDs },
			[]string{id[2]},
		},
	} {
		in := testInputs(t)
		test.modify(&in)
		_, err := Assemble(in)
		require.Error(t, err, test.name)
		ie, ok := err.(*IntegrityError)
		require.True(t, ok, test.name)
		assert.Equal(t, test.ids, test.want(ie), test.name)
	}
}

func TestCollision(t *testing.T) {
	table, err := featuretable.New([]string{"S1"}, []string{"X", "Y"}, [][]int{{1, 1}})
	require.NoError(t, err)
	taxa, err := taxonomy.NewTable([]string{"Kingdom"}, []string{"X", "Y"}, [][]string{{""}, {""}})
	require.NoError(t, err)
	_, err = Assemble(Inputs{
		Table:     table,
		Sequences: []fasta.Record{{Name: "X", Seq: "AAAA"}, {Name: "Y", Seq: "CCCC"}},
		Taxonomy:  taxa,
		Tree:      mustTree(t, "(X:1,Y:1);"),
		Metadata:  testMetadata(t, "S1"),
		Assigner:  letters(map[string]string{"AAAA": "X", "CCCC": "X"}),
	})
	require.Error(t, err)
	ie := err.(*IntegrityError)
	require.NotNil(t, ie.Collision)
	assert.Equal(t, "X", ie.Collision.ID)

	_, err = Assemble(Inputs{Table: table})
	assert.Error(t, err)
}

func TestViews(t *testing.T) {
	d, err := Assemble(testInputs(t))
	require.NoError(t, err)
	before := d.Fingerprint()
	id := ids()

	sub, err := d.Subset([]string{"S2"})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{2, 0, 8}}, sub.Counts())
	assert.Equal(t, []string{"S2"}, sub.Metadata().IDs())
	assert.NotEqual(t, before, sub.Fingerprint())

	treated, err := d.FilterSamples(func(s sample.Sample) bool { return s.Fields["treatment"] == "FMT" })
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S3"}, treated.Samples())
	_, err = d.FilterSamples(func(sample.Sample) bool { return false })
	assert.Error(t, err)

	pruned, err := d.PruneFeatures(func(f string) bool { return f != id[1] })
	require.NoError(t, err)
	assert.Equal(t, []string{id[0], id[2]}, pruned.Features())
	assert.Equal(t, "("+id[0]+":1.5,"+id[2]+":2);", pruned.Tree().String())
	assert.Equal(t, []string{seqs[0], seqs[2]}, pruned.Sequences())
	assert.Equal(t, []string{id[0], id[2]}, pruned.Taxonomy().Features)
	_, err = d.PruneFeatures(func(string) bool { return false })
	assert.Error(t, err)

	empty, err := d.Subset([]string{"S3"})
	require.NoError(t, err)
	dropped, err := empty.DropEmptyFeatures()
	require.NoError(t, err)
	assert.Equal(t, []string{id[2]}, dropped.Features())

	rel := d.Relative()
	assert.Equal(t, []float64{10.0 / 15, 5.0 / 15, 0}, rel[0])
	assert.Equal(t, []float64{0, 0, 1}, rel[2])

	phylum, err := d.Glom("Phylum")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bacteria;Firmicutes", "Bacteria;Bacteroidetes"}, phylum.Features())
	assert.Equal(t, [][]int{{15, 0}, {2, 8}, {0, 1}}, phylum.Counts())
	assert.Nil(t, phylum.Tree())
	assert.Nil(t, phylum.Sequences())
	assert.Equal(t, []string{"Kingdom", "Phylum"}, phylum.Taxonomy().Ranks)
	genus, err := d.Glom("Genus")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bacteria;Firmicutes;Lactobacillus", "Bacteria;Bacteroidetes;Bacteroides"}, genus.Features())
	_, err = d.Glom("Species")
	assert.Error(t, err)

	assert.Equal(t, before, d.Fingerprint())
	assert.Equal(t, [][]int{{10, 5, 0}, {2, 0, 8}, {0, 0, 1}}, d.Counts())
}

func TestRarefy(t *testing.T) {
	d, err := Assemble(testInputs(t))
	require.NoError(t, err)
	r, err := d.Rarefy(5, 1)
	require.NoError(t, err)
	// S3 has one read.
	assert.Equal(t, []string{"S1", "S2"}, r.Samples())
	tbl := r.Table()
	for _, sum := range tbl.RowSums() {
		assert.Equal(t, 5, sum)
	}
	for _, sum := range tbl.ColSums() {
		assert.True(t, sum > 0)
	}
	again, err := d.Rarefy(5, 1)
	require.NoError(t, err)
	assert.Equal(t, r.Fingerprint(), again.Fingerprint())

	// A sample's draw does not depend on the other samples.
	only, err := d.Subset([]string{"S2"})
	require.NoError(t, err)
	r2, err := only.Rarefy(5, 1)
	require.NoError(t, err)
	for j, f := range r2.Features() {
		k := tbl.FeatureIndex(f)
		require.True(t, k >= 0)
		assert.Equal(t, tbl.Counts[1][k], r2.Counts()[0][j])
	}

	_, err = d.Rarefy(1000, 1)
	assert.Error(t, err)
	_, err = d.Rarefy(0, 1)
	assert.Error(t, err)
}

func TestSaveLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	d, err := Assemble(testInputs(t))
	require.NoError(t, err)
	path := filepath.Join(dir, "dataset.rio")
	require.NoError(t, d.Save(ctx, path))
	got, err := Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, d.Fingerprint(), got.Fingerprint())
	assert.Equal(t, d.Table(), got.Table())
	assert.Equal(t, d.Taxonomy(), got.Taxonomy())
	assert.Equal(t, d.Tree().String(), got.Tree().String())
	assert.Equal(t, d.Sequences(), got.Sequences())
	v, ok := got.Metadata().Value("S2", "treatment")
	assert.True(t, ok)
	assert.Equal(t, "Vehicle", v)

	phylum, err := d.Glom("Phylum")
	require.NoError(t, err)
	path = filepath.Join(dir, "phylum.rio")
	require.NoError(t, phylum.Save(ctx, path))
	got, err = Load(ctx, path)
	require.NoError(t, err)
	assert.Nil(t, got.Tree())
	assert.Equal(t, phylum.Fingerprint(), got.Fingerprint())

	_, err = Load(ctx, filepath.Join(dir, "missing.rio"))
	assert.Error(t, err)
}

func TestLoadTampered(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := vcontext.Background()
	id := ids()
	for _, tc := range []struct {
		name   string
		tamper func(d *Dataset)
		want   string
	}{
		{"sequence", func(d *Dataset) { d.seqs[1] = "ACGTACGTGG" }, "identifiers not matching sequence: " + id[1]},
		{"tree", func(d *Dataset) { d.tree = mustTree(t, "(("+id[0]+":1,x:1):0.5,"+id[2]+":2);") }, "unmatched tree leaves: x"},
		{"view", func(d *Dataset) { d.tree = nil }, "sequences in a view without a tree"},
	} {
		d, err := Assemble(testInputs(t))
		require.NoError(t, err)
		tc.tamper(d)
		path := filepath.Join(dir, tc.name+".rio")
		require.NoError(t, d.Save(ctx, path), tc.name)
		_, err = Load(ctx, path)
		require.Error(t, err, tc.name)
		assert.Contains(t, err.Error(), tc.want, tc.name)
	}
}
