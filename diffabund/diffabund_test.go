package diffabund

import (
	"testing"

	"github.com/grailbio/amplicon/asvid"
	"github.com/grailbio/amplicon/dataset"
	"github.com/grailbio/amplicon/encoding/fasta"
	"github.com/grailbio/amplicon/encoding/newick"
	"github.com/grailbio/amplicon/featuretable"
	"github.com/grailbio/amplicon/sample"
	"github.com/grailbio/amplicon/taxonomy"
	"github.com/grailbio/base/vcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRanks(t *testing.T) {
	r, ties := ranks([]float64{3, 1, 2, 2})
	assert.Equal(t, []float64{4, 1, 2.5, 2.5}, r)
	assert.Equal(t, 6.0, ties)
}

func TestRankSum(t *testing.T) {
	u, p := RankSum([]float64{1, 2, 3}, []float64{4, 5, 6})
	assert.Equal(t, 0.0, u)
	assert.InDelta(t, 0.0808556, p, 1e-6)

	u, p = RankSum([]float64{1, 2, 2}, []float64{2, 5, 6, 7})
	assert.Equal(t, 1.0, u)
	assert.InDelta(t, 0.0987286, p, 1e-6)

	_, p = RankSum([]float64{0, 0}, []float64{0, 0})
	assert.Equal(t, 1.0, p)
}

func TestBenjaminiHochberg(t *testing.T) {
	q := BenjaminiHochberg([]float64{0.01, 0.04, 0.03, 0.5})
	want := []float64{0.04, 0.16 / 3, 0.16 / 3, 0.5}
	for i := range want {
		assert.InDelta(t, want[i], q[i], 1e-12)
	}
	assert.Empty(t, BenjaminiHochberg(nil))
}

func TestKruskalWallis(t *testing.T) {
	g := []string{"a", "a", "a", "b", "b", "b", "c", "c", "c"}
	h, p, err := KruskalWallis([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, g)
	require.NoError(t, err)
	assert.InDelta(t, 7.2, h, 1e-9)
	assert.InDelta(t, 0.0273237, p, 1e-6)

	h, p, err = KruskalWallis([]float64{1, 2, 2, 2, 5, 6, 7, 7, 9}, g)
	require.NoError(t, err)
	assert.InDelta(t, 6.7710145, h, 1e-6)
	assert.InDelta(t, 0.0338605, p, 1e-6)

	_, _, err = KruskalWallis([]float64{1, 2}, []string{"a", "a"})
	assert.Error(t, err)
	_, _, err = KruskalWallis([]float64{1}, g)
	assert.Error(t, err)
}

func testDataset(t *testing.T) *dataset.Dataset {
	seqs := []string{"ACGTACGTAA", "ACGTACGTCC", "TTGGCCAATT"}
	var (
		ids  []string
		recs []fasta.Record
	)
	for _, s := range seqs {
		ids = append(ids, asvid.ID(s))
		recs = append(recs, fasta.Record{Name: asvid.ID(s), Seq: s})
	}
	// Feature 0 rises under treatment, feature 1 is constant in counts and
	// feature 2 is seen once.
	samples := []string{"C1", "C2", "C3", "C4", "T1", "T2", "T3", "T4"}
	table, err := featuretable.New(samples, ids, [][]int{
		{1, 10, 1}, {2, 10, 0}, {1, 10, 0}, {2, 10, 0},
		{30, 10, 0}, {40, 10, 0}, {35, 10, 0}, {50, 10, 0},
	})
	require.NoError(t, err)
	taxa, err := taxonomy.NewTable([]string{"Kingdom"}, ids, [][]string{{"Bacteria"}, {"Bacteria"}, {"Bacteria"}})
	require.NoError(t, err)
	tree, err := newick.ParseString("(" + ids[0] + ":1," + ids[1] + ":1," + ids[2] + ":1);")
	require.NoError(t, err)
	var rows []sample.Sample
	for _, s := range samples {
		group := "Vehicle"
		if s[0] == 'T' {
			group = "FMT"
		}
		rows = append(rows, sample.Sample{ID: s, Fields: map[string]string{"treatment": group}})
	}
	meta, err := sample.New("sample", []string{"treatment"}, rows)
	require.NoError(t, err)
	d, err := dataset.Assemble(dataset.Inputs{Table: table, Sequences: recs, Taxonomy: taxa, Tree: tree, Metadata: meta})
	require.NoError(t, err)
	return d
}

func TestWilcoxon(t *testing.T) {
	ctx := vcontext.Background()
	d := testDataset(t)
	var tester Tester = DefaultWilcoxon
	results, err := tester.Test(ctx, d, "treatment", "Vehicle", "FMT")
	require.NoError(t, err)
	require.Len(t, results, 3)
	byFeature := map[string]Result{}
	for _, r := range results {
		byFeature[r.Feature] = r
		assert.True(t, r.Q >= r.P)
		assert.True(t, r.Q <= 1)
	}
	f0 := byFeature[d.Features()[0]]
	assert.True(t, f0.P < 0.05, "p=%v", f0.P)
	assert.True(t, f0.MeanB > f0.MeanA)
	assert.True(t, f0.Log2FC > 0)
	// Constant counts are diluted by feature 0.
	assert.True(t, byFeature[d.Features()[1]].Log2FC < 0)
	f2 := byFeature[d.Features()[2]]
	assert.Equal(t, 10.0, f2.Statistic)
	assert.True(t, f2.P > 0.4)
	assert.Equal(t, d.Features()[2], results[2].Feature)

	strict := Wilcoxon{Pseudocount: 1e-5, MinPrevalence: 0.5}
	results, err = strict.Test(ctx, d, "treatment", "Vehicle", "FMT")
	require.NoError(t, err)
	assert.Len(t, results, 2)

	_, err = tester.Test(ctx, d, "sex", "M", "F")
	assert.Error(t, err)
	_, err = tester.Test(ctx, d, "treatment", "Vehicle", "Sham")
	assert.Error(t, err)
}
