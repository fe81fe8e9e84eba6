package diversity

import (
	"math"
	"strings"
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

// testDataset builds a dataset over features A, B and C on the tree
// ((A:1,B:2):1,C:5).
func testDataset(t *testing.T, samples []string, counts [][]int) *dataset.Dataset {
	seqs := map[string]string{"A": "ACGTACGTAA", "B": "ACGTACGTCC", "C": "TTGGCCAATT"}
	var (
		ids  []string
		recs []fasta.Record
		tree = "((A:1,B:2):1,C:5);"
	)
	for _, name := range []string{"A", "B", "C"} {
		id := asvid.ID(seqs[name])
		ids = append(ids, id)
		recs = append(recs, fasta.Record{Name: id, Seq: seqs[name]})
		tree = strings.Replace(tree, name+":", id+":", 1)
	}
	table, err := featuretable.New(samples, ids, counts)
	require.NoError(t, err)
	taxa, err := taxonomy.NewTable([]string{"Kingdom", "Phylum"}, ids, [][]string{
		{"Bacteria", "Firmicutes"}, {"Bacteria", "Firmicutes"}, {"Bacteria", "Bacteroidetes"},
	})
	require.NoError(t, err)
	tr, err := newick.ParseString(tree)
	require.NoError(t, err)
	var rows []sample.Sample
	for _, s := range samples {
		rows = append(rows, sample.Sample{ID: s, Fields: map[string]string{}})
	}
	meta, err := sample.New("sample", nil, rows)
	require.NoError(t, err)
	d, err := dataset.Assemble(dataset.Inputs{Table: table, Sequences: recs, Taxonomy: taxa, Tree: tr, Metadata: meta})
	require.NoError(t, err)
	return d
}

func TestAlphaIndices(t *testing.T) {
	assert.Equal(t, 3.0, ObservedFeatures([]int{1, 0, 4, 2}))
	assert.Equal(t, 4.5, Chao1Estimate([]int{1, 1, 2, 5}))
	assert.Equal(t, 3.0, Chao1Estimate([]int{3, 4, 5}))
	assert.InDelta(t, math.Log(2), ShannonIndex([]int{5, 5}), 1e-12)
	assert.Equal(t, 0.5, SimpsonIndex([]int{5, 5}))
	assert.Equal(t, 2.0, InvSimpsonIndex([]int{5, 5}))
	for _, fn := range []func([]int) float64{ShannonIndex, SimpsonIndex, InvSimpsonIndex, ObservedFeatures} {
		assert.Equal(t, 0.0, fn([]int{0, 0}))
	}
}

func TestAlpha(t *testing.T) {
	d := testDataset(t, []string{"S1", "S2", "S3", "S4"}, [][]int{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{3, 1, 0},
	})
	a, err := Alpha(d)
	require.NoError(t, err)
	assert.Equal(t, AlphaMetrics, a.Metrics)
	pd, err := a.Column(FaithPD)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3, 5, 4}, pd)
	v, ok := a.Get("S4", Observed)
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
	_, err = a.Column("nope")
	assert.Error(t, err)

	_, err = Alpha(d, "nope")
	assert.Error(t, err)

	glom, err := d.Glom("Phylum")
	require.NoError(t, err)
	a, err = Alpha(glom)
	require.NoError(t, err)
	assert.NotContains(t, a.Metrics, FaithPD)
	_, err = Alpha(glom, FaithPD)
	assert.Error(t, err)
}

func TestBeta(t *testing.T) {
	d := testDataset(t, []string{"S1", "S2", "S3", "S4"}, [][]int{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{3, 1, 0},
	})
	for _, test := range []struct {
		metric string
		i, j   int
		want   float64
	}{
		{BrayCurtis, 0, 3, 0.6},
		{BrayCurtis, 0, 1, 1},
		{Jaccard, 0, 3, 0.5},
		{UnweightedUniFrac, 0, 1, 0.75},
		{UnweightedUniFrac, 0, 2, 1},
		{UnweightedUniFrac, 0, 3, 0.5},
		{WeightedUniFrac, 0, 1, 0.6},
		{WeightedUniFrac, 0, 2, 1},
	} {
		m, err := Beta(d, test.metric)
		require.NoError(t, err)
		assert.InDelta(t, test.want, m.D[test.i][test.j], 1e-12, test.metric)
		assert.Equal(t, m.D[test.i][test.j], m.D[test.j][test.i])
		assert.Equal(t, 0.0, m.D[test.i][test.i])
	}
	_, err := Beta(d, "nope")
	assert.Error(t, err)
	glom, err := d.Glom("Phylum")
	require.NoError(t, err)
	_, err = Beta(glom, WeightedUniFrac)
	assert.Error(t, err)
	_, err = Beta(glom, BrayCurtis)
	assert.NoError(t, err)
}

func lineDistances(pos ...float64) *DistanceMatrix {
	ids := make([]string, len(pos))
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}
	return newDistanceMatrix("line", ids, func(i, j int) float64 { return math.Abs(pos[i] - pos[j]) })
}

func TestPCoA(t *testing.T) {
	o, err := PCoA(lineDistances(0, 1, 3), 2)
	require.NoError(t, err)
	require.Len(t, o.Eigenvalues, 1)
	assert.InDelta(t, 42.0/9, o.Eigenvalues[0], 1e-9)
	assert.InDelta(t, 1, o.Explained[0], 1e-9)
	for i, want := range []float64{4.0 / 3, 1.0 / 3, -5.0 / 3} {
		assert.InDelta(t, want, o.Coords[i][0], 1e-9)
	}

	_, err = PCoA(lineDistances(0), 2)
	assert.Error(t, err)
}

func TestPermanova(t *testing.T) {
	ctx := vcontext.Background()
	m := newDistanceMatrix("test", []string{"a", "b", "c", "d"}, func(i, j int) float64 {
		if i/2 == j/2 {
			return 1
		}
		return 3
	})
	res, err := Permanova(ctx, m, []string{"x", "x", "y", "y"}, DefaultPermanovaOpts)
	require.NoError(t, err)
	assert.InDelta(t, 17, res.F, 1e-9)
	assert.Equal(t, []string{"x", "y"}, res.Groups)

	groups := []string{"x", "x", "x", "x", "y", "y", "y", "y"}
	m = newDistanceMatrix("test", make([]string, 8), func(i, j int) float64 {
		if i/4 == j/4 {
			return 1
		}
		return 5
	})
	res, err = Permanova(ctx, m, groups, DefaultPermanovaOpts)
	require.NoError(t, err)
	assert.True(t, res.P < 0.1, "p=%v", res.P)
	assert.True(t, res.P >= 1.0/1000)

	opts := DefaultPermanovaOpts
	opts.Parallelism = 1
	serial, err := Permanova(ctx, m, groups, opts)
	require.NoError(t, err)
	assert.Equal(t, res, serial)

	// Zero spread within groups.
	m = newDistanceMatrix("test", make([]string, 6), func(i, j int) float64 {
		if i/3 == j/3 {
			return 0
		}
		return 1
	})
	six := []string{"x", "x", "x", "y", "y", "y"}
	sep, err := Permanova(ctx, m, six, opts)
	require.NoError(t, err)
	assert.True(t, math.IsInf(sep.F, 1), "F=%v", sep.F)
	// Only the two perfectly separating labelings of 6 samples match it.
	assert.True(t, sep.P < 0.2, "p=%v", sep.P)
	m = newDistanceMatrix("test", make([]string, 6), func(i, j int) float64 { return 0 })
	flat, err := Permanova(ctx, m, six, opts)
	require.NoError(t, err)
	assert.Equal(t, 0.0, flat.F)
	assert.Equal(t, 1.0, flat.P)

	_, err = Permanova(ctx, m, groups[:3], opts)
	assert.Error(t, err)
	_, err = Permanova(ctx, m, make([]string, 6), opts)
	assert.Error(t, err)
}
