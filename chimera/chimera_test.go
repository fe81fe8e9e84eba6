package chimera

import (
	"math/rand"
	"testing"

	"github.com/grailbio/amplicon/featuretable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	p0 = "GCTAAAGACAATTACATAACATACACGTCAGCACGAAACT"
	p1 = "TGTTGGCCCAGTGTGAATCGCTTAAGGGTTAAGTAAGTGT"
	p2 = "GATGCATACGCCTTTACTTGCTGTGTCCACCCCATCGGAC"
	p3 = "TGGCATTTTTATTACACTCAGAAACAGAACTCGGGTAATT"
	// p0[:20] + p1[20:]
	bim = "GCTAAAGACAATTACATAACCTTAAGGGTTAAGTAAGTGT"
	// bim with a substitution at position 30
	oneOff = "GCTAAAGACAATTACATAACCTTAAGGGTTCAGTAAGTGT"
)

func TestIsBimera(t *testing.T) {
	parents := []string{p0, p1, p2, p3}
	assert.True(t, IsBimera(bim, parents, DefaultOpts))
	assert.False(t, IsBimera(bim, []string{p0, p2}, DefaultOpts))
	assert.False(t, IsBimera(p2, []string{p0, p1, p3, bim}, DefaultOpts))
	assert.False(t, IsBimera(p0, []string{p0}, DefaultOpts))

	assert.False(t, IsBimera(oneOff, parents, DefaultOpts))
	opts := DefaultOpts
	opts.AllowOneOff = true
	assert.True(t, IsBimera(oneOff, parents, opts))
	for _, p := range parents {
		var others []string
		for _, q := range parents {
			if q != p {
				others = append(others, q)
			}
		}
		assert.False(t, IsBimera(p, others, opts), p)
	}
}

func TestIsBimeraSingleParent(t *testing.T) {
	const p = "ACGTACGTTTTTGCATGCAACCGGTTAACCGG"
	// One extra T in the homopolymer run.
	indel := "ACGTACGTTTTTTGCATGCAACCGGTTAACCGG"
	opts := DefaultOpts
	opts.AllowOneOff = true
	for _, s := range []string{indel, p[:len(p)-3], p[3:]} {
		assert.False(t, IsBimera(s, []string{p}, DefaultOpts), s)
		assert.False(t, IsBimera(s, []string{p}, opts), s)
		assert.False(t, IsBimera(s, []string{p, p2}, opts), s)
	}
	// A true join is still found when a near-copy parent is present.
	assert.True(t, IsBimera(bim, []string{p0, p1, bim[:len(bim)-2]}, DefaultOpts))
}

func TestParseMethod(t *testing.T) {
	for _, m := range []Method{Consensus, Pooled, PerSample} {
		got, err := ParseMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseMethod("denovo")
	assert.Error(t, err)
	assert.Equal(t, "Method(7)", Method(7).String())
}

func happyTable(t *testing.T) *featuretable.Table {
	tbl, err := featuretable.Make([]string{"S1", "S2", "S3"}, []map[string]int{
		{p0: 100, p1: 80, p2: 50, p3: 40, bim: 10},
		{p0: 90, p1: 85, p2: 45, p3: 30, bim: 12},
		{p0: 120, p1: 70, p2: 55, p3: 35, bim: 8},
	})
	require.NoError(t, err)
	require.Len(t, tbl.Features, 5)
	return tbl
}

func TestRemoveHappyPath(t *testing.T) {
	for _, m := range []Method{Consensus, Pooled, PerSample} {
		tbl := happyTable(t)
		opts := DefaultOpts
		opts.Method = m
		out, rep, err := Remove(tbl, opts)
		require.NoError(t, err)
		assert.Len(t, out.Features, 4, m.String())
		assert.Equal(t, []string{p0, p1, p2, p3}, out.Features)
		assert.Equal(t, []string{bim}, rep.Flagged)
		assert.Equal(t, tbl.Total()-30, out.Total())
		assert.Equal(t, rep.ReadsOut, out.Total())
		assert.Len(t, tbl.Features, 5)
	}
}

func TestConsensusVote(t *testing.T) {
	// The parents of the bimera are missing from S3.
	tbl, err := featuretable.Make([]string{"S1", "S2", "S3"}, []map[string]int{
		{p0: 100, p1: 80, bim: 10},
		{p0: 90, p1: 85, bim: 12},
		{p2: 50, bim: 8},
	})
	require.NoError(t, err)
	out, _, err := Remove(tbl, DefaultOpts)
	require.NoError(t, err)
	assert.Equal(t, -1, out.FeatureIndex(bim))

	opts := DefaultOpts
	opts.IgnoreNNegatives = 0
	out, rep, err := Remove(tbl, opts)
	require.NoError(t, err)
	assert.NotEqual(t, -1, out.FeatureIndex(bim))
	assert.Empty(t, rep.Flagged)

	opts.Method = PerSample
	out, rep, err = Remove(tbl, opts)
	require.NoError(t, err)
	j := out.FeatureIndex(bim)
	require.NotEqual(t, -1, j)
	assert.Equal(t, []int{0, 0, 8}, out.Column(j))
	assert.Equal(t, []string{bim}, rep.Flagged)

	_, _, err = Remove(tbl, Opts{Method: Method(9)})
	assert.Error(t, err)
}

func TestRemoveMonotone(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	pool := []string{p0, p1, p2, p3, bim, oneOff}
	for k := 0; k < 10; k++ {
		pool = append(pool, pool[r.Intn(4)][:10+r.Intn(20)]+pool[r.Intn(4)][30:])
	}
	for iter := 0; iter < 200; iter++ {
		n := 1 + r.Intn(5)
		samples := make([]string, n)
		abund := make([]map[string]int, n)
		for i := range samples {
			samples[i] = string(rune('A' + i))
			abund[i] = map[string]int{}
			for _, s := range pool {
				if r.Intn(3) > 0 {
					abund[i][s] = r.Intn(200)
				}
			}
		}
		tbl, err := featuretable.Make(samples, abund)
		require.NoError(t, err)
		for _, m := range []Method{Consensus, Pooled, PerSample} {
			opts := DefaultOpts
			opts.Method = m
			opts.AllowOneOff = iter%2 == 0
			out, _, err := Remove(tbl, opts)
			require.NoError(t, err)
			require.NoError(t, out.Validate())
			require.NoError(t, CheckFiltered(tbl, out))
			assert.True(t, out.Total() <= tbl.Total())
			before, after := tbl.RowSums(), out.RowSums()
			for i := range before {
				assert.True(t, after[i] <= before[i])
			}
			// Surviving columns keep their order and never gain counts.
			last := -1
			for j, f := range out.Features {
				src := tbl.FeatureIndex(f)
				require.True(t, src > last)
				last = src
				for i := range out.Samples {
					c := out.Counts[i][j]
					assert.True(t, c == 0 || c == tbl.Counts[i][src])
				}
			}
		}
	}
}

func TestCheckFiltered(t *testing.T) {
	tbl := happyTable(t)
	out, _, err := DefaultOpts.Filter(tbl)
	require.NoError(t, err)
	assert.NoError(t, CheckFiltered(tbl, out))
	assert.NoError(t, CheckFiltered(tbl, tbl))

	raised := out.Clone()
	raised.Counts[1][0]++
	assert.Contains(t, CheckFiltered(tbl, raised).Error(), "raised the count")

	added := tbl.Clone()
	added.Features[4] = "ACGT"
	assert.Contains(t, CheckFiltered(tbl, added).Error(), "added feature")

	sub, err := tbl.Subset([]string{"S1", "S2"})
	require.NoError(t, err)
	assert.Contains(t, CheckFiltered(tbl, sub).Error(), "sample count")

	swapped, err := tbl.Subset([]string{"S2", "S1", "S3"})
	require.NoError(t, err)
	assert.Contains(t, CheckFiltered(tbl, swapped).Error(), "changed sample 0")
}
