package denoise_test

import (
	"math"
	"strings"
	"testing"

	"github.com/grailbio/amplicon/denoise"
	"github.com/grailbio/amplicon/derep"
	"github.com/grailbio/amplicon/errmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quals(n, q int) []int {
	qs := make([]int, n)
	for i := range qs {
		qs[i] = q
	}
	return qs
}

func add(b *derep.Builder, seq string, n int) {
	for i := 0; i < n; i++ {
		b.Add(seq, quals(len(seq), 30))
	}
}

func TestPValue(t *testing.T) {
	assert.Equal(t, 0.0, denoise.PValue(1, 1e-30))
	assert.True(t, math.IsInf(denoise.PValue(3, 0), -1))
	assert.InDelta(t, 0.15742450894762383, math.Exp(denoise.PValue(2, 1.0/3)), 1e-9)
	assert.InDelta(t, 0.9660817254684788, math.Exp(denoise.PValue(2, 5)), 1e-9)
	assert.InDelta(t, 0.0004374308550447144, math.Exp(denoise.PValue(5, 0.5)), 1e-9)
	// Far in the tail the value stays finite in log space.
	lp := denoise.PValue(5, 1e-25)
	assert.False(t, math.IsInf(lp, -1))
	assert.True(t, lp < math.Log(1e-40))
}

func TestDenoise(t *testing.T) {
	b := derep.NewBuilder()
	add(b, "ACGTACGTAC", 1000)
	add(b, "ACGTACGTAA", 2) // one substitution away: an error copy
	add(b, "TTTTTTTTTT", 5) // far from everything: a real variant
	add(b, "GGGGGGGGGG", 1) // singletons never found variants by default
	d := b.Finish()

	r := denoise.Denoise(d, errmodel.Phred(41), denoise.DefaultOpts)
	require.Len(t, r.Variants, 2)
	assert.Equal(t, "ACGTACGTAC", r.Variants[0].Seq)
	assert.Equal(t, 1003, r.Variants[0].Abundance)
	assert.Equal(t, "TTTTTTTTTT", r.Variants[1].Seq)
	assert.Equal(t, 5, r.Variants[1].Abundance)
	assert.Equal(t, []int{0, 1, 0, 0}, r.Map)
	assert.Equal(t, d.Reads(), r.Assigned())
	assert.Equal(t, 0, r.Read(d, 1000))
	assert.Equal(t, 1, r.Read(d, 1002))

	opts := denoise.DefaultOpts
	opts.DetectSingletons = true
	opts.OmegaA = 1e-20
	r = denoise.Denoise(d, errmodel.Phred(41), opts)
	require.Len(t, r.Variants, 3)
	assert.Equal(t, "GGGGGGGGGG", r.Variants[2].Seq)
	assert.Equal(t, 1002, r.Variants[0].Abundance)

	opts = denoise.DefaultOpts
	opts.MinAbundance = 10
	r = denoise.Denoise(d, errmodel.Phred(41), opts)
	require.Len(t, r.Variants, 1)
	assert.Equal(t, -1, r.Map[1])
	assert.Equal(t, 1003, r.Assigned())
}

func TestDenoiseLengths(t *testing.T) {
	b := derep.NewBuilder()
	add(b, "ACGTACGTAC", 10)
	add(b, strings.Repeat("A", 12), 3)
	add(b, "ACGT", 1)
	d := b.Finish()
	r := denoise.Denoise(d, errmodel.Phred(41), denoise.DefaultOpts)
	require.Len(t, r.Variants, 2)
	// No center of the same length exists for the singleton.
	assert.Equal(t, []int{0, 1, -1}, r.Map)
	assert.Equal(t, 13, r.Assigned())

	assert.Empty(t, denoise.Denoise(derep.NewBuilder().Finish(), errmodel.Phred(41), denoise.DefaultOpts).Variants)
}
