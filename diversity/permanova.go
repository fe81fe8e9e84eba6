package diversity

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/traverse"
)

// PermanovaOpts configures PERMANOVA.
type PermanovaOpts struct {
	// Permutations is the number of label permutations.
	Permutations int
	// Seed makes the permutations reproducible. Results do not depend on
	// Parallelism.
	Seed int64
	// Parallelism bounds concurrent permutation workers.
	Parallelism int
}

// DefaultPermanovaOpts are the default PERMANOVA options.
var DefaultPermanovaOpts = PermanovaOpts{
	Permutations: 999,
	Seed:         1,
	Parallelism:  4,
}

// PermanovaResult is the outcome of one PERMANOVA test.
type PermanovaResult struct {
	Metric string
	// Groups lists the group labels, sorted.
	Groups       []string
	N            int
	F            float64
	P            float64
	Permutations int
}

// permutation chunks are fixed so that each chunk's generator sees the same
// work regardless of parallelism.
const permanovaChunks = 32

// pseudoF returns the PERMANOVA pseudo-F statistic for the labels, given
// squared distances.
func pseudoF(d2 [][]float64, labels []int, ngroups int) float64 {
	n := len(labels)
	size := make([]float64, ngroups)
	for _, g := range labels {
		size[g]++
	}
	var sst, ssw float64
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sst += d2[i][j]
			if labels[i] == labels[j] {
				ssw += d2[i][j] / size[labels[i]]
			}
		}
	}
	sst /= float64(n)
	ssa := sst - ssw
	if ssw == 0 {
		// Groups with no spread of their own: any separation is infinite.
		if ssa > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return (ssa / float64(ngroups-1)) / (ssw / float64(n-ngroups))
}

// Permanova tests whether the groups differ in location, by permuting
// groups among samples. groups[i] is the group of sample m.IDs[i].
func Permanova(ctx context.Context, m *DistanceMatrix, groups []string, opts PermanovaOpts) (PermanovaResult, error) {
	n := len(m.IDs)
	if len(groups) != n {
		return PermanovaResult{}, errors.E(errors.Invalid, fmt.Sprintf("diversity: %d groups for %d samples", len(groups), n))
	}
	index := map[string]int{}
	for _, g := range groups {
		index[g] = 0
	}
	names := make([]string, 0, len(index))
	for g := range index {
		names = append(names, g)
	}
	sort.Strings(names)
	for i, g := range names {
		index[g] = i
	}
	if len(names) < 2 || len(names) >= n {
		return PermanovaResult{}, errors.E(errors.Invalid, fmt.Sprintf("diversity: permanova needs between 2 and %d groups, got %d", n-1, len(names)))
	}
	labels := make([]int, n)
	for i, g := range groups {
		labels[i] = index[g]
	}
	d2 := make([][]float64, n)
	for i := range d2 {
		d2[i] = make([]float64, n)
		for j := range d2[i] {
			d2[i][j] = m.D[i][j] * m.D[i][j]
		}
	}
	res := PermanovaResult{
		Metric:       m.Metric,
		Groups:       names,
		N:            n,
		F:            pseudoF(d2, labels, len(names)),
		Permutations: opts.Permutations,
	}
	exceed := make([]int, permanovaChunks)
	workers := opts.Parallelism
	if workers < 1 {
		workers = 1
	}
	err := traverse.Limit(workers).Each(permanovaChunks, func(c int) error {
		r := rand.New(rand.NewSource(opts.Seed + int64(c)))
		perm := append([]int(nil), labels...)
		for k := c; k < opts.Permutations; k += permanovaChunks {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
			if pseudoF(d2, perm, len(names)) >= res.F {
				exceed[c]++
			}
		}
		return nil
	})
	if err != nil {
		return PermanovaResult{}, err
	}
	total := 0
	for _, e := range exceed {
		total += e
	}
	res.P = float64(total+1) / float64(opts.Permutations+1)
	return res, nil
}
