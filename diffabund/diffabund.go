// Package diffabund tests features for differential abundance between two
// sample groups, and alpha diversity for differences across groups.
package diffabund

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/amplicon/dataset"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"gonum.org/v1/gonum/stat/distuv"
)

// Result is the test outcome of one feature.
type Result struct {
	Feature string
	// MeanA and MeanB are the mean relative abundances in each group.
	MeanA, MeanB float64
	// Log2FC is log2((MeanB+pseudocount)/(MeanA+pseudocount)).
	Log2FC    float64
	Statistic float64
	P         float64
	// Q is the Benjamini-Hochberg adjusted p-value.
	Q float64
}

// Tester compares the samples whose metadata column equals groupA with
// those where it equals groupB. Results are sorted by Q, then P, then
// feature.
type Tester interface {
	Test(ctx context.Context, d *dataset.Dataset, column, groupA, groupB string) ([]Result, error)
}

// Wilcoxon is a Tester that runs a two-sided Wilcoxon rank-sum test on each
// feature's relative abundances, using the tie-corrected normal
// approximation with continuity correction.
type Wilcoxon struct {
	// Pseudocount is added to group means before taking the fold change.
	Pseudocount float64
	// MinPrevalence is the fraction of tested samples in which a feature
	// must be present to be tested.
	MinPrevalence float64
}

// DefaultWilcoxon is the default Wilcoxon tester.
var DefaultWilcoxon = Wilcoxon{Pseudocount: 1e-5, MinPrevalence: 0.1}

// groups returns the row indices of the samples in each group.
func groups(d *dataset.Dataset, column, groupA, groupB string) (a, b []int, err error) {
	meta := d.Metadata()
	if !meta.HasColumn(column) {
		return nil, nil, errors.E(errors.NotExist, fmt.Sprintf("diffabund: no metadata column %q", column))
	}
	for i, s := range d.Samples() {
		v, _ := meta.Value(s, column)
		switch v {
		case groupA:
			a = append(a, i)
		case groupB:
			b = append(b, i)
		}
	}
	if len(a) == 0 || len(b) == 0 {
		return nil, nil, errors.E(errors.Invalid, fmt.Sprintf("diffabund: %s: %d samples in %q, %d in %q", column, len(a), groupA, len(b), groupB))
	}
	return a, b, nil
}

// Test implements Tester.
func (w Wilcoxon) Test(ctx context.Context, d *dataset.Dataset, column, groupA, groupB string) ([]Result, error) {
	a, b, err := groups(d, column, groupA, groupB)
	if err != nil {
		return nil, err
	}
	rel := d.Relative()
	var (
		results  []Result
		features = d.Features()
		xa       = make([]float64, len(a))
		xb       = make([]float64, len(b))
	)
	for j, f := range features {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		present := 0
		for k, i := range a {
			xa[k] = rel[i][j]
			if xa[k] > 0 {
				present++
			}
		}
		for k, i := range b {
			xb[k] = rel[i][j]
			if xb[k] > 0 {
				present++
			}
		}
		if present == 0 || float64(present) < w.MinPrevalence*float64(len(a)+len(b)) {
			continue
		}
		u, p := RankSum(xa, xb)
		r := Result{Feature: f, MeanA: mean(xa), MeanB: mean(xb), Statistic: u, P: p}
		r.Log2FC = math.Log2((r.MeanB + w.Pseudocount) / (r.MeanA + w.Pseudocount))
		results = append(results, r)
	}
	log.Debug.Printf("diffabund: %s %s vs %s: tested %d of %d features", column, groupA, groupB, len(results), len(features))
	ps := make([]float64, len(results))
	for i := range results {
		ps[i] = results[i].P
	}
	for i, q := range BenjaminiHochberg(ps) {
		results[i].Q = q
	}
	sort.SliceStable(results, func(i, j int) bool {
		ri, rj := results[i], results[j]
		if ri.Q != rj.Q {
			return ri.Q < rj.Q
		}
		if ri.P != rj.P {
			return ri.P < rj.P
		}
		return ri.Feature < rj.Feature
	})
	return results, nil
}

func mean(x []float64) float64 {
	s := 0.0
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}

// ranks returns the average ranks of v, starting at 1, and the tie term
// sum(t³-t) over groups of t tied values.
func ranks(v []float64) ([]float64, float64) {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return v[idx[i]] < v[idx[j]] })
	r := make([]float64, len(v))
	ties := 0.0
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && v[idx[j+1]] == v[idx[i]] {
			j++
		}
		for k := i; k <= j; k++ {
			r[idx[k]] = float64(i+j)/2 + 1
		}
		t := float64(j - i + 1)
		ties += t*t*t - t
		i = j + 1
	}
	return r, ties
}

// RankSum returns the Mann-Whitney U statistic of a and the two-sided
// p-value of the Wilcoxon rank-sum test. The p-value is 1 when every value
// is tied.
func RankSum(a, b []float64) (u, p float64) {
	na, nb := float64(len(a)), float64(len(b))
	n := na + nb
	r, ties := ranks(append(append([]float64(nil), a...), b...))
	w := 0.0
	for i := range a {
		w += r[i]
	}
	u = w - na*(na+1)/2
	variance := na * nb / 12 * ((n + 1) - ties/(n*(n-1)))
	if variance <= 0 {
		return u, 1
	}
	z := (math.Abs(u-na*nb/2) - 0.5) / math.Sqrt(variance)
	if z < 0 {
		z = 0
	}
	return u, math.Min(1, 2*distuv.UnitNormal.Survival(z))
}

// BenjaminiHochberg returns the adjusted p-values of ps, in input order.
func BenjaminiHochberg(ps []float64) []float64 {
	m := len(ps)
	idx := make([]int, m)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return ps[idx[i]] < ps[idx[j]] })
	q := make([]float64, m)
	min := 1.0
	for k := m - 1; k >= 0; k-- {
		v := ps[idx[k]] * float64(m) / float64(k+1)
		if v < min {
			min = v
		}
		q[idx[k]] = min
	}
	return q
}

// KruskalWallis tests whether values differ in distribution across the
// groups. groups[i] labels values[i]. It returns the tie-corrected H
// statistic and its chi-squared p-value.
func KruskalWallis(values []float64, groups []string) (h, p float64, err error) {
	if len(values) != len(groups) {
		return 0, 0, errors.E(errors.Invalid, fmt.Sprintf("diffabund: %d values for %d groups", len(values), len(groups)))
	}
	r, ties := ranks(values)
	sums := map[string]float64{}
	sizes := map[string]float64{}
	for i, g := range groups {
		sums[g] += r[i]
		sizes[g]++
	}
	if len(sums) < 2 {
		return 0, 0, errors.E(errors.Invalid, "diffabund: kruskal-wallis needs at least two groups")
	}
	n := float64(len(values))
	for g, s := range sums {
		h += s * s / sizes[g]
	}
	h = 12/(n*(n+1))*h - 3*(n+1)
	if c := 1 - ties/(n*n*n-n); c > 0 {
		h /= c
	} else {
		return 0, 1, nil
	}
	p = distuv.ChiSquared{K: float64(len(sums) - 1)}.Survival(h)
	return h, p, nil
}
