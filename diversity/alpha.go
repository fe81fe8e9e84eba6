// Package diversity computes within-sample (alpha) and between-sample (beta)
// diversity of a dataset, principal coordinates of a distance matrix, and
// PERMANOVA tests of group separation.
package diversity

import (
	"fmt"
	"math"

	"github.com/grailbio/amplicon/dataset"
	"github.com/grailbio/base/errors"
)

// Alpha metric names.
const (
	Observed   = "observed"
	Chao1      = "chao1"
	Shannon    = "shannon"
	Simpson    = "simpson"
	InvSimpson = "invsimpson"
	FaithPD    = "faith_pd"
)

// AlphaMetrics lists every alpha metric, in report order.
var AlphaMetrics = []string{Observed, Chao1, Shannon, Simpson, InvSimpson, FaithPD}

// ObservedFeatures returns the number of nonzero counts.
func ObservedFeatures(counts []int) float64 {
	n := 0
	for _, c := range counts {
		if c > 0 {
			n++
		}
	}
	return float64(n)
}

// Chao1Estimate returns the bias-corrected Chao1 richness estimate
// S + F1(F1-1)/(2(F2+1)), where F1 and F2 are the singleton and doubleton
// counts.
func Chao1Estimate(counts []int) float64 {
	var f1, f2 float64
	for _, c := range counts {
		switch c {
		case 1:
			f1++
		case 2:
			f2++
		}
	}
	return ObservedFeatures(counts) + f1*(f1-1)/(2*(f2+1))
}

func proportions(counts []int) []float64 {
	total := 0
	for _, c := range counts {
		total += c
	}
	p := make([]float64, len(counts))
	if total == 0 {
		return p
	}
	for i, c := range counts {
		p[i] = float64(c) / float64(total)
	}
	return p
}

// ShannonIndex returns -sum p ln p. It is zero for an empty sample.
func ShannonIndex(counts []int) float64 {
	h := 0.0
	for _, p := range proportions(counts) {
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return h
}

func sumSquares(counts []int) float64 {
	s := 0.0
	for _, p := range proportions(counts) {
		s += p * p
	}
	return s
}

// SimpsonIndex returns the Gini-Simpson index 1 - sum p². It is zero for an
// empty sample.
func SimpsonIndex(counts []int) float64 {
	s := sumSquares(counts)
	if s == 0 {
		return 0
	}
	return 1 - s
}

// InvSimpsonIndex returns 1/sum p², or zero for an empty sample.
func InvSimpsonIndex(counts []int) float64 {
	s := sumSquares(counts)
	if s == 0 {
		return 0
	}
	return 1 / s
}

// AlphaTable holds alpha diversity values. Values[i][k] is metric k of
// sample i.
type AlphaTable struct {
	Samples []string
	Metrics []string
	Values  [][]float64
}

// Get returns the value of metric for sample, if both exist.
func (a *AlphaTable) Get(sample, metric string) (float64, bool) {
	for i, s := range a.Samples {
		if s != sample {
			continue
		}
		for k, m := range a.Metrics {
			if m == metric {
				return a.Values[i][k], true
			}
		}
	}
	return 0, false
}

// Column returns the values of one metric, in sample order.
func (a *AlphaTable) Column(metric string) ([]float64, error) {
	for k, m := range a.Metrics {
		if m == metric {
			out := make([]float64, len(a.Samples))
			for i := range out {
				out[i] = a.Values[i][k]
			}
			return out, nil
		}
	}
	return nil, errors.E(errors.NotExist, fmt.Sprintf("diversity: no alpha metric %q", metric))
}

// Alpha computes the given metrics for every sample of d. With no metrics
// it computes AlphaMetrics, skipping FaithPD if d has no tree.
func Alpha(d *dataset.Dataset, metrics ...string) (*AlphaTable, error) {
	tree := d.Tree()
	if len(metrics) == 0 {
		for _, m := range AlphaMetrics {
			if m != FaithPD || tree != nil {
				metrics = append(metrics, m)
			}
		}
	}
	var br *branches
	fns := make([]func(row []int) float64, len(metrics))
	for k, m := range metrics {
		switch m {
		case Observed:
			fns[k] = ObservedFeatures
		case Chao1:
			fns[k] = Chao1Estimate
		case Shannon:
			fns[k] = ShannonIndex
		case Simpson:
			fns[k] = SimpsonIndex
		case InvSimpson:
			fns[k] = InvSimpsonIndex
		case FaithPD:
			if tree == nil {
				return nil, errors.E(errors.Precondition, "diversity: faith_pd needs a tree")
			}
			if br == nil {
				var err error
				if br, err = newBranches(tree, d.Features()); err != nil {
					return nil, err
				}
			}
			fns[k] = br.faithPD
		default:
			return nil, errors.E(errors.Invalid, fmt.Sprintf("diversity: unknown alpha metric %q", m))
		}
	}
	a := &AlphaTable{Samples: d.Samples(), Metrics: append([]string(nil), metrics...)}
	for _, row := range d.Counts() {
		v := make([]float64, len(fns))
		for k, fn := range fns {
			v[k] = fn(row)
		}
		a.Values = append(a.Values, v)
	}
	return a, nil
}
