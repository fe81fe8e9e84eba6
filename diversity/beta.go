package diversity

import (
	"fmt"

	"github.com/grailbio/amplicon/dataset"
	"github.com/grailbio/base/errors"
)

// Beta metric names.
const (
	BrayCurtis        = "braycurtis"
	Jaccard           = "jaccard"
	UnweightedUniFrac = "unweighted_unifrac"
	WeightedUniFrac   = "weighted_unifrac"
)

// BetaMetrics lists every beta metric.
var BetaMetrics = []string{BrayCurtis, Jaccard, UnweightedUniFrac, WeightedUniFrac}

// DistanceMatrix is a symmetric matrix of pairwise sample distances with a
// zero diagonal.
type DistanceMatrix struct {
	Metric string
	IDs    []string
	D      [][]float64
}

func newDistanceMatrix(metric string, ids []string, fn func(i, j int) float64) *DistanceMatrix {
	m := &DistanceMatrix{Metric: metric, IDs: ids, D: make([][]float64, len(ids))}
	for i := range ids {
		m.D[i] = make([]float64, len(ids))
	}
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			d := fn(i, j)
			m.D[i][j], m.D[j][i] = d, d
		}
	}
	return m
}

// BrayCurtisDistance returns sum|x-y| / sum(x+y), or zero if both samples
// are empty.
func BrayCurtisDistance(x, y []int) float64 {
	var num, denom int
	for k := range x {
		d := x[k] - y[k]
		if d < 0 {
			d = -d
		}
		num += d
		denom += x[k] + y[k]
	}
	if denom == 0 {
		return 0
	}
	return float64(num) / float64(denom)
}

// JaccardDistance returns the Jaccard distance between the sets of observed
// features, or zero if both samples are empty.
func JaccardDistance(x, y []int) float64 {
	var both, either int
	for k := range x {
		px, py := x[k] > 0, y[k] > 0
		if px && py {
			both++
		}
		if px || py {
			either++
		}
	}
	if either == 0 {
		return 0
	}
	return 1 - float64(both)/float64(either)
}

// Beta computes the pairwise distance matrix of d's samples. The UniFrac
// metrics need a tree.
func Beta(d *dataset.Dataset, metric string) (*DistanceMatrix, error) {
	counts := d.Counts()
	switch metric {
	case BrayCurtis:
		return newDistanceMatrix(metric, d.Samples(), func(i, j int) float64 {
			return BrayCurtisDistance(counts[i], counts[j])
		}), nil
	case Jaccard:
		return newDistanceMatrix(metric, d.Samples(), func(i, j int) float64 {
			return JaccardDistance(counts[i], counts[j])
		}), nil
	case UnweightedUniFrac, WeightedUniFrac:
		tree := d.Tree()
		if tree == nil {
			return nil, errors.E(errors.Precondition, fmt.Sprintf("diversity: %s needs a tree", metric))
		}
		br, err := newBranches(tree, d.Features())
		if err != nil {
			return nil, err
		}
		acc := make([][]float64, len(counts))
		for i, row := range counts {
			w := float(row)
			if metric == WeightedUniFrac {
				w = proportions(row)
			}
			acc[i] = br.accumulate(w)
		}
		dist := br.unweighted
		if metric == WeightedUniFrac {
			dist = br.weighted
		}
		return newDistanceMatrix(metric, d.Samples(), func(i, j int) float64 {
			return dist(acc[i], acc[j])
		}), nil
	}
	return nil, errors.E(errors.Invalid, fmt.Sprintf("diversity: unknown beta metric %q", metric))
}
