package diversity

import (
	"fmt"
	"math"

	"github.com/grailbio/amplicon/encoding/newick"
	"github.com/grailbio/base/errors"
)

// branches is a flattened tree. Nodes are in preorder, so a node's parent
// always has a smaller index. Node 0 is the root; its branch is ignored.
type branches struct {
	parent []int
	length []float64
	// depth is the distance from the root.
	depth []float64
	// leaf[j] is the node of feature j.
	leaf []int
}

func newBranches(t *newick.Tree, features []string) (*branches, error) {
	b := &branches{}
	byName := map[string]int{}
	var walk func(n *newick.Node, parent int)
	walk = func(n *newick.Node, parent int) {
		i := len(b.parent)
		b.parent = append(b.parent, parent)
		length := 0.0
		if parent >= 0 {
			length = n.Length
		}
		b.length = append(b.length, length)
		depth := length
		if parent >= 0 {
			depth += b.depth[parent]
		}
		b.depth = append(b.depth, depth)
		if n.IsLeaf() {
			byName[n.Name] = i
		}
		for _, c := range n.Children {
			walk(c, i)
		}
	}
	walk(t.Root, -1)
	b.leaf = make([]int, len(features))
	for j, f := range features {
		i, ok := byName[f]
		if !ok {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("diversity: feature %s is not a tree leaf", f))
		}
		b.leaf[j] = i
	}
	return b, nil
}

// accumulate returns, for every node, the total weight of the features
// below it.
func (b *branches) accumulate(weights []float64) []float64 {
	acc := make([]float64, len(b.parent))
	for j, w := range weights {
		acc[b.leaf[j]] += w
	}
	for i := len(acc) - 1; i > 0; i-- {
		acc[b.parent[i]] += acc[i]
	}
	return acc
}

func float(counts []int) []float64 {
	out := make([]float64, len(counts))
	for i, c := range counts {
		out[i] = float64(c)
	}
	return out
}

// faithPD returns the total length of the branches connecting the observed
// features to the root.
func (b *branches) faithPD(counts []int) float64 {
	acc := b.accumulate(float(counts))
	pd := 0.0
	for i := 1; i < len(acc); i++ {
		if acc[i] > 0 {
			pd += b.length[i]
		}
	}
	return pd
}

// unweighted returns the fraction of observed branch length unique to one
// of the two samples.
func (b *branches) unweighted(x, y []float64) float64 {
	var unique, total float64
	for i := 1; i < len(x); i++ {
		px, py := x[i] > 0, y[i] > 0
		if px || py {
			total += b.length[i]
			if px != py {
				unique += b.length[i]
			}
		}
	}
	if total == 0 {
		return 0
	}
	return unique / total
}

// weighted returns the normalized weighted UniFrac distance between
// accumulated proportions x and y.
func (b *branches) weighted(x, y []float64) float64 {
	var num, denom float64
	for i := 1; i < len(x); i++ {
		num += b.length[i] * math.Abs(x[i]-y[i])
	}
	for _, l := range b.leaf {
		denom += b.depth[l] * (x[l] + y[l])
	}
	if denom == 0 {
		return 0
	}
	return num / denom
}
