package diversity

import (
	"fmt"
	"math"
	"sort"

	"github.com/grailbio/base/errors"
	"gonum.org/v1/gonum/mat"
)

// Ordination holds principal coordinates. Coords[i][k] is sample i on axis
// k. Explained[k] is the fraction of the positive eigenvalue mass carried by
// axis k.
type Ordination struct {
	IDs         []string
	Coords      [][]float64
	Eigenvalues []float64
	Explained   []float64
}

// PCoA computes classical multidimensional scaling of m, keeping at most
// axes axes with positive eigenvalues. Axis signs are fixed so that the
// first sample with a nonzero coordinate is positive.
func PCoA(m *DistanceMatrix, axes int) (*Ordination, error) {
	n := len(m.IDs)
	if n < 2 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("diversity: pcoa of %d samples", n))
	}
	if axes < 1 {
		axes = 2
	}
	// Gower centering of -d²/2.
	a := make([]float64, n*n)
	rowMean := make([]float64, n)
	total := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := -0.5 * m.D[i][j] * m.D[i][j]
			a[i*n+j] = v
			rowMean[i] += v / float64(n)
		}
		total += rowMean[i] / float64(n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a[i*n+j] += total - rowMean[i] - rowMean[j]
		}
	}
	var es mat.EigenSym
	if ok := es.Factorize(mat.NewSymDense(n, a), true); !ok {
		return nil, errors.E(errors.Invalid, "diversity: pcoa eigendecomposition failed")
	}
	values := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool { return values[order[x]] > values[order[y]] })
	positive := 0.0
	for _, v := range values {
		if v > 0 {
			positive += v
		}
	}
	// Eigenvalues indistinguishable from zero carry no axis.
	eps := 1e-10 * math.Max(positive, 1)
	o := &Ordination{IDs: append([]string(nil), m.IDs...), Coords: make([][]float64, n)}
	for _, k := range order {
		if len(o.Eigenvalues) == axes || values[k] <= eps {
			break
		}
		o.Eigenvalues = append(o.Eigenvalues, values[k])
		o.Explained = append(o.Explained, values[k]/positive)
		scale := math.Sqrt(values[k])
		sign := 0.0
		for i := 0; i < n; i++ {
			c := vecs.At(i, k) * scale
			if sign == 0 && math.Abs(c) > 1e-12 {
				sign = math.Copysign(1, c)
			}
			o.Coords[i] = append(o.Coords[i], c)
		}
		for i := 0; i < n; i++ {
			o.Coords[i][len(o.Eigenvalues)-1] *= sign
		}
	}
	if len(o.Eigenvalues) == 0 {
		return nil, errors.E(errors.Invalid, "diversity: pcoa found no positive eigenvalue")
	}
	return o, nil
}
