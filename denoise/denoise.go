// Package denoise partitions dereplicated reads into sequence variants.
//
// Uniques are visited in order of decreasing abundance. Each one is compared
// with the variants found so far; it founds a new variant when its abundance
// is improbably high for reads produced by sequencing errors from the most
// likely existing variant. The test is a Poisson tail, conditioned on the
// unique having been observed at all.
package denoise

import (
	"math"
	"sort"

	"github.com/grailbio/amplicon/derep"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrorModel scores how likely a read is to be an erroneous copy of a center
// sequence.
type ErrorModel interface {
	// LogProb returns the natural log of the probability that sequencing
	// center produced seq, given seq's per-position Phred qualities. It returns
	// -Inf when seq cannot derive from center.
	LogProb(center, seq string, quals []float64) float64
}

// Opts controls Denoise.
type Opts struct {
	// OmegaA is the p-value threshold below which a unique founds a new
	// variant.
	OmegaA float64
	// OmegaC is the p-value threshold below which a unique is left unassigned
	// in the final pass rather than corrected to its most likely variant.
	OmegaC float64
	// DetectSingletons allows uniques seen once to found variants.
	DetectSingletons bool
	// MinAbundance drops variants whose final abundance is below this.
	MinAbundance int
}

// DefaultOpts are the default denoising options.
var DefaultOpts = Opts{
	OmegaA:       1e-40,
	OmegaC:       1e-40,
	MinAbundance: 1,
}

// Variant is one inferred sequence variant.
type Variant struct {
	Seq       string
	Abundance int
	// Center is the index of the unique that founded the variant.
	Center int
}

// Result is the partition of a Derep.
type Result struct {
	// Variants are sorted by decreasing abundance.
	Variants []Variant
	// Map maps each unique index to its variant index, or -1 if the unique
	// was not assigned.
	Map []int
}

// Read returns the variant of the i'th read of d, or -1.
func (r *Result) Read(d *derep.Derep, i int) int {
	return r.Map[d.Map[i]]
}

// Assigned returns the number of reads assigned to a variant.
func (r *Result) Assigned() int {
	n := 0
	for _, v := range r.Variants {
		n += v.Abundance
	}
	return n
}

// PValue returns P(X >= n | X >= 1) for X ~ Poisson(lambda), in natural log.
func PValue(n int, lambda float64) float64 {
	if n <= 1 {
		return 0
	}
	if lambda <= 0 {
		return math.Inf(-1)
	}
	pois := distuv.Poisson{Lambda: lambda}
	logObserved := math.Log(-math.Expm1(-lambda))
	if lambda >= float64(n) {
		tail := 1 - pois.CDF(float64(n-1))
		return math.Log(tail) - logObserved
	}
	// Terms decrease past n since lambda < n.
	terms := []float64{pois.LogProb(float64(n))}
	for k := n + 1; k < n+1000; k++ {
		lp := pois.LogProb(float64(k))
		terms = append(terms, lp)
		if lp < terms[0]-50 {
			break
		}
	}
	return floats.LogSumExp(terms) - logObserved
}

// abundancePValue is PValue, except that singletons are tested without
// conditioning on observation when opts.DetectSingletons is set.
func abundancePValue(n int, lambda float64, opts Opts) float64 {
	if n == 1 && opts.DetectSingletons {
		if lambda <= 0 {
			return math.Inf(-1)
		}
		return math.Log(-math.Expm1(-lambda))
	}
	return PValue(n, lambda)
}

type denoiser struct {
	d       *derep.Derep
	model   ErrorModel
	opts    Opts
	centers []int
}

// best returns the center most likely to have produced unique u, and the
// expected number of copies of u that center yields. It returns -1 when no
// center can produce u.
func (dn *denoiser) best(u int) (center int, lambda float64) {
	center, lambda = -1, 0
	uq := dn.d.Uniques[u]
	for ci, c := range dn.centers {
		cu := dn.d.Uniques[c]
		lp := dn.model.LogProb(cu.Seq, uq.Seq, uq.Quals)
		if math.IsInf(lp, -1) {
			continue
		}
		if l := float64(cu.Abundance) * math.Exp(lp); center < 0 || l > lambda {
			center, lambda = ci, l
		}
	}
	return
}

// Denoise partitions the uniques of d into variants.
func Denoise(d *derep.Derep, model ErrorModel, opts Opts) *Result {
	dn := &denoiser{d: d, model: model, opts: opts}
	n := len(d.Uniques)
	if n == 0 {
		return &Result{}
	}
	logOmegaA, logOmegaC := math.Log(opts.OmegaA), math.Log(opts.OmegaC)
	dn.centers = append(dn.centers, 0)
	for u := 1; u < n; u++ {
		a := d.Uniques[u].Abundance
		if a == 1 && !opts.DetectSingletons {
			break
		}
		_, lambda := dn.best(u)
		if abundancePValue(a, lambda, opts) < logOmegaA {
			dn.centers = append(dn.centers, u)
		}
	}

	// Final pass: every unique goes to its most likely center.
	assign := make([]int, n)
	isCenter := make(map[int]int, len(dn.centers))
	for ci, c := range dn.centers {
		isCenter[c] = ci
	}
	abundance := make([]int, len(dn.centers))
	for u := 0; u < n; u++ {
		ci, ok := isCenter[u]
		if !ok {
			var lambda float64
			ci, lambda = dn.best(u)
			if ci >= 0 && PValue(d.Uniques[u].Abundance, lambda) < logOmegaC {
				ci = -1
			}
		}
		assign[u] = ci
		if ci >= 0 {
			abundance[ci] += d.Uniques[u].Abundance
		}
	}

	order := make([]int, 0, len(dn.centers))
	for ci := range dn.centers {
		if abundance[ci] >= opts.MinAbundance {
			order = append(order, ci)
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return abundance[order[i]] > abundance[order[j]]
	})
	index := make([]int, len(dn.centers))
	for i := range index {
		index[i] = -1
	}
	r := &Result{Variants: make([]Variant, len(order)), Map: make([]int, n)}
	for vi, ci := range order {
		index[ci] = vi
		c := dn.centers[ci]
		r.Variants[vi] = Variant{Seq: d.Uniques[c].Seq, Abundance: abundance[ci], Center: c}
	}
	for u, ci := range assign {
		r.Map[u] = -1
		if ci >= 0 {
			r.Map[u] = index[ci]
		}
	}
	return r
}
