// Package chimera finds and removes bimeric sequence variants: sequences
// whose left part matches one more abundant variant and whose right part
// matches another.
package chimera

import (
	"fmt"

	"github.com/grailbio/amplicon/featuretable"
	"github.com/grailbio/amplicon/seq"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
)

// Method selects how per-sample evidence is combined.
type Method int

const (
	// Consensus tests each sample independently and removes a variant when
	// it is flagged in enough of the samples that contain it.
	Consensus Method = iota
	// Pooled tests each variant once against total abundances.
	Pooled
	// PerSample zeroes a variant's count only in the samples where it is
	// flagged.
	PerSample
)

var methodNames = []string{"consensus", "pooled", "per-sample"}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// ParseMethod parses the String form of a Method.
func ParseMethod(s string) (Method, error) {
	for i, n := range methodNames {
		if n == s {
			return Method(i), nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("chimera: unknown method %q", s))
}

// Opts controls chimera detection.
type Opts struct {
	Method Method
	// MinFoldParentOverAbundance is how many times more abundant than the
	// query a parent must be.
	MinFoldParentOverAbundance float64
	// MinParentAbundance is the smallest abundance of a parent.
	MinParentAbundance int
	// AllowOneOff also flags sequences one mismatch away from a bimera.
	AllowOneOff bool
	// MinOneOffParentDistance is the smallest edit distance between a query
	// and the parents used for one-off detection.
	MinOneOffParentDistance int
	// MinSampleFraction and IgnoreNNegatives set the Consensus vote: a
	// variant is removed when it is flagged in at least
	// (samples - IgnoreNNegatives) * MinSampleFraction of the samples that
	// contain it.
	MinSampleFraction float64
	IgnoreNNegatives  int
}

// DefaultOpts are the default chimera options.
var DefaultOpts = Opts{
	Method:                     Consensus,
	MinFoldParentOverAbundance: 1.5,
	MinParentAbundance:         2,
	MinOneOffParentDistance:    4,
	MinSampleFraction:          0.9,
	IgnoreNNegatives:           1,
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func commonSuffix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}

// IsBimera reports whether s can be built from the left part of one parent
// and the right part of a different parent. With opts.AllowOneOff, s may also
// differ by one mismatch from such a join of parents that are far from s.
// A parent that alone covers all but at most one base of s makes s a variant
// of that parent, so it is not used to explain s.
func IsBimera(s string, parents []string, opts Opts) bool {
	type span struct {
		l, r, l1, r1 int
		far          bool
	}
	n := len(s)
	spans := make([]span, 0, len(parents))
	for _, p := range parents {
		if p == s {
			continue
		}
		sp := span{l: commonPrefix(s, p), r: commonSuffix(s, p)}
		if sp.l+sp.r >= n-1 {
			continue
		}
		sp.l1, sp.r1 = sp.l, sp.r
		if opts.AllowOneOff && seq.Levenshtein(s, p) >= opts.MinOneOffParentDistance {
			sp.far = true
			if sp.l < n && sp.l < len(p) {
				sp.l1 = sp.l + 1 + commonPrefix(s[sp.l+1:], p[sp.l+1:])
			}
			if sp.r < n && sp.r < len(p) {
				sp.r1 = sp.r + 1 + commonSuffix(s[:n-sp.r-1], p[:len(p)-sp.r-1])
			}
		}
		spans = append(spans, sp)
	}
	for i, a := range spans {
		for j, b := range spans {
			if i == j {
				continue
			}
			if a.l+b.r >= n {
				return true
			}
			if a.far && b.far && (a.l1+b.r >= n || a.l+b.r1 >= n) {
				return true
			}
		}
	}
	return false
}

// parents returns the features at least MinFoldParentOverAbundance times as
// abundant as feature j, and at least MinParentAbundance.
func parents(features []string, counts []int, j int, opts Opts) []string {
	var ps []string
	for k, c := range counts {
		if k == j || c < opts.MinParentAbundance {
			continue
		}
		if float64(c) >= opts.MinFoldParentOverAbundance*float64(counts[j]) {
			ps = append(ps, features[k])
		}
	}
	return ps
}

// Report summarizes a Remove call.
type Report struct {
	Method Method
	// Flagged lists the removed features. For PerSample it lists features
	// flagged in at least one sample.
	Flagged          []string
	ReadsIn, ReadsOut int
}

// FlagSample reports, for each feature present in sample i, whether it is a
// bimera of the sample's more abundant features.
func FlagSample(t *featuretable.Table, i int, opts Opts) []bool {
	row := t.Counts[i]
	flags := make([]bool, len(t.Features))
	for j, c := range row {
		if c == 0 {
			continue
		}
		flags[j] = IsBimera(t.Features[j], parents(t.Features, row, j, opts), opts)
	}
	return flags
}

// Remove returns a copy of t without the features detected as bimeras.
// Features must be sequences. Counts are only ever removed; the result keeps
// the column order of t.
func Remove(t *featuretable.Table, opts Opts) (*featuretable.Table, Report, error) {
	rep := Report{Method: opts.Method, ReadsIn: t.Total()}
	var out *featuretable.Table
	switch opts.Method {
	case Consensus:
		var (
			nsam  = make([]int, len(t.Features))
			nflag = make([]int, len(t.Features))
		)
		for i := range t.Samples {
			flags := FlagSample(t, i, opts)
			for j, c := range t.Counts[i] {
				if c > 0 {
					nsam[j]++
				}
				if flags[j] {
					nflag[j]++
				}
			}
		}
		out = t.SelectFeatures(func(j int, f string) bool {
			need := float64(nsam[j]-opts.IgnoreNNegatives) * opts.MinSampleFraction
			bim := nflag[j] > 0 && float64(nflag[j]) >= need
			if bim {
				rep.Flagged = append(rep.Flagged, f)
			}
			return !bim
		})
	case Pooled:
		sums := t.ColSums()
		out = t.SelectFeatures(func(j int, f string) bool {
			bim := sums[j] > 0 && IsBimera(f, parents(t.Features, sums, j, opts), opts)
			if bim {
				rep.Flagged = append(rep.Flagged, f)
			}
			return !bim
		})
	case PerSample:
		out = t.Clone()
		flagged := make([]bool, len(t.Features))
		for i := range t.Samples {
			for j, flag := range FlagSample(t, i, opts) {
				if flag {
					out.Counts[i][j] = 0
					flagged[j] = true
				}
			}
		}
		for j, f := range t.Features {
			if flagged[j] {
				rep.Flagged = append(rep.Flagged, f)
			}
		}
		out = out.DropEmptyFeatures()
	default:
		return nil, rep, errors.E(errors.Invalid, fmt.Sprintf("chimera: unknown method %v", opts.Method))
	}
	rep.ReadsOut = out.Total()
	log.Printf("chimera: %s: removed %d of %d features, %d of %d reads kept",
		opts.Method, len(t.Features)-len(out.Features), len(t.Features), rep.ReadsOut, rep.ReadsIn)
	return out, rep, nil
}

// Filter removes chimeric features from a table whose features are
// sequences.
type Filter interface {
	Filter(t *featuretable.Table) (*featuretable.Table, Report, error)
}

var _ Filter = Opts{}

// Filter calls Remove with o.
func (o Opts) Filter(t *featuretable.Table) (*featuretable.Table, Report, error) {
	return Remove(t, o)
}

// CheckFiltered verifies that out was derived from in by removal only: the
// same samples in the same order, features drawn from in, and no count
// larger than in's.
func CheckFiltered(in, out *featuretable.Table) error {
	if err := out.Validate(); err != nil {
		return err
	}
	if len(out.Samples) != len(in.Samples) {
		return errors.E(errors.Invalid, fmt.Sprintf("chimera: filter changed the sample count from %d to %d", len(in.Samples), len(out.Samples)))
	}
	for i, s := range out.Samples {
		if s != in.Samples[i] {
			return errors.E(errors.Invalid, fmt.Sprintf("chimera: filter changed sample %d from %s to %s", i, in.Samples[i], s))
		}
	}
	for j, f := range out.Features {
		k := in.FeatureIndex(f)
		if k < 0 {
			return errors.E(errors.Invalid, "chimera: filter added feature", f)
		}
		for i := range out.Samples {
			if out.Counts[i][j] > in.Counts[i][k] {
				return errors.E(errors.Invalid, fmt.Sprintf("chimera: filter raised the count of %s in %s from %d to %d",
					f, out.Samples[i], in.Counts[i][k], out.Counts[i][j]))
			}
		}
	}
	return nil
}
