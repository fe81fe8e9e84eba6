// Package merge joins denoised forward and reverse reads into full-length
// amplicon sequences.
package merge

import (
	"context"
	"encoding/gob"
	"fmt"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/grailbio/amplicon/denoise"
	"github.com/grailbio/amplicon/derep"
	"github.com/grailbio/amplicon/seq"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// MismatchPenalty is the score of a mismatched overlap position; matches
// score 1.
const MismatchPenalty = -8

// Spacer separates the mates when Opts.JustConcatenate is set.
const Spacer = "NNNNNNNNNN"

// Opts controls merging.
type Opts struct {
	// MinOverlap is the shortest overlap that can join two mates.
	MinOverlap int
	// MaxMismatch is the largest number of mismatches an accepted overlap may
	// contain.
	MaxMismatch int
	// TrimOverhang removes mate sequence that extends past the start of the
	// other mate.
	TrimOverhang bool
	// JustConcatenate joins the mates with Spacer instead of overlapping
	// them.
	JustConcatenate bool
}

// DefaultOpts are the default merge options.
var DefaultOpts = Opts{MinOverlap: 12}

// Merged is one distinct forward/reverse variant combination.
type Merged struct {
	Seq       string
	Abundance int
	// Forward and Reverse are variant indexes into the denoise results.
	Forward, Reverse int
	Overlap          int
	Mismatches       int
	// Accept is true when the overlap passed MinOverlap and MaxMismatch.
	Accept bool
}

type placement struct {
	offset, overlap, mismatches, score int
}

// align finds the best ungapped placement of rc relative to f. offset is the
// position in f where rc starts, and may be negative.
func align(f, rc string, opts Opts) (placement, bool) {
	var (
		best  placement
		found bool
	)
	for s := opts.MinOverlap - len(rc); s <= len(f)-opts.MinOverlap; s++ {
		lo, hi := s, s+len(rc)
		if lo < 0 {
			lo = 0
		}
		if hi > len(f) {
			hi = len(f)
		}
		l := hi - lo
		if l < opts.MinOverlap {
			continue
		}
		mm := seq.Hamming(f[lo:hi], rc[lo-s:hi-s])
		p := placement{offset: s, overlap: l, mismatches: mm, score: (l - mm) + mm*MismatchPenalty}
		if !found || p.score > best.score || (p.score == best.score && p.overlap > best.overlap) {
			best, found = p, true
		}
	}
	return best, found
}

// Join merges one forward sequence with the reverse complement of one
// reverse sequence.
func Join(fwd, rev string, opts Opts) Merged {
	rc := seq.ReverseComplement(rev)
	if opts.JustConcatenate {
		return Merged{Seq: fwd + Spacer + rc, Accept: true}
	}
	p, ok := align(fwd, rc, opts)
	if !ok {
		return Merged{}
	}
	m := Merged{Overlap: p.overlap, Mismatches: p.mismatches, Accept: p.mismatches <= opts.MaxMismatch}
	var b strings.Builder
	if p.offset < 0 && !opts.TrimOverhang {
		b.WriteString(rc[:-p.offset])
	}
	end := len(fwd)
	if rcEnd := p.offset + len(rc); rcEnd < end && opts.TrimOverhang {
		end = rcEnd
	}
	b.WriteString(fwd[:end])
	if rcEnd := p.offset + len(rc); rcEnd > len(fwd) {
		b.WriteString(rc[len(fwd)-p.offset:])
	}
	m.Seq = b.String()
	return m
}

// Pairs merges every read pair whose mates were both assigned to variants.
// Read i of fwd is the mate of read i of rev. The result is sorted by
// decreasing abundance.
func Pairs(fwd *derep.Derep, fwdRes *denoise.Result, rev *derep.Derep, revRes *denoise.Result, opts Opts) ([]Merged, error) {
	if fwd.Reads() != rev.Reads() {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("merge: %d forward reads but %d reverse reads", fwd.Reads(), rev.Reads()))
	}
	type key struct{ f, r int }
	var (
		counts = map[key]int{}
		keys   []key
	)
	for i := 0; i < fwd.Reads(); i++ {
		k := key{fwdRes.Read(fwd, i), revRes.Read(rev, i)}
		if k.f < 0 || k.r < 0 {
			continue
		}
		if _, ok := counts[k]; !ok {
			keys = append(keys, k)
		}
		counts[k]++
	}
	ms := make([]Merged, len(keys))
	for i, k := range keys {
		ms[i] = Join(fwdRes.Variants[k.f].Seq, revRes.Variants[k.r].Seq, opts)
		ms[i].Forward, ms[i].Reverse, ms[i].Abundance = k.f, k.r, counts[k]
	}
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Abundance != ms[j].Abundance {
			return ms[i].Abundance > ms[j].Abundance
		}
		if ms[i].Forward != ms[j].Forward {
			return ms[i].Forward < ms[j].Forward
		}
		return ms[i].Reverse < ms[j].Reverse
	})
	return ms, nil
}

// Accepted returns the accepted merges.
func Accepted(ms []Merged) []Merged {
	var out []Merged
	for _, m := range ms {
		if m.Accept {
			out = append(out, m)
		}
	}
	return out
}

// Abundances sums the abundance of accepted merges by sequence.
func Abundances(ms []Merged) map[string]int {
	a := map[string]int{}
	for _, m := range ms {
		if m.Accept {
			a[m.Seq] += m.Abundance
		}
	}
	return a
}

// WriteFile stores merges as a snappy-compressed gob stream.
func WriteFile(ctx context.Context, path string, ms []Merged) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "merge: create", path)
	}
	w := snappy.NewBufferedWriter(out.Writer(ctx))
	once := errors.Once{}
	once.Set(gob.NewEncoder(w).Encode(ms))
	once.Set(w.Close())
	once.Set(out.Close(ctx))
	if err := once.Err(); err != nil {
		return errors.E(err, "merge: write", path)
	}
	return nil
}

// ReadFile reads merges stored by WriteFile.
func ReadFile(ctx context.Context, path string) ([]Merged, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "merge: open", path)
	}
	var ms []Merged
	once := errors.Once{}
	once.Set(gob.NewDecoder(snappy.NewReader(in.Reader(ctx))).Decode(&ms))
	once.Set(in.Close(ctx))
	if err := once.Err(); err != nil {
		return nil, errors.E(err, "merge: read", path)
	}
	return ms, nil
}
