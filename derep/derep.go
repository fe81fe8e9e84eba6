// Package derep collapses reads into unique sequences.
package derep

import (
	"context"
	"sort"
	"strings"

	"github.com/grailbio/amplicon/encoding/fastq"
	"github.com/grailbio/amplicon/ingest"
	"github.com/grailbio/base/errors"
)

// Unique is one distinct sequence.
type Unique struct {
	Seq       string
	Abundance int
	// Quals is the mean Phred quality at each position over the reads that
	// share the sequence.
	Quals []float64
}

// Derep is the dereplicated form of a read file.
type Derep struct {
	// Uniques are sorted by decreasing abundance. Ties keep the order of
	// first appearance.
	Uniques []Unique
	// Map maps each input read index to its index in Uniques.
	Map []int
}

// Reads returns the total number of reads.
func (d *Derep) Reads() int { return len(d.Map) }

type builder struct {
	index   map[string]int
	uniques []Unique
	sums    [][]float64
	readMap []int
}

// Builder accumulates reads into a Derep.
type Builder struct {
	b builder
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{b: builder{index: map[string]int{}}}
}

// Add records one read with decoded Phred scores.
func (b *Builder) Add(seq string, quals []int) {
	seq = strings.ToUpper(seq)
	i, ok := b.b.index[seq]
	if !ok {
		i = len(b.b.uniques)
		b.b.index[seq] = i
		b.b.uniques = append(b.b.uniques, Unique{Seq: seq})
		b.b.sums = append(b.b.sums, make([]float64, len(seq)))
	}
	b.b.uniques[i].Abundance++
	sums := b.b.sums[i]
	for j := 0; j < len(sums) && j < len(quals); j++ {
		sums[j] += float64(quals[j])
	}
	b.b.readMap = append(b.b.readMap, i)
}

// Finish returns the dereplicated reads.
func (b *Builder) Finish() *Derep {
	n := len(b.b.uniques)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return b.b.uniques[order[i]].Abundance > b.b.uniques[order[j]].Abundance
	})
	rank := make([]int, n)
	d := &Derep{Uniques: make([]Unique, n), Map: make([]int, len(b.b.readMap))}
	for newIdx, oldIdx := range order {
		rank[oldIdx] = newIdx
		u := b.b.uniques[oldIdx]
		u.Quals = make([]float64, len(u.Seq))
		for j, s := range b.b.sums[oldIdx] {
			u.Quals[j] = s / float64(u.Abundance)
		}
		d.Uniques[newIdx] = u
	}
	for r, oldIdx := range b.b.readMap {
		d.Map[r] = rank[oldIdx]
	}
	return d
}

// Reads dereplicates a list of reads.
func Reads(reads []fastq.Read, phredOffset int) *Derep {
	b := NewBuilder()
	var qbuf []int
	for i := range reads {
		qbuf = reads[i].Quals(phredOffset, qbuf)
		b.Add(reads[i].Seq, qbuf)
	}
	return b.Finish()
}

// ReadFile dereplicates a (possibly gzipped) FASTQ file.
func ReadFile(ctx context.Context, path string, phredOffset int) (*Derep, error) {
	in, closer, err := ingest.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	var (
		sc   = fastq.NewScanner(in)
		b    = NewBuilder()
		r    fastq.Read
		qbuf []int
	)
	for sc.Scan(&r) {
		qbuf = r.Quals(phredOffset, qbuf)
		b.Add(r.Seq, qbuf)
	}
	once := errors.Once{}
	if err := sc.Err(); err != nil {
		once.Set(errors.E(err, "derep", path))
	}
	once.Set(closer())
	if err := once.Err(); err != nil {
		return nil, err
	}
	return b.Finish(), nil
}
