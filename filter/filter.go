// Package filter implements read-pair quality filtering and trimming.
package filter

import (
	"context"
	"io"
	"math"

	"github.com/grailbio/amplicon/encoding/fastq"
	"github.com/grailbio/amplicon/ingest"
	"github.com/grailbio/amplicon/seq"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/klauspost/compress/gzip"
)

// Opts are the per-mate filtering thresholds. Two-element arrays hold the
// forward value first and the reverse value second.
type Opts struct {
	// TrimLeft removes this many bases from the start of each read.
	TrimLeft [2]int
	// TruncLen truncates reads to this length and discards shorter reads.
	// Zero disables truncation.
	TruncLen [2]int
	// TruncQ truncates a read at the first base with quality <= TruncQ.
	// Negative disables it.
	TruncQ int
	// MaxN discards reads with more than MaxN ambiguous bases.
	MaxN int
	// MaxEE discards reads whose expected error count exceeds the limit.
	MaxEE [2]float64
	// MinLen discards reads shorter than MinLen after trimming.
	MinLen int
	// PhredOffset is the ASCII offset of the quality encoding.
	PhredOffset int
}

// DefaultOpts keeps reads of any length, truncates at the first Q2 base,
// and rejects reads with any N.
var DefaultOpts = Opts{
	TruncQ:      2,
	MaxN:        0,
	MaxEE:       [2]float64{math.Inf(1), math.Inf(1)},
	MinLen:      20,
	PhredOffset: 33,
}

// Stats counts read pairs before and after filtering.
type Stats struct {
	Sample   string
	ReadsIn  int
	ReadsOut int
}

// ExpectedErrors returns sum(10^(-q/10)) over the read's bases.
func ExpectedErrors(quals []int) float64 {
	ee := 0.0
	for _, q := range quals {
		ee += math.Pow(10, -float64(q)/10)
	}
	return ee
}

// Read applies the thresholds for mate (0 forward, 1 reverse) to r, trimming
// it in place. It reports whether the read survives.
func (o Opts) Read(r *fastq.Read, mate int, qbuf []int) ([]int, bool) {
	r.TrimLeft(o.TrimLeft[mate])
	qbuf = r.Quals(o.PhredOffset, qbuf)
	if o.TruncQ >= 0 {
		for i, q := range qbuf {
			if q <= o.TruncQ {
				r.Trim(i)
				qbuf = qbuf[:i]
				break
			}
		}
	}
	if n := o.TruncLen[mate]; n > 0 {
		if r.Len() < n {
			return qbuf, false
		}
		r.Trim(n)
		qbuf = qbuf[:n]
	}
	if r.Len() < o.MinLen || r.Len() == 0 {
		return qbuf, false
	}
	if seq.CountN(r.Seq) > o.MaxN {
		return qbuf, false
	}
	if maxEE := o.MaxEE[mate]; !math.IsInf(maxEE, 1) && ExpectedErrors(qbuf) > maxEE {
		return qbuf, false
	}
	return qbuf, true
}

// Pair filters one pair of FASTQ streams. A pair is written only if both
// mates pass.
func (o Opts) Pair(in1, in2 io.Reader, out1, out2 io.Writer) (Stats, error) {
	var (
		stats  Stats
		sc     = fastq.NewPairScanner(in1, in2)
		w1, w2 = fastq.NewWriter(out1), fastq.NewWriter(out2)
		r1, r2 fastq.Read
		qbuf   []int
		ok     bool
	)
	for sc.Scan(&r1, &r2) {
		stats.ReadsIn++
		if qbuf, ok = o.Read(&r1, 0, qbuf); !ok {
			continue
		}
		if qbuf, ok = o.Read(&r2, 1, qbuf); !ok {
			continue
		}
		if err := w1.Write(&r1); err != nil {
			return stats, err
		}
		if err := w2.Write(&r2); err != nil {
			return stats, err
		}
	}
	// Both writers saw the same pairs.
	stats.ReadsOut = w2.N()
	return stats, sc.Err()
}

// Job is one sample to filter.
type Job struct {
	Pair                   ingest.ReadPair
	OutForward, OutReverse string
}

type gzipOutput struct {
	f  file.File
	gz *gzip.Writer
}

func createGzip(ctx context.Context, path string) (*gzipOutput, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "create", path)
	}
	return &gzipOutput{f: f, gz: gzip.NewWriter(f.Writer(ctx))}, nil
}

func (g *gzipOutput) close(ctx context.Context) error {
	once := errors.Once{}
	once.Set(g.gz.Close())
	once.Set(g.f.Close(ctx))
	return once.Err()
}

// Run filters one job, writing gzip-compressed FASTQ outputs.
func (o Opts) Run(ctx context.Context, job Job) (Stats, error) {
	in1, close1, err := ingest.Open(ctx, job.Pair.Forward)
	if err != nil {
		return Stats{}, err
	}
	defer close1() // nolint: errcheck
	in2, close2, err := ingest.Open(ctx, job.Pair.Reverse)
	if err != nil {
		return Stats{}, err
	}
	defer close2() // nolint: errcheck
	out1, err := createGzip(ctx, job.OutForward)
	if err != nil {
		return Stats{}, err
	}
	out2, err := createGzip(ctx, job.OutReverse)
	if err != nil {
		out1.close(ctx) // nolint: errcheck
		return Stats{}, err
	}
	stats, err := o.Pair(in1, in2, out1.gz, out2.gz)
	stats.Sample = job.Pair.Sample
	once := errors.Once{}
	if err != nil {
		once.Set(errors.E(err, "filter sample", job.Pair.Sample))
	}
	once.Set(out1.close(ctx))
	once.Set(out2.close(ctx))
	if err := once.Err(); err != nil {
		return stats, err
	}
	log.Debug.Printf("filter: %s: %d of %d read pairs passed", stats.Sample, stats.ReadsOut, stats.ReadsIn)
	return stats, nil
}

// RunAll filters the jobs with at most parallelism concurrent samples.
func (o Opts) RunAll(ctx context.Context, jobs []Job, parallelism int) ([]Stats, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	stats := make([]Stats, len(jobs))
	err := traverse.Limit(parallelism).Each(len(jobs), func(i int) error {
		var err error
		stats[i], err = o.Run(ctx, jobs[i])
		return err
	})
	if err != nil {
		return nil, err
	}
	var in, out int
	for _, s := range stats {
		in += s.ReadsIn
		out += s.ReadsOut
	}
	log.Printf("filter: %d samples, %d of %d read pairs passed", len(jobs), out, in)
	return stats, nil
}
