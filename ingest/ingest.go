// Package ingest enumerates the paired raw read files of a sequencing run.
package ingest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
)

// ReadPair is the forward and reverse read file of one sample.
type ReadPair struct {
	Sample           string
	Forward, Reverse string
}

// Opts controls how read files are recognized and named.
type Opts struct {
	// ForwardSuffix and ReverseSuffix identify forward and reverse read
	// files, e.g. "_R1_001.fastq.gz".
	ForwardSuffix, ReverseSuffix string
	// NameSep separates the sample name from the rest of the file name. The
	// sample name is the base name up to the first NameSep. If empty, the
	// sample name is the base name minus the suffix.
	NameSep string
}

// DefaultOpts matches Illumina MiSeq file naming, e.g.
// "F3D0_S188_L001_R1_001.fastq.gz" -> sample "F3D0".
var DefaultOpts = Opts{
	ForwardSuffix: "_R1_001.fastq.gz",
	ReverseSuffix: "_R2_001.fastq.gz",
	NameSep:       "_",
}

// SampleName derives the sample name of a read file.
func (o Opts) SampleName(path, suffix string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, suffix)
	if o.NameSep != "" {
		if i := strings.Index(base, o.NameSep); i > 0 {
			base = base[:i]
		}
	}
	return base
}

// Pair matches forward and reverse files by sample name. Every forward file
// needs exactly one reverse file and vice versa; a sample name may appear
// once. Pairs are returned sorted by sample.
func Pair(paths []string, opts Opts) ([]ReadPair, error) {
	if opts.ForwardSuffix == "" || opts.ReverseSuffix == "" || opts.ForwardSuffix == opts.ReverseSuffix {
		return nil, errors.E(errors.Invalid, "ingest: forward and reverse suffixes must be distinct and nonempty")
	}
	fwd := map[string]string{}
	rev := map[string]string{}
	add := func(m map[string]string, path, suffix string) error {
		name := opts.SampleName(path, suffix)
		if prev, ok := m[name]; ok {
			return errors.E(errors.Invalid, fmt.Sprintf("ingest: sample %q has two read files: %s and %s", name, prev, path))
		}
		m[name] = path
		return nil
	}
	for _, p := range paths {
		var err error
		switch {
		case strings.HasSuffix(p, opts.ForwardSuffix):
			err = add(fwd, p, opts.ForwardSuffix)
		case strings.HasSuffix(p, opts.ReverseSuffix):
			err = add(rev, p, opts.ReverseSuffix)
		}
		if err != nil {
			return nil, err
		}
	}
	var pairs []ReadPair
	for name, f := range fwd {
		r, ok := rev[name]
		if !ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("ingest: no reverse read file for %s (sample %q)", f, name))
		}
		pairs = append(pairs, ReadPair{Sample: name, Forward: f, Reverse: r})
	}
	for name, r := range rev {
		if _, ok := fwd[name]; !ok {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("ingest: no forward read file for %s (sample %q)", r, name))
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Sample < pairs[j].Sample })
	return pairs, nil
}

// List enumerates the read pairs in dir.
func List(ctx context.Context, dir string, opts Opts) ([]ReadPair, error) {
	var paths []string
	lister := file.List(ctx, dir, false)
	for lister.Scan() {
		if lister.IsDir() {
			continue
		}
		paths = append(paths, lister.Path())
	}
	if err := lister.Err(); err != nil {
		return nil, errors.E(err, "ingest: list", dir)
	}
	pairs, err := Pair(paths, opts)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, errors.E(errors.NotExist, fmt.Sprintf("ingest: no read pairs matching *%s / *%s in %s", opts.ForwardSuffix, opts.ReverseSuffix, dir))
	}
	log.Printf("ingest: found %d read pairs in %s", len(pairs), dir)
	return pairs, nil
}

// Open opens a possibly compressed input file; compression is detected from
// the file name. The returned closer closes the underlying file.
func Open(ctx context.Context, path string) (io.Reader, func() error, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, errors.E(err, "open", path)
	}
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	return r, func() error { return in.Close(ctx) }, nil
}
