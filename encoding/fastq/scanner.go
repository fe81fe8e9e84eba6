// Package fastq reads and writes FASTQ read files, one read or one read pair
// at a time.
package fastq

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrShort is returned when a truncated FASTQ file is encountered.
	ErrShort = errors.New("short FASTQ file")
	// ErrInvalid is returned when an invalid FASTQ file is encountered.
	ErrInvalid = errors.New("invalid FASTQ file")
	// ErrLength is returned when a read's sequence and quality lines differ
	// in length.
	ErrLength = errors.New("FASTQ sequence and quality lengths differ")
	// ErrDiscordant is returned when one file of a pair ends before the other.
	ErrDiscordant = errors.New("discordant FASTQ pairs")
	// ErrMateName is returned when the two reads of a pair have different
	// names.
	ErrMateName = errors.New("FASTQ mate names differ")
)

// maxLineLen bounds a single FASTQ line. Amplicon reads are a few hundred
// bases, but long-read data passes through the same scanner.
const maxLineLen = 1 << 20

// A Read is one FASTQ record. ID is the full header line including the
// leading '@'; Unk is line 3.
type Read struct {
	ID, Seq, Unk, Qual string
}

// Name returns the read name: the header up to the first space or tab,
// without the '@' and without an old-style "/1" or "/2" mate suffix. Both
// mates of a pair share a name.
func (r *Read) Name() string {
	name := r.ID
	if len(name) > 0 && name[0] == '@' {
		name = name[1:]
	}
	for i := 0; i < len(name); i++ {
		if name[i] == ' ' || name[i] == '\t' {
			name = name[:i]
			break
		}
	}
	if n := len(name); n > 2 && name[n-2] == '/' && (name[n-1] == '1' || name[n-1] == '2') {
		name = name[:n-2]
	}
	return name
}

// Len returns the number of bases in the read.
func (r *Read) Len() int { return len(r.Seq) }

// Trim cuts the read and quality lengths to at most n.
func (r *Read) Trim(n int) {
	if n >= len(r.Seq) {
		return
	}
	r.Seq = r.Seq[:n]
	r.Qual = r.Qual[:n]
}

// TrimLeft removes the first n bases and their qualities. Trimming more bases
// than the read holds leaves an empty read.
func (r *Read) TrimLeft(n int) {
	if n >= len(r.Seq) {
		r.Seq, r.Qual = "", ""
		return
	}
	r.Seq = r.Seq[n:]
	r.Qual = r.Qual[n:]
}

// Quals decodes the quality string into Phred scores, using the given ASCII
// offset (33 for Sanger/Illumina 1.8+). Scores are appended to buf, which is
// returned.
func (r *Read) Quals(offset int, buf []int) []int {
	buf = buf[:0]
	for i := 0; i < len(r.Qual); i++ {
		q := int(r.Qual[i]) - offset
		if q < 0 {
			q = 0
		}
		buf = append(buf, q)
	}
	return buf
}

// Scanner reads FASTQ records one at a time. It requires the header to begin
// with '@', line 3 to begin with '+' and the quality line to be as long as
// the sequence. Errors carry the 1-based line number where they were
// detected; errors.Cause returns the underlying Err* value. Scanners are not
// threadsafe.
type Scanner struct {
	b    *bufio.Scanner
	line int
	err  error
	eof  bool
}

// NewScanner returns a Scanner reading FASTQ data from r.
func NewScanner(r io.Reader) *Scanner {
	b := bufio.NewScanner(r)
	b.Buffer(make([]byte, 0, 64<<10), maxLineLen)
	return &Scanner{b: b}
}

// next reads the next line. At the end of the input, it fails with
// ErrShort unless first is set, in which case it ends the scan cleanly.
func (s *Scanner) next(first bool) []byte {
	if !s.b.Scan() {
		switch err := s.b.Err(); {
		case err != nil:
			s.err = errors.Wrapf(err, "fastq: line %d", s.line+1)
		case first:
			s.eof = true
		default:
			s.fail(ErrShort)
		}
		return nil
	}
	s.line++
	return bytes.TrimSuffix(s.b.Bytes(), []byte{'\r'})
}

func (s *Scanner) fail(err error) {
	s.err = errors.Wrapf(err, "fastq: line %d", s.line)
}

// Scan reads the next record into r. It returns false at the end of the
// input or on the first error, and keeps returning false after that; Err
// tells the two apart.
func (s *Scanner) Scan(r *Read) bool {
	if s.err != nil || s.eof {
		return false
	}
	id := s.next(true)
	if s.eof || s.err != nil {
		return false
	}
	if len(id) == 0 || id[0] != '@' {
		s.fail(ErrInvalid)
		return false
	}
	r.ID = string(id)
	sq := s.next(false)
	if s.err != nil {
		return false
	}
	r.Seq = string(sq)
	unk := s.next(false)
	if s.err != nil {
		return false
	}
	if len(unk) == 0 || unk[0] != '+' {
		s.fail(ErrInvalid)
		return false
	}
	r.Unk = string(unk)
	qual := s.next(false)
	if s.err != nil {
		return false
	}
	if len(qual) != len(r.Seq) {
		s.fail(ErrLength)
		return false
	}
	r.Qual = string(qual)
	return true
}

// Err returns the scanning error, or nil if the input ended cleanly.
func (s *Scanner) Err() error { return s.err }

// PairScanner reads forward and reverse FASTQ streams in lockstep.
type PairScanner struct {
	fwd, rev *Scanner
	n        int
	err      error
}

// NewPairScanner returns a PairScanner over forward reads in r1 and reverse
// reads in r2.
func NewPairScanner(r1, r2 io.Reader) *PairScanner {
	return &PairScanner{fwd: NewScanner(r1), rev: NewScanner(r2)}
}

// Scan reads the next pair. The two streams must hold the same number of
// records, in the same order.
func (p *PairScanner) Scan(r1, r2 *Read) bool {
	if p.err != nil {
		return false
	}
	ok1, ok2 := p.fwd.Scan(r1), p.rev.Scan(r2)
	if ok1 != ok2 && p.fwd.Err() == nil && p.rev.Err() == nil {
		p.err = errors.Wrapf(ErrDiscordant, "fastq: after %d pairs", p.n)
		return false
	}
	if !ok1 || !ok2 {
		return false
	}
	if a, b := r1.Name(), r2.Name(); a != b {
		p.err = errors.Wrapf(ErrMateName, "fastq: pair %d: %q vs %q", p.n+1, a, b)
		return false
	}
	p.n++
	return true
}

// Err returns the first error from either stream or from pairing them.
func (p *PairScanner) Err() error {
	if err := p.fwd.Err(); err != nil {
		return err
	}
	if err := p.rev.Err(); err != nil {
		return err
	}
	return p.err
}
