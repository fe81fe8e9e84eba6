// Package fasta contains code for reading and writing FASTA files.  FASTA
// files consist of a number of named sequences that may be interrupted by
// newlines.  For example:
//
// >ASV1 some description
// ACGTAC
// GAGGAC
// >ASV2
// ACGT
//
// Note: Sequence names are defined to be the stretch of characters excluding
// spaces immediately after '>'.  Text after the first space is kept as the
// record's Description. Reference taxonomy databases put the lineage in the
// name itself, e.g. '>Bacteria;Firmicutes;Clostridia;'.
package fasta

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const (
	bufferInitSize = 1024 * 1024 * 300 // 300 MB
)

// Record is one FASTA entry.
type Record struct {
	// Name is the header text up to the first space.
	Name string
	// Description is the header text after the first space, if any.
	Description string
	// Seq is the sequence with line breaks removed.
	Seq string
}

// Header returns the full header line without the leading '>'.
func (r Record) Header() string {
	if r.Description == "" {
		return r.Name
	}
	return r.Name + " " + r.Description
}

// Scanner reads FASTA records one at a time. Scanners are not threadsafe.
type Scanner struct {
	b       *bufio.Scanner
	pending string // header line of the next record, without '>'.
	started bool
	done    bool
	err     error
}

// NewScanner creates a Scanner that reads FASTA data from r.
func NewScanner(r io.Reader) *Scanner {
	b := bufio.NewScanner(r)
	b.Buffer(nil, bufferInitSize)
	return &Scanner{b: b}
}

// Scan reads the next record into rec. It returns false at the end of the
// input or on error; Err distinguishes the two.
func (s *Scanner) Scan(rec *Record) bool {
	if s.done || s.err != nil {
		return false
	}
	if !s.started {
		s.started = true
		for s.b.Scan() {
			line := strings.TrimRight(s.b.Text(), "\r")
			if len(line) == 0 {
				continue
			}
			if line[0] != '>' {
				s.err = errors.Errorf("malformed FASTA file: sequence data before first header: %q", line)
				return false
			}
			if s.pending = line[1:]; s.pending == "" {
				s.err = errors.New("malformed FASTA file: empty header")
				return false
			}
			break
		}
		if s.pending == "" {
			s.done = true
			s.err = s.b.Err()
			return false
		}
	}
	if s.pending == "" {
		s.done = true
		return false
	}
	header := s.pending
	s.pending = ""
	var seq strings.Builder
	for s.b.Scan() {
		line := strings.TrimRight(s.b.Text(), "\r")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			s.pending = line[1:]
			if s.pending == "" {
				s.err = errors.New("malformed FASTA file: empty header")
				return false
			}
			break
		}
		seq.WriteString(line)
	}
	if err := s.b.Err(); err != nil {
		s.err = errors.Wrap(err, "couldn't read FASTA data")
		return false
	}
	rec.Name, rec.Description = header, ""
	if i := strings.IndexByte(header, ' '); i >= 0 {
		rec.Name, rec.Description = header[:i], header[i+1:]
	}
	rec.Seq = seq.String()
	return true
}

// Err returns the scanning error, if any.
func (s *Scanner) Err() error { return s.err }

// ReadAll reads every record from r, in order of appearance.
func ReadAll(r io.Reader) ([]Record, error) {
	var (
		s    = NewScanner(r)
		recs []Record
		rec  Record
	)
	for s.Scan(&rec) {
		recs = append(recs, rec)
	}
	return recs, s.Err()
}

// Writer writes FASTA records.
type Writer struct {
	w     *bufio.Writer
	width int
	err   error
}

// NewWriter creates a Writer that wraps sequence lines at width bases. A
// width of zero writes each sequence on a single line.
func NewWriter(w io.Writer, width int) *Writer {
	return &Writer{w: bufio.NewWriter(w), width: width}
}

// Write appends one record.
func (w *Writer) Write(rec Record) error {
	if w.err != nil {
		return w.err
	}
	if rec.Name == "" {
		w.err = errors.New("fasta: record with empty name")
		return w.err
	}
	w.writeString(">")
	w.writeString(rec.Header())
	w.writeString("\n")
	seq := rec.Seq
	for w.width > 0 && len(seq) > w.width {
		w.writeString(seq[:w.width])
		w.writeString("\n")
		seq = seq[w.width:]
	}
	w.writeString(seq)
	w.writeString("\n")
	return w.err
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	w.err = w.w.Flush()
	return w.err
}

func (w *Writer) writeString(s string) {
	if w.err == nil {
		_, w.err = w.w.WriteString(s)
	}
}
