package pipeline

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// Track follows one sample's read count through the stages.
type Track struct {
	Sample    string
	Input     int
	Filtered  int
	DenoisedF int
	DenoisedR int
	Merged    int
	NonChim   int
}

var trackHeader = []string{"sample", "input", "filtered", "denoisedF", "denoisedR", "merged", "nonchim"}

func (t Track) row() []string {
	row := []string{t.Sample}
	for _, n := range []int{t.Input, t.Filtered, t.DenoisedF, t.DenoisedR, t.Merged, t.NonChim} {
		row = append(row, strconv.Itoa(n))
	}
	return row
}

func parseTrack(row []string) (Track, error) {
	t := Track{Sample: row[0]}
	for i, dst := range []*int{&t.Input, &t.Filtered, &t.DenoisedF, &t.DenoisedR, &t.Merged, &t.NonChim} {
		n, err := strconv.Atoi(row[i+1])
		if err != nil {
			return t, errors.E(errors.Invalid, err, "pipeline: track", row[0])
		}
		*dst = n
	}
	return t, nil
}

// WriteTrack writes the read-tracking table.
func WriteTrack(ctx context.Context, path string, tracks []Track) error {
	rows := make([][]string, len(tracks))
	for i, t := range tracks {
		rows[i] = t.row()
	}
	return writeRows(ctx, path, trackHeader, rows)
}

// ReadTrack reads a table written by WriteTrack.
func ReadTrack(ctx context.Context, path string) ([]Track, error) {
	rows, err := readRows(ctx, path, trackHeader)
	if err != nil {
		return nil, err
	}
	tracks := make([]Track, len(rows))
	for i, row := range rows {
		if tracks[i], err = parseTrack(row); err != nil {
			return nil, err
		}
	}
	return tracks, nil
}

// filterRecord is one row of the filter stage's output.
type filterRecord struct {
	Sample, Forward, Reverse string
	Input, Filtered          int
}

var filterHeader = []string{"sample", "forward", "reverse", "input", "filtered"}

func writeFilterStats(ctx context.Context, path string, recs []filterRecord) error {
	rows := make([][]string, len(recs))
	for i, r := range recs {
		rows[i] = []string{r.Sample, r.Forward, r.Reverse, strconv.Itoa(r.Input), strconv.Itoa(r.Filtered)}
	}
	return writeRows(ctx, path, filterHeader, rows)
}

func readFilterStats(ctx context.Context, path string) ([]filterRecord, error) {
	rows, err := readRows(ctx, path, filterHeader)
	if err != nil {
		return nil, err
	}
	recs := make([]filterRecord, len(rows))
	for i, row := range rows {
		r := filterRecord{Sample: row[0], Forward: row[1], Reverse: row[2]}
		if r.Input, err = strconv.Atoi(row[3]); err == nil {
			r.Filtered, err = strconv.Atoi(row[4])
		}
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "pipeline: filter stats", path)
		}
		recs[i] = r
	}
	return recs, nil
}

// denoiseRecord is one row of the denoise stage's output.
type denoiseRecord struct {
	Sample                       string
	DenoisedF, DenoisedR, Merged int
}

var denoiseHeader = []string{"sample", "denoisedF", "denoisedR", "merged"}

func writeDenoiseStats(ctx context.Context, path string, recs []denoiseRecord) error {
	rows := make([][]string, len(recs))
	for i, r := range recs {
		rows[i] = []string{r.Sample, strconv.Itoa(r.DenoisedF), strconv.Itoa(r.DenoisedR), strconv.Itoa(r.Merged)}
	}
	return writeRows(ctx, path, denoiseHeader, rows)
}

func readDenoiseStats(ctx context.Context, path string) ([]denoiseRecord, error) {
	rows, err := readRows(ctx, path, denoiseHeader)
	if err != nil {
		return nil, err
	}
	recs := make([]denoiseRecord, len(rows))
	for i, row := range rows {
		r := denoiseRecord{Sample: row[0]}
		for k, dst := range []*int{&r.DenoisedF, &r.DenoisedR, &r.Merged} {
			if *dst, err = strconv.Atoi(row[k+1]); err != nil {
				return nil, errors.E(errors.Invalid, err, "pipeline: denoise stats", path)
			}
		}
		recs[i] = r
	}
	return recs, nil
}

func writeRows(ctx context.Context, path string, header []string, rows [][]string) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "pipeline: create", path)
	}
	tw := tsv.NewWriter(out.Writer(ctx))
	once := errors.Once{}
	for _, row := range append([][]string{header}, rows...) {
		for _, v := range row {
			tw.WriteString(v)
		}
		once.Set(tw.EndLine())
	}
	once.Set(tw.Flush())
	once.Set(out.Close(ctx))
	if err := once.Err(); err != nil {
		return errors.E(err, "pipeline: write", path)
	}
	return nil
}

// readRows reads a TSV file whose header must equal header.
func readRows(ctx context.Context, path string, header []string) ([][]string, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "pipeline: open", path)
	}
	defer in.Close(ctx) // nolint: errcheck
	tr := tsv.NewReader(in.Reader(ctx))
	got, err := tr.Reader.Read()
	if err != nil {
		return nil, errors.E(err, "pipeline: read header", path)
	}
	if fmt.Sprint(got) != fmt.Sprint(header) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("pipeline: %s: header %v, want %v", path, got, header))
	}
	var rows [][]string
	for {
		row, err := tr.Reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, errors.E(err, "pipeline: read", path)
		}
		if len(row) != len(header) {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("pipeline: %s: row %v has %d fields, want %d", path, row, len(row), len(header)))
		}
		rows = append(rows, append([]string(nil), row...))
	}
}
