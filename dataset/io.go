package dataset

// A saved dataset is a recordio file. The header carries a format version,
// each record holds one sample row, and the trailer holds everything else.

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/grailbio/amplicon/encoding/fasta"
	"github.com/grailbio/amplicon/encoding/newick"
	"github.com/grailbio/amplicon/featuretable"
	"github.com/grailbio/amplicon/sample"
	"github.com/grailbio/amplicon/taxonomy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/minio/highwayhash"
)

const (
	// <fileVersionHeader, fileVersion> is stored in the recordio header.
	fileVersionHeader = "ampliconversion"
	fileVersion       = "AMPLICON_DATASET_V1"
)

// fileTrailer is stored in the trailer section of the recordio file.
type fileTrailer struct {
	Features  []string
	Sequences []string
	Ranks     []string
	Lineages  [][]string
	// Tree is in Newick form; empty for views without a tree.
	Tree         string
	MetaIDColumn string
	MetaColumns  []string
}

// row is one recordio record.
type row struct {
	Sample sample.Sample
	Counts []int
}

// Save writes the dataset to path.
func (d *Dataset) Save(ctx context.Context, path string) error {
	recordiozstd.Init()
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "dataset: create", path)
	}
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(fileVersionHeader, fileVersion)
	w.AddHeader(recordio.KeyTrailer, true)
	once := errors.Once{}
	for i, s := range d.table.Samples {
		m, _ := d.meta.Get(s)
		var b bytes.Buffer
		if err := gob.NewEncoder(&b).Encode(row{Sample: m, Counts: d.table.Counts[i]}); err != nil {
			once.Set(err)
			break
		}
		w.Append(b.Bytes())
	}
	t := fileTrailer{
		Features:     d.table.Features,
		Sequences:    d.seqs,
		Ranks:        d.taxa.Ranks,
		Lineages:     d.taxa.Lineages,
		MetaIDColumn: d.meta.IDColumn,
		MetaColumns:  d.meta.Columns,
	}
	if d.tree != nil {
		t.Tree = d.tree.String()
	}
	var b bytes.Buffer
	once.Set(gob.NewEncoder(&b).Encode(t))
	w.SetTrailer(b.Bytes())
	once.Set(w.Finish())
	once.Set(out.Close(ctx))
	if err := once.Err(); err != nil {
		return errors.E(err, "dataset: save", path)
	}
	return nil
}

// Load reads a dataset written by Save.
func Load(ctx context.Context, path string) (*Dataset, error) {
	recordiozstd.Init()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "dataset: open", path)
	}
	d, err := load(in.Reader(ctx))
	if e := in.Close(ctx); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return nil, errors.E(err, "dataset: load", path)
	}
	return d, nil
}

func load(r io.ReadSeeker) (*Dataset, error) {
	sc := recordio.NewScanner(r, recordio.ScannerOpts{})
	version := ""
	for _, kv := range sc.Header() {
		if kv.Key == fileVersionHeader {
			version, _ = kv.Value.(string)
		}
	}
	if version != fileVersion {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: file version %q, want %q", version, fileVersion))
	}
	var t fileTrailer
	if err := gob.NewDecoder(bytes.NewReader(sc.Trailer())).Decode(&t); err != nil {
		return nil, errors.E(err, "dataset: decode trailer")
	}
	var (
		samples []string
		metas   []sample.Sample
		counts  [][]int
	)
	for sc.Scan() {
		var rw row
		if err := gob.NewDecoder(bytes.NewReader(sc.Get().([]byte))).Decode(&rw); err != nil {
			return nil, errors.E(err, "dataset: decode row")
		}
		if rw.Counts == nil {
			rw.Counts = make([]int, len(t.Features))
		}
		samples = append(samples, rw.Sample.ID)
		metas = append(metas, rw.Sample)
		counts = append(counts, rw.Counts)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if t.Features == nil {
		t.Features = []string{}
	}
	table, err := featuretable.New(samples, t.Features, counts)
	if err != nil {
		return nil, err
	}
	taxa, err := taxonomy.NewTable(t.Ranks, t.Features, t.Lineages)
	if err != nil {
		return nil, err
	}
	meta, err := sample.New(t.MetaIDColumn, t.MetaColumns, metas)
	if err != nil {
		return nil, err
	}
	if t.Tree == "" {
		// Aggregated views carry neither a tree nor sequences.
		if len(t.Sequences) != 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: %d sequences in a view without a tree", len(t.Sequences)))
		}
		return &Dataset{table: table, taxa: taxa, meta: meta}, nil
	}
	if len(t.Sequences) != len(t.Features) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("dataset: %d sequences for %d features", len(t.Sequences), len(t.Features)))
	}
	tree, err := newick.ParseString(t.Tree)
	if err != nil {
		return nil, err
	}
	recs := make([]fasta.Record, len(t.Features))
	for j, f := range t.Features {
		recs[j] = fasta.Record{Name: f, Seq: t.Sequences[j]}
	}
	// The file may be stale or edited, so it gets the same checks as a
	// fresh assembly.
	return Assemble(Inputs{
		Table:     table,
		Sequences: recs,
		Taxonomy:  taxa,
		Tree:      tree,
		Metadata:  meta,
	})
}

var fingerprintKey = make([]byte, 32)

// Fingerprint returns a 128-bit HighwayHash of the dataset's contents, in
// hex. Equal datasets have equal fingerprints, independent of how they were
// produced.
func (d *Dataset) Fingerprint() string {
	h, err := highwayhash.New128(fingerprintKey)
	if err != nil {
		log.Panicf("dataset: highwayhash: %v", err)
	}
	section := func(name string) { fmt.Fprintf(h, "\x00%s\x00", name) }
	// Writes to a hash.Hash never fail.
	section("table")
	_ = d.table.Write(h)
	section("sequences")
	for _, s := range d.seqs {
		fmt.Fprintln(h, s)
	}
	section("taxonomy")
	_ = d.taxa.Write(h)
	section("tree")
	if d.tree != nil {
		fmt.Fprintln(h, d.tree.String())
	}
	section("metadata")
	_ = d.meta.Write(h)
	return hex.EncodeToString(h.Sum(nil))
}
