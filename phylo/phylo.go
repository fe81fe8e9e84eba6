// Package phylo aligns representative sequences and builds a rooted tree
// using external tools. The boundary with the tools is file-in/file-out: a
// FASTA goes in, an alignment and a Newick tree come out.
package phylo

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/grailbio/amplicon/encoding/fasta"
	"github.com/grailbio/amplicon/encoding/newick"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"v.io/x/lib/envvar"
	"v.io/x/lib/lookpath"
)

// Builder produces an alignment and a tree from a FASTA of sequences.
type Builder interface {
	Build(ctx context.Context, seqsIn, alnOut, treeOut string) error
}

// External runs an aligner and a tree builder out of process. Each tool gets
// its configured arguments followed by the input path, and its standard
// output becomes the output file.
type External struct {
	Aligner         string
	AlignerArgs     []string
	TreeBuilder     string
	TreeBuilderArgs []string
}

// DefaultExternal runs MAFFT and FastTree.
var DefaultExternal = External{
	Aligner:         "mafft",
	AlignerArgs:     []string{"--auto", "--quiet"},
	TreeBuilder:     "FastTree",
	TreeBuilderArgs: []string{"-nt", "-gtr", "-quiet"},
}

var _ Builder = External{}

func run(ctx context.Context, tool string, args []string, in, out string) error {
	path, err := lookpath.Look(envvar.SliceToMap(os.Environ()), tool)
	if err != nil {
		return errors.E(errors.NotExist, err, "phylo: find", tool)
	}
	dst, err := file.Create(ctx, out)
	if err != nil {
		return errors.E(err, "phylo: create", out)
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, append(append([]string(nil), args...), in)...)
	cmd.Stdout = dst.Writer(ctx)
	cmd.Stderr = &stderr
	log.Printf("phylo: running %s %s", path, strings.Join(cmd.Args[1:], " "))
	once := errors.Once{}
	if err := cmd.Run(); err != nil {
		once.Set(errors.E(err, fmt.Sprintf("phylo: %s failed: %s", tool, strings.TrimSpace(stderr.String()))))
	}
	once.Set(dst.Close(ctx))
	return once.Err()
}

// Build implements Builder.
func (e External) Build(ctx context.Context, seqsIn, alnOut, treeOut string) error {
	if err := run(ctx, e.Aligner, e.AlignerArgs, seqsIn, alnOut); err != nil {
		return err
	}
	return run(ctx, e.TreeBuilder, e.TreeBuilderArgs, alnOut, treeOut)
}

// WriteSequences writes the tool input: one FASTA record per identifier.
func WriteSequences(ctx context.Context, path string, ids, seqs []string) error {
	if len(ids) != len(seqs) {
		return errors.E(errors.Invalid, fmt.Sprintf("phylo: %d identifiers but %d sequences", len(ids), len(seqs)))
	}
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "phylo: create", path)
	}
	w := fasta.NewWriter(out.Writer(ctx), 0)
	once := errors.Once{}
	for i, id := range ids {
		if err := w.Write(fasta.Record{Name: id, Seq: seqs[i]}); err != nil {
			once.Set(err)
			break
		}
	}
	once.Set(w.Flush())
	once.Set(out.Close(ctx))
	return once.Err()
}

// ReadTree reads a Newick tree from path.
func ReadTree(ctx context.Context, path string) (*newick.Tree, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "phylo: open", path)
	}
	t, err := newick.Parse(in.Reader(ctx))
	if e := in.Close(ctx); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return nil, errors.E(err, "phylo: read tree", path)
	}
	return t, nil
}

// RootedTree reads the tree builder's unrooted output and roots it at the
// midpoint of its longest leaf-to-leaf path.
func RootedTree(ctx context.Context, path string) (*newick.Tree, error) {
	t, err := ReadTree(ctx, path)
	if err != nil {
		return nil, err
	}
	return t.MidpointRoot(), nil
}

// WriteTree writes t to path.
func WriteTree(ctx context.Context, path string, t *newick.Tree) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "phylo: create", path)
	}
	once := errors.Once{}
	once.Set(t.Write(out.Writer(ctx)))
	once.Set(out.Close(ctx))
	return once.Err()
}
