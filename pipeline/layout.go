package pipeline

import (
	"context"
	"os"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
)

// Layout names the files of a run under one directory.
type Layout struct {
	Dir string
}

func (l Layout) path(elem ...string) string {
	return strings.TrimSuffix(l.Dir, "/") + "/" + strings.Join(elem, "/")
}

// FilteredForward is the filtered forward reads of a sample.
func (l Layout) FilteredForward(sample string) string {
	return l.path("filtered", sample+"_F_filt.fastq.gz")
}

// FilteredReverse is the filtered reverse reads of a sample.
func (l Layout) FilteredReverse(sample string) string {
	return l.path("filtered", sample+"_R_filt.fastq.gz")
}

// FilterStats lists every sample's read pairs and filter counts.
func (l Layout) FilterStats() string { return l.path("filter.tsv") }

// ErrorModel is the learned error model of one mate, 0 forward or 1
// reverse.
func (l Layout) ErrorModel(mate int) string {
	if mate == 0 {
		return l.path("errors_F.tsv")
	}
	return l.path("errors_R.tsv")
}

// Merged is the merged-pair checkpoint of a sample.
func (l Layout) Merged(sample string) string { return l.path("merged", sample+".merge.sz") }

// DenoiseStats holds per-sample denoising and merging counts.
func (l Layout) DenoiseStats() string { return l.path("denoise.tsv") }

// SeqTable is the feature table keyed by sequence, before chimera removal.
func (l Layout) SeqTable() string { return l.path("seqtab.tsv") }

// FeatureTable is the chimera-free feature table keyed by identifier.
func (l Layout) FeatureTable() string { return l.path("features.tsv") }

// RepSeqs maps each identifier to its sequence.
func (l Layout) RepSeqs() string { return l.path("repseqs.fasta") }

// Track is the read-tracking table.
func (l Layout) Track() string { return l.path("track.tsv") }

// Taxonomy is the taxonomy table.
func (l Layout) Taxonomy() string { return l.path("taxonomy.tsv") }

// Alignment is the multiple alignment of RepSeqs.
func (l Layout) Alignment() string { return l.path("aligned.fasta") }

// Tree is the unrooted tree.
func (l Layout) Tree() string { return l.path("tree.nwk") }

// RootedTree is the midpoint-rooted tree.
func (l Layout) RootedTree() string { return l.path("tree_rooted.nwk") }

// Dataset is the assembled dataset.
func (l Layout) Dataset() string { return l.path("dataset.rio") }

// exists reports whether path exists.
func exists(ctx context.Context, path string) (bool, error) {
	_, err := file.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(errors.NotExist, err) || os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// mkdirs creates l.Dir and the given subdirectories on the local file
// system. Other file systems have no directories.
func (l Layout) mkdirs(sub ...string) error {
	if strings.Contains(l.Dir, "://") {
		return nil
	}
	dirs := []string{l.Dir}
	for _, s := range sub {
		dirs = append(dirs, l.path(s))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return errors.E(err, "pipeline: mkdir", dir)
		}
	}
	return nil
}
