// Package pipeline runs the amplicon workflow as a sequence of named stages.
// Every stage reads its inputs from, and writes its outputs to, files under
// Config.OutputDir, so any stage can be rerun on its own once its inputs
// exist.
package pipeline

import (
	"github.com/grailbio/amplicon/chimera"
	"github.com/grailbio/amplicon/denoise"
	"github.com/grailbio/amplicon/errmodel"
	"github.com/grailbio/amplicon/filter"
	"github.com/grailbio/amplicon/ingest"
	"github.com/grailbio/amplicon/merge"
	"github.com/grailbio/amplicon/phylo"
	"github.com/grailbio/amplicon/taxonomy"
)

// Config holds every path and threshold of a run. It is passed explicitly to
// each stage.
type Config struct {
	// InputDir holds the raw paired FASTQ files.
	InputDir string
	// MetadataPath is the sample metadata TSV.
	MetadataPath string
	// ReferencePath is the taxonomy training FASTA, with ";"-separated
	// lineages as record names.
	ReferencePath string
	// SpeciesPath optionally names a FASTA for exact-match species
	// assignment, with "Genus species" descriptions.
	SpeciesPath string
	// OutputDir receives every intermediate and final file.
	OutputDir string
	// Parallelism bounds per-sample concurrency.
	Parallelism int
	// Resume skips stages whose outputs already exist.
	Resume bool

	Ingest   ingest.Opts
	Filter   filter.Opts
	ErrModel errmodel.Opts
	Denoise  denoise.Opts
	Merge    merge.Opts
	Chimera  chimera.Opts
	Taxonomy taxonomy.Opts
	Phylo    phylo.External

	// Classifier, if set, replaces the naive Bayes classifier trained on
	// ReferencePath.
	Classifier taxonomy.Classifier
	// ChimeraFilter, if set, replaces chimera removal with Chimera. Its
	// output is checked with chimera.CheckFiltered.
	ChimeraFilter chimera.Filter
	// TreeBuilder, if set, replaces Phylo.
	TreeBuilder phylo.Builder
}

// DefaultConfig is the default configuration. Paths must be filled in.
var DefaultConfig = Config{
	Parallelism: 4,
	Ingest:      ingest.DefaultOpts,
	Filter:      filter.DefaultOpts,
	ErrModel:    errmodel.DefaultOpts,
	Denoise:     denoise.DefaultOpts,
	Merge:       merge.DefaultOpts,
	Chimera:     chimera.DefaultOpts,
	Taxonomy:    taxonomy.DefaultOpts,
	Phylo:       phylo.DefaultExternal,
}

func (c Config) parallelism() int {
	if c.Parallelism < 1 {
		return 1
	}
	return c.Parallelism
}

func (c Config) chimeraFilter() chimera.Filter {
	if c.ChimeraFilter != nil {
		return c.ChimeraFilter
	}
	return c.Chimera
}

func (c Config) treeBuilder() phylo.Builder {
	if c.TreeBuilder != nil {
		return c.TreeBuilder
	}
	return c.Phylo
}
