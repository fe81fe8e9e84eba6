// bio-amplicon turns paired-end amplicon reads into a validated dataset of
// exact sequence variants and runs community analyses on it.
//
// Each pipeline stage is a subcommand; "run" runs them all in order and
// "analyze" works on an assembled dataset.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/grailbio/amplicon/chimera"
	"github.com/grailbio/amplicon/pipeline"
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"
)

// pipelineFlags binds the flags shared by every pipeline subcommand.
type pipelineFlags struct {
	cfg         pipeline.Config
	chimera     string
	alignerArgs string
	treeArgs    string
}

func addPipelineFlags(fs *flag.FlagSet) *pipelineFlags {
	f := &pipelineFlags{cfg: pipeline.DefaultConfig}
	c := &f.cfg
	fs.StringVar(&c.InputDir, "input", "", "Directory of raw paired FASTQ files")
	fs.StringVar(&c.MetadataPath, "metadata", "", "Sample metadata TSV; the first column is the sample ID")
	fs.StringVar(&c.ReferencePath, "reference", "", "Taxonomy training FASTA with ';'-separated lineages as names")
	fs.StringVar(&c.SpeciesPath, "species", "", "Optional species FASTA for exact-match species assignment")
	fs.StringVar(&c.OutputDir, "out", "", "Output directory")
	fs.IntVar(&c.Parallelism, "parallelism", c.Parallelism, "Maximum number of samples processed at once")
	fs.BoolVar(&c.Resume, "resume", false, "Skip stages whose outputs already exist")

	fs.StringVar(&c.Ingest.ForwardSuffix, "forward-suffix", c.Ingest.ForwardSuffix, "File name suffix of forward reads")
	fs.StringVar(&c.Ingest.ReverseSuffix, "reverse-suffix", c.Ingest.ReverseSuffix, "File name suffix of reverse reads")
	fs.StringVar(&c.Ingest.NameSep, "name-sep", c.Ingest.NameSep, "Separator ending the sample name in file names")

	fs.IntVar(&c.Filter.TrimLeft[0], "trim-left-f", c.Filter.TrimLeft[0], "Bases removed from the start of forward reads")
	fs.IntVar(&c.Filter.TrimLeft[1], "trim-left-r", c.Filter.TrimLeft[1], "Bases removed from the start of reverse reads")
	fs.IntVar(&c.Filter.TruncLen[0], "trunc-len-f", c.Filter.TruncLen[0], "Truncate forward reads to this length; shorter reads are dropped. 0 disables")
	fs.IntVar(&c.Filter.TruncLen[1], "trunc-len-r", c.Filter.TruncLen[1], "Truncate reverse reads to this length; shorter reads are dropped. 0 disables")
	fs.IntVar(&c.Filter.TruncQ, "trunc-q", c.Filter.TruncQ, "Truncate reads at the first base with quality at or below this")
	fs.IntVar(&c.Filter.MaxN, "max-n", c.Filter.MaxN, "Maximum number of N bases")
	fs.Float64Var(&c.Filter.MaxEE[0], "max-ee-f", c.Filter.MaxEE[0], "Maximum expected errors in forward reads")
	fs.Float64Var(&c.Filter.MaxEE[1], "max-ee-r", c.Filter.MaxEE[1], "Maximum expected errors in reverse reads")
	fs.IntVar(&c.Filter.MinLen, "min-len", c.Filter.MinLen, "Minimum read length after trimming")

	fs.IntVar(&c.ErrModel.MaxIter, "error-iterations", c.ErrModel.MaxIter, "Maximum rounds of error learning")
	fs.Float64Var(&c.Denoise.OmegaA, "omega-a", c.Denoise.OmegaA, "Abundance p-value threshold for new variants")
	fs.BoolVar(&c.Denoise.DetectSingletons, "detect-singletons", c.Denoise.DetectSingletons, "Allow singleton variants")

	fs.IntVar(&c.Merge.MinOverlap, "min-overlap", c.Merge.MinOverlap, "Minimum overlap of merged mates")
	fs.IntVar(&c.Merge.MaxMismatch, "max-mismatch", c.Merge.MaxMismatch, "Maximum mismatches in the overlap")
	fs.BoolVar(&c.Merge.TrimOverhang, "trim-overhang", c.Merge.TrimOverhang, "Trim mate overhangs past the other mate's start")
	fs.BoolVar(&c.Merge.JustConcatenate, "concatenate", c.Merge.JustConcatenate, "Concatenate mates with an N spacer instead of overlapping them")

	fs.StringVar(&f.chimera, "chimera-method", c.Chimera.Method.String(), "Chimera removal method: consensus, pooled or per-sample")
	fs.Float64Var(&c.Chimera.MinFoldParentOverAbundance, "chimera-min-fold", c.Chimera.MinFoldParentOverAbundance, "Minimum parent to chimera abundance ratio")

	fs.IntVar(&c.Taxonomy.Bootstraps, "bootstraps", c.Taxonomy.Bootstraps, "Bootstrap rounds of taxonomy classification")
	fs.Float64Var(&c.Taxonomy.MinBoot, "min-boot", c.Taxonomy.MinBoot, "Minimum bootstrap percent to assign a rank")
	fs.BoolVar(&c.Taxonomy.TryRC, "try-rc", c.Taxonomy.TryRC, "Also classify reverse complements")

	fs.StringVar(&c.Phylo.Aligner, "aligner", c.Phylo.Aligner, "Multiple sequence aligner executable")
	fs.StringVar(&f.alignerArgs, "aligner-args", strings.Join(c.Phylo.AlignerArgs, " "), "Space-separated aligner arguments")
	fs.StringVar(&c.Phylo.TreeBuilder, "tree-builder", c.Phylo.TreeBuilder, "Tree inference executable")
	fs.StringVar(&f.treeArgs, "tree-builder-args", strings.Join(c.Phylo.TreeBuilderArgs, " "), "Space-separated tree builder arguments")
	return f
}

func (f *pipelineFlags) config() (pipeline.Config, error) {
	c := f.cfg
	m, err := chimera.ParseMethod(f.chimera)
	if err != nil {
		return c, err
	}
	c.Chimera.Method = m
	c.Phylo.AlignerArgs = strings.Fields(f.alignerArgs)
	c.Phylo.TreeBuilderArgs = strings.Fields(f.treeArgs)
	return c, nil
}

func newCmdStage(s pipeline.Stage) *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  s.Name,
		Short: s.Short,
	}
	flags := addPipelineFlags(&cmd.Flags)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 0 {
			return fmt.Errorf("%s takes no arguments, but got %v", s.Name, argv)
		}
		cfg, err := flags.config()
		if err != nil {
			return err
		}
		return pipeline.Run(vcontext.Background(), cfg, s.Name)
	})
	return cmd
}

func newCmdRun() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "run",
		Short:    "Run pipeline stages in order",
		ArgsName: "[stage...]",
		Long: `Run runs the named stages, or every stage if none is named. Stages are
` + strings.Join(pipeline.StageNames(), ", ") + ".",
	}
	flags := addPipelineFlags(&cmd.Flags)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		cfg, err := flags.config()
		if err != nil {
			return err
		}
		return pipeline.Run(vcontext.Background(), cfg, argv...)
	})
	return cmd
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func newCmdAnalyze() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "analyze",
		Short:    "Compute diversity, ordination and differential abundance of a dataset",
		ArgsName: "dataset",
	}
	cfg := pipeline.DefaultAnalysisConfig
	var alpha, beta string
	cmd.Flags.StringVar(&cfg.OutputDir, "out", "", "Output directory")
	cmd.Flags.StringVar(&cfg.LabelsPath, "labels", "", "Optional label map TSV with column, value and label columns")
	cmd.Flags.StringVar(&cfg.GroupColumn, "group", "", "Metadata column to compare")
	cmd.Flags.StringVar(&cfg.GroupA, "group-a", "", "First group of the differential abundance test")
	cmd.Flags.StringVar(&cfg.GroupB, "group-b", "", "Second group of the differential abundance test")
	cmd.Flags.IntVar(&cfg.RarefyDepth, "depth", 0, "Rarefaction depth; 0 uses the smallest sample depth")
	cmd.Flags.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "Rarefaction seed")
	cmd.Flags.StringVar(&alpha, "alpha", "", "Comma-separated alpha metrics; empty means all")
	cmd.Flags.StringVar(&beta, "beta", "", "Comma-separated beta metrics; empty means all")
	cmd.Flags.IntVar(&cfg.Axes, "axes", cfg.Axes, "Number of ordination axes")
	cmd.Flags.IntVar(&cfg.Permanova.Permutations, "permutations", cfg.Permanova.Permutations, "PERMANOVA permutations")
	cmd.Flags.Int64Var(&cfg.Permanova.Seed, "permutation-seed", cfg.Permanova.Seed, "PERMANOVA seed")
	cmd.Flags.StringVar(&cfg.CompositionRank, "rank", cfg.CompositionRank, "Taxonomic rank of the composition plot")
	cmd.Flags.IntVar(&cfg.CompositionTop, "top", cfg.CompositionTop, "Taxa shown in the composition plot")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("analyze takes one dataset path, but got %v", argv)
		}
		c := cfg
		c.DatasetPath = argv[0]
		c.AlphaMetrics = splitList(alpha)
		c.BetaMetrics = splitList(beta)
		return pipeline.Analyze(vcontext.Background(), c)
	})
	return cmd
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	children := []*cmdline.Command{newCmdRun()}
	for _, s := range pipeline.Stages {
		children = append(children, newCmdStage(s))
	}
	children = append(children, newCmdAnalyze())
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-amplicon",
			Short:    "Amplicon sequence variant pipeline",
			LookPath: false,
			Children: children,
		})
}
