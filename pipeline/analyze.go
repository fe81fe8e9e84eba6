package pipeline

import (
	"context"
	"io"
	"sort"

	"github.com/grailbio/amplicon/dataset"
	"github.com/grailbio/amplicon/diffabund"
	"github.com/grailbio/amplicon/diversity"
	"github.com/grailbio/amplicon/export"
	"github.com/grailbio/amplicon/plot"
	"github.com/grailbio/amplicon/sample"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/montanaflynn/stats"
)

// AnalysisConfig configures Analyze.
type AnalysisConfig struct {
	// DatasetPath is a dataset written by the assemble stage.
	DatasetPath string
	// OutputDir receives tables and plots.
	OutputDir string
	// LabelsPath optionally names a label map TSV for display values.
	LabelsPath string
	// GroupColumn is the metadata column compared across samples.
	GroupColumn string
	// GroupA and GroupB, if both set, select the two groups of the
	// differential-abundance test.
	GroupA, GroupB string
	// RarefyDepth is the per-sample depth for diversity. Zero uses the
	// smallest sample depth.
	RarefyDepth int
	Seed        uint64
	// AlphaMetrics and BetaMetrics default to every metric the dataset
	// supports.
	AlphaMetrics []string
	BetaMetrics  []string
	Axes         int
	Permanova    diversity.PermanovaOpts
	// CompositionRank and CompositionTop configure the composition plot.
	CompositionRank string
	CompositionTop  int
	// Tester runs the differential-abundance test. Nil uses
	// diffabund.DefaultWilcoxon.
	Tester diffabund.Tester
	Plot   plot.Opts
}

// DefaultAnalysisConfig is the default analysis configuration. Paths and
// the group column must be filled in.
var DefaultAnalysisConfig = AnalysisConfig{
	Seed:            1,
	Axes:            2,
	Permanova:       diversity.DefaultPermanovaOpts,
	CompositionRank: "Phylum",
	CompositionTop:  10,
	Plot:            plot.DefaultOpts,
}

// Analysis file names under AnalysisConfig.OutputDir.
const (
	AlphaFile       = "alpha.tsv"
	AlphaTestsFile  = "alpha_tests.tsv"
	PermanovaFile   = "permanova.tsv"
	DiffAbundFile   = "diffabund.tsv"
	CompositionPlot = "composition.png"
)

// Analyze computes diversity, ordination, PERMANOVA and differential
// abundance of a dataset and writes the tables and plots. The dataset is
// only read.
func Analyze(ctx context.Context, cfg AnalysisConfig) error {
	if cfg.OutputDir == "" || cfg.DatasetPath == "" {
		return errors.E(errors.Invalid, "pipeline: analysis needs a dataset and an output directory")
	}
	l := Layout{Dir: cfg.OutputDir}
	if err := l.mkdirs(); err != nil {
		return err
	}
	d, err := dataset.Load(ctx, cfg.DatasetPath)
	if err != nil {
		return err
	}
	log.Printf("analyze: dataset %s: %d samples, %d features, fingerprint %s",
		cfg.DatasetPath, len(d.Samples()), len(d.Features()), d.Fingerprint())
	var labels *sample.LabelMap
	if cfg.LabelsPath != "" {
		if labels, err = sample.ReadLabelMapFile(ctx, cfg.LabelsPath); err != nil {
			return err
		}
	}
	if cfg.GroupColumn != "" && !d.Metadata().HasColumn(cfg.GroupColumn) {
		return errors.E(errors.NotExist, "pipeline: no metadata column", cfg.GroupColumn)
	}
	popts := cfg.Plot
	popts.Column, popts.Labels = cfg.GroupColumn, labels

	depth := cfg.RarefyDepth
	if depth == 0 {
		if depth, err = defaultDepth(d.Table().RowSums()); err != nil {
			return err
		}
	}
	rare, err := d.Rarefy(depth, cfg.Seed)
	if err != nil {
		return err
	}
	log.Printf("analyze: rarefied to %d reads: %d samples, %d features", depth, len(rare.Samples()), len(rare.Features()))
	groups := groupsOf(rare, cfg.GroupColumn)

	alpha, err := diversity.Alpha(rare, cfg.AlphaMetrics...)
	if err != nil {
		return err
	}
	if err := export.WriteFile(ctx, l.path(AlphaFile), func(w io.Writer) error {
		return export.Alpha(w, alpha, rare.Metadata(), labels)
	}); err != nil {
		return err
	}
	if groups != nil {
		var tests []export.GroupTest
		for _, m := range alpha.Metrics {
			values, _ := alpha.Column(m)
			h, p, err := diffabund.KruskalWallis(values, groups)
			if err != nil {
				return err
			}
			tests = append(tests, export.GroupTest{Metric: m, Column: cfg.GroupColumn, H: h, P: p})
			if err := export.WriteFile(ctx, l.path("alpha_"+m+".png"), func(w io.Writer) error {
				o := popts
				o.Title = m
				return plot.AlphaDiversity(w, alpha, m, groups, o)
			}); err != nil {
				return err
			}
		}
		if err := export.WriteFile(ctx, l.path(AlphaTestsFile), func(w io.Writer) error {
			return export.GroupTests(w, tests)
		}); err != nil {
			return err
		}
	}

	metrics := cfg.BetaMetrics
	if len(metrics) == 0 {
		metrics = []string{diversity.BrayCurtis, diversity.Jaccard}
		if rare.Tree() != nil {
			metrics = diversity.BetaMetrics
		}
	}
	var permanova []diversity.PermanovaResult
	for _, m := range metrics {
		dm, err := diversity.Beta(rare, m)
		if err != nil {
			return err
		}
		if err := export.WriteFile(ctx, l.path("distance_"+m+".tsv"), func(w io.Writer) error {
			return export.Distances(w, dm)
		}); err != nil {
			return err
		}
		o, err := diversity.PCoA(dm, cfg.Axes)
		if err != nil {
			return err
		}
		if err := export.WriteFile(ctx, l.path("ordination_"+m+".tsv"), func(w io.Writer) error {
			return export.Ordination(w, o)
		}); err != nil {
			return err
		}
		if groups == nil {
			continue
		}
		if err := export.WriteFile(ctx, l.path("ordination_"+m+".png"), func(w io.Writer) error {
			po := popts
			po.Title = m
			return plot.Ordination(w, o, groups, po)
		}); err != nil {
			return err
		}
		res, err := diversity.Permanova(ctx, dm, groups, cfg.Permanova)
		if err != nil {
			return err
		}
		permanova = append(permanova, res)
	}
	if groups != nil {
		if err := export.WriteFile(ctx, l.path(PermanovaFile), func(w io.Writer) error {
			return export.Permanova(w, permanova)
		}); err != nil {
			return err
		}
	}

	if cfg.CompositionRank != "" {
		if err := export.WriteFile(ctx, l.path(CompositionPlot), func(w io.Writer) error {
			return plot.Composition(w, d, cfg.CompositionRank, cfg.CompositionTop, popts)
		}); err != nil {
			return err
		}
	}

	if cfg.GroupA != "" && cfg.GroupB != "" {
		tester := cfg.Tester
		if tester == nil {
			tester = diffabund.DefaultWilcoxon
		}
		results, err := tester.Test(ctx, d, cfg.GroupColumn, cfg.GroupA, cfg.GroupB)
		if err != nil {
			return err
		}
		if err := export.WriteFile(ctx, l.path(DiffAbundFile), func(w io.Writer) error {
			return export.DiffAbund(w, results, d.Taxonomy())
		}); err != nil {
			return err
		}
	}
	return nil
}

// groupsOf returns each sample's value of column, or nil if column is empty
// or has fewer than two distinct values.
func groupsOf(d *dataset.Dataset, column string) []string {
	if column == "" {
		return nil
	}
	meta := d.Metadata()
	groups := make([]string, 0, len(d.Samples()))
	levels := map[string]bool{}
	for _, s := range d.Samples() {
		v, _ := meta.Value(s, column)
		groups = append(groups, v)
		levels[v] = true
	}
	if len(levels) < 2 {
		names := make([]string, 0, len(levels))
		for v := range levels {
			names = append(names, v)
		}
		sort.Strings(names)
		log.Printf("analyze: column %s has levels %v only; skipping group tests", column, names)
		return nil
	}
	return groups
}

// defaultDepth returns the smallest nonzero sample depth. Empty samples are
// left for Rarefy to drop.
func defaultDepth(sums []int) (int, error) {
	var positive []int
	for _, n := range sums {
		if n > 0 {
			positive = append(positive, n)
		}
	}
	if len(positive) < len(sums) {
		log.Printf("analyze: %d of %d samples have no reads", len(sums)-len(positive), len(sums))
	}
	depths := stats.LoadRawData(positive)
	median, err := stats.Median(depths)
	if err != nil {
		return 0, errors.E(errors.Invalid, err, "pipeline: no sample has reads")
	}
	lo, _ := stats.Min(depths)
	hi, _ := stats.Max(depths)
	log.Printf("analyze: sample depth min %.0f, median %.0f, max %.0f", lo, median, hi)
	return int(lo), nil
}
