package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grailbio/amplicon/asvid"
	"github.com/grailbio/amplicon/chimera"
	"github.com/grailbio/amplicon/dataset"
	"github.com/grailbio/amplicon/denoise"
	"github.com/grailbio/amplicon/derep"
	"github.com/grailbio/amplicon/encoding/fasta"
	"github.com/grailbio/amplicon/errmodel"
	"github.com/grailbio/amplicon/featuretable"
	"github.com/grailbio/amplicon/filter"
	"github.com/grailbio/amplicon/ingest"
	"github.com/grailbio/amplicon/merge"
	"github.com/grailbio/amplicon/phylo"
	"github.com/grailbio/amplicon/sample"
	"github.com/grailbio/amplicon/taxonomy"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// Stage is one named step of the pipeline.
type Stage struct {
	Name string
	// Short describes the stage.
	Short string
	// outputs lists the files the stage writes. The last one is written
	// last and marks completion.
	outputs func(l Layout) []string
	run     func(ctx context.Context, cfg Config, l Layout) error
}

// Outputs returns the files the stage writes under l.
func (s Stage) Outputs(l Layout) []string { return s.outputs(l) }

// Stages lists every stage in execution order.
var Stages = []Stage{
	{
		Name:    "filter",
		Short:   "Quality-filter and trim paired reads",
		outputs: func(l Layout) []string { return []string{l.FilterStats()} },
		run:     runFilter,
	},
	{
		Name:    "learn-errors",
		Short:   "Learn forward and reverse error models",
		outputs: func(l Layout) []string { return []string{l.ErrorModel(0), l.ErrorModel(1)} },
		run:     runLearnErrors,
	},
	{
		Name:    "denoise",
		Short:   "Denoise each sample and merge read pairs",
		outputs: func(l Layout) []string { return []string{l.DenoiseStats()} },
		run:     runDenoise,
	},
	{
		Name:    "table",
		Short:   "Build the sequence feature table",
		outputs: func(l Layout) []string { return []string{l.SeqTable()} },
		run:     runTable,
	},
	{
		Name:    "chimera",
		Short:   "Remove chimeras and name features by sequence hash",
		outputs: func(l Layout) []string { return []string{l.FeatureTable(), l.RepSeqs(), l.Track()} },
		run:     runChimera,
	},
	{
		Name:    "taxonomy",
		Short:   "Assign taxonomy to every feature",
		outputs: func(l Layout) []string { return []string{l.Taxonomy()} },
		run:     runTaxonomy,
	},
	{
		Name:    "tree",
		Short:   "Align features, build a tree and root it",
		outputs: func(l Layout) []string { return []string{l.Alignment(), l.Tree(), l.RootedTree()} },
		run:     runTree,
	},
	{
		Name:    "assemble",
		Short:   "Join and validate the dataset",
		outputs: func(l Layout) []string { return []string{l.Dataset()} },
		run:     runAssemble,
	},
}

// StageNames returns the names of Stages, in order.
func StageNames() []string {
	names := make([]string, len(Stages))
	for i, s := range Stages {
		names[i] = s.Name
	}
	return names
}

// Run runs the named stages, in pipeline order, or every stage if names is
// empty. With cfg.Resume, a stage whose outputs all exist is skipped.
func Run(ctx context.Context, cfg Config, names ...string) error {
	selected := map[string]bool{}
	for _, n := range names {
		selected[n] = true
	}
	for _, s := range Stages {
		delete(selected, s.Name)
	}
	if len(selected) > 0 {
		var unknown []string
		for n := range selected {
			unknown = append(unknown, n)
		}
		return errors.E(errors.Invalid, fmt.Sprintf("pipeline: unknown stages %v (have %s)", unknown, strings.Join(StageNames(), ", ")))
	}
	for _, n := range names {
		selected[n] = true
	}
	if cfg.OutputDir == "" {
		return errors.E(errors.Invalid, "pipeline: no output directory")
	}
	l := Layout{Dir: cfg.OutputDir}
	if err := l.mkdirs("filtered", "merged"); err != nil {
		return err
	}
	for _, s := range Stages {
		if len(names) > 0 && !selected[s.Name] {
			continue
		}
		if cfg.Resume {
			done := true
			for _, path := range s.outputs(l) {
				ok, err := exists(ctx, path)
				if err != nil {
					return err
				}
				done = done && ok
			}
			if done {
				log.Printf("pipeline: %s: outputs exist, skipping", s.Name)
				continue
			}
		}
		log.Printf("pipeline: %s: start", s.Name)
		start := time.Now()
		if err := s.run(ctx, cfg, l); err != nil {
			return errors.E(err, "pipeline: stage", s.Name)
		}
		log.Printf("pipeline: %s: done in %v", s.Name, time.Since(start))
	}
	return nil
}

func runFilter(ctx context.Context, cfg Config, l Layout) error {
	pairs, err := ingest.List(ctx, cfg.InputDir, cfg.Ingest)
	if err != nil {
		return err
	}
	jobs := make([]filter.Job, len(pairs))
	for i, p := range pairs {
		jobs[i] = filter.Job{Pair: p, OutForward: l.FilteredForward(p.Sample), OutReverse: l.FilteredReverse(p.Sample)}
	}
	stats, err := cfg.Filter.RunAll(ctx, jobs, cfg.parallelism())
	if err != nil {
		return err
	}
	recs := make([]filterRecord, len(jobs))
	for i, j := range jobs {
		recs[i] = filterRecord{
			Sample:   j.Pair.Sample,
			Forward:  j.OutForward,
			Reverse:  j.OutReverse,
			Input:    stats[i].ReadsIn,
			Filtered: stats[i].ReadsOut,
		}
		log.Printf("filter: %s: %d of %d read pairs passed", recs[i].Sample, recs[i].Filtered, recs[i].Input)
	}
	return writeFilterStats(ctx, l.FilterStats(), recs)
}

// filtered returns the samples with reads left after filtering.
func filtered(ctx context.Context, l Layout) ([]filterRecord, error) {
	recs, err := readFilterStats(ctx, l.FilterStats())
	if err != nil {
		return nil, err
	}
	var out []filterRecord
	for _, r := range recs {
		if r.Filtered == 0 {
			log.Printf("pipeline: %s: no reads passed filtering, skipping", r.Sample)
			continue
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, errors.E(errors.Precondition, "pipeline: no sample has filtered reads")
	}
	return out, nil
}

func mateFile(r filterRecord, mate int) string {
	if mate == 0 {
		return r.Forward
	}
	return r.Reverse
}

func runLearnErrors(ctx context.Context, cfg Config, l Layout) error {
	recs, err := filtered(ctx, l)
	if err != nil {
		return err
	}
	opts := cfg.ErrModel
	opts.Parallelism = cfg.parallelism()
	for mate := 0; mate < 2; mate++ {
		dereps := make([]*derep.Derep, len(recs))
		err := traverse.Limit(cfg.parallelism()).Each(len(recs), func(i int) error {
			var err error
			dereps[i], err = derep.ReadFile(ctx, mateFile(recs[i], mate), cfg.Filter.PhredOffset)
			return err
		})
		if err != nil {
			return err
		}
		model, err := errmodel.Learn(ctx, dereps, opts)
		if err != nil {
			return err
		}
		if err := model.WriteFile(ctx, l.ErrorModel(mate)); err != nil {
			return err
		}
	}
	return nil
}

func runDenoise(ctx context.Context, cfg Config, l Layout) error {
	recs, err := filtered(ctx, l)
	if err != nil {
		return err
	}
	var models [2]*errmodel.Model
	for mate := range models {
		if models[mate], err = errmodel.ReadFile(ctx, l.ErrorModel(mate)); err != nil {
			return err
		}
	}
	out := make([]denoiseRecord, len(recs))
	err = traverse.Limit(cfg.parallelism()).Each(len(recs), func(i int) error {
		var (
			d   [2]*derep.Derep
			res [2]*denoise.Result
		)
		for mate := range d {
			var err error
			if d[mate], err = derep.ReadFile(ctx, mateFile(recs[i], mate), cfg.Filter.PhredOffset); err != nil {
				return err
			}
			res[mate] = denoise.Denoise(d[mate], models[mate], cfg.Denoise)
		}
		ms, err := merge.Pairs(d[0], res[0], d[1], res[1], cfg.Merge)
		if err != nil {
			return errors.E(err, "denoise sample", recs[i].Sample)
		}
		if err := merge.WriteFile(ctx, l.Merged(recs[i].Sample), ms); err != nil {
			return err
		}
		r := denoiseRecord{Sample: recs[i].Sample, DenoisedF: res[0].Assigned(), DenoisedR: res[1].Assigned()}
		for _, n := range merge.Abundances(ms) {
			r.Merged += n
		}
		log.Debug.Printf("denoise: %s: %d forward and %d reverse variants, %d of %d pairs merged",
			r.Sample, len(res[0].Variants), len(res[1].Variants), r.Merged, d[0].Reads())
		out[i] = r
		return nil
	})
	if err != nil {
		return err
	}
	return writeDenoiseStats(ctx, l.DenoiseStats(), out)
}

// runTable builds one row per input sample. Samples that lost every read
// in filtering get an empty row so that the table still matches the
// metadata.
func runTable(ctx context.Context, cfg Config, l Layout) error {
	fstats, err := readFilterStats(ctx, l.FilterStats())
	if err != nil {
		return err
	}
	dstats, err := readDenoiseStats(ctx, l.DenoiseStats())
	if err != nil {
		return err
	}
	denoised := map[string]bool{}
	for _, r := range dstats {
		denoised[r.Sample] = true
	}
	samples := make([]string, len(fstats))
	abundances := make([]map[string]int, len(fstats))
	err = traverse.Limit(cfg.parallelism()).Each(len(fstats), func(i int) error {
		samples[i] = fstats[i].Sample
		if !denoised[samples[i]] {
			abundances[i] = map[string]int{}
			return nil
		}
		ms, err := merge.ReadFile(ctx, l.Merged(samples[i]))
		if err != nil {
			return err
		}
		abundances[i] = merge.Abundances(ms)
		return nil
	})
	if err != nil {
		return err
	}
	t, err := featuretable.Make(samples, abundances)
	if err != nil {
		return err
	}
	log.Printf("table: %d samples, %d sequences, %d reads", len(t.Samples), len(t.Features), t.Total())
	return t.WriteFile(ctx, l.SeqTable())
}

func runChimera(ctx context.Context, cfg Config, l Layout) error {
	seqtab, err := featuretable.ReadFile(ctx, l.SeqTable())
	if err != nil {
		return err
	}
	t, _, err := cfg.chimeraFilter().Filter(seqtab)
	if err != nil {
		return err
	}
	if err := chimera.CheckFiltered(seqtab, t); err != nil {
		return err
	}
	ids, err := asvid.Assigner{}.Assign(t.Features)
	if err != nil {
		return err
	}
	seqs := t.Features
	if t, err = t.RenameFeatures(ids); err != nil {
		return err
	}
	if err := t.WriteFile(ctx, l.FeatureTable()); err != nil {
		return err
	}
	if err := phylo.WriteSequences(ctx, l.RepSeqs(), ids, seqs); err != nil {
		return err
	}

	fstats, err := readFilterStats(ctx, l.FilterStats())
	if err != nil {
		return err
	}
	dstats, err := readDenoiseStats(ctx, l.DenoiseStats())
	if err != nil {
		return err
	}
	bySample := map[string]denoiseRecord{}
	for _, r := range dstats {
		bySample[r.Sample] = r
	}
	sums := t.RowSums()
	tracks := make([]Track, len(fstats))
	for i, f := range fstats {
		d := bySample[f.Sample]
		tracks[i] = Track{
			Sample:    f.Sample,
			Input:     f.Input,
			Filtered:  f.Filtered,
			DenoisedF: d.DenoisedF,
			DenoisedR: d.DenoisedR,
			Merged:    d.Merged,
		}
		if k := t.SampleIndex(f.Sample); k >= 0 {
			tracks[i].NonChim = sums[k]
		}
	}
	return WriteTrack(ctx, l.Track(), tracks)
}

// readRepSeqs reads the representative sequences, in file order.
func readRepSeqs(ctx context.Context, l Layout) ([]fasta.Record, error) {
	recs, err := taxonomy.ReadReference(ctx, l.RepSeqs())
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.E(errors.Precondition, "pipeline: no features", l.RepSeqs())
	}
	return recs, nil
}

func runTaxonomy(ctx context.Context, cfg Config, l Layout) error {
	recs, err := readRepSeqs(ctx, l)
	if err != nil {
		return err
	}
	ids := make([]string, len(recs))
	seqs := make([]string, len(recs))
	for i, r := range recs {
		ids[i], seqs[i] = r.Name, r.Seq
	}
	c := cfg.Classifier
	if c == nil {
		refs, err := taxonomy.ReadReference(ctx, cfg.ReferencePath)
		if err != nil {
			return err
		}
		opts := cfg.Taxonomy
		opts.Parallelism = cfg.parallelism()
		if c, err = taxonomy.Train(refs, opts); err != nil {
			return err
		}
	}
	t, err := taxonomy.Assign(ctx, c, ids, seqs)
	if err != nil {
		return err
	}
	if cfg.SpeciesPath != "" {
		refs, err := taxonomy.ReadReference(ctx, cfg.SpeciesPath)
		if err != nil {
			return err
		}
		sa, err := taxonomy.NewSpeciesAssigner(refs)
		if err != nil {
			return err
		}
		bySeq := make(map[string]string, len(ids))
		for i, id := range ids {
			bySeq[id] = seqs[i]
		}
		if t, err = taxonomy.AddSpecies(t, bySeq, sa); err != nil {
			return err
		}
	}
	return t.WriteFile(ctx, l.Taxonomy())
}

func runTree(ctx context.Context, cfg Config, l Layout) error {
	if err := cfg.treeBuilder().Build(ctx, l.RepSeqs(), l.Alignment(), l.Tree()); err != nil {
		return err
	}
	rooted, err := phylo.RootedTree(ctx, l.Tree())
	if err != nil {
		return err
	}
	return phylo.WriteTree(ctx, l.RootedTree(), rooted)
}

func runAssemble(ctx context.Context, cfg Config, l Layout) error {
	t, err := featuretable.ReadFile(ctx, l.FeatureTable())
	if err != nil {
		return err
	}
	recs, err := readRepSeqs(ctx, l)
	if err != nil {
		return err
	}
	taxa, err := taxonomy.ReadFile(ctx, l.Taxonomy())
	if err != nil {
		return err
	}
	tree, err := phylo.ReadTree(ctx, l.RootedTree())
	if err != nil {
		return err
	}
	meta, err := sample.ReadFile(ctx, cfg.MetadataPath)
	if err != nil {
		return err
	}
	d, err := dataset.Assemble(dataset.Inputs{Table: t, Sequences: recs, Taxonomy: taxa, Tree: tree, Metadata: meta})
	if err != nil {
		return err
	}
	if err := d.Save(ctx, l.Dataset()); err != nil {
		return err
	}
	log.Printf("assemble: %d samples, %d features, fingerprint %s", len(d.Samples()), len(d.Features()), d.Fingerprint())
	return nil
}
