package taxonomy

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/dgryski/go-farm"
	"github.com/grailbio/amplicon/encoding/fasta"
	"github.com/grailbio/amplicon/seq"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
)

// Assignment is the classification of one query sequence.
type Assignment struct {
	// Lineage has one entry per rank; ranks below the confidence threshold
	// are empty.
	Lineage []string
	// Confidence is the bootstrap support of each rank of the best class, in
	// percent.
	Confidence []float64
}

// Classifier assigns lineages to sequences.
type Classifier interface {
	Ranks() []string
	Classify(ctx context.Context, seqs []string) ([]Assignment, error)
}

// Opts controls NaiveBayes.
type Opts struct {
	// K is the k-mer length.
	K int
	// Bootstraps is the number of bootstrap replicates per query.
	Bootstraps int
	// MinBoot is the bootstrap support, in percent, required to assign a
	// rank.
	MinBoot float64
	// TryRC also scores the reverse complement of each query, and keeps the
	// better orientation.
	TryRC bool
	// Ranks names the lineage levels of the reference.
	Ranks       []string
	Parallelism int
}

// DefaultOpts are the default classifier options.
var DefaultOpts = Opts{
	K:           8,
	Bootstraps:  100,
	MinBoot:     50,
	Ranks:       DefaultRanks,
	Parallelism: 1,
}

type posting struct {
	class int
	delta float64
}

// NaiveBayes is a k-mer naive Bayes classifier trained on reference
// sequences with known lineages.
type NaiveBayes struct {
	opts     Opts
	lineages [][]string
	// base[c] is the score of class c per query word before the
	// class-specific adjustments in index.
	base  []float64
	index map[uint32][]posting
	// refs[w] counts the references containing word w.
	refs  map[uint32]int
	nrefs float64
}

var _ Classifier = (*NaiveBayes)(nil)

// ParseLineage splits a "Kingdom;Phylum;...;" header into n ranks. Missing
// ranks are empty.
func ParseLineage(header string, n int) []string {
	parts := strings.Split(strings.TrimSpace(header), ";")
	lineage := make([]string, n)
	for i := 0; i < n && i < len(parts); i++ {
		lineage[i] = strings.TrimSpace(parts[i])
	}
	return lineage
}

// kmers returns the distinct k-mers of s. K-mers containing bases other than
// ACGT are skipped.
func kmers(s string, k int) []uint32 {
	var (
		seen  = map[uint32]bool{}
		words []uint32
		w     uint32
		valid int
		mask  = uint32(1)<<(2*uint(k)) - 1
	)
	for i := 0; i < len(s); i++ {
		var b uint32
		switch s[i] {
		case 'A', 'a':
			b = 0
		case 'C', 'c':
			b = 1
		case 'G', 'g':
			b = 2
		case 'T', 't':
			b = 3
		default:
			valid = 0
			continue
		}
		w = (w<<2 | b) & mask
		if valid++; valid >= k && !seen[w] {
			seen[w] = true
			words = append(words, w)
		}
	}
	return words
}

// Train builds a classifier from reference records whose name holds the
// lineage, e.g. ">Bacteria;Firmicutes;Clostridia;Clostridiales;".
func Train(refs []fasta.Record, opts Opts) (*NaiveBayes, error) {
	if opts.K < 1 || opts.K > 16 {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("taxonomy: k-mer length %d out of range", opts.K))
	}
	if len(refs) == 0 {
		return nil, errors.E(errors.Invalid, "taxonomy: empty reference")
	}
	var (
		classOf  = map[string]int{}
		nb       = &NaiveBayes{opts: opts, index: map[uint32][]posting{}}
		refCount []int
		// wordRefs[w] counts references containing w; classWords[c][w] counts
		// references of class c containing w.
		wordRefs   = map[uint32]int{}
		classWords []map[uint32]int
	)
	for _, r := range refs {
		lineage := ParseLineage(r.Name, len(opts.Ranks))
		key := strings.Join(lineage, ";")
		c, ok := classOf[key]
		if !ok {
			c = len(nb.lineages)
			classOf[key] = c
			nb.lineages = append(nb.lineages, lineage)
			refCount = append(refCount, 0)
			classWords = append(classWords, map[uint32]int{})
		}
		refCount[c]++
		for _, w := range kmers(r.Seq, opts.K) {
			wordRefs[w]++
			classWords[c][w]++
		}
	}
	nb.refs, nb.nrefs = wordRefs, float64(len(refs))
	nb.base = make([]float64, len(nb.lineages))
	for c, words := range classWords {
		m := float64(refCount[c])
		nb.base[c] = -math.Log(m + 1)
		for w, count := range words {
			p := nb.prior(w)
			nb.index[w] = append(nb.index[w], posting{c, math.Log(float64(count)+p) - math.Log(p)})
		}
	}
	log.Printf("taxonomy: trained on %d references in %d classes", len(refs), len(nb.lineages))
	return nb, nil
}

// prior is the probability that a reference contains word w.
func (nb *NaiveBayes) prior(w uint32) float64 {
	return (float64(nb.refs[w]) + 0.5) / (nb.nrefs + 1)
}

// Ranks implements Classifier.
func (nb *NaiveBayes) Ranks() []string { return nb.opts.Ranks }

// score returns the best class for words and its log likelihood.
func (nb *NaiveBayes) score(words []uint32, scores []float64) (int, float64) {
	common := 0.0
	for _, w := range words {
		common += math.Log(nb.prior(w))
	}
	for c := range scores {
		scores[c] = common + nb.base[c]*float64(len(words))
	}
	for _, w := range words {
		for _, p := range nb.index[w] {
			scores[p.class] += p.delta
		}
	}
	best := 0
	for c, s := range scores {
		if s > scores[best] {
			best = c
		}
	}
	return best, scores[best]
}

// classify assigns one query. The bootstrap draws are seeded from the query
// sequence, so results do not depend on query order or parallelism.
func (nb *NaiveBayes) classify(query string) Assignment {
	var (
		nranks = len(nb.opts.Ranks)
		scores = make([]float64, len(nb.lineages))
		words  = kmers(query, nb.opts.K)
	)
	best, bestScore := nb.score(words, scores)
	if nb.opts.TryRC {
		rcWords := kmers(seq.ReverseComplement(query), nb.opts.K)
		if c, s := nb.score(rcWords, scores); s > bestScore {
			best, words = c, rcWords
		}
	}
	a := Assignment{Lineage: make([]string, nranks), Confidence: make([]float64, nranks)}
	if len(words) == 0 {
		return a
	}
	var (
		r      = rand.New(rand.NewSource(int64(farm.Fingerprint64([]byte(query)))))
		nboot  = len(words) / 8
		sample = make([]uint32, 0, nboot+1)
		hits   = make([]int, nranks)
	)
	if nboot < 1 {
		nboot = 1
	}
	for b := 0; b < nb.opts.Bootstraps; b++ {
		sample = sample[:0]
		for i := 0; i < nboot; i++ {
			sample = append(sample, words[r.Intn(len(words))])
		}
		c, _ := nb.score(sample, scores)
		for rank := 0; rank < nranks; rank++ {
			if nb.lineages[c][rank] != nb.lineages[best][rank] {
				break
			}
			hits[rank]++
		}
	}
	for rank := 0; rank < nranks; rank++ {
		a.Confidence[rank] = 100 * float64(hits[rank]) / float64(nb.opts.Bootstraps)
		if a.Confidence[rank] < nb.opts.MinBoot {
			break
		}
		a.Lineage[rank] = nb.lineages[best][rank]
	}
	return a
}

// Classify implements Classifier.
func (nb *NaiveBayes) Classify(ctx context.Context, seqs []string) ([]Assignment, error) {
	parallelism := nb.opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	out := make([]Assignment, len(seqs))
	err := traverse.Limit(parallelism).Each(len(seqs), func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out[i] = nb.classify(seqs[i])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Assign classifies the given features, whose sequences are seqs, into a
// Table.
func Assign(ctx context.Context, c Classifier, features, seqs []string) (*Table, error) {
	if len(features) != len(seqs) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("taxonomy: %d features but %d sequences", len(features), len(seqs)))
	}
	as, err := c.Classify(ctx, seqs)
	if err != nil {
		return nil, err
	}
	lineages := make([][]string, len(as))
	for i, a := range as {
		lineages[i] = a.Lineage
	}
	return NewTable(append([]string(nil), c.Ranks()...), append([]string(nil), features...), lineages)
}
