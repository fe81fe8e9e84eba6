// Package errmodel estimates quality-dependent substitution rates from
// dereplicated amplicon reads.
package errmodel

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/grailbio/amplicon/denoise"
	"github.com/grailbio/amplicon/derep"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/tsv"
)

// Bases lists the nucleotides covered by a Model, in index order.
const Bases = "ACGT"

func baseIndex(b byte) int {
	switch b {
	case 'A', 'a':
		return 0
	case 'C', 'c':
		return 1
	case 'G', 'g':
		return 2
	case 'T', 't':
		return 3
	}
	return -1
}

// Model holds the probability of reading base "to" when the true base is
// "from", for every Phred score 0..MaxQual.
type Model struct {
	MaxQual int
	rates   [4][4][]float64
}

func newModel(maxQual int) *Model {
	m := &Model{MaxQual: maxQual}
	for f := range m.rates {
		for t := range m.rates[f] {
			m.rates[f][t] = make([]float64, maxQual+1)
		}
	}
	return m
}

func phredError(q int) float64 {
	return math.Min(math.Pow(10, -float64(q)/10), 0.75)
}

// Phred returns the model implied by nominal Phred scores: an error of
// probability 10^(-q/10), spread evenly over the three other bases.
func Phred(maxQual int) *Model {
	m := newModel(maxQual)
	for q := 0; q <= maxQual; q++ {
		p := phredError(q)
		for f := 0; f < 4; f++ {
			for t := 0; t < 4; t++ {
				if f == t {
					m.rates[f][t][q] = 1 - p
				} else {
					m.rates[f][t][q] = p / 3
				}
			}
		}
	}
	return m
}

func (m *Model) clampQual(q int) int {
	if q < 0 {
		return 0
	}
	if q > m.MaxQual {
		return m.MaxQual
	}
	return q
}

// Rate returns the probability of reading to given true base from at quality
// q. Scores outside 0..MaxQual are clamped. Rate is 1 when either base is not
// one of ACGT.
func (m *Model) Rate(from, to byte, q int) float64 {
	f, t := baseIndex(from), baseIndex(to)
	if f < 0 || t < 0 {
		return 1
	}
	return m.rates[f][t][m.clampQual(q)]
}

// LogProb implements denoise.ErrorModel. Sequences of different lengths
// cannot derive from each other.
func (m *Model) LogProb(center, seq string, quals []float64) float64 {
	if len(center) != len(seq) {
		return math.Inf(-1)
	}
	lp := 0.0
	for i := 0; i < len(seq); i++ {
		q := 0
		if i < len(quals) {
			q = int(math.Round(quals[i]))
		}
		lp += math.Log(m.Rate(center[i], seq[i], q))
	}
	return lp
}

// MaxDiff returns the largest absolute difference between two models'
// rates. The models must share MaxQual.
func (m *Model) MaxDiff(o *Model) float64 {
	d := 0.0
	for f := range m.rates {
		for t := range m.rates[f] {
			for q, r := range m.rates[f][t] {
				d = math.Max(d, math.Abs(r-o.rates[f][t][q]))
			}
		}
	}
	return d
}

// Counts tallies observed center-to-read transitions by quality.
type Counts struct {
	MaxQual int
	n       [4][4][]float64
}

// NewCounts creates empty counts for scores 0..maxQual.
func NewCounts(maxQual int) *Counts {
	c := &Counts{MaxQual: maxQual}
	for f := range c.n {
		for t := range c.n[f] {
			c.n[f][t] = make([]float64, maxQual+1)
		}
	}
	return c
}

// Add records the transitions from center to seq, weight times.
func (c *Counts) Add(center, seq string, quals []float64, weight int) {
	if len(center) != len(seq) {
		return
	}
	for i := 0; i < len(seq); i++ {
		f, t := baseIndex(center[i]), baseIndex(seq[i])
		if f < 0 || t < 0 || i >= len(quals) {
			continue
		}
		q := int(math.Round(quals[i]))
		if q < 0 {
			q = 0
		} else if q > c.MaxQual {
			q = c.MaxQual
		}
		c.n[f][t][q] += float64(weight)
	}
}

// Tally adds the transitions of every assigned unique in d to its variant's
// center.
func (c *Counts) Tally(d *derep.Derep, r *denoise.Result) {
	for u, v := range r.Map {
		if v < 0 {
			continue
		}
		uq := d.Uniques[u]
		c.Add(r.Variants[v].Seq, uq.Seq, uq.Quals, uq.Abundance)
	}
}

// Merge adds o into c.
func (c *Counts) Merge(o *Counts) {
	for f := range c.n {
		for t := range c.n[f] {
			for q := range c.n[f][t] {
				c.n[f][t][q] += o.n[f][t][q]
			}
		}
	}
}

// Estimate converts counts to rates. Scores with no observations for a from
// base fall back to the Phred rates. Substitution rates are kept at or above
// minRate.
func (c *Counts) Estimate(pseudocount, minRate float64) *Model {
	m := newModel(c.MaxQual)
	for f := 0; f < 4; f++ {
		for q := 0; q <= c.MaxQual; q++ {
			total := 0.0
			for t := 0; t < 4; t++ {
				total += c.n[f][t][q]
			}
			if total == 0 {
				p := phredError(q)
				for t := 0; t < 4; t++ {
					m.rates[f][t][q] = p / 3
				}
				m.rates[f][f][q] = 1 - p
				continue
			}
			subs := 0.0
			for t := 0; t < 4; t++ {
				if t == f {
					continue
				}
				r := (c.n[f][t][q] + pseudocount) / (total + 4*pseudocount)
				r = math.Max(r, minRate)
				m.rates[f][t][q] = r
				subs += r
			}
			m.rates[f][f][q] = 1 - subs
		}
	}
	return m
}

// Opts controls Learn.
type Opts struct {
	// MaxQual is the highest Phred score modeled.
	MaxQual int
	// MaxIter bounds the number of denoise/estimate rounds.
	MaxIter int
	// Tol stops learning once no rate moves by more than this.
	Tol         float64
	Pseudocount float64
	MinRate     float64
	// Denoise configures the denoising rounds.
	Denoise denoise.Opts
	// Parallelism is the number of samples denoised concurrently.
	Parallelism int
}

// DefaultOpts are the default learning options.
var DefaultOpts = Opts{
	MaxQual:     41,
	MaxIter:     10,
	Tol:         1e-4,
	Pseudocount: 1,
	MinRate:     1e-7,
	Denoise:     denoise.DefaultOpts,
	Parallelism: 1,
}

// Learn alternates denoising every Derep with the current model and
// re-estimating the model from the resulting partitions, starting from
// Phred(opts.MaxQual).
func Learn(ctx context.Context, dereps []*derep.Derep, opts Opts) (*Model, error) {
	if len(dereps) == 0 {
		return nil, errors.E(errors.Invalid, "errmodel: no reads to learn from")
	}
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	model := Phred(opts.MaxQual)
	for iter := 1; iter <= opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		counts := make([]*Counts, len(dereps))
		err := traverse.Limit(parallelism).Each(len(dereps), func(i int) error {
			r := denoise.Denoise(dereps[i], model, opts.Denoise)
			counts[i] = NewCounts(opts.MaxQual)
			counts[i].Tally(dereps[i], r)
			return nil
		})
		if err != nil {
			return nil, err
		}
		total := NewCounts(opts.MaxQual)
		for _, c := range counts {
			total.Merge(c)
		}
		next := total.Estimate(opts.Pseudocount, opts.MinRate)
		diff := next.MaxDiff(model)
		model = next
		log.Debug.Printf("errmodel: iteration %d: max rate change %g", iter, diff)
		if diff < opts.Tol {
			log.Printf("errmodel: converged after %d iterations", iter)
			return model, nil
		}
	}
	log.Printf("errmodel: did not converge in %d iterations", opts.MaxIter)
	return model, nil
}

// Write writes the model as a TSV with columns from, to, qual and rate.
func (m *Model) Write(w io.Writer) error {
	tw := tsv.NewWriter(w)
	for _, h := range []string{"from", "to", "qual", "rate"} {
		tw.WriteString(h)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for f := 0; f < 4; f++ {
		for t := 0; t < 4; t++ {
			for q := 0; q <= m.MaxQual; q++ {
				tw.WriteString(Bases[f : f+1])
				tw.WriteString(Bases[t : t+1])
				tw.WriteString(strconv.Itoa(q))
				tw.WriteString(strconv.FormatFloat(m.rates[f][t][q], 'g', -1, 64))
				if err := tw.EndLine(); err != nil {
					return err
				}
			}
		}
	}
	return tw.Flush()
}

// Read parses a model written by Write. Every from, to and qual combination
// from 0 to the largest qual must be present.
func Read(r io.Reader) (*Model, error) {
	type entry struct {
		f, t, q int
		rate    float64
	}
	tr := tsv.NewReader(r)
	tr.Comment = '#'
	if _, err := tr.Reader.Read(); err != nil {
		return nil, errors.E(errors.Invalid, err, "errmodel: read header")
	}
	var (
		entries []entry
		maxQual = -1
	)
	for {
		row, err := tr.Reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(err, "errmodel: read")
		}
		if len(row) != 4 || len(row[0]) != 1 || len(row[1]) != 1 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("errmodel: malformed row %q", row))
		}
		e := entry{f: baseIndex(row[0][0]), t: baseIndex(row[1][0])}
		if e.f < 0 || e.t < 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("errmodel: bad bases in row %q", row))
		}
		if e.q, err = strconv.Atoi(row[2]); err != nil || e.q < 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("errmodel: bad quality in row %q", row))
		}
		if e.rate, err = strconv.ParseFloat(row[3], 64); err != nil {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("errmodel: bad rate in row %q", row))
		}
		if e.q > maxQual {
			maxQual = e.q
		}
		entries = append(entries, e)
	}
	if maxQual < 0 {
		return nil, errors.E(errors.Invalid, "errmodel: empty model")
	}
	if want := 16 * (maxQual + 1); len(entries) != want {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("errmodel: %d rates, want %d", len(entries), want))
	}
	m := newModel(maxQual)
	seen := make(map[[3]int]bool, len(entries))
	for _, e := range entries {
		k := [3]int{e.f, e.t, e.q}
		if seen[k] {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("errmodel: duplicate rate %c->%c q%d", Bases[e.f], Bases[e.t], e.q))
		}
		seen[k] = true
		m.rates[e.f][e.t][e.q] = e.rate
	}
	return m, nil
}

// ReadFile reads a model from path.
func ReadFile(ctx context.Context, path string) (*Model, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "errmodel: open", path)
	}
	m, err := Read(in.Reader(ctx))
	if e := in.Close(ctx); e != nil && err == nil {
		err = e
	}
	return m, err
}

// WriteFile writes the model to path.
func (m *Model) WriteFile(ctx context.Context, path string) error {
	out, err := file.Create(ctx, path)
	if err != nil {
		return errors.E(err, "errmodel: create", path)
	}
	once := errors.Once{}
	once.Set(m.Write(out.Writer(ctx)))
	once.Set(out.Close(ctx))
	return once.Err()
}
