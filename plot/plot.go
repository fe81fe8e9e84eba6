// Package plot renders analysis results as PNG charts. Categorical metadata
// values pass through a sample.LabelMap on the way to the image, so canonical
// values never need rewriting for display.
package plot

import (
	"fmt"
	"io"
	"sort"

	"github.com/grailbio/amplicon/dataset"
	"github.com/grailbio/amplicon/diversity"
	"github.com/grailbio/amplicon/sample"
	"github.com/grailbio/base/errors"
	"github.com/wcharczuk/go-chart/v2"
)

// Opts configures a chart.
type Opts struct {
	Title         string
	Width, Height int
	// Column is the metadata column that groups samples.
	Column string
	Labels *sample.LabelMap
}

// DefaultOpts are the default chart options.
var DefaultOpts = Opts{Width: 800, Height: 600}

func (o Opts) size() (int, int) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = DefaultOpts.Width
	}
	if h <= 0 {
		h = DefaultOpts.Height
	}
	return w, h
}

// levels returns the distinct groups in display order.
func (o Opts) levels(groups []string) []string {
	seen := map[string]bool{}
	var levels []string
	for _, g := range groups {
		if !seen[g] {
			seen[g] = true
			levels = append(levels, g)
		}
	}
	sort.Strings(levels)
	return o.Labels.Order(o.Column, levels)
}

// Ordination draws samples on the first two principal axes, one colour per
// group. groups[i] is the group of o.IDs[i].
func Ordination(w io.Writer, o *diversity.Ordination, groups []string, opts Opts) error {
	if len(groups) != len(o.IDs) {
		return errors.E(errors.Invalid, fmt.Sprintf("plot: %d groups for %d samples", len(groups), len(o.IDs)))
	}
	axis := func(k int) (string, func(i int) float64) {
		if k >= len(o.Eigenvalues) {
			return fmt.Sprintf("PC%d", k+1), func(int) float64 { return 0 }
		}
		return fmt.Sprintf("PC%d (%.1f%%)", k+1, 100*o.Explained[k]), func(i int) float64 { return o.Coords[i][k] }
	}
	xName, x := axis(0)
	yName, y := axis(1)
	width, height := opts.size()
	c := chart.Chart{
		Title:  opts.Title,
		Width:  width,
		Height: height,
		XAxis:  chart.XAxis{Name: xName},
		YAxis:  chart.YAxis{Name: yName},
	}
	for k, level := range opts.levels(groups) {
		s := chart.ContinuousSeries{
			Name: opts.Labels.Label(opts.Column, level),
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				StrokeColor: chart.GetDefaultColor(k),
				DotWidth:    5,
				DotColor:    chart.GetDefaultColor(k),
			},
		}
		for i, g := range groups {
			if g == level {
				s.XValues = append(s.XValues, x(i))
				s.YValues = append(s.YValues, y(i))
			}
		}
		c.Series = append(c.Series, s)
	}
	c.Elements = []chart.Renderable{chart.Legend(&c)}
	return c.Render(chart.PNG, w)
}

// AlphaDiversity draws the group means of one alpha metric as bars.
// groups[i] is the group of a.Samples[i].
func AlphaDiversity(w io.Writer, a *diversity.AlphaTable, metric string, groups []string, opts Opts) error {
	values, err := a.Column(metric)
	if err != nil {
		return err
	}
	if len(groups) != len(values) {
		return errors.E(errors.Invalid, fmt.Sprintf("plot: %d groups for %d samples", len(groups), len(values)))
	}
	sums := map[string]float64{}
	sizes := map[string]int{}
	for i, g := range groups {
		sums[g] += values[i]
		sizes[g]++
	}
	width, height := opts.size()
	c := chart.BarChart{
		Title:    opts.Title,
		Width:    width,
		Height:   height,
		BarWidth: 60,
		YAxis:    chart.YAxis{Name: metric},
	}
	for k, level := range opts.levels(groups) {
		c.Bars = append(c.Bars, chart.Value{
			Label: opts.Labels.Label(opts.Column, level),
			Value: sums[level] / float64(sizes[level]),
			Style: chart.Style{FillColor: chart.GetDefaultColor(k), StrokeColor: chart.GetDefaultColor(k)},
		})
	}
	return c.Render(chart.PNG, w)
}

// Other names the bar segment holding every taxon outside the top N.
const Other = "Other"

// Composition draws one stacked bar per sample showing the relative
// abundance of the top taxa at rank. Taxa are ranked by mean relative
// abundance; the rest are pooled into Other.
func Composition(w io.Writer, d *dataset.Dataset, rank string, top int, opts Opts) error {
	glom, err := d.Glom(rank)
	if err != nil {
		return err
	}
	var (
		rel   = glom.Relative()
		taxa  = glom.Features()
		means = make([]float64, len(taxa))
		order = make([]int, len(taxa))
	)
	for j := range taxa {
		order[j] = j
		for i := range rel {
			means[j] += rel[i][j] / float64(len(rel))
		}
	}
	sort.SliceStable(order, func(x, y int) bool { return means[order[x]] > means[order[y]] })
	if top > 0 && top < len(order) {
		order = order[:top]
	}
	lineages := glom.Taxonomy()
	names := make([]string, len(order))
	for k, j := range order {
		l, _ := lineages.Get(taxa[j])
		names[k] = l[len(l)-1]
	}

	width, height := opts.size()
	c := chart.StackedBarChart{
		Title:      opts.Title,
		Width:      width,
		Height:     height,
		BarSpacing: 10,
	}
	meta := glom.Metadata()
	for i, s := range glom.Samples() {
		label := s
		if opts.Column != "" {
			if v, ok := meta.Value(s, opts.Column); ok {
				label = s + " " + opts.Labels.Label(opts.Column, v)
			}
		}
		bar := chart.StackedBar{Name: label}
		rest := 1.0
		for k, j := range order {
			bar.Values = append(bar.Values, chart.Value{
				Label: names[k],
				Value: rel[i][j],
				Style: chart.Style{FillColor: chart.GetDefaultColor(k), StrokeColor: chart.GetDefaultColor(k)},
			})
			rest -= rel[i][j]
		}
		if rest > 1e-9 {
			bar.Values = append(bar.Values, chart.Value{Label: Other, Value: rest})
		}
		c.Bars = append(c.Bars, bar)
	}
	return c.Render(chart.PNG, w)
}
