package taxonomy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/amplicon/encoding/fasta"
	"github.com/grailbio/amplicon/ingest"
	"github.com/grailbio/amplicon/seq"
	"github.com/grailbio/base/errors"
)

type species struct{ genus, name string }

// SpeciesAssigner assigns species by exact sequence match against a
// reference whose records are named ">ID Genus species".
type SpeciesAssigner struct {
	// AllowMultiple reports every matching species, joined by "/", instead
	// of leaving ambiguous matches unassigned.
	AllowMultiple bool
	// TryRC also matches the reverse complement of each query.
	TryRC bool
	bySeq map[string][]species
}

// NewSpeciesAssigner indexes reference records.
func NewSpeciesAssigner(refs []fasta.Record) (*SpeciesAssigner, error) {
	s := &SpeciesAssigner{bySeq: map[string][]species{}}
	for _, r := range refs {
		fields := strings.Fields(r.Description)
		if len(fields) < 2 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("taxonomy: species reference %q lacks \"Genus species\"", r.Header()))
		}
		key := strings.ToUpper(r.Seq)
		s.bySeq[key] = append(s.bySeq[key], species{fields[0], fields[1]})
	}
	return s, nil
}

// genusMatches reports whether a reference genus agrees with an assigned
// genus. Reference genera may be "/"-joined alternatives.
func genusMatches(ref, assigned string) bool {
	for _, g := range strings.Split(ref, "/") {
		if g == assigned {
			return true
		}
	}
	return false
}

// Assign returns the species of query, or "" when no reference sequence of
// the given genus matches exactly, or several species match and
// AllowMultiple is false.
func (s *SpeciesAssigner) Assign(query, genus string) string {
	if genus == "" {
		return ""
	}
	hits := s.bySeq[strings.ToUpper(query)]
	if s.TryRC {
		hits = append(append([]species(nil), hits...), s.bySeq[strings.ToUpper(seq.ReverseComplement(query))]...)
	}
	names := map[string]bool{}
	for _, h := range hits {
		if genusMatches(h.genus, genus) {
			names[h.name] = true
		}
	}
	if len(names) == 0 || (len(names) > 1 && !s.AllowMultiple) {
		return ""
	}
	var list []string
	for n := range names {
		list = append(list, n)
	}
	sort.Strings(list)
	return strings.Join(list, "/")
}

// AddSpecies returns a copy of t with a Species rank. seqs maps each feature
// of t to its sequence. t must have a Genus rank.
func AddSpecies(t *Table, seqs map[string]string, s *SpeciesAssigner) (*Table, error) {
	g := t.RankIndex("Genus")
	if g < 0 {
		return nil, errors.E(errors.Invalid, "taxonomy: table has no Genus rank")
	}
	if t.RankIndex(SpeciesRank) >= 0 {
		return nil, errors.E(errors.Invalid, "taxonomy: table already has a Species rank")
	}
	lineages := make([][]string, len(t.Lineages))
	for i, f := range t.Features {
		sq, ok := seqs[f]
		if !ok {
			return nil, errors.E(errors.NotExist, fmt.Sprintf("taxonomy: no sequence for feature %q", f))
		}
		l := append([]string(nil), t.Lineages[i]...)
		lineages[i] = append(l, s.Assign(sq, l[g]))
	}
	ranks := append(append([]string(nil), t.Ranks...), SpeciesRank)
	return NewTable(ranks, append([]string(nil), t.Features...), lineages)
}

// ReadReference reads a possibly gzipped reference FASTA.
func ReadReference(ctx context.Context, path string) ([]fasta.Record, error) {
	in, closer, err := ingest.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	refs, err := fasta.ReadAll(in)
	if e := closer(); e != nil && err == nil {
		err = e
	}
	if err != nil {
		return nil, errors.E(err, "taxonomy: read reference", path)
	}
	return refs, nil
}
