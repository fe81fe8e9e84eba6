// Package asvid assigns content-addressed identifiers to sequence variants.
//
// An identifier is the lowercase hex MD5 digest of the upper-cased sequence,
// so the same sequence always yields the same identifier regardless of the run
// that produced it or its position in a feature table. The digest matches what
// common command-line tools (md5sum, openssl md5) print for the raw sequence
// bytes, so identifiers can be reproduced outside this package.
package asvid

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

// Len is the length of an identifier produced by ID.
const Len = 2 * md5.Size

// ID returns the identifier of sequence s.
func ID(s string) string {
	sum := md5.Sum([]byte(strings.ToUpper(s)))
	return hex.EncodeToString(sum[:])
}

// CollisionError reports distinct sequences that hashed to the same
// identifier.
type CollisionError struct {
	ID         string
	Seq1, Seq2 string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("asvid: identifier %s assigned to distinct sequences %q and %q", e.ID, e.Seq1, e.Seq2)
}

// Assigner assigns identifiers to a set of sequences and checks the
// assignment for collisions.
type Assigner struct {
	// Hash maps a sequence to its identifier. Nil means ID.
	Hash func(string) string
}

// Assign returns the identifier of each sequence, in input order. Sequences
// are compared case-insensitively. A sequence given twice is an error, as is
// any pair of distinct sequences mapping to the same identifier: the caller
// must never merge distinct variants under one identifier.
func (a Assigner) Assign(seqs []string) ([]string, error) {
	hash := a.Hash
	if hash == nil {
		hash = ID
	}
	ids := make([]string, len(seqs))
	owner := make(map[string]string, len(seqs))
	for i, s := range seqs {
		s = strings.ToUpper(s)
		if s == "" {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("asvid: empty sequence at index %d", i))
		}
		id := hash(s)
		if prev, ok := owner[id]; ok {
			if prev == s {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("asvid: sequence %q listed twice", s))
			}
			return nil, &CollisionError{ID: id, Seq1: prev, Seq2: s}
		}
		owner[id] = s
		ids[i] = id
	}
	return ids, nil
}

// Verify checks that every id in ids is the identifier of the sequence with
// the same index in seqs.
func (a Assigner) Verify(ids, seqs []string) error {
	if len(ids) != len(seqs) {
		return errors.E(errors.Invalid, fmt.Sprintf("asvid: %d identifiers for %d sequences", len(ids), len(seqs)))
	}
	want, err := a.Assign(seqs)
	if err != nil {
		return err
	}
	for i := range ids {
		if ids[i] != want[i] {
			return errors.E(errors.Invalid, fmt.Sprintf("asvid: identifier %s does not match sequence %q (want %s)", ids[i], seqs[i], want[i]))
		}
	}
	return nil
}
