// Package seq contains small helpers for ASCII nucleotide sequences.
package seq

import "strings"

var revCompTable = [256]byte{}

func init() {
	for i := range revCompTable {
		revCompTable[i] = 'N'
	}
	for _, p := range []struct{ from, to byte }{
		{'A', 'T'}, {'C', 'G'}, {'G', 'C'}, {'T', 'A'},
		{'a', 'T'}, {'c', 'G'}, {'g', 'C'}, {'t', 'A'},
	} {
		revCompTable[p.from] = p.to
	}
}

// ReverseComplement returns the reverse complement of s. 'A'/'a' maps to
// 'T', 'C'/'c' to 'G', 'G'/'g' to 'C', 'T'/'t' to 'A', and everything else to
// 'N'.
func ReverseComplement(s string) string {
	n := len(s)
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[n-1-i] = revCompTable[s[i]]
	}
	return string(out)
}

// IsACGT reports whether s consists only of upper-case A, C, G and T.
func IsACGT(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'A', 'C', 'G', 'T':
		default:
			return false
		}
	}
	return true
}

// CountN returns the number of 'N' or 'n' bases in s.
func CountN(s string) int {
	return strings.Count(s, "N") + strings.Count(s, "n")
}

// Hamming returns the number of mismatching positions between two sequences
// of equal length. It returns -1 if the lengths differ.
func Hamming(s1, s2 string) int {
	if len(s1) != len(s2) {
		return -1
	}
	d := 0
	for i := 0; i < len(s1); i++ {
		if s1[i] != s2[i] {
			d++
		}
	}
	return d
}

// Levenshtein returns the number of insertions, deletions and substitutions
// needed to transform s1 into s2.
func Levenshtein(s1, s2 string) int {
	if len(s1) < len(s2) {
		s1, s2 = s2, s1
	}
	prev := make([]int, len(s2)+1)
	cur := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(s1); i++ {
		cur[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			v := prev[j-1] + cost
			if d := prev[j] + 1; d < v {
				v = d
			}
			if d := cur[j-1] + 1; d < v {
				v = d
			}
			cur[j] = v
		}
		prev, cur = cur, prev
	}
	return prev[len(s2)]
}
