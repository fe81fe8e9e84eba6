package seq

import (
	"testing"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/testutil/expect"
)

func TestReverseComplement(t *testing.T) {
	expect.EQ(t, ReverseComplement("ACGTN"), "NACGT")
	expect.EQ(t, ReverseComplement("aacg"), "CGTT")
	expect.EQ(t, ReverseComplement(""), "")
	expect.EQ(t, ReverseComplement(ReverseComplement("GATTACA")), "GATTACA")
}

func TestIsACGT(t *testing.T) {
	expect.True(t, IsACGT("ACGT"))
	expect.False(t, IsACGT("ACGN"))
	expect.False(t, IsACGT("acgt"))
	expect.EQ(t, CountN("ANNcn"), 3)
}

func TestHamming(t *testing.T) {
	expect.EQ(t, Hamming("ACGT", "ACGT"), 0)
	expect.EQ(t, Hamming("ACGT", "TCGA"), 2)
	expect.EQ(t, Hamming("ACGT", "ACG"), -1)
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		s1, s2 string
		want   int
	}{
		{"ATCGGT", "ACGGTX", 2},
		{"ACAATTGG", "AXAAXTGX", 3},
		{"", "ACG", 3},
		{"ACGT", "ACGT", 0},
		{"GATTACA", "GATACA", 1},
	}
	for _, test := range tests {
		got := Levenshtein(test.s1, test.s2)
		expect.EQ(t, got, test.want, "%s %s", test.s1, test.s2)
		expect.EQ(t, got, matchr.Levenshtein(test.s1, test.s2))
		expect.EQ(t, got, Levenshtein(test.s2, test.s1))
	}
}
