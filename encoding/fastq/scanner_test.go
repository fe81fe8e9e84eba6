package fastq

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fq = `@M03157:8:000000000-A4DB6:1:1101:15873:1334 1:N:0:1
TACGGAGGATGCGAGCGTTATCCGGATTTATTGGGTTTAAAGGGAGCGTAGGCGGACGCTTAAGTCAGTTGTGAAAGTTTGCGGCTCAACCGTAAAATTGCAGTTGATACTGGGTGTCTTGAGTACAGTAGAGGCAGGCGGAATTCGTGG
+
CCCCCGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG
@M03157:8:000000000-A4DB6:1:1101:16273:1345 1:N:0:1
TACGGAGGATCCGAGCGTTATCCGGATTTATTGGGTTTAAAGGGAGCGTAGGTGGATTGTTAAGTCAGTTGTGAAAGTTTGCGGCTCAACCGTAAAATTGCAGTTGAAACTGGCAGTCTTGAGTACAGTAGAGGTGGGCGGAATTCGTGG
+
CCCCCGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG#GG
@M03157:8:000000000-A4DB6:1:1101:18132:1361 1:N:0:1
TACGTAGGGGGCAAGCGTTATCCGGATTTACTGGGTGTAAAGGGAGCGTAGACGGATGGACAAGTCTGATGTGAAAGGCTGGGGCTCAACCCCGGGACTGCATTGGAAACTGCCCGTCTTGAGTGCCGGAGAGGTAAGCGGAATTCCTAG
+
CCCCCGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGFGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGGG
`

func stringScanner(s string) *Scanner {
	return NewScanner(strings.NewReader(s))
}

func scanErr(s string) error {
	scan := stringScanner(s)
	var r Read
	for scan.Scan(&r) {
	}
	return errors.Cause(scan.Err())
}

func TestFASTQ(t *testing.T) {
	s := stringScanner(fq)
	var r Read
	require.True(t, s.Scan(&r), "%v", s.Err())
	assert.Equal(t, "@M03157:8:000000000-A4DB6:1:1101:15873:1334 1:N:0:1", r.ID)
	assert.Equal(t, "+", r.Unk)
	assert.Equal(t, 150, r.Len())
	assert.Equal(t, len(r.Seq), len(r.Qual))
	n := 1
	for s.Scan(&r) {
		n++
	}
	assert.Equal(t, 3, n)
	assert.NoError(t, s.Err())
}

func TestBadFASTQ(t *testing.T) {
	assert.Equal(t, ErrInvalid, scanErr("12312#"))
	assert.Equal(t, ErrShort, scanErr("@1234\n123"))
	assert.Equal(t, ErrInvalid, scanErr("@1234\nACGT\n-\nIIII\n"))
	assert.Equal(t, ErrLength, scanErr("@1234\nACGT\n+\nIII\n"))
	assert.NoError(t, scanErr(""))

	s := stringScanner("@a\nACGT\n+\nIIII\n@b\nACGT\n+\nIII\n")
	var r Read
	assert.True(t, s.Scan(&r))
	assert.False(t, s.Scan(&r))
	assert.EqualError(t, s.Err(), "fastq: line 8: FASTQ sequence and quality lengths differ")
	assert.False(t, s.Scan(&r))
}

func TestCRLF(t *testing.T) {
	s := stringScanner("@a 1\r\nACGT\r\n+\r\nIIII\r\n")
	var r Read
	require.True(t, s.Scan(&r))
	assert.Equal(t, "@a 1", r.ID)
	assert.Equal(t, "ACGT", r.Seq)
	assert.Equal(t, "IIII", r.Qual)
}

func TestName(t *testing.T) {
	for _, tc := range []struct{ id, name string }{
		{"@M03157:8:000000000-A4DB6:1:1101:15873:1334 1:N:0:1", "M03157:8:000000000-A4DB6:1:1101:15873:1334"},
		{"@read7/2", "read7"},
		{"@read7/3", "read7/3"},
		{"@r\tcomment", "r"},
		{"@", ""},
	} {
		r := Read{ID: tc.id}
		assert.Equal(t, tc.name, r.Name(), tc.id)
	}
}

func TestTrim(t *testing.T) {
	r := Read{ID: "@r", Seq: "ACGTACGT", Unk: "+", Qual: "ABCDEFGH"}
	r.TrimLeft(2)
	assert.Equal(t, "GTACGT", r.Seq)
	assert.Equal(t, "CDEFGH", r.Qual)
	r.Trim(4)
	assert.Equal(t, "GTAC", r.Seq)
	assert.Equal(t, "CDEF", r.Qual)
	r.Trim(10)
	assert.Equal(t, "GTAC", r.Seq)
	r.TrimLeft(10)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, "", r.Qual)
}

func TestQuals(t *testing.T) {
	r := Read{Seq: "ACGT", Qual: "!+5I"}
	assert.Equal(t, []int{0, 10, 20, 40}, r.Quals(33, nil))
}

func TestPairScanner(t *testing.T) {
	one := "@a\nACGT\n+\nIIII\n"
	p := NewPairScanner(strings.NewReader(one+one), strings.NewReader(one))
	var r1, r2 Read
	assert.True(t, p.Scan(&r1, &r2))
	assert.False(t, p.Scan(&r1, &r2))
	assert.Equal(t, ErrDiscordant, errors.Cause(p.Err()))

	p = NewPairScanner(strings.NewReader("@a/1\nAC\n+\nII\n"), strings.NewReader("@a/2\nGT\n+\nII\n"))
	assert.True(t, p.Scan(&r1, &r2))
	assert.Equal(t, "GT", r2.Seq)
	assert.False(t, p.Scan(&r1, &r2))
	assert.NoError(t, p.Err())

	p = NewPairScanner(strings.NewReader(one), strings.NewReader("@b\nACGT\n+\nIIII\n"))
	assert.False(t, p.Scan(&r1, &r2))
	assert.Equal(t, ErrMateName, errors.Cause(p.Err()))
}

func TestWriter(t *testing.T) {
	var (
		s = stringScanner(fq)
		b = new(bytes.Buffer)
		w = NewWriter(b)
		r Read
	)
	for s.Scan(&r) {
		require.NoError(t, w.Write(&r))
	}
	require.NoError(t, s.Err())
	assert.Equal(t, fq, b.String())
	assert.Equal(t, 3, w.N())
}
