package fasta_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/amplicon/encoding/fasta"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const fastaData = ">seq1\n" + "ACGTA\nCGTAC\nGT\n" + ">seq2 A viral sequence\n" + "ACGT\n" + "\n" + "ACGT\n"

func TestReadAll(t *testing.T) {
	recs, err := fasta.ReadAll(strings.NewReader(fastaData))
	assert.NoError(t, err)
	expect.EQ(t, recs, []fasta.Record{
		{Name: "seq1", Seq: "ACGTACGTACGT"},
		{Name: "seq2", Description: "A viral sequence", Seq: "ACGTACGT"},
	})
}

func TestReadLineage(t *testing.T) {
	recs, err := fasta.ReadAll(strings.NewReader(">Bacteria;Firmicutes;Clostridia;\nACGT\r\n"))
	assert.NoError(t, err)
	expect.EQ(t, len(recs), 1)
	expect.EQ(t, recs[0].Name, "Bacteria;Firmicutes;Clostridia;")
	expect.EQ(t, recs[0].Seq, "ACGT")
}

func TestMalformed(t *testing.T) {
	_, err := fasta.ReadAll(strings.NewReader("ACGT\n>seq1\nACGT\n"))
	expect.NotNil(t, err)
	_, err = fasta.ReadAll(strings.NewReader(">\nACGT\n"))
	expect.NotNil(t, err)
	recs, err := fasta.ReadAll(strings.NewReader(""))
	expect.NoError(t, err)
	expect.EQ(t, len(recs), 0)
}

func TestWriteRoundTrip(t *testing.T) {
	in := []fasta.Record{
		{Name: "a", Seq: "ACGTACGTAC"},
		{Name: "b", Description: "desc here", Seq: "GG"},
	}
	for _, width := range []int{0, 3, 60} {
		var buf bytes.Buffer
		w := fasta.NewWriter(&buf, width)
		for _, r := range in {
			assert.NoError(t, w.Write(r))
		}
		assert.NoError(t, w.Flush())
		got, err := fasta.ReadAll(&buf)
		assert.NoError(t, err)
		expect.EQ(t, got, in)
	}
	var buf bytes.Buffer
	w := fasta.NewWriter(&buf, 4)
	assert.NoError(t, w.Write(in[0]))
	assert.NoError(t, w.Flush())
	expect.EQ(t, buf.String(), ">a\nACGT\nACGT\nAC\n")
}
