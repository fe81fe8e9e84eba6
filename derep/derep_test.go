package derep

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/amplicon/encoding/fastq"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReads(t *testing.T) {
	reads := []fastq.Read{
		{Seq: "ACGT", Qual: "!!!!"}, // Q0
		{Seq: "TTTT", Qual: "IIII"},
		{Seq: "acgt", Qual: "IIII"}, // Q40
		{Seq: "GGGG", Qual: "IIII"},
		{Seq: "TTTT", Qual: "IIII"},
	}
	d := Reads(reads, 33)
	require.Len(t, d.Uniques, 3)
	assert.Equal(t, "ACGT", d.Uniques[0].Seq)
	assert.Equal(t, 2, d.Uniques[0].Abundance)
	assert.Equal(t, []float64{20, 20, 20, 20}, d.Uniques[0].Quals)
	assert.Equal(t, "TTTT", d.Uniques[1].Seq)
	assert.Equal(t, "GGGG", d.Uniques[2].Seq)
	assert.Equal(t, []int{0, 1, 0, 2, 1}, d.Map)
	assert.Equal(t, 5, d.Reads())
}

func TestReadFile(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "r.fastq")
	require.NoError(t, ioutil.WriteFile(path, []byte("@a\nACGT\n+\nIIII\n@b\nACGT\n+\n5555\n@c\nCCCC\n+\nIIII\n"), 0644))
	d, err := ReadFile(vcontext.Background(), path, 33)
	require.NoError(t, err)
	require.Len(t, d.Uniques, 2)
	assert.Equal(t, 2, d.Uniques[0].Abundance)
	assert.Equal(t, []float64{30, 30, 30, 30}, d.Uniques[0].Quals)

	_, err = ReadFile(vcontext.Background(), filepath.Join(dir, "missing.fastq"), 33)
	assert.Error(t, err)
}
