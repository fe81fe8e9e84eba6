package asvid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDDeterministic(t *testing.T) {
	s := "TACGGAGGATGCGAGCGTTATCCGGATTTATTGGGTTTAAAGGGAGCGTAG"
	id := ID(s)
	assert.Len(t, id, Len)
	assert.Equal(t, id, ID(s))
	assert.Equal(t, id, ID("tacggaggatgcgagcgttatccggatttattgggtttaaagggagcgtag"))
	// md5 -s ACGT
	assert.Equal(t, "f1f8f4bf413b16ad135722aa4591043e", ID("ACGT"))
	assert.NotEqual(t, ID("ACGT"), ID("ACGA"))
}

func TestAssignOrderIndependent(t *testing.T) {
	seqs := []string{"ACGT", "GGCC", "TTAA"}
	ids1, err := Assigner{}.Assign(seqs)
	require.NoError(t, err)
	ids2, err := Assigner{}.Assign([]string{"TTAA", "ACGT", "GGCC"})
	require.NoError(t, err)
	assert.Equal(t, ids1[0], ids2[1])
	assert.Equal(t, ids1[1], ids2[2])
	assert.Equal(t, ids1[2], ids2[0])
	assert.NoError(t, Assigner{}.Verify(ids1, seqs))
	assert.Error(t, Assigner{}.Verify([]string{ids1[1], ids1[0], ids1[2]}, seqs))
}

func TestAssignCollision(t *testing.T) {
	weak := Assigner{Hash: func(s string) string { return s[:2] }}
	_, err := weak.Assign([]string{"ACGT", "ACTT"})
	require.Error(t, err)
	collision, ok := err.(*CollisionError)
	require.True(t, ok, "%v", err)
	assert.Equal(t, "AC", collision.ID)
	assert.Equal(t, "ACGT", collision.Seq1)
	assert.Equal(t, "ACTT", collision.Seq2)
	assert.Contains(t, err.Error(), "AC")
}

func TestAssignDuplicate(t *testing.T) {
	_, err := Assigner{}.Assign([]string{"ACGT", "acgt"})
	assert.Error(t, err)
	_, ok := err.(*CollisionError)
	assert.False(t, ok)
	_, err = Assigner{}.Assign([]string{""})
	assert.Error(t, err)
}
