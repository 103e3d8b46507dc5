package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func toyAnnData(t *testing.T) *AnnData {
	t.Helper()
	x := mat.NewDense(6, 2, []float64{
		0, 1,
		2, 3,
		4, 5,
		6, 7,
		8, 9,
		10, 11,
	})
	a, err := New(x, nil, []string{"GeneA", "GeneB"})
	require.NoError(t, err)
	require.NoError(t, a.SetColumn("batch", []string{"Batch1", "Batch8", "Batch2", "Batch9", "Batch1", "Batch8"}))
	require.NoError(t, a.SetColumn("cell_type", []string{"T", "B", "T", "NK", "B", "T"}))
	a.Numeric["n_counts"] = []float64{1, 5, 9, 13, 17, 21}
	return a
}

func TestNewCategorical(t *testing.T) {
	c := NewCategorical([]string{"b", "a", "b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, c.Categories)
	assert.Equal(t, []int{1, 0, 1, 2}, c.Codes)
	assert.Equal(t, []string{"b", "a", "b", "c"}, c.Values())

	c.Codes[0] = -1
	assert.Equal(t, "", c.Value(0))
}

func TestNewValidatesNames(t *testing.T) {
	x := mat.NewDense(2, 3, nil)
	_, err := New(x, []string{"only-one"}, nil)
	assert.Error(t, err)
	_, err = New(x, nil, []string{"g1"})
	assert.Error(t, err)
	_, err = New(nil, nil, nil)
	assert.Error(t, err)

	a, err := New(x, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, a.ObsNames)
	assert.Equal(t, []string{"0", "1", "2"}, a.VarNames)
}

func TestSubsetCopiesRowsAndColumns(t *testing.T) {
	a := toyAnnData(t)
	s := a.Subset([]int{3, 0})

	n, g := s.Shape()
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, g)
	assert.Equal(t, []float64{6, 7}, s.X.RawRowView(0))
	assert.Equal(t, []string{"3", "0"}, s.ObsNames)
	assert.Equal(t, []float64{13, 1}, s.Numeric["n_counts"])

	batches, err := s.Labels("batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"Batch9", "Batch1"}, batches)

	s.X.Set(0, 0, -1)
	assert.Equal(t, 6.0, a.X.At(3, 0), "subset must not alias the parent")

	empty := a.Subset(nil)
	assert.Equal(t, 0, empty.NObs())
}

func TestPartitionIsDisjoint(t *testing.T) {
	a := toyAnnData(t)
	target, reference, err := a.Partition("batch", []string{"Batch8", "Batch9"})
	require.NoError(t, err)

	assert.Equal(t, a.NObs(), target.NObs()+reference.NObs())
	tb, _ := target.Labels("batch")
	for _, b := range tb {
		assert.Contains(t, []string{"Batch8", "Batch9"}, b)
	}
	rb, _ := reference.Labels("batch")
	for _, b := range rb {
		assert.NotContains(t, []string{"Batch8", "Batch9"}, b)
	}

	seen := map[string]bool{}
	for _, name := range append(target.ObsNames, reference.ObsNames...) {
		assert.False(t, seen[name], "cell %s in both partitions", name)
		seen[name] = true
	}

	_, _, err = a.Partition("condition", []string{"x"})
	assert.Error(t, err)
}

func TestUniqueAndIsIn(t *testing.T) {
	a := toyAnnData(t)
	u, err := a.Unique("batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"Batch1", "Batch8", "Batch2", "Batch9"}, u)

	mask, err := a.IsIn("cell_type", []string{"NK"})
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, false, true, false, false}, mask)

	assert.Equal(t, []string{"batch", "cell_type"}, a.ColumnNames())
	assert.Error(t, a.SetColumn("short", []string{"a"}))
}
