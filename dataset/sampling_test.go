package dataset

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func rangeAnnData(t *testing.T, n int) *AnnData {
	t.Helper()
	x := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, float64(i))
	}
	a, err := New(x, nil, nil)
	require.NoError(t, err)
	return a
}

func TestTrainTestSplit(t *testing.T) {
	tests := []struct {
		n         int
		frac      float64
		trainSize int
	}{
		{100, 0.85, 85},
		{7, 0.85, 5},
		{1, 0.85, 0},
		{10, 1.0, 10},
	}
	rng := rand.New(rand.NewSource(1))
	for _, test := range tests {
		a := rangeAnnData(t, test.n)
		train, valid, err := TrainTestSplit(a, test.frac, rng)
		require.NoError(t, err)
		assert.Equal(t, test.trainSize, train.NObs())
		assert.Equal(t, test.n-test.trainSize, valid.NObs())

		var all []string
		all = append(all, train.ObsNames...)
		all = append(all, valid.ObsNames...)
		sort.Strings(all)
		expected := append([]string(nil), a.ObsNames...)
		sort.Strings(expected)
		assert.Equal(t, expected, all)
	}

	_, _, err := TrainTestSplit(rangeAnnData(t, 3), 1.5, rng)
	assert.Error(t, err)
}

func TestSubsampleCumulativeSizes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	a := rangeAnnData(t, 1000)

	// Each fraction applies to the previous subsample, not to the original
	expected := []int{1000, 800, 480, 192, 38}
	current := a
	for i, frac := range []float64{1.0, 0.8, 0.6, 0.4, 0.2} {
		var err error
		current, err = Subsample(current, frac, rng)
		require.NoError(t, err)
		assert.Equal(t, expected[i], current.NObs(), "fraction %v", frac)
	}

	_, err := Subsample(a, -0.1, rng)
	assert.Error(t, err)
}

func TestSubsampleKeepsOrderWithoutReplacement(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s, err := Subsample(rangeAnnData(t, 50), 0.5, rng)
	require.NoError(t, err)

	prev := -1.0
	for i := 0; i < s.NObs(); i++ {
		v := s.X.At(i, 0)
		assert.Greater(t, v, prev)
		prev = v
	}
}

func TestSizeFactors(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{
		1, 1, // 2
		2, 2, // 4
		4, 4, // 8
	})
	sf, err := SizeFactors(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 1, 2}, sf, 1e-12)

	_, err = SizeFactors(mat.NewDense(2, 2, nil))
	assert.Error(t, err)

	norm := NormalizeLog1p(x, sf)
	assert.InDelta(t, math.Log1p(2), norm.At(0, 0), 1e-12)
	assert.InDelta(t, math.Log1p(2), norm.At(2, 1), 1e-12)
}
