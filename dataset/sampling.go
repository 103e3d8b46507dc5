package dataset

import (
	"math"
	"math/rand"
	"sort"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// TrainTestSplit shuffles the cells and returns the first int(n*trainFrac)
// as the training set and the rest as the validation set.
func TrainTestSplit(a *AnnData, trainFrac float64, rng *rand.Rand) (train, valid *AnnData, err error) {
	if trainFrac < 0 || trainFrac > 1 {
		return nil, nil, errors.Errorf("train fraction %v outside [0, 1]", trainFrac)
	}
	n := a.NObs()
	trainSize := int(float64(n) * trainFrac)
	perm := rng.Perm(n)
	return a.Subset(perm[:trainSize]), a.Subset(perm[trainSize:]), nil
}

// Subsample keeps int(frac*n) cells drawn without replacement. The kept
// cells stay in their original order.
func Subsample(a *AnnData, frac float64, rng *rand.Rand) (*AnnData, error) {
	if frac < 0 || frac > 1 {
		return nil, errors.Errorf("subsample fraction %v outside [0, 1]", frac)
	}
	n := a.NObs()
	keep := int(frac * float64(n))
	idx := rng.Perm(n)[:keep]
	sort.Ints(idx)
	return a.Subset(idx), nil
}

// LibrarySizes returns the total count per cell
func LibrarySizes(x mat.Matrix) []float64 {
	n, g := x.Dims()
	sizes := make([]float64, n)
	row := make([]float64, g)
	for i := 0; i < n; i++ {
		mat.Row(row, i, x)
		sizes[i] = floats.Sum(row)
	}
	return sizes
}

// SizeFactors returns each cell's library size divided by the median library
// size, the per-cell scaling the count likelihood applies to its mean.
func SizeFactors(x mat.Matrix) ([]float64, error) {
	sizes := LibrarySizes(x)
	if len(sizes) == 0 {
		return nil, errors.New("cannot compute size factors of an empty matrix")
	}
	median, err := stats.Median(sizes)
	if err != nil {
		return nil, errors.Wrap(err, "median library size")
	}
	if median <= 0 {
		return nil, errors.Errorf("median library size is %v, expected raw counts", median)
	}
	for i := range sizes {
		sizes[i] /= median
		// empty cells would give a zero mean; treat them as median-sized
		if sizes[i] == 0 {
			sizes[i] = 1
		}
	}
	return sizes, nil
}

// NormalizeLog1p returns log(1 + x / sf) row by row
func NormalizeLog1p(x mat.Matrix, sizeFactors []float64) *mat.Dense {
	n, g := x.Dims()
	out := mat.NewDense(n, g, nil)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] = math.Log1p(x.At(i, j) / sizeFactors[i])
		}
	}
	return out
}
