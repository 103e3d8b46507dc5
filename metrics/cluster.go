package metrics

import (
	"fmt"
	"math"
	"sort"

	"github.com/biogo/cluster/kmeans"
	"gonum.org/v1/gonum/mat"
)

// DefaultNInit is the number of k-means restarts used by ARI and NMI
const DefaultNInit = 200

// rows adapts a matrix to the biogo cluster.Interface
type rows struct {
	m *mat.Dense
}

func (r rows) Len() int {
	n, _ := r.m.Dims()
	return n
}

func (r rows) Values(i int) []float64 { return r.m.RawRowView(i) }

// KMeans clusters the rows of x into k groups, keeping the best of nInit
// restarts by within-cluster sum of squares. It returns one label per row.
func KMeans(x *mat.Dense, k, nInit int) ([]int, error) {
	n, _ := x.Dims()
	if k <= 0 || k > n {
		return nil, fmt.Errorf("cannot form %d clusters from %d points", k, n)
	}
	if nInit <= 0 {
		nInit = 1
	}

	data := rows{m: x}
	best := math.Inf(1)
	var bestLabels []int
	for run := 0; run < nInit; run++ {
		km, err := kmeans.New(data)
		if err != nil {
			return nil, fmt.Errorf("k-means: %v", err)
		}
		km.Seed(k)
		if err := km.Cluster(); err != nil {
			return nil, fmt.Errorf("k-means: %v", err)
		}

		labels := make([]int, n)
		inertia := 0.0
		for ci, c := range km.Centers() {
			center := c.V()
			for _, m := range c.Members() {
				labels[m] = ci
				inertia += squaredDistance(data.Values(m), center)
			}
		}
		if inertia < best {
			best = inertia
			bestLabels = labels
		}
	}
	return bestLabels, nil
}

func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// ARI clusters latent with k-means (k = number of distinct labels) and
// returns the adjusted Rand index of the clustering against labels.
func ARI(latent *mat.Dense, labels []string, nInit int) (float64, error) {
	truth, pred, err := clusterAgainst(latent, labels, nInit)
	if err != nil {
		return 0, err
	}
	return AdjustedRandIndex(truth, pred), nil
}

// NMI is ARI's counterpart for normalized mutual information
func NMI(latent *mat.Dense, labels []string, nInit int) (float64, error) {
	truth, pred, err := clusterAgainst(latent, labels, nInit)
	if err != nil {
		return 0, err
	}
	return NormalizedMutualInfo(truth, pred), nil
}

func clusterAgainst(latent *mat.Dense, labels []string, nInit int) ([]int, []int, error) {
	n, _ := latent.Dims()
	if n != len(labels) {
		return nil, nil, fmt.Errorf("latent has %d cells but %d labels", n, len(labels))
	}
	truth, k := encodeLabels(labels)
	pred, err := KMeans(latent, k, nInit)
	if err != nil {
		return nil, nil, err
	}
	return truth, pred, nil
}

// encodeLabels maps labels to 0..k-1 in sorted order
func encodeLabels(labels []string) ([]int, int) {
	distinct := make(map[string]int)
	for _, l := range labels {
		distinct[l] = 0
	}
	sorted := make([]string, 0, len(distinct))
	for l := range distinct {
		sorted = append(sorted, l)
	}
	sort.Strings(sorted)
	for i, l := range sorted {
		distinct[l] = i
	}
	codes := make([]int, len(labels))
	for i, l := range labels {
		codes[i] = distinct[l]
	}
	return codes, len(sorted)
}

// contingency counts co-occurrences of truth and pred labels
type contingency struct {
	n     int
	cells map[[2]int]int
	rows  map[int]int
	cols  map[int]int
}

func newContingency(truth, pred []int) *contingency {
	c := &contingency{
		n:     len(truth),
		cells: make(map[[2]int]int),
		rows:  make(map[int]int),
		cols:  make(map[int]int),
	}
	for i := range truth {
		c.cells[[2]int{truth[i], pred[i]}]++
		c.rows[truth[i]]++
		c.cols[pred[i]]++
	}
	return c
}

func comb2(n int) float64 {
	return float64(n) * float64(n-1) / 2
}

// AdjustedRandIndex compares two labelings of the same items. Identical
// partitions score 1, independent ones score about 0.
func AdjustedRandIndex(truth, pred []int) float64 {
	c := newContingency(truth, pred)
	if c.n <= 1 {
		return 1
	}

	var sumCells, sumRows, sumCols float64
	for _, v := range c.cells {
		sumCells += comb2(v)
	}
	for _, v := range c.rows {
		sumRows += comb2(v)
	}
	for _, v := range c.cols {
		sumCols += comb2(v)
	}

	expected := sumRows * sumCols / comb2(c.n)
	maxIndex := (sumRows + sumCols) / 2
	if maxIndex == expected {
		// one cluster each, or every item in its own cluster
		return 1
	}
	return (sumCells - expected) / (maxIndex - expected)
}

// NormalizedMutualInfo returns I(U;V) / ((H(U) + H(V)) / 2)
func NormalizedMutualInfo(truth, pred []int) float64 {
	c := newContingency(truth, pred)
	if len(c.rows) == len(c.cols) && len(c.rows) <= 1 {
		return 1
	}

	n := float64(c.n)
	mi := 0.0
	for key, v := range c.cells {
		nij := float64(v)
		mi += nij / n * math.Log(n*nij/(float64(c.rows[key[0]])*float64(c.cols[key[1]])))
	}
	if mi <= 0 {
		return 0
	}

	hTruth := marginalEntropy(c.rows, n)
	hPred := marginalEntropy(c.cols, n)
	normalizer := math.Max((hTruth+hPred)/2, math.SmallestNonzeroFloat64)
	return mi / normalizer
}

func marginalEntropy(counts map[int]int, n float64) float64 {
	h := 0.0
	for _, v := range counts {
		p := float64(v) / n
		h -= p * math.Log(p)
	}
	return h
}
