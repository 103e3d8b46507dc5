// Package metrics scores how well a latent embedding integrates batches.
// Every metric treats the batch label of a cell as its group.
package metrics

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// EBMOptions configures EntropyBatchMixing
type EBMOptions struct {
	NNeighbors      int // neighbours per cell, excluding the cell itself
	NPools          int // 1 averages every cell; >1 averages NPools random means
	NSamplesPerPool int // cells drawn (with replacement) per pool
	MaxCells        int // cells are subsampled to at most this many, 0 keeps all
}

// DefaultEBMOptions returns the benchmark setting: 50 neighbours, a single
// pool, at most 2000 cells.
func DefaultEBMOptions() EBMOptions {
	return EBMOptions{
		NNeighbors:      50,
		NPools:          1,
		NSamplesPerPool: 100,
		MaxCells:        2000,
	}
}

// EntropyBatchMixing computes, for every cell, the Shannon entropy (natural
// log) of the label counts among its nearest neighbours, and averages it.
// Higher is better mixed; two perfectly mixed labels approach ln 2.
func EntropyBatchMixing(latent *mat.Dense, labels []string, opts EBMOptions, rng *rand.Rand) (float64, error) {
	n, _ := latent.Dims()
	if n != len(labels) {
		return 0, fmt.Errorf("latent has %d cells but %d labels", n, len(labels))
	}
	if n < 2 {
		return 0, fmt.Errorf("need at least 2 cells for batch mixing, got %d", n)
	}

	keep := identity(n)
	if opts.MaxCells > 0 && n > opts.MaxCells {
		keep = rng.Perm(n)[:opts.MaxCells]
	}

	k := opts.NNeighbors
	if k <= 0 || k > len(keep)-1 {
		k = len(keep) - 1
	}

	pts := make(cells, len(keep))
	codes, _ := encodeLabels(labels)
	sampleCodes := make([]int, len(keep))
	for i, r := range keep {
		pts[i] = cell{x: latent.RawRowView(r), idx: i}
		sampleCodes[i] = codes[r]
	}
	queries := append(cells(nil), pts...)
	tree := kdtree.New(pts, false)

	entropies := make([]float64, len(queries))
	for i, q := range queries {
		neighbours := nearest(tree, q, k)
		counts := make(map[int]int)
		for _, j := range neighbours {
			counts[sampleCodes[j]]++
		}
		entropies[i] = entropy(counts, len(neighbours))
	}

	if opts.NPools <= 1 {
		return stats.Mean(entropies)
	}

	size := opts.NSamplesPerPool
	if size <= 0 {
		size = 100
	}
	poolMeans := make([]float64, opts.NPools)
	sample := make([]float64, size)
	for p := range poolMeans {
		for s := range sample {
			sample[s] = entropies[rng.Intn(len(entropies))]
		}
		m, err := stats.Mean(sample)
		if err != nil {
			return 0, err
		}
		poolMeans[p] = m
	}
	return stats.Mean(poolMeans)
}

// nearest returns the indices of the k nearest neighbours of q, excluding q
// itself. When q was crowded out by duplicates the farthest candidate is
// dropped instead.
func nearest(tree *kdtree.Tree, q cell, k int) []int {
	keeper := kdtree.NewNKeeper(k + 1)
	tree.NearestSet(keeper, q)

	found := make([]kdtree.ComparableDist, 0, k+1)
	for _, cd := range keeper.Heap {
		if cd.Comparable != nil {
			found = append(found, cd)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].Dist < found[j].Dist })

	out := make([]int, 0, k)
	for _, cd := range found {
		if c := cd.Comparable.(cell); c.idx != q.idx && len(out) < k {
			out = append(out, c.idx)
		}
	}
	return out
}

func entropy(counts map[int]int, total int) float64 {
	if total == 0 {
		return 0
	}
	h := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		h -= p * math.Log(p)
	}
	return h
}

func identity(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// cell is a latent vector that remembers its row so neighbours can be mapped
// back to labels after the tree reorders its points.
type cell struct {
	x   []float64
	idx int
}

func (c cell) Compare(o kdtree.Comparable, d kdtree.Dim) float64 {
	return c.x[d] - o.(cell).x[d]
}

func (c cell) Dims() int { return len(c.x) }

// Distance returns the squared Euclidean distance
func (c cell) Distance(o kdtree.Comparable) float64 {
	q := o.(cell)
	var sum float64
	for i, v := range c.x {
		d := v - q.x[i]
		sum += d * d
	}
	return sum
}

type cells []cell

func (c cells) Index(i int) kdtree.Comparable         { return c[i] }
func (c cells) Len() int                              { return len(c) }
func (c cells) Slice(start, end int) kdtree.Interface { return c[start:end] }
func (c cells) Pivot(d kdtree.Dim) int {
	return cellPlane{Dim: d, cells: c}.pivot()
}

// cellPlane orders cells along one dimension for median partitioning
type cellPlane struct {
	kdtree.Dim
	cells
}

func (p cellPlane) Less(i, j int) bool { return p.cells[i].x[p.Dim] < p.cells[j].x[p.Dim] }
func (p cellPlane) Swap(i, j int)      { p.cells[i], p.cells[j] = p.cells[j], p.cells[i] }
func (p cellPlane) Slice(start, end int) kdtree.SortSlicer {
	p.cells = p.cells[start:end]
	return p
}
func (p cellPlane) pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}
