package metrics

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ASW returns the average silhouette width of latent grouped by labels,
// using Euclidean distance. Cells alone in their group score 0.
func ASW(latent *mat.Dense, labels []string) (float64, error) {
	n, _ := latent.Dims()
	if n != len(labels) {
		return 0, fmt.Errorf("latent has %d cells but %d labels", n, len(labels))
	}
	codes, k := encodeLabels(labels)
	if k < 2 || k > n-1 {
		return 0, fmt.Errorf("silhouette needs 2 <= labels <= cells-1, got %d labels for %d cells", k, n)
	}

	sizes := make([]int, k)
	for _, c := range codes {
		sizes[c]++
	}

	scores := make([]float64, n)
	sums := make([]float64, k)
	for i := 0; i < n; i++ {
		for c := range sums {
			sums[c] = 0
		}
		xi := latent.RawRowView(i)
		for j := 0; j < n; j++ {
			if i != j {
				sums[codes[j]] += floats.Distance(xi, latent.RawRowView(j), 2)
			}
		}

		own := codes[i]
		if sizes[own] == 1 {
			continue
		}
		a := sums[own] / float64(sizes[own]-1)
		b := math.Inf(1)
		for c := range sums {
			if c != own && sizes[c] > 0 {
				b = math.Min(b, sums[c]/float64(sizes[c]))
			}
		}
		if d := math.Max(a, b); d > 0 {
			scores[i] = (b - a) / d
		}
	}
	return stats.Mean(scores)
}

// Result holds the four integration scores of one embedding
type Result struct {
	EBM float64
	ASW float64
	ARI float64
	NMI float64
}

// Options bundles the settings of all four metrics
type Options struct {
	EBM   EBMOptions
	NInit int
}

// DefaultOptions returns the benchmark settings
func DefaultOptions() Options {
	return Options{EBM: DefaultEBMOptions(), NInit: DefaultNInit}
}

// Evaluate computes all four metrics of latent against labels
func Evaluate(latent *mat.Dense, labels []string, opts Options, rng *rand.Rand) (Result, error) {
	var r Result
	var err error
	if r.EBM, err = EntropyBatchMixing(latent, labels, opts.EBM, rng); err != nil {
		return r, fmt.Errorf("entropy of batch mixing: %v", err)
	}
	if r.ASW, err = ASW(latent, labels); err != nil {
		return r, fmt.Errorf("silhouette: %v", err)
	}
	if r.ARI, err = ARI(latent, labels, opts.NInit); err != nil {
		return r, fmt.Errorf("adjusted rand index: %v", err)
	}
	if r.NMI, err = NMI(latent, labels, opts.NInit); err != nil {
		return r, fmt.Errorf("normalized mutual information: %v", err)
	}
	return r, nil
}
