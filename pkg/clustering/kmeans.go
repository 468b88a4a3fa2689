package clustering

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

const kmeansRestarts = 10

// kmeansBestK clusters with k-means, choosing k over [3, min(kMax, n/5)] by
// silhouette score. Every point is assigned; there is no noise label.
func kmeansBestK(x *mat.Dense, kMax int, rng *rand.Rand) []int {
	n, _ := x.Dims()
	upper := n / 5
	if upper > kMax {
		upper = kMax
	}

	bestK := 0
	bestScore := math.Inf(-1)
	for k := 3; k <= upper; k++ {
		labels := kmeans(x, k, rng)
		if countDistinct(labels) < 2 {
			continue
		}
		score := silhouetteScore(x, labels)
		if score > bestScore {
			bestScore = score
			bestK = k
		}
	}
	if bestK == 0 {
		// Candidate range was empty or degenerate; split in two so every
		// caller still gets a full assignment with at least 2 groups.
		bestK = 2
		if n < 2 {
			bestK = 1
		}
	}
	return kmeans(x, bestK, rng)
}

// kmeans runs Lloyd's algorithm with several random restarts, keeping the
// assignment with the lowest within-cluster sum of squares.
func kmeans(x *mat.Dense, k int, rng *rand.Rand) []int {
	n, cols := x.Dims()
	if k > n {
		k = n
	}

	bestLabels := make([]int, n)
	bestInertia := math.Inf(1)

	for restart := 0; restart < kmeansRestarts; restart++ {
		centers := make([][]float64, k)
		for c, idx := range rng.Perm(n)[:k] {
			centers[c] = mat.Row(nil, idx, x)
		}

		labels := make([]int, n)
		for iter := 0; iter < 100; iter++ {
			changed := false
			for i := 0; i < n; i++ {
				best := 0
				bestD := math.Inf(1)
				for c := 0; c < k; c++ {
					d := sqDist(mat.Row(nil, i, x), centers[c])
					if d < bestD {
						bestD = d
						best = c
					}
				}
				if labels[i] != best {
					labels[i] = best
					changed = true
				}
			}
			if !changed && iter > 0 {
				break
			}
			counts := make([]int, k)
			sums := make([][]float64, k)
			for c := range sums {
				sums[c] = make([]float64, cols)
			}
			for i := 0; i < n; i++ {
				counts[labels[i]]++
				row := mat.Row(nil, i, x)
				for j, v := range row {
					sums[labels[i]][j] += v
				}
			}
			for c := 0; c < k; c++ {
				if counts[c] == 0 {
					// Re-seed empty clusters from a random point.
					centers[c] = mat.Row(nil, rng.Intn(n), x)
					continue
				}
				for j := range sums[c] {
					centers[c][j] = sums[c][j] / float64(counts[c])
				}
			}
		}

		inertia := 0.0
		for i := 0; i < n; i++ {
			inertia += sqDist(mat.Row(nil, i, x), centers[labels[i]])
		}
		if inertia < bestInertia {
			bestInertia = inertia
			copy(bestLabels, labels)
		}
	}
	return bestLabels
}

// silhouetteScore is the mean silhouette coefficient over all points.
func silhouetteScore(x *mat.Dense, labels []int) float64 {
	n, _ := x.Dims()
	dist := pairwiseDistances(x)

	members := make(map[int][]int)
	for i, l := range labels {
		members[l] = append(members[l], i)
	}
	if len(members) < 2 {
		return 0
	}

	total := 0.0
	for i := 0; i < n; i++ {
		own := members[labels[i]]
		if len(own) <= 1 {
			continue
		}
		a := 0.0
		for _, j := range own {
			if j != i {
				a += dist[i][j]
			}
		}
		a /= float64(len(own) - 1)

		b := math.Inf(1)
		for l, pts := range members {
			if l == labels[i] {
				continue
			}
			mean := 0.0
			for _, j := range pts {
				mean += dist[i][j]
			}
			mean /= float64(len(pts))
			if mean < b {
				b = mean
			}
		}
		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(n)
}

func sqDist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func countDistinct(labels []int) int {
	seen := make(map[int]struct{})
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}
