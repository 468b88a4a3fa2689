package clustering

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// densityCluster groups points in dense regions and labels the rest noise
// (-1). It works on mutual reachability distances so sparse bridge points do
// not chain unrelated dense regions together: each point's core distance is
// its distance to the minSamples-th neighbor, the working distance between
// two points is max(core(a), core(b), d(a, b)), and region growing uses a
// threshold taken from the core-distance distribution. Clusters smaller than
// minClusterSize are demoted to noise.
func densityCluster(x *mat.Dense, minClusterSize, minSamples int, epsQuantile float64) []int {
	n, _ := x.Dims()
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	if n == 0 {
		return labels
	}
	if minSamples < 1 {
		minSamples = 1
	}
	if minSamples >= n {
		return labels
	}

	dist := pairwiseDistances(x)

	// Core distance: distance to the minSamples-th nearest neighbor.
	core := make([]float64, n)
	buf := make([]float64, n)
	for i := 0; i < n; i++ {
		copy(buf, dist[i])
		sort.Float64s(buf)
		core[i] = buf[minSamples] // buf[0] is the self distance
	}

	sortedCore := append([]float64(nil), core...)
	sort.Float64s(sortedCore)
	eps := sortedCore[int(epsQuantile*float64(n-1))]

	reach := func(a, b int) float64 {
		return math.Max(dist[a][b], math.Max(core[a], core[b]))
	}

	// Region growing from core points.
	next := 0
	visited := make([]bool, n)
	for i := 0; i < n; i++ {
		if visited[i] || core[i] > eps {
			continue
		}
		queue := []int{i}
		visited[i] = true
		var member []int
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			member = append(member, p)
			if core[p] > eps {
				continue // border point, absorbed but not expanded
			}
			for q := 0; q < n; q++ {
				if !visited[q] && reach(p, q) <= eps {
					visited[q] = true
					queue = append(queue, q)
				}
			}
		}
		if len(member) >= minClusterSize {
			for _, p := range member {
				labels[p] = next
			}
			next++
		}
	}
	return labels
}

func pairwiseDistances(x *mat.Dense) [][]float64 {
	n, cols := x.Dims()
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum := 0.0
			for c := 0; c < cols; c++ {
				d := x.At(i, c) - x.At(j, c)
				sum += d * d
			}
			d := math.Sqrt(sum)
			dist[i][j] = d
			dist[j][i] = d
		}
	}
	return dist
}

func countClusters(labels []int) int {
	seen := make(map[int]struct{})
	for _, l := range labels {
		if l >= 0 {
			seen[l] = struct{}{}
		}
	}
	return len(seen)
}
