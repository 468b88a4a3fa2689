package clustering

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Reducer projects fingerprints onto a lower-dimensional space. An external
// manifold implementation (neighbor-graph based, cosine metric) can be
// injected through Config.Reducer; the in-tree default is the linear PCA
// fallback.
type Reducer interface {
	// Reduce fits on X (rows are samples) and returns the embedding with at
	// most dims columns. Fit once per run, never incrementally.
	Reduce(x *mat.Dense, dims int) (*mat.Dense, error)
}

// ReductionStrategy tags the reducer resolved for a run.
type ReductionStrategy string

const (
	ReductionManifold         ReductionStrategy = "manifold-reduction"
	ReductionLinearProjection ReductionStrategy = "linear-projection"
)

// pcaReducer is the variance-maximizing linear projection.
type pcaReducer struct{}

func (pcaReducer) Reduce(x *mat.Dense, dims int) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if rows == 0 {
		return nil, fmt.Errorf("cannot reduce empty matrix")
	}
	if dims > cols {
		dims = cols
	}
	if dims > rows {
		dims = rows
	}

	centered := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		mean := 0.0
		for i := 0; i < rows; i++ {
			mean += x.At(i, j)
		}
		mean /= float64(rows)
		for i := 0; i < rows; i++ {
			centered.Set(i, j, x.At(i, j)-mean)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDThin); !ok {
		return nil, fmt.Errorf("SVD factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)

	vr, _ := v.Dims()
	components := v.Slice(0, vr, 0, dims)

	out := mat.NewDense(rows, dims, nil)
	out.Mul(centered, components)
	return out, nil
}
