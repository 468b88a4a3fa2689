package encoder

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// linear computes x·w + b where b is a 1×cols row repeated over rows.
func linear(x, w, b *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	_, cols := w.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Mul(x, w)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, out.At(i, j)+b.At(0, j))
		}
	}
	return out
}

// linearBackward accumulates dW and dB and returns dX for out = x·w + b.
func linearBackward(x, w *mat.Dense, dOut *mat.Dense, dW, dB *mat.Dense) *mat.Dense {
	var tmp mat.Dense
	tmp.Mul(x.T(), dOut)
	dW.Add(dW, &tmp)

	rows, cols := dOut.Dims()
	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += dOut.At(i, j)
		}
		dB.Set(0, j, dB.At(0, j)+sum)
	}

	xr, _ := x.Dims()
	wr, _ := w.Dims()
	dX := mat.NewDense(xr, wr, nil)
	dX.Mul(dOut, w.T())
	return dX
}

// lnCache stores what layer-norm backward needs.
type lnCache struct {
	xhat   *mat.Dense
	invStd []float64
}

// layerNorm normalizes each row of x and applies gain/bias.
func layerNorm(x *mat.Dense, gamma, beta *mat.Dense) (*mat.Dense, *lnCache) {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	cache := &lnCache{xhat: mat.NewDense(rows, cols, nil), invStd: make([]float64, rows)}
	for i := 0; i < rows; i++ {
		mean := 0.0
		for j := 0; j < cols; j++ {
			mean += x.At(i, j)
		}
		mean /= float64(cols)
		variance := 0.0
		for j := 0; j < cols; j++ {
			d := x.At(i, j) - mean
			variance += d * d
		}
		variance /= float64(cols)
		inv := 1.0 / math.Sqrt(variance+1e-5)
		cache.invStd[i] = inv
		for j := 0; j < cols; j++ {
			xh := (x.At(i, j) - mean) * inv
			cache.xhat.Set(i, j, xh)
			out.Set(i, j, xh*gamma.At(0, j)+beta.At(0, j))
		}
	}
	return out, cache
}

// layerNormBackward accumulates dGamma/dBeta and returns dX.
func layerNormBackward(dOut *mat.Dense, cache *lnCache, gamma, dGamma, dBeta *mat.Dense) *mat.Dense {
	rows, cols := dOut.Dims()
	dX := mat.NewDense(rows, cols, nil)
	n := float64(cols)
	for i := 0; i < rows; i++ {
		sumDxhat := 0.0
		sumDxhatXhat := 0.0
		for j := 0; j < cols; j++ {
			dy := dOut.At(i, j)
			xh := cache.xhat.At(i, j)
			dGamma.Set(0, j, dGamma.At(0, j)+dy*xh)
			dBeta.Set(0, j, dBeta.At(0, j)+dy)
			dxh := dy * gamma.At(0, j)
			sumDxhat += dxh
			sumDxhatXhat += dxh * xh
		}
		inv := cache.invStd[i]
		for j := 0; j < cols; j++ {
			dxh := dOut.At(i, j) * gamma.At(0, j)
			xh := cache.xhat.At(i, j)
			dX.Set(i, j, inv/n*(n*dxh-sumDxhat-xh*sumDxhatXhat))
		}
	}
	return dX
}

const geluConst = 0.044715

// gelu applies the tanh-approximated GELU elementwise.
func gelu(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	c := math.Sqrt(2.0 / math.Pi)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := x.At(i, j)
			u := c * (v + geluConst*v*v*v)
			out.Set(i, j, 0.5*v*(1+math.Tanh(u)))
		}
	}
	return out
}

// geluBackward returns dX given the pre-activation input.
func geluBackward(x, dOut *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	dX := mat.NewDense(rows, cols, nil)
	c := math.Sqrt(2.0 / math.Pi)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := x.At(i, j)
			u := c * (v + geluConst*v*v*v)
			t := math.Tanh(u)
			sech2 := 1 - t*t
			d := 0.5*(1+t) + 0.5*v*sech2*c*(1+3*geluConst*v*v)
			dX.Set(i, j, dOut.At(i, j)*d)
		}
	}
	return dX
}

// softmaxRows applies a row-wise softmax in place-safe fashion.
func softmaxRows(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		maxV := x.At(i, 0)
		for j := 1; j < cols; j++ {
			if x.At(i, j) > maxV {
				maxV = x.At(i, j)
			}
		}
		sum := 0.0
		for j := 0; j < cols; j++ {
			e := math.Exp(x.At(i, j) - maxV)
			out.Set(i, j, e)
			sum += e
		}
		for j := 0; j < cols; j++ {
			out.Set(i, j, out.At(i, j)/sum)
		}
	}
	return out
}

// softmaxRowsBackward returns dX for y = softmaxRows(x), given y and dY.
func softmaxRowsBackward(y, dY *mat.Dense) *mat.Dense {
	rows, cols := y.Dims()
	dX := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		dot := 0.0
		for j := 0; j < cols; j++ {
			dot += dY.At(i, j) * y.At(i, j)
		}
		for j := 0; j < cols; j++ {
			dX.Set(i, j, y.At(i, j)*(dY.At(i, j)-dot))
		}
	}
	return dX
}

// dropMask is an inverted-dropout mask reused by the backward pass.
type dropMask struct {
	keep  []bool
	scale float64
	cols  int
}

// dropout zeroes each element with probability p and rescales the rest.
// Returns the (possibly identity) output and the mask; mask is nil when
// dropout is disabled.
func dropout(x *mat.Dense, p float64, rng *rand.Rand, training bool) (*mat.Dense, *dropMask) {
	if !training || p <= 0 {
		return x, nil
	}
	rows, cols := x.Dims()
	mask := &dropMask{keep: make([]bool, rows*cols), scale: 1 / (1 - p), cols: cols}
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if rng.Float64() >= p {
				mask.keep[i*cols+j] = true
				out.Set(i, j, x.At(i, j)*mask.scale)
			}
		}
	}
	return out, mask
}

// dropoutBackward applies the stored mask to the gradient.
func dropoutBackward(dOut *mat.Dense, mask *dropMask) *mat.Dense {
	if mask == nil {
		return dOut
	}
	rows, cols := dOut.Dims()
	dX := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if mask.keep[i*cols+j] {
				dX.Set(i, j, dOut.At(i, j)*mask.scale)
			}
		}
	}
	return dX
}
