package encoder

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// param is one trainable weight matrix with its gradient and Adam moments.
type param struct {
	name string
	w    *mat.Dense
	grad *mat.Dense
	m    *mat.Dense
	v    *mat.Dense
}

func newParam(name string, rows, cols int) *param {
	return &param{
		name: name,
		w:    mat.NewDense(rows, cols, nil),
		grad: mat.NewDense(rows, cols, nil),
		m:    mat.NewDense(rows, cols, nil),
		v:    mat.NewDense(rows, cols, nil),
	}
}

// xavierInit fills w with Xavier-uniform values.
func (p *param) xavierInit(rng *rand.Rand) {
	rows, cols := p.w.Dims()
	limit := math.Sqrt(6.0 / float64(rows+cols))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			p.w.Set(i, j, (rng.Float64()*2-1)*limit)
		}
	}
}

func (p *param) normalInit(rng *rand.Rand, std float64) {
	rows, cols := p.w.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			p.w.Set(i, j, rng.NormFloat64()*std)
		}
	}
}

func (p *param) fill(v float64) {
	rows, cols := p.w.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			p.w.Set(i, j, v)
		}
	}
}

func (p *param) zeroGrad() {
	p.grad.Zero()
}

// adam holds optimizer state shared across all parameters.
type adam struct {
	beta1, beta2, eps float64
	weightDecay       float64
	step              int
}

func newAdam(weightDecay float64) *adam {
	return &adam{beta1: 0.9, beta2: 0.999, eps: 1e-8, weightDecay: weightDecay}
}

// update applies one Adam step to every parameter at the given learning rate.
func (a *adam) update(params []*param, lr float64) {
	a.step++
	bc1 := 1 - math.Pow(a.beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.beta2, float64(a.step))
	for _, p := range params {
		rows, cols := p.w.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				g := p.grad.At(i, j) + a.weightDecay*p.w.At(i, j)
				m := a.beta1*p.m.At(i, j) + (1-a.beta1)*g
				v := a.beta2*p.v.At(i, j) + (1-a.beta2)*g*g
				p.m.Set(i, j, m)
				p.v.Set(i, j, v)
				p.w.Set(i, j, p.w.At(i, j)-lr*(m/bc1)/(math.Sqrt(v/bc2)+a.eps))
			}
		}
	}
}

// clipGradients scales all gradients so their global L2 norm is at most
// maxNorm. Returns the pre-clip norm.
func clipGradients(params []*param, maxNorm float64) float64 {
	total := 0.0
	for _, p := range params {
		rows, cols := p.grad.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				g := p.grad.At(i, j)
				total += g * g
			}
		}
	}
	norm := math.Sqrt(total)
	if norm > maxNorm && norm > 0 {
		scale := maxNorm / norm
		for _, p := range params {
			p.grad.Scale(scale, p.grad)
		}
	}
	return norm
}

// cosineLR follows a cosine decay from base to zero across the epoch budget.
func cosineLR(base float64, epoch, totalEpochs int) float64 {
	if totalEpochs <= 1 {
		return base
	}
	return base * 0.5 * (1 + math.Cos(math.Pi*float64(epoch)/float64(totalEpochs)))
}
