package encoder

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"customerintel/pkg/sequence"
)

// Encoder is the temporal behavioral model. One instance owns its parameters
// and random state; runs are independent when each run owns its Encoder.
type Encoder struct {
	cfg     Config
	rng     *rand.Rand
	log     zerolog.Logger
	version string

	typeEmb           *param
	numW, numB        *param
	projW, projB      *param
	embGamma, embBeta *param
	cls               *param
	layers            []*encoderLayer
	headW1, headB1    *param
	headW2, headB2    *param
	pe                *mat.Dense
	params            []*param
}

type encoderLayer struct {
	wq, bq, wk, bk, wv, bv, wo, bo *param
	ln1g, ln1b, ln2g, ln2b         *param
	w1, b1, w2, b2                 *param
}

// New constructs an Encoder with freshly initialized parameters.
func New(cfg Config) (*Encoder, error) {
	cfg.applyDefaults()
	if cfg.DModel%2 != 0 {
		return nil, fmt.Errorf("d_model must be even, got %d", cfg.DModel)
	}
	if cfg.DModel%cfg.NHeads != 0 {
		return nil, fmt.Errorf("d_model %d not divisible by n_heads %d", cfg.DModel, cfg.NHeads)
	}

	e := &Encoder{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		log:     cfg.Logger.With().Str("component", "encoder").Logger(),
		version: fmt.Sprintf("tbt-d%d-l%d-o%d", cfg.DModel, cfg.NLayers, cfg.OutputDim),
	}

	half := cfg.DModel / 2
	e.typeEmb = newParam("type_emb", cfg.NEventTypes, half)
	e.numW = newParam("num_w", cfg.NNumerical, half)
	e.numB = newParam("num_b", 1, half)
	e.projW = newParam("proj_w", cfg.DModel, cfg.DModel)
	e.projB = newParam("proj_b", 1, cfg.DModel)
	e.embGamma = newParam("emb_gamma", 1, cfg.DModel)
	e.embBeta = newParam("emb_beta", 1, cfg.DModel)
	e.cls = newParam("cls", 1, cfg.DModel)

	for l := 0; l < cfg.NLayers; l++ {
		layer := &encoderLayer{
			wq: newParam(fmt.Sprintf("l%d_wq", l), cfg.DModel, cfg.DModel),
			bq: newParam(fmt.Sprintf("l%d_bq", l), 1, cfg.DModel),
			wk: newParam(fmt.Sprintf("l%d_wk", l), cfg.DModel, cfg.DModel),
			bk: newParam(fmt.Sprintf("l%d_bk", l), 1, cfg.DModel),
			wv: newParam(fmt.Sprintf("l%d_wv", l), cfg.DModel, cfg.DModel),
			bv: newParam(fmt.Sprintf("l%d_bv", l), 1, cfg.DModel),
			wo: newParam(fmt.Sprintf("l%d_wo", l), cfg.DModel, cfg.DModel),
			bo: newParam(fmt.Sprintf("l%d_bo", l), 1, cfg.DModel),

			ln1g: newParam(fmt.Sprintf("l%d_ln1g", l), 1, cfg.DModel),
			ln1b: newParam(fmt.Sprintf("l%d_ln1b", l), 1, cfg.DModel),
			ln2g: newParam(fmt.Sprintf("l%d_ln2g", l), 1, cfg.DModel),
			ln2b: newParam(fmt.Sprintf("l%d_ln2b", l), 1, cfg.DModel),

			w1: newParam(fmt.Sprintf("l%d_ff_w1", l), cfg.DModel, cfg.DFF),
			b1: newParam(fmt.Sprintf("l%d_ff_b1", l), 1, cfg.DFF),
			w2: newParam(fmt.Sprintf("l%d_ff_w2", l), cfg.DFF, cfg.DModel),
			b2: newParam(fmt.Sprintf("l%d_ff_b2", l), 1, cfg.DModel),
		}
		e.layers = append(e.layers, layer)
	}

	e.headW1 = newParam("head_w1", cfg.DModel, cfg.DModel)
	e.headB1 = newParam("head_b1", 1, cfg.DModel)
	e.headW2 = newParam("head_w2", cfg.DModel, cfg.OutputDim)
	e.headB2 = newParam("head_b2", 1, cfg.OutputDim)

	e.collectParams()
	e.initWeights()
	e.pe = positionalEncoding(cfg.MaxSeqLen+1, cfg.DModel)
	return e, nil
}

func (e *Encoder) collectParams() {
	e.params = []*param{
		e.typeEmb, e.numW, e.numB, e.projW, e.projB, e.embGamma, e.embBeta, e.cls,
	}
	for _, l := range e.layers {
		e.params = append(e.params,
			l.wq, l.bq, l.wk, l.bk, l.wv, l.bv, l.wo, l.bo,
			l.ln1g, l.ln1b, l.ln2g, l.ln2b,
			l.w1, l.b1, l.w2, l.b2,
		)
	}
	e.params = append(e.params, e.headW1, e.headB1, e.headW2, e.headB2)
}

func (e *Encoder) initWeights() {
	for _, p := range e.params {
		rows, cols := p.w.Dims()
		if rows > 1 && cols > 1 {
			p.xavierInit(e.rng)
		}
	}
	e.embGamma.fill(1)
	for _, l := range e.layers {
		l.ln1g.fill(1)
		l.ln2g.fill(1)
	}
	e.cls.normalInit(e.rng, 1)
}

// Version identifies the model architecture; fingerprints are comparable
// only within one version.
func (e *Encoder) Version() string { return e.version }

// Config returns a copy of the encoder configuration.
func (e *Encoder) Config() Config { return e.cfg }

// CountParameters returns the number of trainable scalars.
func (e *Encoder) CountParameters() int {
	n := 0
	for _, p := range e.params {
		rows, cols := p.w.Dims()
		n += rows * cols
	}
	return n
}

func positionalEncoding(maxLen, dModel int) *mat.Dense {
	pe := mat.NewDense(maxLen, dModel, nil)
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dModel; i += 2 {
			div := math.Exp(float64(i) * -math.Log(10000) / float64(dModel))
			pe.Set(pos, i, math.Sin(float64(pos)*div))
			if i+1 < dModel {
				pe.Set(pos, i+1, math.Cos(float64(pos)*div))
			}
		}
	}
	return pe
}

// Batch is a padded mini-batch of sequences. Mask is true at padded
// positions, which never contribute to attention.
type Batch struct {
	CustomerIDs []string
	EventTypes  [][]int
	Numerical   [][][]float64
	Mask        [][]bool
	Lens        []int
}

// PrepareBatch pads the given sequences to the longest length in the batch
// (capped at MaxSeqLen, keeping the most recent events) and normalizes each
// event's numeric context to the configured width.
func (e *Encoder) PrepareBatch(seqs []sequence.Sequence) Batch {
	maxLen := 0
	for _, s := range seqs {
		if s.Len() > maxLen {
			maxLen = s.Len()
		}
	}
	if maxLen > e.cfg.MaxSeqLen {
		maxLen = e.cfg.MaxSeqLen
	}

	b := Batch{
		CustomerIDs: make([]string, len(seqs)),
		EventTypes:  make([][]int, len(seqs)),
		Numerical:   make([][][]float64, len(seqs)),
		Mask:        make([][]bool, len(seqs)),
		Lens:        make([]int, len(seqs)),
	}
	for i, s := range seqs {
		et := s.EventTypes
		nf := s.Numerical
		if len(et) > maxLen {
			et = et[len(et)-maxLen:]
			nf = nf[len(nf)-maxLen:]
		}
		b.CustomerIDs[i] = s.CustomerID
		b.Lens[i] = len(et)
		b.EventTypes[i] = make([]int, maxLen)
		b.Numerical[i] = make([][]float64, maxLen)
		b.Mask[i] = make([]bool, maxLen)
		for t := 0; t < maxLen; t++ {
			b.Numerical[i][t] = make([]float64, e.cfg.NNumerical)
			if t < len(et) {
				b.EventTypes[i][t] = clampTypeID(et[t], e.cfg.NEventTypes)
				copy(b.Numerical[i][t], nf[t])
			} else {
				b.EventTypes[i][t] = sequence.PadTypeID
				b.Mask[i][t] = true
			}
		}
	}
	return b
}

func clampTypeID(id, vocab int) int {
	if id < 0 || id >= vocab {
		return sequence.UnknownTypeID % vocab
	}
	return id
}

// seqCache is the forward tape for one sequence, consumed by backward.
type seqCache struct {
	et []int
	nf *mat.Dense

	combined *mat.Dense
	proj     *mat.Dense
	embLN    *lnCache

	x0      *mat.Dense
	posDrop *dropMask

	layers []*layerCache

	xFinal   *mat.Dense
	clsRow   *mat.Dense
	h1Pre    *mat.Dense
	h1       *mat.Dense
	headDrop *dropMask
}

type layerCache struct {
	x   *mat.Dense
	a   *mat.Dense
	ln1 *lnCache

	q, k, v  *mat.Dense
	attnSoft []*mat.Dense
	attnW    []*mat.Dense
	attnDrop []*dropMask
	headsOut *mat.Dense
	attnPre  *mat.Dense
	attnMask *dropMask
	x1       *mat.Dense

	c      *mat.Dense
	ln2    *lnCache
	ffPre  *mat.Dense
	ffAct  *mat.Dense
	ffOut  *mat.Dense
	ffMask *dropMask
}

// forward runs one unpadded sequence through the network. The padded batch
// representation masks a strict suffix, so each member reduces to its valid
// prefix.
func (e *Encoder) forward(et []int, nf [][]float64, training bool) ([]float64, *seqCache) {
	cfg := e.cfg
	T := len(et)
	half := cfg.DModel / 2

	cache := &seqCache{et: et}
	cache.nf = mat.NewDense(T, cfg.NNumerical, nil)
	for t := 0; t < T; t++ {
		for j := 0; j < cfg.NNumerical && j < len(nf[t]); j++ {
			cache.nf.Set(t, j, nf[t][j])
		}
	}

	// Event embedding: type lookup ∥ numeric projection, projected and normed.
	numEmb := linear(cache.nf, e.numW.w, e.numB.w)
	cache.combined = mat.NewDense(T, cfg.DModel, nil)
	for t := 0; t < T; t++ {
		for j := 0; j < half; j++ {
			cache.combined.Set(t, j, e.typeEmb.w.At(et[t], j))
			cache.combined.Set(t, half+j, numEmb.At(t, j))
		}
	}
	cache.proj = linear(cache.combined, e.projW.w, e.projB.w)
	embOut, embLN := layerNorm(cache.proj, e.embGamma.w, e.embBeta.w)
	cache.embLN = embLN

	// Prepend CLS, add positions, dropout.
	x := mat.NewDense(T+1, cfg.DModel, nil)
	for j := 0; j < cfg.DModel; j++ {
		x.Set(0, j, e.cls.w.At(0, j)+e.pe.At(0, j))
	}
	for t := 0; t < T; t++ {
		for j := 0; j < cfg.DModel; j++ {
			x.Set(t+1, j, embOut.At(t, j)+e.pe.At(t+1, j))
		}
	}
	x, cache.posDrop = dropout(x, cfg.Dropout, e.rng, training)
	cache.x0 = x

	for _, layer := range e.layers {
		var lc *layerCache
		x, lc = e.layerForward(layer, x, training)
		cache.layers = append(cache.layers, lc)
	}
	cache.xFinal = x

	// CLS pooling through the feed-forward head.
	cls := mat.NewDense(1, cfg.DModel, nil)
	for j := 0; j < cfg.DModel; j++ {
		cls.Set(0, j, x.At(0, j))
	}
	cache.clsRow = cls
	cache.h1Pre = linear(cls, e.headW1.w, e.headB1.w)
	h1 := gelu(cache.h1Pre)
	h1, cache.headDrop = dropout(h1, cfg.Dropout, e.rng, training)
	cache.h1 = h1
	out := linear(h1, e.headW2.w, e.headB2.w)

	fp := make([]float64, cfg.OutputDim)
	for j := 0; j < cfg.OutputDim; j++ {
		fp[j] = out.At(0, j)
	}
	return fp, cache
}

func (e *Encoder) layerForward(l *encoderLayer, x *mat.Dense, training bool) (*mat.Dense, *layerCache) {
	cfg := e.cfg
	rows, _ := x.Dims()
	dh := cfg.DModel / cfg.NHeads
	scale := 1.0 / math.Sqrt(float64(dh))

	lc := &layerCache{x: x}
	lc.a, lc.ln1 = layerNorm(x, l.ln1g.w, l.ln1b.w)
	lc.q = linear(lc.a, l.wq.w, l.bq.w)
	lc.k = linear(lc.a, l.wk.w, l.bk.w)
	lc.v = linear(lc.a, l.wv.w, l.bv.w)

	lc.headsOut = mat.NewDense(rows, cfg.DModel, nil)
	for h := 0; h < cfg.NHeads; h++ {
		qh := lc.q.Slice(0, rows, h*dh, (h+1)*dh).(*mat.Dense)
		kh := lc.k.Slice(0, rows, h*dh, (h+1)*dh).(*mat.Dense)
		vh := lc.v.Slice(0, rows, h*dh, (h+1)*dh).(*mat.Dense)

		scores := mat.NewDense(rows, rows, nil)
		scores.Mul(qh, kh.T())
		scores.Scale(scale, scores)
		soft := softmaxRows(scores)
		attn, am := dropout(soft, cfg.Dropout, e.rng, training)
		lc.attnSoft = append(lc.attnSoft, soft)
		lc.attnW = append(lc.attnW, attn)
		lc.attnDrop = append(lc.attnDrop, am)

		var oh mat.Dense
		oh.Mul(attn, vh)
		lc.headsOut.Slice(0, rows, h*dh, (h+1)*dh).(*mat.Dense).Copy(&oh)
	}

	lc.attnPre = linear(lc.headsOut, l.wo.w, l.bo.w)
	attnOut, attnMask := dropout(lc.attnPre, cfg.Dropout, e.rng, training)
	lc.attnMask = attnMask

	lc.x1 = mat.NewDense(rows, cfg.DModel, nil)
	lc.x1.Add(x, attnOut)

	lc.c, lc.ln2 = layerNorm(lc.x1, l.ln2g.w, l.ln2b.w)
	lc.ffPre = linear(lc.c, l.w1.w, l.b1.w)
	lc.ffAct = gelu(lc.ffPre)
	lc.ffOut = linear(lc.ffAct, l.w2.w, l.b2.w)
	ff, ffMask := dropout(lc.ffOut, cfg.Dropout, e.rng, training)
	lc.ffMask = ffMask

	out := mat.NewDense(rows, cfg.DModel, nil)
	out.Add(lc.x1, ff)
	return out, lc
}

// backward accumulates parameter gradients for one sequence given the
// gradient of the loss with respect to its fingerprint.
func (e *Encoder) backward(cache *seqCache, dFP []float64) {
	cfg := e.cfg
	T := len(cache.et)
	half := cfg.DModel / 2

	dOut := mat.NewDense(1, cfg.OutputDim, dFP)
	dH1 := linearBackward(cache.h1, e.headW2.w, dOut, e.headW2.grad, e.headB2.grad)
	dH1 = dropoutBackward(dH1, cache.headDrop)
	dH1Pre := geluBackward(cache.h1Pre, dH1)
	dCls := linearBackward(cache.clsRow, e.headW1.w, dH1Pre, e.headW1.grad, e.headB1.grad)

	dX := mat.NewDense(T+1, cfg.DModel, nil)
	for j := 0; j < cfg.DModel; j++ {
		dX.Set(0, j, dCls.At(0, j))
	}

	for i := len(e.layers) - 1; i >= 0; i-- {
		dX = e.layerBackward(e.layers[i], cache.layers[i], dX)
	}

	dX = dropoutBackward(dX, cache.posDrop)

	// CLS parameter takes position 0; embeddings take the rest.
	for j := 0; j < cfg.DModel; j++ {
		e.cls.grad.Set(0, j, e.cls.grad.At(0, j)+dX.At(0, j))
	}
	dEmbOut := mat.NewDense(T, cfg.DModel, nil)
	for t := 0; t < T; t++ {
		for j := 0; j < cfg.DModel; j++ {
			dEmbOut.Set(t, j, dX.At(t+1, j))
		}
	}

	dProj := layerNormBackward(dEmbOut, cache.embLN, e.embGamma.w, e.embGamma.grad, e.embBeta.grad)
	dCombined := linearBackward(cache.combined, e.projW.w, dProj, e.projW.grad, e.projB.grad)

	dNumEmb := mat.NewDense(T, half, nil)
	for t := 0; t < T; t++ {
		for j := 0; j < half; j++ {
			e.typeEmb.grad.Set(cache.et[t], j, e.typeEmb.grad.At(cache.et[t], j)+dCombined.At(t, j))
			dNumEmb.Set(t, j, dCombined.At(t, half+j))
		}
	}
	linearBackward(cache.nf, e.numW.w, dNumEmb, e.numW.grad, e.numB.grad)
}

func (e *Encoder) layerBackward(l *encoderLayer, lc *layerCache, dOut *mat.Dense) *mat.Dense {
	cfg := e.cfg
	rows, _ := dOut.Dims()
	dh := cfg.DModel / cfg.NHeads
	scale := 1.0 / math.Sqrt(float64(dh))

	// Residual: out = x1 + dropout(ffOut)
	dFF := dropoutBackward(dOut, lc.ffMask)
	dFFAct := linearBackward(lc.ffAct, l.w2.w, dFF, l.w2.grad, l.b2.grad)
	dFFPre := geluBackward(lc.ffPre, dFFAct)
	dC := linearBackward(lc.c, l.w1.w, dFFPre, l.w1.grad, l.b1.grad)
	dX1 := layerNormBackward(dC, lc.ln2, l.ln2g.w, l.ln2g.grad, l.ln2b.grad)
	dX1.Add(dX1, dOut)

	// Residual: x1 = x + dropout(attnPre)
	dAttnPre := dropoutBackward(dX1, lc.attnMask)
	dHeads := linearBackward(lc.headsOut, l.wo.w, dAttnPre, l.wo.grad, l.bo.grad)

	dQ := mat.NewDense(rows, cfg.DModel, nil)
	dK := mat.NewDense(rows, cfg.DModel, nil)
	dV := mat.NewDense(rows, cfg.DModel, nil)
	for h := 0; h < cfg.NHeads; h++ {
		qh := lc.q.Slice(0, rows, h*dh, (h+1)*dh).(*mat.Dense)
		kh := lc.k.Slice(0, rows, h*dh, (h+1)*dh).(*mat.Dense)
		vh := lc.v.Slice(0, rows, h*dh, (h+1)*dh).(*mat.Dense)
		attn := lc.attnW[h]
		dOh := dHeads.Slice(0, rows, h*dh, (h+1)*dh).(*mat.Dense)

		// oh = attn · vh
		var dAttn mat.Dense
		dAttn.Mul(dOh, vh.T())
		var dVh mat.Dense
		dVh.Mul(attn.T(), dOh)

		dAttnPost := dropoutBackward(&dAttn, lc.attnDrop[h])
		dScores := softmaxRowsBackward(lc.attnSoft[h], dAttnPost)
		dScores.Scale(scale, dScores)

		var dQh, dKh mat.Dense
		dQh.Mul(dScores, kh)
		dKh.Mul(dScores.T(), qh)

		dQ.Slice(0, rows, h*dh, (h+1)*dh).(*mat.Dense).Copy(&dQh)
		dK.Slice(0, rows, h*dh, (h+1)*dh).(*mat.Dense).Copy(&dKh)
		dV.Slice(0, rows, h*dh, (h+1)*dh).(*mat.Dense).Copy(&dVh)
	}

	dA := linearBackward(lc.a, l.wq.w, dQ, l.wq.grad, l.bq.grad)
	dAk := linearBackward(lc.a, l.wk.w, dK, l.wk.grad, l.bk.grad)
	dAv := linearBackward(lc.a, l.wv.w, dV, l.wv.grad, l.bv.grad)
	dA.Add(dA, dAk)
	dA.Add(dA, dAv)

	dX := layerNormBackward(dA, lc.ln1, l.ln1g.w, l.ln1g.grad, l.ln1b.grad)
	dX.Add(dX, dX1)
	return dX
}

// Fingerprint runs inference on a single sequence with dropout disabled.
func (e *Encoder) Fingerprint(seq sequence.Sequence) []float64 {
	b := e.PrepareBatch([]sequence.Sequence{seq})
	fp, _ := e.forward(b.EventTypes[0][:b.Lens[0]], b.Numerical[0][:b.Lens[0]], false)
	return fp
}
