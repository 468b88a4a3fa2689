package encoder

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"customerintel/pkg/sequence"
	"customerintel/pkg/types"
)

// MetricLogger receives scalar training metrics per epoch. It is satisfied
// by the model registry; a nil logger disables metric recording.
type MetricLogger interface {
	LogMetric(name string, value float64, step int) error
}

// TrainResult reports the outcome of a training run.
type TrainResult struct {
	Epochs      int
	FinalLoss   float64
	LossByEpoch []float64
}

// EpochHook is invoked after every epoch, giving the scheduler a cooperative
// checkpoint between epochs.
type EpochHook func(epoch int, loss float64)

// Train fits the encoder on the given sequences with the batch-wise
// contrastive objective. It returns a TrainingDivergenceError when the loss
// becomes non-finite and stops cleanly between epochs when ctx is cancelled,
// keeping the most recent epoch's parameters.
func (e *Encoder) Train(ctx context.Context, seqs []sequence.Sequence, metrics MetricLogger, hook EpochHook) (*TrainResult, error) {
	if len(seqs) < 2 {
		return nil, fmt.Errorf("training needs at least 2 sequences, got %d: %w", len(seqs), types.ErrInsufficientData)
	}
	cfg := e.cfg
	opt := newAdam(cfg.WeightDecay)

	e.log.Info().
		Int("sequences", len(seqs)).
		Int("parameters", e.CountParameters()).
		Int("epochs", cfg.Epochs).
		Msg("starting encoder training")

	result := &TrainResult{}
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			e.log.Warn().Int("epoch", epoch).Msg("training cancelled between epochs")
			result.Epochs = epoch
			return result, nil
		default:
		}

		lr := cosineLR(cfg.LearningRate, epoch, cfg.Epochs)
		epochLoss := 0.0
		nBatches := 0

		for start := 0; start < len(seqs); start += cfg.BatchSize {
			end := start + cfg.BatchSize
			if end > len(seqs) {
				end = len(seqs)
			}
			batch := seqs[start:end]
			if len(batch) < 2 {
				continue
			}

			loss, err := e.trainStep(batch, opt, lr, epoch, nBatches)
			if err != nil {
				return nil, err
			}
			epochLoss += loss
			nBatches++
		}

		avgLoss := epochLoss / math.Max(float64(nBatches), 1)
		result.LossByEpoch = append(result.LossByEpoch, avgLoss)
		result.FinalLoss = avgLoss
		result.Epochs = epoch + 1

		if metrics != nil {
			if err := metrics.LogMetric("train_loss", avgLoss, epoch); err != nil {
				e.log.Warn().Err(err).Int("epoch", epoch).Msg("metric logging failed")
			}
		}
		if epoch%10 == 0 {
			e.log.Info().Int("epoch", epoch).Float64("loss", avgLoss).Float64("lr", lr).Msg("training epoch")
		}
		if hook != nil {
			hook(epoch, avgLoss)
		}
	}
	return result, nil
}

func (e *Encoder) trainStep(batch []sequence.Sequence, opt *adam, lr float64, epoch, batchIdx int) (float64, error) {
	for _, p := range e.params {
		p.zeroGrad()
	}

	prepared := e.PrepareBatch(batch)
	fps := mat.NewDense(len(batch), e.cfg.OutputDim, nil)
	caches := make([]*seqCache, len(batch))
	for i := range batch {
		fp, cache := e.forward(prepared.EventTypes[i][:prepared.Lens[i]], prepared.Numerical[i][:prepared.Lens[i]], true)
		fps.SetRow(i, fp)
		caches[i] = cache
	}

	loss, dFPs := contrastiveLoss(fps, e.cfg.Temperature)
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, &types.TrainingDivergenceError{Epoch: epoch, Batch: batchIdx, Loss: loss}
	}

	for i := range batch {
		e.backward(caches[i], mat.Row(nil, i, dFPs))
	}
	clipGradients(e.params, e.cfg.ClipNorm)
	opt.update(e.params, lr)
	return loss, nil
}

// contrastiveLoss treats every sequence in the batch as its own class:
// L2-normalized fingerprints, scaled pairwise similarities, cross-entropy
// against identity labels. Returns the loss and dL/dFingerprints.
func contrastiveLoss(fps *mat.Dense, temperature float64) (float64, *mat.Dense) {
	n, d := fps.Dims()

	norms := make([]float64, n)
	z := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := 0; j < d; j++ {
			v := fps.At(i, j)
			sum += v * v
		}
		norms[i] = math.Sqrt(sum) + 1e-12
		for j := 0; j < d; j++ {
			z.Set(i, j, fps.At(i, j)/norms[i])
		}
	}

	sim := mat.NewDense(n, n, nil)
	sim.Mul(z, z.T())
	sim.Scale(1/temperature, sim)

	probs := softmaxRows(sim)
	loss := 0.0
	for i := 0; i < n; i++ {
		loss += -math.Log(probs.At(i, i) + 1e-12)
	}
	loss /= float64(n)

	// dL/dSim = (probs - I) / n
	dSim := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			g := probs.At(i, j) / float64(n)
			if i == j {
				g -= 1.0 / float64(n)
			}
			dSim.Set(i, j, g)
		}
	}

	// sim = z·zᵀ/τ, so dL/dz = (dSim + dSimᵀ)·z / τ
	var sym mat.Dense
	sym.Add(dSim, dSim.T())
	var dZ mat.Dense
	dZ.Mul(&sym, z)
	dZ.Scale(1/temperature, &dZ)

	// Through the L2 normalization: df = (dz - z(z·dz)) / ‖f‖
	dFPs := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		dot := 0.0
		for j := 0; j < d; j++ {
			dot += z.At(i, j) * dZ.At(i, j)
		}
		for j := 0; j < d; j++ {
			dFPs.Set(i, j, (dZ.At(i, j)-z.At(i, j)*dot)/norms[i])
		}
	}
	return loss, dFPs
}
