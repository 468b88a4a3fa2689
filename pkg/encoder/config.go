// Package encoder implements the behavioral sequence encoder: a small
// pre-norm self-attention network that maps a customer's event sequence to
// a fixed-width behavioral fingerprint, trained with a batch-wise
// contrastive objective.
package encoder

import "github.com/rs/zerolog"

// Config describes the encoder architecture and training schedule. The
// architecture fields must match between training and inference; they are
// persisted with every checkpoint.
type Config struct {
	DModel       int     `json:"d_model"`
	NHeads       int     `json:"n_heads"`
	NLayers      int     `json:"n_layers"`
	DFF          int     `json:"d_ff"`
	Dropout      float64 `json:"dropout"`
	MaxSeqLen    int     `json:"max_seq_len"`
	NEventTypes  int     `json:"n_event_types"`
	NNumerical   int     `json:"n_numerical"`
	OutputDim    int     `json:"output_dim"`
	LearningRate float64 `json:"learning_rate"`
	WeightDecay  float64 `json:"weight_decay"`
	BatchSize    int     `json:"batch_size"`
	Epochs       int     `json:"epochs"`
	Temperature  float64 `json:"temperature"`
	ClipNorm     float64 `json:"clip_norm"`
	Seed         int64   `json:"seed"`

	Logger zerolog.Logger `json:"-"`
}

func (c *Config) applyDefaults() {
	if c.DModel == 0 {
		c.DModel = 128
	}
	if c.NHeads == 0 {
		c.NHeads = 8
	}
	if c.NLayers == 0 {
		c.NLayers = 4
	}
	if c.DFF == 0 {
		c.DFF = 512
	}
	if c.Dropout == 0 {
		c.Dropout = 0.1
	}
	if c.MaxSeqLen == 0 {
		c.MaxSeqLen = 512
	}
	if c.NEventTypes == 0 {
		c.NEventTypes = 64
	}
	if c.NNumerical == 0 {
		c.NNumerical = 8
	}
	if c.OutputDim == 0 {
		c.OutputDim = 64
	}
	if c.LearningRate == 0 {
		c.LearningRate = 1e-4
	}
	if c.WeightDecay == 0 {
		c.WeightDecay = 1e-5
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.Epochs == 0 {
		c.Epochs = 50
	}
	if c.Temperature == 0 {
		c.Temperature = 0.07
	}
	if c.ClipNorm == 0 {
		c.ClipNorm = 1.0
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
}
