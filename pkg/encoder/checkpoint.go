package encoder

import (
	"fmt"

	"github.com/bytedance/sonic"
	"gonum.org/v1/gonum/mat"
)

// checkpoint carries everything needed to reconstruct an identical encoder:
// the architecture configuration plus all parameter values.
type checkpoint struct {
	Version string               `json:"version"`
	Config  Config               `json:"config"`
	Params  map[string][]float64 `json:"params"`
}

// Save serializes the encoder's parameters and configuration.
func (e *Encoder) Save() ([]byte, error) {
	ck := checkpoint{
		Version: e.version,
		Config:  e.cfg,
		Params:  make(map[string][]float64, len(e.params)),
	}
	for _, p := range e.params {
		rows, cols := p.w.Dims()
		flat := make([]float64, 0, rows*cols)
		for i := 0; i < rows; i++ {
			flat = append(flat, mat.Row(nil, i, p.w)...)
		}
		ck.Params[p.name] = flat
	}
	data, err := sonic.Marshal(ck)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return data, nil
}

// Load reconstructs an encoder from a checkpoint produced by Save.
// Re-running inference on the same sequence yields the same fingerprint.
func Load(data []byte) (*Encoder, error) {
	var ck checkpoint
	if err := sonic.Unmarshal(data, &ck); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}

	e, err := New(ck.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild architecture: %w", err)
	}
	if ck.Version != "" {
		e.version = ck.Version
	}

	for _, p := range e.params {
		flat, ok := ck.Params[p.name]
		if !ok {
			return nil, fmt.Errorf("checkpoint missing parameter %s", p.name)
		}
		rows, cols := p.w.Dims()
		if len(flat) != rows*cols {
			return nil, fmt.Errorf("parameter %s has %d values, want %d", p.name, len(flat), rows*cols)
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				p.w.Set(i, j, flat[i*cols+j])
			}
		}
	}
	return e, nil
}
