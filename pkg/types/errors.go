package types

import (
	"errors"
	"fmt"
)

// ErrInsufficientData marks inputs too small to produce a result. Callers
// that document silent-skip behavior (zero-order customers, short sequences,
// short histories) never surface it; everything else treats it as a hard
// failure of the run.
var ErrInsufficientData = errors.New("insufficient data")

// ConfigurationError reports a malformed configuration item. The offending
// item is skipped or defaulted and the run continues.
type ConfigurationError struct {
	Item   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Item, e.Reason)
}

// TrainingDivergenceError reports a non-finite training loss. It terminates
// the run; there is no automatic recovery.
type TrainingDivergenceError struct {
	Epoch int
	Batch int
	Loss  float64
}

func (e *TrainingDivergenceError) Error() string {
	return fmt.Sprintf("training diverged at epoch %d batch %d: loss=%v", e.Epoch, e.Batch, e.Loss)
}
