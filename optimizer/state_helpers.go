package optimizer

import (
	"fmt"

	"github.com/bachhisto/histonet/checkpoints"
	"gonum.org/v1/gonum/mat"
)

// Common helper functions for optimizer state management

// extractBufferState copies a single buffer into a state tensor
func extractBufferState(buffer *mat.Dense, name string, stateType string) *checkpoints.OptimizerTensor {
	if buffer == nil {
		return nil
	}
	t := checkpoints.TensorFromDense(name, stateType, buffer)
	return &t
}

// restoreBufferState rebuilds a buffer from a state tensor, checking it against the parameter shape
func restoreBufferState(t checkpoints.OptimizerTensor, rows, cols int) (*mat.Dense, error) {
	m, err := t.Dense()
	if err != nil {
		return nil, fmt.Errorf("failed to restore %s: %w", t.Name, err)
	}
	r, c := m.Dims()
	if r != rows || c != cols {
		return nil, fmt.Errorf("shape mismatch for %s: expected [%d %d], got [%d %d]", t.Name, rows, cols, r, c)
	}
	return m, nil
}

// extractFloatParam safely extracts a float parameter from the state map
func extractFloatParam(params map[string]float64, key string, defaultValue float64) float64 {
	if val, ok := params[key]; ok {
		return val
	}
	return defaultValue
}

// extractBoolParam extracts a bool stored as 0 or 1
func extractBoolParam(params map[string]float64, key string, defaultValue bool) bool {
	if val, ok := params[key]; ok {
		return val != 0
	}
	return defaultValue
}

// extractUint64Param safely extracts a uint64 parameter from the state map
func extractUint64Param(params map[string]float64, key string, defaultValue uint64) uint64 {
	if val, ok := params[key]; ok && val >= 0 {
		return uint64(val)
	}
	return defaultValue
}

func boolParam(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
