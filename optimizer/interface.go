package optimizer

import (
	"fmt"

	"github.com/bachhisto/histonet/checkpoints"
	"github.com/bachhisto/histonet/nn"
)

// Optimizer defines the common interface for all optimizers.
// The interface enables state save/restore for checkpoint functionality.
type Optimizer interface {
	// Parameters returns the parameter set the optimizer updates
	Parameters() []*nn.Parameter

	// ZeroGrad clears the gradients of every managed parameter
	ZeroGrad()

	// Step performs a single optimization step from the accumulated gradients
	Step() error

	// GetState extracts optimizer state for checkpointing
	GetState() (*OptimizerState, error)

	// LoadState restores optimizer state from checkpoint
	LoadState(state *OptimizerState) error

	// GetStepCount returns the current optimization step number
	GetStepCount() uint64

	// GetLearningRate returns the current learning rate
	GetLearningRate() float64

	// UpdateLearningRate updates the learning rate
	UpdateLearningRate(lr float64)
}

// OptimizerState represents the complete state of an optimizer
// Compatible with checkpoints.OptimizerState for serialization
type OptimizerState struct {
	Type       string                        `json:"type"`       // "SGD"
	Parameters map[string]float64            `json:"parameters"` // Hyperparameters
	StateData  []checkpoints.OptimizerTensor `json:"state_data"` // Per-parameter state tensors
}

// ToCheckpoint converts the state for serialization
func (s *OptimizerState) ToCheckpoint() *checkpoints.OptimizerState {
	cs := checkpoints.OptimizerState(*s)
	return &cs
}

// StateFromCheckpoint converts a deserialized optimizer state
func StateFromCheckpoint(cs *checkpoints.OptimizerState) *OptimizerState {
	if cs == nil {
		return nil
	}
	s := OptimizerState(*cs)
	return &s
}

// Common helper functions for state extraction

// extractBufferIndex extracts the buffer index from state tensor names like "momentum_0"
func extractBufferIndex(name string) int {
	var idx int
	lastUnderscoreIdx := -1
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '_' {
			lastUnderscoreIdx = i
			break
		}
	}

	if lastUnderscoreIdx == -1 {
		return -1
	}

	if n, err := fmt.Sscanf(name[lastUnderscoreIdx+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}

// validateStateType ensures the state type matches the optimizer
func validateStateType(optimizerType string, state *OptimizerState) error {
	if state == nil {
		return fmt.Errorf("optimizer state is nil")
	}
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}
