package optimizer

import (
	"fmt"
	"math"

	"github.com/bachhisto/histonet/nn"
	"gonum.org/v1/gonum/mat"
)

// AdamOptimizerState is the Adam optimizer with bias-corrected moment estimates
type AdamOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Beta1        float64 // Momentum decay (typically 0.9)
	Beta2        float64 // Variance decay (typically 0.999)
	Epsilon      float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float64 // L2 regularization coefficient

	// First and second moment estimates for each parameter
	MomentumBuffers []*mat.Dense
	VarianceBuffers []*mat.Dense

	// Step tracking for bias correction
	StepCount uint64

	params []*nn.Parameter
}

// AdamConfig holds configuration for Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// NewAdamOptimizer creates an Adam optimizer over params
func NewAdamOptimizer(config AdamConfig, params []*nn.Parameter) (*AdamOptimizerState, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1): %f", config.Beta1)
	}
	if config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1): %f", config.Beta2)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}

	adam := &AdamOptimizerState{
		LearningRate:    config.LearningRate,
		Beta1:           config.Beta1,
		Beta2:           config.Beta2,
		Epsilon:         config.Epsilon,
		WeightDecay:     config.WeightDecay,
		MomentumBuffers: make([]*mat.Dense, len(params)),
		VarianceBuffers: make([]*mat.Dense, len(params)),
		params:          params,
	}
	for i, p := range params {
		r, c := p.Value.Dims()
		adam.MomentumBuffers[i] = mat.NewDense(r, c, nil)
		adam.VarianceBuffers[i] = mat.NewDense(r, c, nil)
	}
	return adam, nil
}

// Parameters returns the managed parameters
func (adam *AdamOptimizerState) Parameters() []*nn.Parameter {
	return adam.params
}

// ZeroGrad clears the gradients of every managed parameter
func (adam *AdamOptimizerState) ZeroGrad() {
	for _, p := range adam.params {
		p.ZeroGrad()
	}
}

// Step performs a single Adam optimization step. Frozen parameters are skipped.
func (adam *AdamOptimizerState) Step() error {
	adam.StepCount++
	t := float64(adam.StepCount)
	bias1 := 1 - math.Pow(adam.Beta1, t)
	bias2 := 1 - math.Pow(adam.Beta2, t)

	for i, p := range adam.params {
		if !p.RequiresGrad {
			continue
		}
		grad := p.Grad.RawMatrix().Data
		value := p.Value.RawMatrix().Data
		m := adam.MomentumBuffers[i].RawMatrix().Data
		v := adam.VarianceBuffers[i].RawMatrix().Data

		for j, g := range grad {
			if adam.WeightDecay != 0 {
				g += adam.WeightDecay * value[j]
			}
			m[j] = adam.Beta1*m[j] + (1-adam.Beta1)*g
			v[j] = adam.Beta2*v[j] + (1-adam.Beta2)*g*g
			mHat := m[j] / bias1
			vHat := v[j] / bias2
			value[j] -= adam.LearningRate * mHat / (math.Sqrt(vHat) + adam.Epsilon)
		}
	}
	return nil
}

// GetStepCount returns the current step count
func (adam *AdamOptimizerState) GetStepCount() uint64 {
	return adam.StepCount
}

// GetLearningRate returns the current learning rate
func (adam *AdamOptimizerState) GetLearningRate() float64 {
	return adam.LearningRate
}

// UpdateLearningRate updates the learning rate
func (adam *AdamOptimizerState) UpdateLearningRate(lr float64) {
	adam.LearningRate = lr
}

// GetState extracts optimizer state for checkpointing
func (adam *AdamOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "Adam",
		Parameters: map[string]float64{
			"learning_rate": adam.LearningRate,
			"beta1":         adam.Beta1,
			"beta2":         adam.Beta2,
			"epsilon":       adam.Epsilon,
			"weight_decay":  adam.WeightDecay,
			"step_count":    float64(adam.StepCount),
		},
	}
	for i := range adam.params {
		state.StateData = append(state.StateData,
			*extractBufferState(adam.MomentumBuffers[i], fmt.Sprintf("momentum_%d", i), "momentum"),
			*extractBufferState(adam.VarianceBuffers[i], fmt.Sprintf("variance_%d", i), "variance"),
		)
	}
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (adam *AdamOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("Adam", state); err != nil {
		return err
	}

	momentum := make([]*mat.Dense, len(adam.params))
	variance := make([]*mat.Dense, len(adam.params))
	for _, t := range state.StateData {
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(adam.params) {
			return fmt.Errorf("invalid buffer index in %q for %d parameters", t.Name, len(adam.params))
		}
		rows, cols := adam.params[idx].Value.Dims()
		buf, err := restoreBufferState(t, rows, cols)
		if err != nil {
			return err
		}
		switch t.StateType {
		case "momentum":
			momentum[idx] = buf
		case "variance":
			variance[idx] = buf
		default:
			return fmt.Errorf("unknown Adam state type %q", t.StateType)
		}
	}
	for i, p := range adam.params {
		if momentum[i] == nil || variance[i] == nil {
			return fmt.Errorf("missing Adam state for parameter %d (%s)", i, p.Name)
		}
	}

	adam.LearningRate = extractFloatParam(state.Parameters, "learning_rate", adam.LearningRate)
	adam.Beta1 = extractFloatParam(state.Parameters, "beta1", adam.Beta1)
	adam.Beta2 = extractFloatParam(state.Parameters, "beta2", adam.Beta2)
	adam.Epsilon = extractFloatParam(state.Parameters, "epsilon", adam.Epsilon)
	adam.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", adam.WeightDecay)
	adam.StepCount = extractUint64Param(state.Parameters, "step_count", adam.StepCount)
	adam.MomentumBuffers = momentum
	adam.VarianceBuffers = variance
	return nil
}

// Compile-time interface check
var _ Optimizer = (*AdamOptimizerState)(nil)

// New builds the named optimizer ("sgd", "adam" or "rmsprop") with the given
// learning rate. momentum applies to SGD and RMSProp.
func New(name string, lr, momentum float64, params []*nn.Parameter) (Optimizer, error) {
	switch name {
	case "", "sgd", "SGD":
		config := DefaultSGDConfig()
		config.LearningRate = lr
		config.Momentum = momentum
		sgd, err := NewSGDOptimizer(config, params)
		if err != nil {
			return nil, err
		}
		return sgd, nil
	case "adam", "Adam":
		config := DefaultAdamConfig()
		config.LearningRate = lr
		adam, err := NewAdamOptimizer(config, params)
		if err != nil {
			return nil, err
		}
		return adam, nil
	case "rmsprop", "RMSProp":
		config := DefaultRMSPropConfig()
		config.LearningRate = lr
		config.Momentum = momentum
		rmsprop, err := NewRMSPropOptimizer(config, params)
		if err != nil {
			return nil, err
		}
		return rmsprop, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", name)
	}
}
