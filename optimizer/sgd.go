package optimizer

import (
	"fmt"

	"github.com/bachhisto/histonet/nn"
	"gonum.org/v1/gonum/mat"
)

// SGDOptimizerState is stochastic gradient descent with optional momentum, dampening,
// weight decay and Nesterov momentum. Momentum buffers are created on the first step
// from the raw gradient, then updated as buf = momentum*buf + (1-dampening)*grad.
type SGDOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Momentum     float64 // Momentum coefficient (0 for vanilla SGD)
	Dampening    float64
	WeightDecay  float64 // L2 regularization coefficient
	Nesterov     bool    // Whether to use Nesterov momentum

	// Momentum buffers, nil until a parameter's first step
	MomentumBuffers []*mat.Dense

	// Step tracking
	StepCount uint64

	params []*nn.Parameter
}

// SGDConfig holds configuration for SGD optimizer
type SGDConfig struct {
	LearningRate float64
	Momentum     float64
	Dampening    float64
	WeightDecay  float64
	Nesterov     bool
}

// DefaultSGDConfig returns default SGD optimizer configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		LearningRate: 0.01,
		Momentum:     0.0,
		Dampening:    0.0,
		WeightDecay:  0.0,
		Nesterov:     false,
	}
}

// Validate checks the configuration parameters
func (c SGDConfig) Validate() error {
	if c.LearningRate < 0 {
		return fmt.Errorf("learning rate cannot be negative: %f", c.LearningRate)
	}
	if c.Momentum < 0 {
		return fmt.Errorf("momentum cannot be negative: %f", c.Momentum)
	}
	if c.Momentum > 1.0 {
		return fmt.Errorf("momentum cannot be greater than 1.0: %f", c.Momentum)
	}
	if c.WeightDecay < 0 {
		return fmt.Errorf("weight decay cannot be negative: %f", c.WeightDecay)
	}
	if c.Nesterov && (c.Momentum <= 0 || c.Dampening != 0) {
		return fmt.Errorf("nesterov momentum requires a momentum and zero dampening")
	}
	return nil
}

// NewSGDOptimizer creates an SGD optimizer over params
func NewSGDOptimizer(config SGDConfig, params []*nn.Parameter) (*SGDOptimizerState, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &SGDOptimizerState{
		LearningRate:    config.LearningRate,
		Momentum:        config.Momentum,
		Dampening:       config.Dampening,
		WeightDecay:     config.WeightDecay,
		Nesterov:        config.Nesterov,
		MomentumBuffers: make([]*mat.Dense, len(params)),
		params:          params,
	}, nil
}

// Parameters returns the managed parameters
func (sgd *SGDOptimizerState) Parameters() []*nn.Parameter {
	return sgd.params
}

// ZeroGrad clears the gradients of every managed parameter
func (sgd *SGDOptimizerState) ZeroGrad() {
	for _, p := range sgd.params {
		p.ZeroGrad()
	}
}

// Step performs a single SGD optimization step. Frozen parameters are skipped.
func (sgd *SGDOptimizerState) Step() error {
	for i, p := range sgd.params {
		if !p.RequiresGrad {
			continue
		}

		dp := mat.DenseCopyOf(p.Grad)
		if sgd.WeightDecay != 0 {
			dp.Add(dp, scaled(sgd.WeightDecay, p.Value))
		}

		if sgd.Momentum != 0 {
			buf := sgd.MomentumBuffers[i]
			if buf == nil {
				buf = mat.DenseCopyOf(dp)
				sgd.MomentumBuffers[i] = buf
			} else {
				buf.Scale(sgd.Momentum, buf)
				buf.Add(buf, scaled(1-sgd.Dampening, dp))
			}

			if sgd.Nesterov {
				dp.Add(dp, scaled(sgd.Momentum, buf))
			} else {
				dp.Copy(buf)
			}
		}

		p.Value.Sub(p.Value, scaled(sgd.LearningRate, dp))
	}

	sgd.StepCount++
	return nil
}

func scaled(f float64, m mat.Matrix) *mat.Dense {
	var out mat.Dense
	out.Scale(f, m)
	return &out
}

// GetStepCount returns the current step count
func (sgd *SGDOptimizerState) GetStepCount() uint64 {
	return sgd.StepCount
}

// GetLearningRate returns the current learning rate
func (sgd *SGDOptimizerState) GetLearningRate() float64 {
	return sgd.LearningRate
}

// UpdateLearningRate updates the learning rate
func (sgd *SGDOptimizerState) UpdateLearningRate(lr float64) {
	sgd.LearningRate = lr
}

// GetState extracts optimizer state for checkpointing
func (sgd *SGDOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "SGD",
		Parameters: map[string]float64{
			"learning_rate": sgd.LearningRate,
			"momentum":      sgd.Momentum,
			"dampening":     sgd.Dampening,
			"weight_decay":  sgd.WeightDecay,
			"nesterov":      boolParam(sgd.Nesterov),
			"step_count":    float64(sgd.StepCount),
		},
	}

	for i, buf := range sgd.MomentumBuffers {
		if t := extractBufferState(buf, fmt.Sprintf("momentum_%d", i), "momentum"); t != nil {
			state.StateData = append(state.StateData, *t)
		}
	}
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (sgd *SGDOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("SGD", state); err != nil {
		return err
	}

	buffers := make([]*mat.Dense, len(sgd.params))
	for _, t := range state.StateData {
		if t.StateType != "momentum" {
			return fmt.Errorf("unknown SGD state type %q", t.StateType)
		}
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= len(sgd.params) {
			return fmt.Errorf("invalid momentum buffer index in %q for %d parameters", t.Name, len(sgd.params))
		}
		rows, cols := sgd.params[idx].Value.Dims()
		buf, err := restoreBufferState(t, rows, cols)
		if err != nil {
			return err
		}
		buffers[idx] = buf
	}

	sgd.LearningRate = extractFloatParam(state.Parameters, "learning_rate", sgd.LearningRate)
	sgd.Momentum = extractFloatParam(state.Parameters, "momentum", sgd.Momentum)
	sgd.Dampening = extractFloatParam(state.Parameters, "dampening", sgd.Dampening)
	sgd.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", sgd.WeightDecay)
	sgd.Nesterov = extractBoolParam(state.Parameters, "nesterov", sgd.Nesterov)
	sgd.StepCount = extractUint64Param(state.Parameters, "step_count", sgd.StepCount)
	sgd.MomentumBuffers = buffers
	return nil
}

// Compile-time interface check
var _ Optimizer = (*SGDOptimizerState)(nil)

