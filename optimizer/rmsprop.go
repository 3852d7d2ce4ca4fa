package optimizer

import (
	"fmt"
	"math"

	"github.com/bachhisto/histonet/nn"
	"gonum.org/v1/gonum/mat"
)

// RMSPropOptimizerState is RMSProp with optional momentum and centering
type RMSPropOptimizerState struct {
	// Hyperparameters
	LearningRate float64
	Alpha        float64 // Smoothing constant (typically 0.99)
	Epsilon      float64 // Small constant to prevent division by zero (typically 1e-8)
	WeightDecay  float64 // L2 regularization coefficient
	Momentum     float64 // Momentum coefficient (0.0 for no momentum)
	Centered     bool    // Whether to use centered RMSProp (subtract mean of gradients)

	// Per-parameter state
	SquaredGradAvgBuffers []*mat.Dense // Running average of squared gradients
	MomentumBuffers       []*mat.Dense // nil unless Momentum > 0
	GradientAvgBuffers    []*mat.Dense // nil unless Centered

	StepCount uint64

	params []*nn.Parameter
}

// RMSPropConfig holds configuration for RMSProp optimizer
type RMSPropConfig struct {
	LearningRate float64
	Alpha        float64
	Epsilon      float64
	WeightDecay  float64
	Momentum     float64
	Centered     bool
}

// DefaultRMSPropConfig returns default RMSProp optimizer configuration
func DefaultRMSPropConfig() RMSPropConfig {
	return RMSPropConfig{
		LearningRate: 0.01,
		Alpha:        0.99,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
		Momentum:     0.0,
		Centered:     false,
	}
}

// NewRMSPropOptimizer creates an RMSProp optimizer over params
func NewRMSPropOptimizer(config RMSPropConfig, params []*nn.Parameter) (*RMSPropOptimizerState, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("learning rate cannot be negative: %f", config.LearningRate)
	}
	if config.Alpha < 0 || config.Alpha >= 1 {
		return nil, fmt.Errorf("alpha must be in [0, 1): %f", config.Alpha)
	}
	if config.Epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive: %f", config.Epsilon)
	}
	if config.WeightDecay < 0 {
		return nil, fmt.Errorf("weight decay cannot be negative: %f", config.WeightDecay)
	}
	if config.Momentum < 0 {
		return nil, fmt.Errorf("momentum cannot be negative: %f", config.Momentum)
	}

	rmsprop := &RMSPropOptimizerState{
		LearningRate:          config.LearningRate,
		Alpha:                 config.Alpha,
		Epsilon:               config.Epsilon,
		WeightDecay:           config.WeightDecay,
		Momentum:              config.Momentum,
		Centered:              config.Centered,
		SquaredGradAvgBuffers: make([]*mat.Dense, len(params)),
		MomentumBuffers:       make([]*mat.Dense, len(params)),
		GradientAvgBuffers:    make([]*mat.Dense, len(params)),
		params:                params,
	}
	for i, p := range params {
		r, c := p.Value.Dims()
		rmsprop.SquaredGradAvgBuffers[i] = mat.NewDense(r, c, nil)
		if config.Momentum > 0 {
			rmsprop.MomentumBuffers[i] = mat.NewDense(r, c, nil)
		}
		if config.Centered {
			rmsprop.GradientAvgBuffers[i] = mat.NewDense(r, c, nil)
		}
	}
	return rmsprop, nil
}

// Parameters returns the managed parameters
func (rmsprop *RMSPropOptimizerState) Parameters() []*nn.Parameter {
	return rmsprop.params
}

// ZeroGrad clears the gradients of every managed parameter
func (rmsprop *RMSPropOptimizerState) ZeroGrad() {
	for _, p := range rmsprop.params {
		p.ZeroGrad()
	}
}

// Step performs a single RMSProp update. Frozen parameters are skipped.
func (rmsprop *RMSPropOptimizerState) Step() error {
	rmsprop.StepCount++
	a := rmsprop.Alpha

	for i, p := range rmsprop.params {
		if !p.RequiresGrad {
			continue
		}
		grad := p.Grad.RawMatrix().Data
		value := p.Value.RawMatrix().Data
		sq := rmsprop.SquaredGradAvgBuffers[i].RawMatrix().Data

		var gAvg, buf []float64
		if rmsprop.Centered {
			gAvg = rmsprop.GradientAvgBuffers[i].RawMatrix().Data
		}
		if rmsprop.Momentum > 0 {
			buf = rmsprop.MomentumBuffers[i].RawMatrix().Data
		}

		for j, g := range grad {
			if rmsprop.WeightDecay != 0 {
				g += rmsprop.WeightDecay * value[j]
			}
			sq[j] = a*sq[j] + (1-a)*g*g
			v := sq[j]
			if gAvg != nil {
				gAvg[j] = a*gAvg[j] + (1-a)*g
				v -= gAvg[j] * gAvg[j]
			}
			avg := math.Sqrt(v) + rmsprop.Epsilon

			if buf != nil {
				buf[j] = rmsprop.Momentum*buf[j] + g/avg
				value[j] -= rmsprop.LearningRate * buf[j]
			} else {
				value[j] -= rmsprop.LearningRate * g / avg
			}
		}
	}
	return nil
}

// GetStepCount returns the current step count
func (rmsprop *RMSPropOptimizerState) GetStepCount() uint64 {
	return rmsprop.StepCount
}

// GetLearningRate returns the current learning rate
func (rmsprop *RMSPropOptimizerState) GetLearningRate() float64 {
	return rmsprop.LearningRate
}

// UpdateLearningRate updates the learning rate
func (rmsprop *RMSPropOptimizerState) UpdateLearningRate(lr float64) {
	rmsprop.LearningRate = lr
}

// GetState extracts optimizer state for checkpointing
func (rmsprop *RMSPropOptimizerState) GetState() (*OptimizerState, error) {
	state := &OptimizerState{
		Type: "RMSProp",
		Parameters: map[string]float64{
			"learning_rate": rmsprop.LearningRate,
			"alpha":         rmsprop.Alpha,
			"epsilon":       rmsprop.Epsilon,
			"weight_decay":  rmsprop.WeightDecay,
			"momentum":      rmsprop.Momentum,
			"centered":      boolParam(rmsprop.Centered),
			"step_count":    float64(rmsprop.StepCount),
		},
	}
	for i := range rmsprop.params {
		for _, b := range []struct {
			buf  *mat.Dense
			kind string
		}{
			{rmsprop.SquaredGradAvgBuffers[i], "squared_grad_avg"},
			{rmsprop.MomentumBuffers[i], "momentum"},
			{rmsprop.GradientAvgBuffers[i], "gradient_avg"},
		} {
			if t := extractBufferState(b.buf, fmt.Sprintf("%s_%d", b.kind, i), b.kind); t != nil {
				state.StateData = append(state.StateData, *t)
			}
		}
	}
	return state, nil
}

// LoadState restores optimizer state from checkpoint
func (rmsprop *RMSPropOptimizerState) LoadState(state *OptimizerState) error {
	if err := validateStateType("RMSProp", state); err != nil {
		return err
	}

	n := len(rmsprop.params)
	squared := make([]*mat.Dense, n)
	momentum := make([]*mat.Dense, n)
	gradAvg := make([]*mat.Dense, n)
	for _, t := range state.StateData {
		idx := extractBufferIndex(t.Name)
		if idx < 0 || idx >= n {
			return fmt.Errorf("invalid buffer index in %q for %d parameters", t.Name, n)
		}
		rows, cols := rmsprop.params[idx].Value.Dims()
		buf, err := restoreBufferState(t, rows, cols)
		if err != nil {
			return err
		}
		switch t.StateType {
		case "squared_grad_avg":
			squared[idx] = buf
		case "momentum":
			momentum[idx] = buf
		case "gradient_avg":
			gradAvg[idx] = buf
		default:
			return fmt.Errorf("unknown RMSProp state type %q", t.StateType)
		}
	}

	mom := extractFloatParam(state.Parameters, "momentum", rmsprop.Momentum)
	centered := extractBoolParam(state.Parameters, "centered", rmsprop.Centered)
	for i, p := range rmsprop.params {
		if squared[i] == nil || (mom > 0 && momentum[i] == nil) || (centered && gradAvg[i] == nil) {
			return fmt.Errorf("missing RMSProp state for parameter %d (%s)", i, p.Name)
		}
	}

	rmsprop.LearningRate = extractFloatParam(state.Parameters, "learning_rate", rmsprop.LearningRate)
	rmsprop.Alpha = extractFloatParam(state.Parameters, "alpha", rmsprop.Alpha)
	rmsprop.Epsilon = extractFloatParam(state.Parameters, "epsilon", rmsprop.Epsilon)
	rmsprop.WeightDecay = extractFloatParam(state.Parameters, "weight_decay", rmsprop.WeightDecay)
	rmsprop.Momentum = mom
	rmsprop.Centered = centered
	rmsprop.StepCount = extractUint64Param(state.Parameters, "step_count", rmsprop.StepCount)
	rmsprop.SquaredGradAvgBuffers = squared
	rmsprop.MomentumBuffers = momentum
	rmsprop.GradientAvgBuffers = gradAvg
	return nil
}

// Compile-time interface check
var _ Optimizer = (*RMSPropOptimizerState)(nil)
