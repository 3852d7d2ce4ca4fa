package nn

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNotTraining is returned by Backward when the matching Forward ran in evaluation mode
var ErrNotTraining = errors.New("backward without a training-mode forward pass")

// Module interface defines methods that all network layers must implement.
// Inputs are row-major batches: one sample per row.
type Module interface {
	Forward(input *mat.Dense) (*mat.Dense, error)
	// Backward takes the gradient w.r.t. the last Forward output, accumulates
	// parameter gradients and returns the gradient w.r.t. that Forward input
	Backward(gradOutput *mat.Dense) (*mat.Dense, error)
	Parameters() []*Parameter
	Train()           // Sets module to training mode
	Eval()            // Sets module to evaluation mode
	IsTraining() bool // Returns true if in training mode
}

// mode is embedded by modules to track training/evaluation state
type mode struct {
	training bool
}

func (m *mode) Train()           { m.training = true }
func (m *mode) Eval()            { m.training = false }
func (m *mode) IsTraining() bool { return m.training }

// Linear implements a fully connected layer: y = xW + b, W has shape [in, out]
type Linear struct {
	mode
	Weight *Parameter
	Bias   *Parameter // nil when created without bias

	in, out int
	input   *mat.Dense
}

// NewLinear creates a Linear layer named name with uniform fan-in initialisation.
// Parameter names are name+".weight" and name+".bias".
func NewLinear(name string, in, out int, bias bool, rng *rand.Rand) *Linear {
	w := make([]float64, in*out)
	heUniform(w, in, rng)

	l := &Linear{
		mode:   mode{training: true},
		Weight: NewParameter(name+".weight", in, out, w),
		in:     in,
		out:    out,
	}
	if bias {
		b := make([]float64, out)
		heUniform(b, in, rng)
		l.Bias = NewParameter(name+".bias", 1, out, b)
	}
	return l
}

// InFeatures returns the input width
func (l *Linear) InFeatures() int { return l.in }

// OutFeatures returns the output width
func (l *Linear) OutFeatures() int { return l.out }

// Forward performs y = xW + b
func (l *Linear) Forward(input *mat.Dense) (*mat.Dense, error) {
	rows, cols := input.Dims()
	if cols != l.in {
		return nil, fmt.Errorf("%s: input size mismatch: expected %d, got %d", l.Weight.Name, l.in, cols)
	}

	output := mat.NewDense(rows, l.out, nil)
	output.Mul(input, l.Weight.Value)
	if l.Bias != nil {
		bias := l.Bias.Value.RawRowView(0)
		for i := 0; i < rows; i++ {
			floats.Add(output.RawRowView(i), bias)
		}
	}

	if l.training {
		l.input = input
	} else {
		l.input = nil
	}
	return output, nil
}

// Backward accumulates dW = x^T g, db = sum(g) and returns g W^T
func (l *Linear) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	if l.input == nil {
		return nil, fmt.Errorf("%s: %w", l.Weight.Name, ErrNotTraining)
	}
	rows, _ := gradOutput.Dims()

	if l.Weight.RequiresGrad {
		var dw mat.Dense
		dw.Mul(l.input.T(), gradOutput)
		l.Weight.accumulate(&dw)
	}
	if l.Bias != nil && l.Bias.RequiresGrad {
		db := l.Bias.Grad.RawRowView(0)
		for i := 0; i < rows; i++ {
			floats.Add(db, gradOutput.RawRowView(i))
		}
	}

	gradInput := mat.NewDense(rows, l.in, nil)
	gradInput.Mul(gradOutput, l.Weight.Value.T())
	return gradInput, nil
}

// Parameters returns weight and, when present, bias
func (l *Linear) Parameters() []*Parameter {
	if l.Bias == nil {
		return []*Parameter{l.Weight}
	}
	return []*Parameter{l.Weight, l.Bias}
}

// ReLU implements the rectified linear activation
type ReLU struct {
	mode
	output *mat.Dense
}

// NewReLU creates a new ReLU activation module
func NewReLU() *ReLU {
	return &ReLU{mode: mode{training: true}}
}

// Forward computes max(0, x)
func (r *ReLU) Forward(input *mat.Dense) (*mat.Dense, error) {
	output := mat.DenseCopyOf(input)
	output.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, output)

	if r.training {
		r.output = output
	} else {
		r.output = nil
	}
	return output, nil
}

// Backward passes the gradient where the activation was positive
func (r *ReLU) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	if r.output == nil {
		return nil, fmt.Errorf("relu: %w", ErrNotTraining)
	}
	gradInput := mat.DenseCopyOf(gradOutput)
	gradInput.Apply(func(i, j int, g float64) float64 {
		if r.output.At(i, j) > 0 {
			return g
		}
		return 0
	}, gradInput)
	return gradInput, nil
}

// Parameters returns nothing; ReLU has no weights
func (r *ReLU) Parameters() []*Parameter { return nil }

// Sequential chains modules
type Sequential struct {
	mode
	Layers []Module
}

// NewSequential creates a Sequential container in training mode
func NewSequential(layers ...Module) *Sequential {
	return &Sequential{mode: mode{training: true}, Layers: layers}
}

// Forward runs every layer in order
func (s *Sequential) Forward(input *mat.Dense) (*mat.Dense, error) {
	x := input
	for i, layer := range s.Layers {
		var err error
		x, err = layer.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return x, nil
}

// Backward runs every layer in reverse order
func (s *Sequential) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	g := gradOutput
	for i := len(s.Layers) - 1; i >= 0; i-- {
		var err error
		g, err = s.Layers[i].Backward(g)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return g, nil
}

// Parameters concatenates the parameters of every layer
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, layer := range s.Layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

// Train sets the container and every layer to training mode
func (s *Sequential) Train() {
	s.training = true
	for _, layer := range s.Layers {
		layer.Train()
	}
}

// Eval sets the container and every layer to evaluation mode
func (s *Sequential) Eval() {
	s.training = false
	for _, layer := range s.Layers {
		layer.Eval()
	}
}
