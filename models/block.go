package models

import (
	"fmt"
	"math/rand"

	"github.com/bachhisto/histonet/nn"
	"gonum.org/v1/gonum/mat"
)

// BasicBlock is a two-layer residual block: relu(fc2(relu(fc1(x))) + shortcut(x)).
// The shortcut is the identity unless the width changes, in which case it is a
// bias-free projection named "downsample".
type BasicBlock struct {
	FC1        *nn.Linear
	FC2        *nn.Linear
	Downsample *nn.Linear // nil for identity shortcut

	relu     *nn.ReLU
	output   *mat.Dense
	training bool
}

// NewBasicBlock creates a block named prefix (e.g. "layer2.0") mapping in -> out features.
// residualScale scales the initial fc2 weights so fresh blocks start close to the shortcut.
func NewBasicBlock(prefix string, in, out int, residualScale float64, rng *rand.Rand) *BasicBlock {
	b := &BasicBlock{
		FC1:      nn.NewLinear(prefix+".fc1", in, out, true, rng),
		FC2:      nn.NewLinear(prefix+".fc2", out, out, true, rng),
		relu:     nn.NewReLU(),
		training: true,
	}
	b.FC2.Weight.Value.Scale(residualScale, b.FC2.Weight.Value)
	if in != out {
		b.Downsample = nn.NewLinear(prefix+".downsample", in, out, false, rng)
	}
	return b
}

// Forward computes the block output
func (b *BasicBlock) Forward(input *mat.Dense) (*mat.Dense, error) {
	h, err := b.FC1.Forward(input)
	if err != nil {
		return nil, err
	}
	h, err = b.relu.Forward(h)
	if err != nil {
		return nil, err
	}
	r, err := b.FC2.Forward(h)
	if err != nil {
		return nil, err
	}

	shortcut := input
	if b.Downsample != nil {
		shortcut, err = b.Downsample.Forward(input)
		if err != nil {
			return nil, err
		}
	}

	out := mat.NewDense(r.RawMatrix().Rows, r.RawMatrix().Cols, nil)
	out.Add(r, shortcut)
	out.Apply(func(_, _ int, v float64) float64 {
		if v > 0 {
			return v
		}
		return 0
	}, out)

	if b.training {
		b.output = out
	} else {
		b.output = nil
	}
	return out, nil
}

// Backward propagates through both branches and sums the input gradients
func (b *BasicBlock) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	if b.output == nil {
		return nil, fmt.Errorf("basic block %s: %w", b.FC1.Weight.Name, nn.ErrNotTraining)
	}

	g := mat.DenseCopyOf(gradOutput)
	g.Apply(func(i, j int, v float64) float64 {
		if b.output.At(i, j) > 0 {
			return v
		}
		return 0
	}, g)

	dh, err := b.FC2.Backward(g)
	if err != nil {
		return nil, err
	}
	dh, err = b.relu.Backward(dh)
	if err != nil {
		return nil, err
	}
	dx, err := b.FC1.Backward(dh)
	if err != nil {
		return nil, err
	}

	if b.Downsample != nil {
		ds, err := b.Downsample.Backward(g)
		if err != nil {
			return nil, err
		}
		dx.Add(dx, ds)
	} else {
		dx.Add(dx, g)
	}
	return dx, nil
}

// Parameters returns fc1, fc2 and downsample parameters in that order
func (b *BasicBlock) Parameters() []*nn.Parameter {
	params := append(b.FC1.Parameters(), b.FC2.Parameters()...)
	if b.Downsample != nil {
		params = append(params, b.Downsample.Parameters()...)
	}
	return params
}

// Train sets the block to training mode
func (b *BasicBlock) Train() {
	b.training = true
	b.FC1.Train()
	b.FC2.Train()
	b.relu.Train()
	if b.Downsample != nil {
		b.Downsample.Train()
	}
}

// Eval sets the block to evaluation mode
func (b *BasicBlock) Eval() {
	b.training = false
	b.FC1.Eval()
	b.FC2.Eval()
	b.relu.Eval()
	if b.Downsample != nil {
		b.Downsample.Eval()
	}
}

// IsTraining returns true if in training mode
func (b *BasicBlock) IsTraining() bool { return b.training }
