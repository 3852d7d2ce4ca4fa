package optimizer

import (
	"math"
	"testing"

	"github.com/bachhisto/histonet/nn"
)

func TestRMSPropStep(t *testing.T) {
	tests := []struct {
		name     string
		config   RMSPropConfig
		expected []float64
	}{
		{
			// sq = 0.01*g^2, step = lr*g/(0.1*|g|) = 10*lr*sign(g)
			name:     "plain",
			config:   RMSPropConfig{LearningRate: 0.01, Alpha: 0.99, Epsilon: 1e-8},
			expected: []float64{0.9, 1.1, 1},
		},
		{
			// first momentum step equals the plain step
			name:     "momentum",
			config:   RMSPropConfig{LearningRate: 0.01, Alpha: 0.99, Epsilon: 1e-8, Momentum: 0.9},
			expected: []float64{0.9, 1.1, 1},
		},
		{
			// centered: v = 0.01g^2 - 0.0001g^2, step = lr*g/(sqrt(0.0099)|g|)
			name:     "centered",
			config:   RMSPropConfig{LearningRate: 0.01, Alpha: 0.99, Epsilon: 1e-8, Centered: true},
			expected: []float64{1 - 0.01/math.Sqrt(0.0099), 1 + 0.01/math.Sqrt(0.0099), 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := nn.NewParameter("w", 1, 3, []float64{1, 1, 1})
			opt, err := NewRMSPropOptimizer(tt.config, []*nn.Parameter{p})
			if err != nil {
				t.Fatalf("NewRMSPropOptimizer: %v", err)
			}
			setGrad(p, 2, -0.5, 0)
			if err := opt.Step(); err != nil {
				t.Fatalf("Step: %v", err)
			}
			for i, e := range tt.expected {
				if got := p.Value.At(0, i); math.Abs(got-e) > 1e-6 {
					t.Errorf("w[%d] = %v, expected %v", i, got, e)
				}
			}
		})
	}
}

func TestRMSPropSkipsFrozen(t *testing.T) {
	p := nn.NewParameter("w", 1, 1, []float64{1})
	p.RequiresGrad = false
	opt, _ := NewRMSPropOptimizer(DefaultRMSPropConfig(), []*nn.Parameter{p})
	setGrad(p, 5)
	_ = opt.Step()
	if p.Value.At(0, 0) != 1 {
		t.Error("frozen parameter was updated")
	}
}

func TestRMSPropStateRoundTrip(t *testing.T) {
	config := DefaultRMSPropConfig()
	config.Momentum = 0.5
	p := nn.NewParameter("w", 2, 1, []float64{1, 2})
	opt, _ := NewRMSPropOptimizer(config, []*nn.Parameter{p})
	setGrad(p, 0.3, -0.1)
	_ = opt.Step()

	state, err := opt.GetState()
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if len(state.StateData) != 2 {
		t.Fatalf("expected squared average and momentum buffers, got %d", len(state.StateData))
	}

	other, _ := NewRMSPropOptimizer(DefaultRMSPropConfig(), []*nn.Parameter{p})
	if err := other.LoadState(state); err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if other.Momentum != 0.5 || other.GetStepCount() != 1 {
		t.Errorf("state not restored: momentum=%v steps=%d", other.Momentum, other.GetStepCount())
	}
	if other.MomentumBuffers[0].At(1, 0) != opt.MomentumBuffers[0].At(1, 0) {
		t.Error("momentum buffer not restored")
	}

	state.StateData = state.StateData[:1]
	if err := other.LoadState(state); err == nil {
		t.Error("expected error for a missing momentum buffer")
	}
	state.Type = "SGD"
	if err := other.LoadState(state); err == nil {
		t.Error("expected error for a mismatched state type")
	}
}

func TestRMSPropConfigValidation(t *testing.T) {
	params := []*nn.Parameter{nn.NewParameter("w", 1, 1, nil)}
	bad := []RMSPropConfig{
		{LearningRate: -1, Alpha: 0.99, Epsilon: 1e-8},
		{LearningRate: 0.1, Alpha: 1, Epsilon: 1e-8},
		{LearningRate: 0.1, Alpha: 0.99, Epsilon: 0},
		{LearningRate: 0.1, Alpha: 0.99, Epsilon: 1e-8, Momentum: -0.1},
	}
	for i, config := range bad {
		if _, err := NewRMSPropOptimizer(config, params); err == nil {
			t.Errorf("config %d: expected error", i)
		}
	}
	if _, err := NewRMSPropOptimizer(DefaultRMSPropConfig(), nil); err == nil {
		t.Error("expected error without parameters")
	}
}
