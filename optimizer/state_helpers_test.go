package optimizer

import (
	"testing"

	"github.com/bachhisto/histonet/checkpoints"
	"gonum.org/v1/gonum/mat"
)

func TestExtractFloatParam(t *testing.T) {
	params := map[string]float64{"lr": 0.01}

	tests := []struct {
		name         string
		key          string
		defaultValue float64
		expected     float64
	}{
		{"present", "lr", 0.1, 0.01},
		{"missing", "momentum", 0.9, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractFloatParam(params, tt.key, tt.defaultValue); got != tt.expected {
				t.Errorf("expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestExtractBoolParam(t *testing.T) {
	params := map[string]float64{"on": 1, "off": 0}
	if !extractBoolParam(params, "on", false) {
		t.Error("expected true")
	}
	if extractBoolParam(params, "off", true) {
		t.Error("expected false")
	}
	if !extractBoolParam(params, "missing", true) {
		t.Error("expected default")
	}
}

func TestExtractUint64Param(t *testing.T) {
	params := map[string]float64{"steps": 42, "negative": -1}
	if got := extractUint64Param(params, "steps", 0); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	if got := extractUint64Param(params, "negative", 7); got != 7 {
		t.Errorf("expected default for negative value, got %d", got)
	}
}

func TestExtractAndRestoreBufferState(t *testing.T) {
	if extractBufferState(nil, "momentum_0", "momentum") != nil {
		t.Error("nil buffer should produce no state")
	}

	buf := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	state := extractBufferState(buf, "momentum_0", "momentum")
	if state == nil || state.Name != "momentum_0" || state.StateType != "momentum" {
		t.Fatalf("unexpected state: %+v", state)
	}
	buf.Set(0, 0, 100)
	if state.Data[0] != 1 {
		t.Error("state aliases the buffer")
	}

	restored, err := restoreBufferState(*state, 2, 3)
	if err != nil {
		t.Fatalf("restoreBufferState: %v", err)
	}
	if restored.At(1, 2) != 6 {
		t.Errorf("restored value = %v", restored.At(1, 2))
	}
	if _, err := restoreBufferState(*state, 3, 2); err == nil {
		t.Error("expected shape mismatch error")
	}
	if _, err := restoreBufferState(checkpoints.OptimizerTensor{Name: "x", Shape: []int{2, 2}, Data: []float64{1}}, 2, 2); err == nil {
		t.Error("expected error for short data")
	}
}

func TestValidateStateType(t *testing.T) {
	if err := validateStateType("SGD", &OptimizerState{Type: "SGD"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := validateStateType("SGD", &OptimizerState{Type: "Adam"}); err == nil {
		t.Error("expected mismatch error")
	}
	if err := validateStateType("SGD", nil); err == nil {
		t.Error("expected error for nil state")
	}
}

func TestExtractBufferIndex(t *testing.T) {
	tests := []struct {
		name     string
		expected int
	}{
		{"momentum_0", 0},
		{"momentum_12", 12},
		{"squared_grad_avg_3", 3},
		{"momentum", -1},
		{"momentum_x", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractBufferIndex(tt.name); got != tt.expected {
				t.Errorf("extractBufferIndex(%q) = %d, expected %d", tt.name, got, tt.expected)
			}
		})
	}
}
