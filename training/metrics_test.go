package training

import (
	"math"
	"strings"
	"testing"
)

func TestMetricTypeString(t *testing.T) {
	tests := []struct {
		metric   MetricType
		expected string
	}{
		{MacroPrecision, "MacroPrecision"},
		{MacroRecall, "MacroRecall"},
		{MacroF1, "MacroF1"},
		{MicroPrecision, "MicroPrecision"},
		{MicroRecall, "MicroRecall"},
		{MicroF1, "MicroF1"},
		{MetricType(999), "Unknown(999)"},
	}

	for _, test := range tests {
		if result := test.metric.String(); result != test.expected {
			t.Errorf("MetricType(%d).String() = %s, expected %s", test.metric, result, test.expected)
		}
	}
}

func TestConfusionMatrixUpdate(t *testing.T) {
	cm := NewConfusionMatrix(4)
	// true:  0 0 1 1 2 3
	// pred:  0 1 1 1 3 3
	if err := cm.Update([]int{0, 1, 1, 1, 3, 3}, []int{0, 0, 1, 1, 2, 3}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if cm.TotalSamples != 6 || cm.Correct() != 4 {
		t.Errorf("total=%d correct=%d", cm.TotalSamples, cm.Correct())
	}
	if got := cm.GetAccuracy(); math.Abs(got-4.0/6) > 1e-12 {
		t.Errorf("accuracy = %v", got)
	}

	tests := []struct {
		class                 int
		precision, recall, f1 float64
	}{
		{0, 1, 0.5, 2.0 / 3},
		{1, 2.0 / 3, 1, 0.8},
		{2, 0, 0, 0},
		{3, 0.5, 1, 2.0 / 3},
	}
	for _, tt := range tests {
		if got := cm.Precision(tt.class); math.Abs(got-tt.precision) > 1e-12 {
			t.Errorf("class %d precision = %v, expected %v", tt.class, got, tt.precision)
		}
		if got := cm.Recall(tt.class); math.Abs(got-tt.recall) > 1e-12 {
			t.Errorf("class %d recall = %v, expected %v", tt.class, got, tt.recall)
		}
		if got := cm.F1(tt.class); math.Abs(got-tt.f1) > 1e-12 {
			t.Errorf("class %d f1 = %v, expected %v", tt.class, got, tt.f1)
		}
	}

	if got := cm.GetMetric(MacroRecall); math.Abs(got-2.5/4) > 1e-12 {
		t.Errorf("macro recall = %v", got)
	}
	if got := cm.GetMetric(MicroF1); got != cm.GetAccuracy() {
		t.Errorf("micro F1 = %v, expected accuracy", got)
	}

	cm.Reset()
	if cm.TotalSamples != 0 || cm.Correct() != 0 || cm.GetAccuracy() != 0 {
		t.Error("Reset did not clear the matrix")
	}
}

func TestConfusionMatrixUpdateErrors(t *testing.T) {
	cm := NewConfusionMatrix(4)
	tests := []struct {
		name         string
		preds, truth []int
	}{
		{"length mismatch", []int{0}, []int{0, 1}},
		{"bad true class", []int{0}, []int{4}},
		{"bad prediction", []int{-1}, []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cm.Update(tt.preds, tt.truth); err == nil {
				t.Error("expected error")
			}
		})
	}
	if cm.TotalSamples != 0 {
		t.Errorf("failed updates must not count samples, got %d", cm.TotalSamples)
	}
}

func TestConfusionMatrixString(t *testing.T) {
	cm := NewConfusionMatrix(4)
	_ = cm.Update([]int{2, 2}, []int{2, 3})
	s := cm.String()
	for _, want := range []string{"In Situ", "Invasive", "precision", "macro avg"} {
		if !strings.Contains(s, want) {
			t.Errorf("report missing %q:\n%s", want, s)
		}
	}
}
