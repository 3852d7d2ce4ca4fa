package training

import (
	"fmt"
	"strings"

	"github.com/bachhisto/histonet/labels"
)

// MetricType represents different evaluation metrics
type MetricType int

const (
	MacroPrecision MetricType = iota
	MacroRecall
	MacroF1
	MicroPrecision
	MicroRecall
	MicroF1
)

func (mt MetricType) String() string {
	switch mt {
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroPrecision:
		return "MicroPrecision"
	case MicroRecall:
		return "MicroRecall"
	case MicroF1:
		return "MicroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix counts predictions per (true class, predicted class)
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{
		NumClasses: numClasses,
		Matrix:     matrix,
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
}

// Update adds a batch of predicted classes against their true labels
func (cm *ConfusionMatrix) Update(predictions, trueLabels []int) error {
	if len(predictions) != len(trueLabels) {
		return fmt.Errorf("predictions length mismatch: %d predictions for %d labels", len(predictions), len(trueLabels))
	}
	for i, pred := range predictions {
		trueClass := trueLabels[i]
		if trueClass < 0 || trueClass >= cm.NumClasses {
			return fmt.Errorf("true class %d out of range [0, %d)", trueClass, cm.NumClasses)
		}
		if pred < 0 || pred >= cm.NumClasses {
			return fmt.Errorf("predicted class %d out of range [0, %d)", pred, cm.NumClasses)
		}
	}
	for i, pred := range predictions {
		cm.Matrix[trueLabels[i]][pred]++
	}
	cm.TotalSamples += len(predictions)
	return nil
}

// Correct returns the number of samples on the diagonal
func (cm *ConfusionMatrix) Correct() int {
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return correct
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}
	return float64(cm.Correct()) / float64(cm.TotalSamples)
}

// Support returns the number of samples whose true class is class
func (cm *ConfusionMatrix) Support(class int) int {
	n := 0
	for _, v := range cm.Matrix[class] {
		n += v
	}
	return n
}

// predicted returns the number of samples predicted as class
func (cm *ConfusionMatrix) predicted(class int) int {
	n := 0
	for i := 0; i < cm.NumClasses; i++ {
		n += cm.Matrix[i][class]
	}
	return n
}

// Precision returns TP / (TP + FP) for class, 0 when nothing was predicted as class
func (cm *ConfusionMatrix) Precision(class int) float64 {
	p := cm.predicted(class)
	if p == 0 {
		return 0
	}
	return float64(cm.Matrix[class][class]) / float64(p)
}

// Recall returns TP / (TP + FN) for class, 0 when class has no samples
func (cm *ConfusionMatrix) Recall(class int) float64 {
	s := cm.Support(class)
	if s == 0 {
		return 0
	}
	return float64(cm.Matrix[class][class]) / float64(s)
}

// F1 returns the harmonic mean of precision and recall for class
func (cm *ConfusionMatrix) F1(class int) float64 {
	p, r := cm.Precision(class), cm.Recall(class)
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// GetMetric computes an aggregate metric. Macro averages only count classes
// with samples; micro metrics equal accuracy for single-label classification.
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case MacroPrecision:
		return cm.macro(cm.Precision)
	case MacroRecall:
		return cm.macro(cm.Recall)
	case MacroF1:
		return cm.macro(cm.F1)
	case MicroPrecision, MicroRecall, MicroF1:
		return cm.GetAccuracy()
	default:
		return 0
	}
}

func (cm *ConfusionMatrix) macro(f func(int) float64) float64 {
	sum, n := 0.0, 0
	for c := 0; c < cm.NumClasses; c++ {
		if cm.Support(c) == 0 {
			continue
		}
		sum += f(c)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// String renders the matrix and a per-class report with label names
func (cm *ConfusionMatrix) String() string {
	names := make([]string, cm.NumClasses)
	width := len("predicted")
	for c := range names {
		name, err := labels.GetName(c)
		if err != nil {
			name = fmt.Sprintf("class %d", c)
		}
		names[c] = name
		if len(name) > width {
			width = len(name)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-*s", width+2, "true \\ pred")
	for c := range names {
		fmt.Fprintf(&sb, " %8.8s", names[c])
	}
	sb.WriteString("\n")
	for i, row := range cm.Matrix {
		fmt.Fprintf(&sb, "%-*s", width+2, names[i])
		for _, v := range row {
			fmt.Fprintf(&sb, " %8d", v)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "\n%-*s %9s %9s %9s %9s\n", width+2, "", "precision", "recall", "f1", "support")
	for c := range names {
		fmt.Fprintf(&sb, "%-*s %9.4f %9.4f %9.4f %9d\n",
			width+2, names[c], cm.Precision(c), cm.Recall(c), cm.F1(c), cm.Support(c))
	}
	fmt.Fprintf(&sb, "%-*s %9.4f %9.4f %9.4f %9d\n", width+2, "macro avg",
		cm.GetMetric(MacroPrecision), cm.GetMetric(MacroRecall), cm.GetMetric(MacroF1), cm.TotalSamples)
	return sb.String()
}
