package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// CrossEntropyLoss is softmax followed by negative log likelihood, averaged over the batch
type CrossEntropyLoss struct{}

// NewCrossEntropyLoss creates a new cross-entropy criterion
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// Forward returns the mean loss and its gradient w.r.t. logits
func (c *CrossEntropyLoss) Forward(logits *mat.Dense, targets []int) (float64, *mat.Dense, error) {
	rows, classes := logits.Dims()
	if rows != len(targets) {
		return 0, nil, fmt.Errorf("cross entropy: batch size mismatch: %d logits rows, %d targets", rows, len(targets))
	}
	if rows == 0 {
		return 0, nil, fmt.Errorf("cross entropy: empty batch")
	}

	grad := mat.NewDense(rows, classes, nil)
	var total float64
	n := float64(rows)
	for i, target := range targets {
		if target < 0 || target >= classes {
			return 0, nil, fmt.Errorf("cross entropy: target %d out of range [0, %d)", target, classes)
		}
		row := logits.RawRowView(i)
		lse := floats.LogSumExp(row)
		total += lse - row[target]

		g := grad.RawRowView(i)
		for j, v := range row {
			g[j] = math.Exp(v-lse) / n
		}
		g[target] -= 1 / n
	}
	return total / n, grad, nil
}

// Softmax returns row-wise probabilities
func Softmax(logits *mat.Dense) *mat.Dense {
	rows, classes := logits.Dims()
	out := mat.NewDense(rows, classes, nil)
	for i := 0; i < rows; i++ {
		row := logits.RawRowView(i)
		lse := floats.LogSumExp(row)
		dst := out.RawRowView(i)
		for j, v := range row {
			dst[j] = math.Exp(v - lse)
		}
	}
	return out
}

// Argmax returns the index of the largest value in every row. Ties resolve to the lowest index.
func Argmax(m *mat.Dense) []int {
	rows, _ := m.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		out[i] = floats.MaxIdx(m.RawRowView(i))
	}
	return out
}
