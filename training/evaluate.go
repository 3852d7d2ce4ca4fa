package training

import (
	"fmt"
	"time"

	"github.com/bachhisto/histonet/labels"
)

// EvalResult is the outcome of a Test pass
type EvalResult struct {
	Loss      float64
	Accuracy  float64
	Samples   int
	Confusion *ConfusionMatrix
	Duration  time.Duration
}

// Test evaluates the model on the test feed. It does not change the best
// snapshot and restores the model's mode afterwards.
func (c *Controller) Test() (*EvalResult, error) {
	since := time.Now()
	wasTraining := c.model.IsTraining()
	defer c.restoreMode(wasTraining)

	res, err := c.runPhase(c.epoch, PhaseTest)
	if err != nil {
		return nil, fmt.Errorf("test: %w", err)
	}
	c.collector.RecordConfusionMatrix(res.confusion.Matrix, labels.Names())

	result := &EvalResult{
		Loss:      res.stats.Loss,
		Accuracy:  res.stats.Accuracy,
		Samples:   res.stats.Samples,
		Confusion: res.confusion,
		Duration:  time.Since(since),
	}
	fmt.Fprintf(c.out, "Acc: %.4f\n", result.Accuracy)
	fmt.Fprintf(c.out, "Testing complete in %s\n", formatElapsed(result.Duration))
	fmt.Fprintln(c.out, result.Confusion)
	return result, nil
}
