package training

import (
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/bachhisto/histonet/labels"
	"github.com/bachhisto/histonet/nn"
	"github.com/bachhisto/histonet/optimizer"
	"github.com/bachhisto/histonet/vision/dataloader"
)

// TrainResult summarises one Train call
type TrainResult struct {
	Epochs       int
	BestEpoch    int // -1 when no epoch improved on the starting weights
	BestAccuracy float64
	History      []EpochStats
	Duration     time.Duration
}

// phaseResult holds the totals of one pass over a feed
type phaseResult struct {
	stats     EpochStats
	confusion *ConfusionMatrix
}

// session is the controller state a failed Train rolls back to
type session struct {
	weights   nn.StateDict
	epoch     int
	bestAcc   float64
	bestState nn.StateDict
	optimizer *optimizer.OptimizerState
	scheduler optimizer.SchedulerState
}

func (c *Controller) snapshot() (*session, error) {
	opt, err := c.optimizer.GetState()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot optimizer: %w", err)
	}
	return &session{
		weights:   c.model.StateDict(),
		epoch:     c.epoch,
		bestAcc:   c.bestAcc,
		bestState: c.bestState,
		optimizer: opt,
		scheduler: c.scheduler.State(),
	}, nil
}

// rollback puts the controller back into the snapshot state and tells
// observers to forget the epochs recorded since
func (c *Controller) rollback(s *session) {
	if err := c.model.LoadStateDict(s.weights); err != nil {
		klog.Errorf("Failed to restore weights after error: %v", err)
	}
	if err := c.optimizer.LoadState(s.optimizer); err != nil {
		klog.Errorf("Failed to restore optimizer after error: %v", err)
	}
	c.scheduler.Restore(s.scheduler)
	c.epoch = s.epoch
	c.bestAcc = s.bestAcc
	c.bestState = s.bestState
	c.collector.DropFrom(s.epoch)
	c.notifyRollback(s.epoch)
}

// Train runs numEpochs epochs of a training pass followed by a validation pass.
// The parameters with the strictly best validation accuracy are kept and loaded
// back into the model at the end. On error the controller is left exactly as
// Train found it: weights, optimizer and scheduler state, epoch counter and
// recorded history.
func (c *Controller) Train(numEpochs int) (*TrainResult, error) {
	if numEpochs <= 0 {
		return nil, fmt.Errorf("%w: number of epochs must be positive, got %d", ErrInvalidArgument, numEpochs)
	}

	saved, err := c.snapshot()
	if err != nil {
		return nil, err
	}

	since := time.Now()
	c.bestAcc = 0
	c.bestState = saved.weights
	result := &TrainResult{Epochs: numEpochs, BestEpoch: -1}
	var lastConfusion *ConfusionMatrix

	for epoch := 0; epoch < numEpochs; epoch++ {
		fmt.Fprintf(c.out, "Epoch %d/%d\n", epoch, numEpochs-1)
		fmt.Fprintln(c.out, "----------")

		for _, phase := range []Phase{PhaseTrain, PhaseValidation} {
			res, err := c.runPhase(c.epoch, phase)
			if err != nil {
				c.rollback(saved)
				return nil, fmt.Errorf("epoch %d: %w", epoch, err)
			}
			stats := res.stats
			fmt.Fprintf(c.out, "%s Loss: %.4f Acc: %.4f\n", phase, stats.Loss, stats.Accuracy)

			if phase == PhaseValidation {
				if stats.Accuracy > c.bestAcc {
					c.bestAcc = stats.Accuracy
					c.bestState = c.model.StateDict()
					result.BestEpoch = epoch
				}
				lastConfusion = res.confusion
			}

			c.collector.RecordEpoch(stats)
			result.History = append(result.History, stats)
			c.notifyEpoch(stats)

			if phase == PhaseValidation {
				lr := c.scheduler.Step(stats.Accuracy)
				klog.V(2).Infof("Learning rate after epoch %d: %g", c.epoch, lr)
			}
		}
		c.epoch++
		fmt.Fprintln(c.out)
	}

	result.Duration = time.Since(since)
	fmt.Fprintf(c.out, "Training complete in %s\n", formatElapsed(result.Duration))
	fmt.Fprintf(c.out, "Best val Acc: %4f\n", c.bestAcc)

	if err := c.model.LoadStateDict(c.bestState); err != nil {
		c.rollback(saved)
		return nil, fmt.Errorf("failed to restore best weights: %w", err)
	}
	c.collector.RecordConfusionMatrix(lastConfusion.Matrix, labels.Names())
	result.BestAccuracy = c.bestAcc
	return result, nil
}

// runPhase makes one pass over a feed. The training phase updates the
// parameters; the others only run forward and fill a confusion matrix.
func (c *Controller) runPhase(epoch int, phase Phase) (phaseResult, error) {
	loader := c.loaders[phase]
	loader.Reset()

	training := phase == PhaseTrain
	if training {
		c.model.Train()
	} else {
		c.model.Eval()
	}
	lr := c.optimizer.GetLearningRate()

	var bar *ProgressBar
	if c.settings.ShowProgress {
		bar = NewProgressBar(c.out, string(phase), loader.NumBatches())
	}

	start := time.Now()
	confusion := NewConfusionMatrix(labels.Count())
	var runningLoss float64
	var runningCorrects, seen, step int
	for {
		batch, err := loader.NextBatch()
		if err != nil {
			return phaseResult{}, fmt.Errorf("%s batch %d: %w", phase, step, err)
		}
		if batch == nil {
			break
		}

		loss, preds, err := c.forwardBatch(batch, training)
		if err != nil {
			return phaseResult{}, fmt.Errorf("%s batch %d: %w", phase, step, err)
		}
		if err := confusion.Update(preds, batch.Labels); err != nil {
			return phaseResult{}, fmt.Errorf("%s batch %d: %w", phase, step, err)
		}

		runningLoss += loss * float64(batch.Size)
		runningCorrects += countCorrect(preds, batch.Labels)
		seen += batch.Size
		step++
		if bar != nil {
			bar.Update(step, map[string]float64{
				"loss": runningLoss / float64(seen),
				"acc":  float64(runningCorrects) / float64(seen),
			})
		}
	}
	if bar != nil {
		bar.Finish()
	}

	size := float64(c.sizes[phase])
	return phaseResult{
		stats: EpochStats{
			Epoch:        epoch,
			Phase:        phase,
			Loss:         runningLoss / size,
			Accuracy:     float64(runningCorrects) / size,
			LearningRate: lr,
			Samples:      seen,
			Duration:     time.Since(start),
		},
		confusion: confusion,
	}, nil
}

// forwardBatch computes the mean loss and predictions of a batch, taking one
// optimizer step when training
func (c *Controller) forwardBatch(batch *dataloader.Batch, training bool) (float64, []int, error) {
	if training {
		c.optimizer.ZeroGrad()
	}

	logits, err := c.model.Forward(batch.Matrix())
	if err != nil {
		return 0, nil, err
	}
	loss, grad, err := c.criterion.Forward(logits, batch.Labels)
	if err != nil {
		return 0, nil, err
	}

	if training {
		if _, err := c.model.Backward(grad); err != nil {
			return 0, nil, fmt.Errorf("backward: %w", err)
		}
		if err := c.optimizer.Step(); err != nil {
			return 0, nil, fmt.Errorf("optimizer step: %w", err)
		}
	}
	return loss, nn.Argmax(logits), nil
}

func countCorrect(preds, truth []int) int {
	n := 0
	for i, p := range preds {
		if p == truth[i] {
			n++
		}
	}
	return n
}
