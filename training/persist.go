package training

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"

	"github.com/bachhisto/histonet/checkpoints"
	"github.com/bachhisto/histonet/labels"
	"github.com/bachhisto/histonet/models"
	"github.com/bachhisto/histonet/optimizer"
)

// CheckpointPath returns where Save writes filename
func (c *Controller) CheckpointPath(filename string) string {
	return filepath.Join(c.settings.ModelSaveFolder, filename)
}

// Save writes the current parameters and optimizer state to filename under the
// model save folder, overwriting any existing file. filename must end in .pt.
func (c *Controller) Save(filename string) error {
	_, err := c.SaveAs(filename, checkpoints.FormatProto)
	return err
}

// SaveAs writes a checkpoint in the given format and returns its path. The
// filename extension must match the format.
func (c *Controller) SaveAs(filename string, format checkpoints.CheckpointFormat) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", fmt.Errorf("%w: empty checkpoint filename", ErrInvalidArgument)
	}
	if ext := format.Extension(); ext == "" || !strings.EqualFold(filepath.Ext(filename), ext) {
		return "", fmt.Errorf("%w: checkpoint filename %q must end in %q", ErrInvalidArgument, filename, ext)
	}

	checkpoint, err := c.checkpoint()
	if err != nil {
		return "", err
	}

	path := c.CheckpointPath(filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create model folder: %w", err)
	}
	if err := checkpoints.NewCheckpointSaver(format).SaveCheckpoint(checkpoint, path); err != nil {
		return "", fmt.Errorf("failed to save checkpoint: %w", err)
	}
	klog.Infof("Saved %s checkpoint (%d tensors) to %s", format, len(checkpoint.Weights), path)
	return path, nil
}

// checkpoint captures the current session
func (c *Controller) checkpoint() (*checkpoints.Checkpoint, error) {
	state, err := c.optimizer.GetState()
	if err != nil {
		return nil, fmt.Errorf("failed to capture optimizer state: %w", err)
	}
	steps := int(c.optimizer.GetStepCount())
	return &checkpoints.Checkpoint{
		Architecture: models.Architecture,
		Weights:      checkpoints.WeightsFromStateDict(c.model.StateDict()),
		TrainingState: checkpoints.TrainingState{
			Epoch:        c.epoch,
			Step:         steps,
			LearningRate: c.optimizer.GetLearningRate(),
			BestAccuracy: c.bestAcc,
			TotalSteps:   steps,
		},
		OptimizerState: state.ToCheckpoint(),
		Metadata: checkpoints.CheckpointMetadata{
			Description: fmt.Sprintf("%s fine_tune=%t scheduler=%s", models.Architecture, c.fineTune, c.scheduler.Name()),
			Tags:        labels.Names(),
		},
	}, nil
}

// Load replaces the model parameters with those in the checkpoint at path.
// path must name an existing regular file. Weights that do not fit the model
// leave it unchanged. Optimizer state that does not fit the current parameter
// set is ignored with a warning.
func (c *Controller) Load(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: checkpoint %s: %w", ErrInvalidArgument, path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: checkpoint %s is not a regular file", ErrInvalidArgument, path)
	}

	checkpoint, err := checkpoints.Load(path)
	if err != nil {
		return err
	}
	if checkpoint.Architecture != "" && checkpoint.Architecture != models.Architecture {
		return fmt.Errorf("checkpoint %s holds a %q model, expected %q", path, checkpoint.Architecture, models.Architecture)
	}
	sd, err := checkpoints.StateDictFromWeights(checkpoint.Weights)
	if err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}
	if err := c.model.LoadStateDict(sd); err != nil {
		return fmt.Errorf("checkpoint %s: %w", path, err)
	}

	c.epoch = checkpoint.TrainingState.Epoch
	c.bestAcc = checkpoint.TrainingState.BestAccuracy
	c.bestState = c.model.StateDict()
	c.scheduler.SetEpoch(c.epoch)
	if checkpoint.OptimizerState != nil {
		if err := c.optimizer.LoadState(optimizer.StateFromCheckpoint(checkpoint.OptimizerState)); err != nil {
			klog.Warningf("Ignoring optimizer state in %s: %v", path, err)
		}
	}
	klog.V(1).Infof("Loaded checkpoint %s (epoch %d, best accuracy %.4f)", path, c.epoch, c.bestAcc)
	return nil
}
