package training

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"

	"github.com/bachhisto/histonet/labels"
	"github.com/bachhisto/histonet/nn"
	"github.com/bachhisto/histonet/vision/dataloader"
	"github.com/bachhisto/histonet/vision/grid"
	"github.com/bachhisto/histonet/vision/preprocessing"
)

// Output file names under the visualisation folder
const (
	PredictionsFile  = "predictions.png"
	TrainingGridFile = "training_grid.png"
)

// tile converts sample i of a batch back to displayable [0, 1] values
func (c *Controller) tile(phase Phase, batch *dataloader.Batch, i int) (grid.Tile, error) {
	data := batch.Sample(i)
	if mean, std, ok := preprocessing.NormalizationOf(c.transforms[phase]); ok {
		var err error
		if data, err = preprocessing.Denormalize(data, batch.Channels, mean, std); err != nil {
			return grid.Tile{}, err
		}
	}
	return grid.Tile{Data: data, Channels: batch.Channels, Height: batch.Height, Width: batch.Width}, nil
}

// VisualizeModel predicts up to numImages test samples and writes them, each
// captioned with its predicted label, as a two-column PNG. It returns the path.
// The model's mode is restored afterwards.
func (c *Controller) VisualizeModel(numImages int) (string, error) {
	if numImages <= 0 {
		return "", fmt.Errorf("%w: number of images must be positive, got %d", ErrInvalidArgument, numImages)
	}

	wasTraining := c.model.IsTraining()
	c.model.Eval()
	defer c.restoreMode(wasTraining)

	loader := c.loaders[PhaseTest]
	loader.Reset()
	defer loader.Reset()

	var panels []image.Image
	for len(panels) < numImages {
		batch, err := loader.NextBatch()
		if err != nil {
			return "", fmt.Errorf("visualize: %w", err)
		}
		if batch == nil {
			break
		}
		logits, err := c.model.Forward(batch.Matrix())
		if err != nil {
			return "", fmt.Errorf("visualize: %w", err)
		}
		preds := nn.Argmax(logits)

		for i := 0; i < batch.Size && len(panels) < numImages; i++ {
			name, err := labels.GetName(preds[i])
			if err != nil {
				return "", err
			}
			t, err := c.tile(PhaseTest, batch, i)
			if err != nil {
				return "", err
			}
			img, err := grid.ToImage(t)
			if err != nil {
				return "", err
			}
			panels = append(panels, grid.Caption(img, "predicted: "+name))
		}
	}

	canvas, err := grid.Panels(panels, 2, grid.DefaultPadding)
	if err != nil {
		return "", fmt.Errorf("visualize: %w", err)
	}
	path := filepath.Join(c.settings.VisualizationFolder, PredictionsFile)
	if err := grid.SavePNG(path, canvas); err != nil {
		return "", err
	}
	klog.V(1).Infof("Saved %d predictions to %s", len(panels), path)
	c.notifyRender(RenderPredictions, path)
	return path, nil
}

// TrainingDataPlotGrid renders one training batch as a grid titled with the
// ground-truth label names and returns the PNG path
func (c *Controller) TrainingDataPlotGrid() (string, error) {
	loader := c.loaders[PhaseTrain]
	loader.Reset()
	defer loader.Reset()

	batch, err := loader.NextBatch()
	if err != nil {
		return "", fmt.Errorf("training grid: %w", err)
	}
	if batch == nil {
		return "", fmt.Errorf("training grid: empty train feed")
	}

	tiles := make([]grid.Tile, batch.Size)
	names := make([]string, batch.Size)
	for i := range tiles {
		if tiles[i], err = c.tile(PhaseTrain, batch, i); err != nil {
			return "", err
		}
		if names[i], err = labels.GetName(batch.Labels[i]); err != nil {
			return "", err
		}
	}

	g, err := grid.MakeGrid(tiles, grid.DefaultNRow, grid.DefaultPadding)
	if err != nil {
		return "", fmt.Errorf("training grid: %w", err)
	}
	img, err := grid.ToImage(g)
	if err != nil {
		return "", err
	}

	path := filepath.Join(c.settings.VisualizationFolder, TrainingGridFile)
	if err := grid.SavePNG(path, grid.Caption(img, strings.Join(names, ", "))); err != nil {
		return "", err
	}
	c.notifyRender(RenderTrainingGrid, path)
	return path, nil
}

// SaveCurves writes the loss, accuracy and learning rate curves of the training
// history, plus the latest confusion matrix when one was recorded, into the
// visualisation folder
func (c *Controller) SaveCurves(format string) ([]string, error) {
	if len(c.collector.Epochs()) == 0 {
		return nil, fmt.Errorf("%w: no training history to plot", ErrInvalidArgument)
	}
	paths, err := SaveTrainingCurves(c.collector, c.settings.VisualizationFolder, format)
	if err != nil {
		return paths, err
	}
	if cm := c.collector.GenerateConfusionMatrixPlot(); len(cm.Series) > 0 {
		path := filepath.Join(c.settings.VisualizationFolder, "confusion_matrix."+format)
		if err := SavePlot(cm, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	for _, p := range paths {
		c.notifyRender(RenderCurves, p)
	}
	return paths, nil
}
