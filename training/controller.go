// Package training drives transfer learning of the histology classifier: the
// epoch loop, evaluation, checkpointing and visual reports.
package training

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/bachhisto/histonet/config"
	"github.com/bachhisto/histonet/labels"
	"github.com/bachhisto/histonet/models"
	"github.com/bachhisto/histonet/nn"
	"github.com/bachhisto/histonet/optimizer"
	"github.com/bachhisto/histonet/vision/dataloader"
	"github.com/bachhisto/histonet/vision/dataset"
	"github.com/bachhisto/histonet/vision/preprocessing"
)

var (
	// ErrInvalidArgument reports a violated precondition of a controller operation
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnsupportedDevice is returned for devices other than the CPU
	ErrUnsupportedDevice = errors.New("unsupported device")
)

// Phase names one data feed
type Phase string

const (
	PhaseTrain      Phase = "train"
	PhaseValidation Phase = "val"
	PhaseTest       Phase = "test"
)

// Phases lists every feed in construction order
var Phases = []Phase{PhaseTrain, PhaseValidation, PhaseTest}

// DefaultDevice is the only supported compute device
func DefaultDevice() string { return "cpu" }

// Options configure a Controller
type Options struct {
	// DataTransforms overrides the preprocessing of individual phases. Missing
	// phases use preprocessing.DefaultTransform(Settings.ImageSize).
	DataTransforms map[Phase]preprocessing.Transform
	Device         string
	FineTune       bool
	Settings       config.Settings
	Out            io.Writer // defaults to os.Stdout

	// ModelFactory builds the pretrained backbone. The default calls
	// models.Pretrained with Settings.ImageSize, Seed and PretrainedWeights.
	ModelFactory func() (*models.ResNet, error)
}

// Controller owns one training session: model, optimizer, scheduler, feeds and
// the best snapshot. It is not safe for concurrent use.
type Controller struct {
	settings  config.Settings
	device    string
	fineTune  bool
	out       io.Writer
	model     *models.ResNet
	criterion *nn.CrossEntropyLoss
	optimizer optimizer.Optimizer
	scheduler *optimizer.EpochScheduler

	datasets   map[Phase]*dataset.BACHDataset
	loaders    map[Phase]*dataloader.DataLoader
	transforms map[Phase]preprocessing.Transform
	sizes      map[Phase]int
	caches     *dataloader.SharedCacheManager

	epoch     int
	bestAcc   float64
	bestState nn.StateDict

	collector *VisualizationCollector
	observers []Observer
}

// ParseDevice validates a device string: "", "cpu" or "cpu:N"
func ParseDevice(device string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(device))
	if d == "" {
		return DefaultDevice(), nil
	}
	if d == "cpu" {
		return d, nil
	}
	if idx, ok := strings.CutPrefix(d, "cpu:"); ok {
		if n, err := strconv.Atoi(idx); err == nil && n >= 0 {
			return d, nil
		}
	}
	return "", fmt.Errorf("%w: %q (only cpu is available)", ErrUnsupportedDevice, device)
}

// New builds the feeds and the model for a training session
func New(opts Options) (*Controller, error) {
	device, err := ParseDevice(opts.Device)
	if err != nil {
		return nil, err
	}
	if err := opts.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	c := &Controller{
		settings:   opts.Settings,
		device:     device,
		fineTune:   opts.FineTune,
		out:        out,
		criterion:  nn.NewCrossEntropyLoss(),
		datasets:   make(map[Phase]*dataset.BACHDataset),
		loaders:    make(map[Phase]*dataloader.DataLoader),
		transforms: make(map[Phase]preprocessing.Transform),
		sizes:      make(map[Phase]int),
		caches:     dataloader.NewSharedCacheManager(),
		collector:  NewVisualizationCollector(models.Architecture),
	}

	if err := c.buildFeeds(opts.DataTransforms); err != nil {
		return nil, err
	}
	if err := c.initModel(opts.ModelFactory); err != nil {
		return nil, err
	}
	c.bestState = c.model.StateDict()

	klog.V(1).Infof("Controller ready on %s: %s", c.device, c.model.Summary())
	return c, nil
}

// splitDir returns the dataset directory of a phase. A validation ratio
// reads from the train directory.
func (c *Controller) splitDir(phase Phase) string {
	split := string(phase)
	if phase == PhaseValidation {
		split = c.settings.ValidationSplit
		if _, ok := c.settings.ValidationRatio(); ok {
			split = string(PhaseTrain)
		}
	}
	return filepath.Join(c.settings.OutputFolder, split)
}

// loadDatasets scans the split directories. With a validation ratio the
// validation feed is a seeded random share of the train split.
func (c *Controller) loadDatasets() error {
	ratio, carve := c.settings.ValidationRatio()
	for _, phase := range Phases {
		if phase == PhaseValidation && carve {
			continue
		}
		ds, err := dataset.NewBACHDataset(c.splitDir(phase))
		if err != nil {
			return fmt.Errorf("%s feed: %w", phase, err)
		}
		c.datasets[phase] = ds
	}
	if !carve {
		return nil
	}

	train, val, err := c.datasets[PhaseTrain].Split(1-ratio, true, c.settings.Seed)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if train.Len() == 0 || val.Len() == 0 {
		return fmt.Errorf("%w: validation ratio %g leaves %d train and %d validation samples",
			ErrInvalidArgument, ratio, train.Len(), val.Len())
	}
	c.datasets[PhaseTrain] = train
	c.datasets[PhaseValidation] = val
	return nil
}

func (c *Controller) buildFeeds(overrides map[Phase]preprocessing.Transform) error {
	if err := c.loadDatasets(); err != nil {
		return err
	}
	for i, phase := range Phases {
		dir := c.splitDir(phase)
		ds := c.datasets[phase]

		transform := overrides[phase]
		if transform == nil {
			transform = preprocessing.DefaultTransform(c.settings.ImageSize)
		}

		loaderConfig := dataloader.Config{
			BatchSize:    c.settings.BatchSize,
			Shuffle:      true,
			MaxCacheSize: c.settings.CacheSize,
			NumWorkers:   c.settings.NumWorkers,
			Transform:    transform,
			Seed:         c.settings.Seed + int64(i),
		}
		if c.settings.CacheSize >= 0 {
			// feeds reading the same directory through the same pipeline share entries
			size := c.settings.CacheSize
			if size == 0 {
				size = dataloader.DefaultCacheSize
			}
			loaderConfig.CacheManager = c.caches.GetOrCreateCache(dir+"|"+transform.String(), size)
		}

		c.transforms[phase] = transform
		c.loaders[phase] = dataloader.NewDataLoader(ds, loaderConfig)
		c.sizes[phase] = ds.Len()
		klog.V(1).Infof("%s feed: %s", phase, ds)
	}
	return nil
}

func (c *Controller) defaultModel() (*models.ResNet, error) {
	cfg := models.DefaultConfig()
	cfg.ImageSize = c.settings.ImageSize
	cfg.Seed = c.settings.Seed
	if cfg.StemGrid > cfg.ImageSize {
		cfg.StemGrid = cfg.ImageSize
	}
	return models.Pretrained(cfg, c.settings.PretrainedWeights)
}

// initModel loads the backbone, freezes it unless fine-tuning, attaches a fresh
// head sized to the label registry and binds the optimizer and scheduler
func (c *Controller) initModel(factory func() (*models.ResNet, error)) error {
	if factory == nil {
		factory = c.defaultModel
	}
	model, err := factory()
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}

	if !c.fineTune {
		nn.SetRequiresGrad(model.BackboneParameters(), false)
	}
	if err := model.ReplaceFC(labels.Count()); err != nil {
		return err
	}

	params := model.HeadParameters()
	if c.fineTune {
		params = model.Parameters()
	}
	opt, err := optimizer.New(c.settings.Optimizer, c.settings.LearningRate, c.settings.Momentum, params)
	if err != nil {
		return fmt.Errorf("failed to create optimizer: %w", err)
	}
	sched, err := optimizer.ScheduleByName(c.settings.Scheduler)
	if err != nil {
		return err
	}

	c.model = model
	c.optimizer = opt
	c.scheduler = optimizer.NewEpochScheduler(opt, sched)
	return nil
}

// Model returns the live network
func (c *Controller) Model() *models.ResNet { return c.model }

// Optimizer returns the optimizer bound to the trainable parameters
func (c *Controller) Optimizer() optimizer.Optimizer { return c.optimizer }

// Device returns the normalised device string
func (c *Controller) Device() string { return c.device }

// Epoch returns the number of epochs trained, including restored ones
func (c *Controller) Epoch() int { return c.epoch }

// BestAccuracy returns the best validation accuracy of the last Train call
func (c *Controller) BestAccuracy() float64 { return c.bestAcc }

// BestState returns a copy of the best snapshot
func (c *Controller) BestState() nn.StateDict { return c.bestState.Clone() }

// History returns the per-phase statistics of every epoch trained so far
func (c *Controller) History() []EpochStats { return c.collector.Epochs() }

// Collector returns the statistics collector used for plots
func (c *Controller) Collector() *VisualizationCollector { return c.collector }

// FeedSize returns the number of samples in a phase's feed
func (c *Controller) FeedSize(phase Phase) int { return c.sizes[phase] }

// Dataset returns the dataset behind a phase's feed
func (c *Controller) Dataset(phase Phase) *dataset.BACHDataset { return c.datasets[phase] }

// Predict returns the predicted class and the softmax probabilities of every
// row of images. The model's mode is restored afterwards.
func (c *Controller) Predict(images *mat.Dense) ([]int, *mat.Dense, error) {
	wasTraining := c.model.IsTraining()
	c.model.Eval()
	defer c.restoreMode(wasTraining)

	logits, err := c.model.Forward(images)
	if err != nil {
		return nil, nil, fmt.Errorf("predict: %w", err)
	}
	return nn.Argmax(logits), nn.Softmax(logits), nil
}

func (c *Controller) restoreMode(training bool) {
	if training {
		c.model.Train()
	} else {
		c.model.Eval()
	}
}
