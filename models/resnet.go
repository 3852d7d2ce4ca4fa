package models

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"

	"github.com/bachhisto/histonet/checkpoints"
	"github.com/bachhisto/histonet/nn"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

// Architecture is the name stored in checkpoints produced from a ResNet
const Architecture = "resnet18"

// HeadPrefix is the parameter name prefix of the classification head
const HeadPrefix = "fc."

// Config describes the backbone shape
type Config struct {
	InputChannels  int
	ImageSize      int
	StemGrid       int    // stem pooling grid per side
	Widths         [4]int // feature width of each stage
	BlocksPerStage int
	NumClasses     int     // width of the head created with the backbone
	ResidualScale  float64 // initial scale of the second layer in every block
	Seed           int64
}

// DefaultConfig returns the ResNet-18 layout: four stages of two blocks and a 1000-way head
func DefaultConfig() Config {
	return Config{
		InputChannels:  3,
		ImageSize:      224,
		StemGrid:       8,
		Widths:         [4]int{64, 128, 256, 512},
		BlocksPerStage: 2,
		NumClasses:     1000,
		ResidualScale:  0.1,
		Seed:           1,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.InputChannels <= 0 {
		return fmt.Errorf("input channels must be positive, got %d", c.InputChannels)
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("image size must be positive, got %d", c.ImageSize)
	}
	if c.StemGrid <= 0 || c.StemGrid > c.ImageSize {
		return fmt.Errorf("stem grid %d does not fit image size %d", c.StemGrid, c.ImageSize)
	}
	for i, w := range c.Widths {
		if w <= 0 {
			return fmt.Errorf("stage %d width must be positive, got %d", i+1, w)
		}
	}
	if c.BlocksPerStage <= 0 {
		return fmt.Errorf("blocks per stage must be positive, got %d", c.BlocksPerStage)
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("number of classes must be positive, got %d", c.NumClasses)
	}
	return nil
}

// InputFeatures returns the flattened CHW size expected by Forward
func (c Config) InputFeatures() int {
	return c.InputChannels * c.ImageSize * c.ImageSize
}

// ResNet is a residual classifier over flattened CHW images: stem, four stages of
// basic blocks and a linear head
type ResNet struct {
	Stem   *nn.Sequential
	Layers [4]*nn.Sequential
	FC     *nn.Linear

	cfg      Config
	rng      *rand.Rand
	training bool
}

// ResNet18 builds a freshly initialised network. Initialisation is deterministic in cfg.Seed.
func ResNet18(cfg Config) (*ResNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resnet config: %w", err)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	pool, err := nn.NewAvgPool2D(cfg.InputChannels, cfg.ImageSize, cfg.ImageSize, cfg.StemGrid)
	if err != nil {
		return nil, err
	}
	m := &ResNet{cfg: cfg, rng: rng, training: true}
	m.Stem = nn.NewSequential(
		pool,
		nn.NewLinear("stem.proj", pool.OutFeatures(), cfg.Widths[0], true, rng),
		nn.NewReLU(),
	)

	in := cfg.Widths[0]
	for s, width := range cfg.Widths {
		blocks := make([]nn.Module, cfg.BlocksPerStage)
		for b := range blocks {
			prefix := fmt.Sprintf("layer%d.%d", s+1, b)
			blocks[b] = NewBasicBlock(prefix, in, width, cfg.ResidualScale, rng)
			in = width
		}
		m.Layers[s] = nn.NewSequential(blocks...)
	}
	m.FC = nn.NewLinear("fc", in, cfg.NumClasses, true, rng)
	return m, nil
}

// Pretrained builds a ResNet and loads backbone weights from weightsPath. The head
// is never taken from the file. An empty path keeps the seeded initialisation.
func Pretrained(cfg Config, weightsPath string) (*ResNet, error) {
	m, err := ResNet18(cfg)
	if err != nil {
		return nil, err
	}
	if weightsPath == "" {
		klog.Warningf("No pretrained weights configured, using seeded initialisation (seed %d)", cfg.Seed)
		return m, nil
	}
	if _, err := os.Stat(weightsPath); err != nil {
		return nil, fmt.Errorf("pretrained weights: %w", err)
	}

	checkpoint, err := checkpoints.Load(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("pretrained weights: %w", err)
	}
	sd, err := checkpoints.StateDictFromWeights(checkpoints.FilterWeights(checkpoint.Weights, HeadPrefix))
	if err != nil {
		return nil, fmt.Errorf("pretrained weights: %w", err)
	}
	if err := sd.LoadInto(m.BackboneParameters()); err != nil {
		return nil, fmt.Errorf("pretrained weights %s: %w", weightsPath, err)
	}
	klog.V(1).Infof("Loaded %d pretrained backbone tensors from %s", len(sd), weightsPath)
	return m, nil
}

// Config returns the configuration the network was built with
func (m *ResNet) Config() Config { return m.cfg }

// Forward maps a batch of flattened images to logits
func (m *ResNet) Forward(input *mat.Dense) (*mat.Dense, error) {
	x, err := m.Stem.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("stem: %w", err)
	}
	for i, layer := range m.Layers {
		x, err = layer.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("layer%d: %w", i+1, err)
		}
	}
	return m.FC.Forward(x)
}

// Backward accumulates gradients for every trainable parameter. When the backbone
// is frozen it stops after the head and returns nil.
func (m *ResNet) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	g, err := m.FC.Backward(gradOutput)
	if err != nil {
		return nil, err
	}
	if m.backboneFrozen() {
		return nil, nil
	}
	for i := len(m.Layers) - 1; i >= 0; i-- {
		g, err = m.Layers[i].Backward(g)
		if err != nil {
			return nil, fmt.Errorf("layer%d: %w", i+1, err)
		}
	}
	g, err = m.Stem.Backward(g)
	if err != nil {
		return nil, fmt.Errorf("stem: %w", err)
	}
	return g, nil
}

func (m *ResNet) backboneFrozen() bool {
	for _, p := range m.BackboneParameters() {
		if p.RequiresGrad {
			return false
		}
	}
	return true
}

// Parameters returns every parameter in definition order
func (m *ResNet) Parameters() []*nn.Parameter {
	return append(m.BackboneParameters(), m.HeadParameters()...)
}

// NamedParameters maps parameter names to parameters
func (m *ResNet) NamedParameters() map[string]*nn.Parameter {
	params := m.Parameters()
	named := make(map[string]*nn.Parameter, len(params))
	for _, p := range params {
		named[p.Name] = p
	}
	return named
}

// BackboneParameters returns every parameter except the head
func (m *ResNet) BackboneParameters() []*nn.Parameter {
	params := m.Stem.Parameters()
	for _, layer := range m.Layers {
		params = append(params, layer.Parameters()...)
	}
	return params
}

// HeadParameters returns the parameters of FC
func (m *ResNet) HeadParameters() []*nn.Parameter {
	return m.FC.Parameters()
}

// FCInFeatures returns the input width of the head
func (m *ResNet) FCInFeatures() int {
	return m.FC.InFeatures()
}

// NumClasses returns the output width of the head
func (m *ResNet) NumClasses() int {
	return m.FC.OutFeatures()
}

// ReplaceFC attaches a freshly initialised trainable head with numClasses outputs
func (m *ResNet) ReplaceFC(numClasses int) error {
	if numClasses <= 0 {
		return fmt.Errorf("number of classes must be positive, got %d", numClasses)
	}
	m.FC = nn.NewLinear("fc", m.FCInFeatures(), numClasses, true, m.rng)
	if !m.training {
		m.FC.Eval()
	}
	return nil
}

// StateDict returns a deep copy of every parameter keyed by name
func (m *ResNet) StateDict() nn.StateDict {
	return nn.StateDictOf(m.Parameters())
}

// LoadStateDict replaces every parameter from sd. Missing or unexpected keys and
// shape mismatches are reported and leave the model untouched.
func (m *ResNet) LoadStateDict(sd nn.StateDict) error {
	named := m.NamedParameters()
	var unexpected []string
	for name := range sd {
		if _, ok := named[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	if len(unexpected) > 0 {
		sort.Strings(unexpected)
		return errors.New("error loading state dict: unexpected keys " + strings.Join(unexpected, ", "))
	}
	if err := sd.LoadInto(m.Parameters()); err != nil {
		return fmt.Errorf("error loading state dict: %w", err)
	}
	return nil
}

// Train sets the network to training mode
func (m *ResNet) Train() {
	m.training = true
	m.Stem.Train()
	for _, layer := range m.Layers {
		layer.Train()
	}
	m.FC.Train()
}

// Eval sets the network to evaluation mode
func (m *ResNet) Eval() {
	m.training = false
	m.Stem.Eval()
	for _, layer := range m.Layers {
		layer.Eval()
	}
	m.FC.Eval()
}

// IsTraining returns true if in training mode
func (m *ResNet) IsTraining() bool { return m.training }

// Summary returns a short description with parameter counts
func (m *ResNet) Summary() string {
	total, trainable := nn.CountParameters(m.Parameters())
	return fmt.Sprintf("%s(input %dx%dx%d, widths %v, classes %d): %d parameters, %d trainable",
		Architecture, m.cfg.InputChannels, m.cfg.ImageSize, m.cfg.ImageSize, m.cfg.Widths,
		m.NumClasses(), total, trainable)
}
