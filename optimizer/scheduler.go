package optimizer

import (
	"fmt"
	"math"
	"strings"
)

// Schedule decides the learning rate at the end of every epoch.
// Rate receives the number of completed epochs, the base and current rates and
// the validation accuracy of the epoch that just finished.
type Schedule interface {
	Rate(epoch int, base, current, valAcc float64) float64
	Name() string
}

// StepDecay multiplies the base rate by Gamma every StepSize epochs
type StepDecay struct {
	StepSize int
	Gamma    float64
}

// NewStepDecay returns a step schedule. Invalid arguments fall back to
// StepSize 7 and Gamma 0.1.
func NewStepDecay(stepSize int, gamma float64) *StepDecay {
	if stepSize <= 0 {
		stepSize = 7
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepDecay{StepSize: stepSize, Gamma: gamma}
}

func (s *StepDecay) Rate(epoch int, base, _, _ float64) float64 {
	return base * math.Pow(s.Gamma, float64(epoch/s.StepSize))
}

func (s *StepDecay) Name() string {
	return fmt.Sprintf("StepLR(step=%d, gamma=%g)", s.StepSize, s.Gamma)
}

// ExponentialDecay multiplies the rate by Gamma after every epoch
type ExponentialDecay struct {
	Gamma float64
}

// NewExponentialDecay returns an exponential schedule (Gamma 0.95 when invalid)
func NewExponentialDecay(gamma float64) *ExponentialDecay {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialDecay{Gamma: gamma}
}

func (s *ExponentialDecay) Rate(epoch int, base, _, _ float64) float64 {
	return base * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialDecay) Name() string {
	return fmt.Sprintf("ExponentialLR(gamma=%g)", s.Gamma)
}

// CosineAnnealing follows half a cosine from the base rate down to Floor over
// Epochs epochs and stays at Floor afterwards
type CosineAnnealing struct {
	Epochs int
	Floor  float64
}

// NewCosineAnnealing returns a cosine schedule
func NewCosineAnnealing(epochs int, floor float64) *CosineAnnealing {
	if epochs <= 0 {
		epochs = 25
	}
	if floor < 0 {
		floor = 0
	}
	return &CosineAnnealing{Epochs: epochs, Floor: floor}
}

func (s *CosineAnnealing) Rate(epoch int, base, _, _ float64) float64 {
	if epoch >= s.Epochs {
		return s.Floor
	}
	return s.Floor + (base-s.Floor)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.Epochs)))/2
}

func (s *CosineAnnealing) Name() string {
	return fmt.Sprintf("CosineAnnealingLR(epochs=%d)", s.Epochs)
}

// PlateauState is the progress a Plateau schedule tracks between epochs
type PlateauState struct {
	Best      float64
	BadEpochs int
	Seen      bool
}

// Plateau multiplies the current rate by Factor once validation accuracy has
// not improved by more than Threshold for Patience epochs
type Plateau struct {
	Factor    float64
	Patience  int
	Threshold float64

	state PlateauState
}

// NewPlateau returns a plateau schedule
func NewPlateau(factor float64, patience int, threshold float64) *Plateau {
	if factor <= 0 || factor >= 1 {
		factor = 0.1
	}
	if patience <= 0 {
		patience = 5
	}
	if threshold < 0 {
		threshold = 0
	}
	return &Plateau{Factor: factor, Patience: patience, Threshold: threshold}
}

func (s *Plateau) Rate(_ int, _, current, valAcc float64) float64 {
	if !s.state.Seen || valAcc > s.state.Best+s.Threshold {
		s.state = PlateauState{Best: valAcc, Seen: true}
		return current
	}
	s.state.BadEpochs++
	if s.state.BadEpochs < s.Patience {
		return current
	}
	s.state.BadEpochs = 0
	return current * s.Factor
}

func (s *Plateau) Name() string {
	return fmt.Sprintf("ReduceLROnPlateau(factor=%g, patience=%d)", s.Factor, s.Patience)
}

// Constant keeps the base rate
type Constant struct{}

func (Constant) Rate(_ int, base, _, _ float64) float64 { return base }

func (Constant) Name() string { return "ConstantLR" }

// ScheduleByName builds a schedule from its configuration name.
// "step" is StepLR(7, 0.1).
func ScheduleByName(name string) (Schedule, error) {
	switch strings.ToLower(name) {
	case "", "step", "steplr":
		return NewStepDecay(7, 0.1), nil
	case "exponential", "exponentiallr":
		return NewExponentialDecay(0.95), nil
	case "cosine", "cosineannealinglr":
		return NewCosineAnnealing(25, 0), nil
	case "plateau", "reducelronplateau":
		return NewPlateau(0.1, 5, 1e-4), nil
	case "constant", "none", "constantlr":
		return Constant{}, nil
	default:
		return nil, fmt.Errorf("unknown learning rate scheduler %q", name)
	}
}

// SchedulerState is a copy of an EpochScheduler's progress
type SchedulerState struct {
	Epoch   int
	Plateau PlateauState
}

// EpochScheduler binds a schedule to an optimizer and advances it once per epoch
type EpochScheduler struct {
	schedule  Schedule
	optimizer Optimizer
	baseLR    float64
	epoch     int
}

// NewEpochScheduler captures the optimizer's current learning rate as the base rate
func NewEpochScheduler(opt Optimizer, schedule Schedule) *EpochScheduler {
	return &EpochScheduler{
		schedule:  schedule,
		optimizer: opt,
		baseLR:    opt.GetLearningRate(),
	}
}

// Step ends an epoch with the given validation accuracy and applies the
// learning rate of the next one
func (e *EpochScheduler) Step(valAcc float64) float64 {
	e.epoch++
	lr := e.schedule.Rate(e.epoch, e.baseLR, e.optimizer.GetLearningRate(), valAcc)
	e.optimizer.UpdateLearningRate(lr)
	return lr
}

// Epoch returns the number of completed epochs
func (e *EpochScheduler) Epoch() int { return e.epoch }

// SetEpoch moves to epoch after a checkpoint restore. Epoch-indexed schedules
// apply their rate; a plateau keeps the optimizer's rate and starts tracking afresh.
func (e *EpochScheduler) SetEpoch(epoch int) {
	e.epoch = epoch
	if p, ok := e.schedule.(*Plateau); ok {
		p.state = PlateauState{}
		return
	}
	e.optimizer.UpdateLearningRate(e.schedule.Rate(epoch, e.baseLR, e.optimizer.GetLearningRate(), 0))
}

// State returns a copy of the scheduler's progress
func (e *EpochScheduler) State() SchedulerState {
	s := SchedulerState{Epoch: e.epoch}
	if p, ok := e.schedule.(*Plateau); ok {
		s.Plateau = p.state
	}
	return s
}

// Restore rewinds to a state returned by State. The optimizer's rate is not touched.
func (e *EpochScheduler) Restore(s SchedulerState) {
	e.epoch = s.Epoch
	if p, ok := e.schedule.(*Plateau); ok {
		p.state = s.Plateau
	}
}

// Name returns the schedule name
func (e *EpochScheduler) Name() string { return e.schedule.Name() }
