package training

import (
	"encoding/json"
	"fmt"
	"time"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	TrainingCurves       PlotType = "training_curves"
	AccuracyCurves       PlotType = "accuracy_curves"
	LearningRateSchedule PlotType = "learning_rate_schedule"
	ConfusionMatrixPlot  PlotType = "confusion_matrix"
)

// PlotData is a renderer-neutral description of one plot. It is rendered with
// gonum/plot by RenderPlot and served as JSON by the dashboard.
type PlotData struct {
	PlotType  PlotType     `json:"plot_type"`
	Title     string       `json:"title"`
	Timestamp time.Time    `json:"timestamp"`
	ModelName string       `json:"model_name"`
	Series    []SeriesData `json:"series"`
	Config    PlotConfig   `json:"config"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name string      `json:"name"`
	Type string      `json:"type"` // "line" or "heatmap"
	Data []DataPoint `json:"data"`
}

// DataPoint is one point; Z is the cell value for heatmaps
type DataPoint struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z,omitempty"`
	Label string  `json:"label,omitempty"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel string   `json:"x_axis_label"`
	YAxisLabel string   `json:"y_axis_label"`
	ShowLegend bool     `json:"show_legend"`
	ShowGrid   bool     `json:"show_grid"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	ClassNames []string `json:"class_names,omitempty"`
}

// EpochStats is the outcome of one phase of one epoch
type EpochStats struct {
	Epoch        int           `json:"epoch"`
	Phase        Phase         `json:"phase"`
	Loss         float64       `json:"loss"`
	Accuracy     float64       `json:"accuracy"`
	LearningRate float64       `json:"learning_rate"`
	Samples      int           `json:"samples"`
	Duration     time.Duration `json:"duration"`
}

// VisualizationCollector records per-epoch statistics for plotting
type VisualizationCollector struct {
	modelName string
	epochs    []EpochStats

	confusionMatrix [][]int
	classNames      []string
}

// NewVisualizationCollector creates a new visualization collector
func NewVisualizationCollector(modelName string) *VisualizationCollector {
	return &VisualizationCollector{modelName: modelName}
}

// RecordEpoch appends the stats of one phase
func (vc *VisualizationCollector) RecordEpoch(stats EpochStats) {
	vc.epochs = append(vc.epochs, stats)
}

// RecordConfusionMatrix stores the latest evaluation matrix
func (vc *VisualizationCollector) RecordConfusionMatrix(matrix [][]int, classNames []string) {
	vc.confusionMatrix = make([][]int, len(matrix))
	for i, row := range matrix {
		vc.confusionMatrix[i] = append([]int(nil), row...)
	}
	vc.classNames = append([]string(nil), classNames...)
}

// DropFrom removes the stats of epoch and every later epoch
func (vc *VisualizationCollector) DropFrom(epoch int) {
	kept := vc.epochs[:0]
	for _, s := range vc.epochs {
		if s.Epoch < epoch {
			kept = append(kept, s)
		}
	}
	vc.epochs = kept
}

// Epochs returns a copy of the recorded stats in recording order
func (vc *VisualizationCollector) Epochs() []EpochStats {
	return append([]EpochStats(nil), vc.epochs...)
}

// phaseSeries builds one line per phase, in first-seen phase order
func (vc *VisualizationCollector) phaseSeries(suffix string, value func(EpochStats) float64) []SeriesData {
	var order []Phase
	byPhase := make(map[Phase]*SeriesData)
	for _, s := range vc.epochs {
		series, ok := byPhase[s.Phase]
		if !ok {
			series = &SeriesData{Name: string(s.Phase) + " " + suffix, Type: "line"}
			byPhase[s.Phase] = series
			order = append(order, s.Phase)
		}
		series.Data = append(series.Data, DataPoint{X: float64(s.Epoch), Y: value(s)})
	}
	out := make([]SeriesData, len(order))
	for i, p := range order {
		out[i] = *byPhase[p]
	}
	return out
}

func (vc *VisualizationCollector) curvesConfig(yLabel string) PlotConfig {
	return PlotConfig{
		XAxisLabel: "Epoch",
		YAxisLabel: yLabel,
		ShowLegend: true,
		ShowGrid:   true,
		Width:      800,
		Height:     500,
	}
}

// GenerateTrainingCurvesPlot plots loss per epoch for every phase
func (vc *VisualizationCollector) GenerateTrainingCurvesPlot() PlotData {
	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Loss - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    vc.phaseSeries("loss", func(s EpochStats) float64 { return s.Loss }),
		Config:    vc.curvesConfig("Loss"),
	}
}

// GenerateAccuracyCurvesPlot plots accuracy per epoch for every phase
func (vc *VisualizationCollector) GenerateAccuracyCurvesPlot() PlotData {
	return PlotData{
		PlotType:  AccuracyCurves,
		Title:     fmt.Sprintf("Accuracy - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    vc.phaseSeries("acc", func(s EpochStats) float64 { return s.Accuracy }),
		Config:    vc.curvesConfig("Accuracy"),
	}
}

// GenerateLearningRateSchedulePlot plots the learning rate used by each training epoch
func (vc *VisualizationCollector) GenerateLearningRateSchedulePlot() PlotData {
	series := SeriesData{Name: "Learning Rate", Type: "line"}
	for _, s := range vc.epochs {
		if s.Phase == PhaseTrain {
			series.Data = append(series.Data, DataPoint{X: float64(s.Epoch), Y: s.LearningRate})
		}
	}
	cfg := vc.curvesConfig("Learning Rate")
	cfg.ShowLegend = false
	return PlotData{
		PlotType:  LearningRateSchedule,
		Title:     fmt.Sprintf("Learning Rate Schedule - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    []SeriesData{series},
		Config:    cfg,
	}
}

// GenerateConfusionMatrixPlot returns a heatmap of the recorded matrix, or an
// empty PlotData when none was recorded
func (vc *VisualizationCollector) GenerateConfusionMatrixPlot() PlotData {
	if len(vc.confusionMatrix) == 0 {
		return PlotData{}
	}

	var data []DataPoint
	for i, row := range vc.confusionMatrix {
		for j, value := range row {
			data = append(data, DataPoint{
				X:     float64(j),
				Y:     float64(i),
				Z:     float64(value),
				Label: fmt.Sprintf("True: %s, Pred: %s", vc.classNames[i], vc.classNames[j]),
			})
		}
	}

	return PlotData{
		PlotType:  ConfusionMatrixPlot,
		Title:     fmt.Sprintf("Confusion Matrix - %s", vc.modelName),
		Timestamp: time.Now(),
		ModelName: vc.modelName,
		Series:    []SeriesData{{Name: "Confusion Matrix", Type: "heatmap", Data: data}},
		Config: PlotConfig{
			XAxisLabel: "Predicted Class",
			YAxisLabel: "True Class",
			Width:      600,
			Height:     600,
			ClassNames: vc.classNames,
		},
	}
}

// ToJSON converts plot data to JSON string
func (pd PlotData) ToJSON() (string, error) {
	jsonData, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plot data to JSON: %w", err)
	}
	return string(jsonData), nil
}

// Clear resets all collected data
func (vc *VisualizationCollector) Clear() {
	vc.epochs = vc.epochs[:0]
	vc.confusionMatrix = nil
	vc.classNames = nil
}
