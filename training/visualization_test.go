package training

import (
	"encoding/json"
	"strings"
	"testing"
)

func recordRun(vc *VisualizationCollector) {
	lrs := []float64{0.001, 0.001, 0.0001}
	for epoch, lr := range lrs {
		vc.RecordEpoch(EpochStats{Epoch: epoch, Phase: PhaseTrain, Loss: 1.5 - 0.4*float64(epoch), Accuracy: 0.3 + 0.2*float64(epoch), LearningRate: lr})
		vc.RecordEpoch(EpochStats{Epoch: epoch, Phase: PhaseValidation, Loss: 1.6 - 0.3*float64(epoch), Accuracy: 0.25 + 0.2*float64(epoch), LearningRate: lr})
	}
}

func TestGenerateTrainingCurvesPlot(t *testing.T) {
	vc := NewVisualizationCollector("resnet18")
	recordRun(vc)

	loss := vc.GenerateTrainingCurvesPlot()
	if loss.PlotType != TrainingCurves || loss.ModelName != "resnet18" {
		t.Errorf("unexpected header: %+v", loss)
	}
	if len(loss.Series) != 2 {
		t.Fatalf("expected a series per phase, got %d", len(loss.Series))
	}
	if loss.Series[0].Name != "train loss" || loss.Series[1].Name != "val loss" {
		t.Errorf("series names = %q, %q", loss.Series[0].Name, loss.Series[1].Name)
	}
	last := loss.Series[0].Data[2]
	if last.X != 2 || last.Y != 1.5-0.8 {
		t.Errorf("last train point = %+v", last)
	}

	acc := vc.GenerateAccuracyCurvesPlot()
	if acc.PlotType != AccuracyCurves || acc.Series[1].Data[0].Y != 0.25 {
		t.Errorf("unexpected accuracy plot: %+v", acc.Series)
	}
}

func TestGenerateLearningRateSchedulePlot(t *testing.T) {
	vc := NewVisualizationCollector("resnet18")
	recordRun(vc)

	pd := vc.GenerateLearningRateSchedulePlot()
	if len(pd.Series) != 1 {
		t.Fatalf("expected one series, got %d", len(pd.Series))
	}
	data := pd.Series[0].Data
	if len(data) != 3 {
		t.Fatalf("learning rate should be recorded once per training epoch, got %d points", len(data))
	}
	if data[2].Y != 0.0001 {
		t.Errorf("lr at epoch 2 = %v", data[2].Y)
	}
}

func TestGenerateConfusionMatrixPlot(t *testing.T) {
	vc := NewVisualizationCollector("resnet18")
	if pd := vc.GenerateConfusionMatrixPlot(); len(pd.Series) != 0 {
		t.Error("expected empty plot before a matrix is recorded")
	}

	matrix := [][]int{{3, 1}, {0, 4}}
	vc.RecordConfusionMatrix(matrix, []string{"Normal", "Benign"})
	matrix[0][0] = 99

	pd := vc.GenerateConfusionMatrixPlot()
	cells := pd.Series[0].Data
	if len(cells) != 4 {
		t.Fatalf("expected 4 cells, got %d", len(cells))
	}
	if cells[0].Z != 3 {
		t.Error("recorded matrix should be a copy")
	}
	if cells[1].X != 1 || cells[1].Y != 0 || cells[1].Z != 1 {
		t.Errorf("cell (0,1) = %+v", cells[1])
	}
	if cells[1].Label != "True: Normal, Pred: Benign" {
		t.Errorf("label = %q", cells[1].Label)
	}
}

func TestPlotDataToJSON(t *testing.T) {
	vc := NewVisualizationCollector("resnet18")
	recordRun(vc)

	out, err := vc.GenerateTrainingCurvesPlot().ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	var decoded PlotData
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.PlotType != TrainingCurves || len(decoded.Series) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
	if !strings.Contains(out, `"x_axis_label": "Epoch"`) {
		t.Errorf("missing axis label in %s", out)
	}
}

func TestVisualizationCollectorClear(t *testing.T) {
	vc := NewVisualizationCollector("resnet18")
	recordRun(vc)
	vc.RecordConfusionMatrix([][]int{{1}}, []string{"Normal"})

	history := vc.Epochs()
	history[0].Loss = -1
	if vc.Epochs()[0].Loss == -1 {
		t.Error("Epochs should return a copy")
	}

	vc.Clear()
	if len(vc.Epochs()) != 0 {
		t.Error("epochs not cleared")
	}
	if pd := vc.GenerateConfusionMatrixPlot(); len(pd.Series) != 0 {
		t.Error("confusion matrix not cleared")
	}
}

func TestVisualizationCollectorDropFrom(t *testing.T) {
	vc := NewVisualizationCollector("resnet18")
	recordRun(vc)

	vc.DropFrom(1)
	epochs := vc.Epochs()
	if len(epochs) != 2 || epochs[0].Epoch != 0 || epochs[1].Epoch != 0 {
		t.Errorf("after DropFrom(1): %+v", epochs)
	}
	vc.DropFrom(5)
	if len(vc.Epochs()) != 2 {
		t.Error("DropFrom past the last epoch removed stats")
	}
	vc.DropFrom(0)
	if len(vc.Epochs()) != 0 {
		t.Error("DropFrom(0) kept stats")
	}
}
