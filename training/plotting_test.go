package training

import (
	"bytes"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderPlotFormats(t *testing.T) {
	vc := NewVisualizationCollector("resnet18")
	recordRun(vc)
	pd := vc.GenerateTrainingCurvesPlot()

	var svg bytes.Buffer
	if err := RenderPlot(pd, &svg, "svg"); err != nil {
		t.Fatalf("svg: %v", err)
	}
	if !strings.Contains(svg.String(), "<svg") {
		t.Error("svg output has no <svg> element")
	}

	var pngBuf bytes.Buffer
	if err := RenderPlot(pd, &pngBuf, "png"); err != nil {
		t.Fatalf("png: %v", err)
	}
	img, err := png.Decode(&pngBuf)
	if err != nil {
		t.Fatalf("decode rendered png: %v", err)
	}
	if dx, dy := img.Bounds().Dx(), img.Bounds().Dy(); dx < 799 || dx > 801 || dy < 499 || dy > 501 {
		t.Errorf("png size = %v", img.Bounds())
	}

	if err := RenderPlot(pd, &bytes.Buffer{}, "gif"); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestRenderEmptyPlot(t *testing.T) {
	vc := NewVisualizationCollector("resnet18")
	err := RenderPlot(vc.GenerateLearningRateSchedulePlot(), &bytes.Buffer{}, "svg")
	if !errors.Is(err, ErrEmptyPlot) {
		t.Errorf("expected ErrEmptyPlot, got %v", err)
	}
}

func TestRenderConfusionMatrix(t *testing.T) {
	vc := NewVisualizationCollector("resnet18")
	vc.RecordConfusionMatrix([][]int{{2, 0}, {1, 1}}, []string{"Normal", "Benign"})

	var buf bytes.Buffer
	if err := RenderPlot(vc.GenerateConfusionMatrixPlot(), &buf, "svg"); err != nil {
		t.Fatalf("RenderPlot: %v", err)
	}
	if !strings.Contains(buf.String(), "Benign") {
		t.Error("class names should label the axes")
	}

	// a uniform matrix must still render
	vc.RecordConfusionMatrix([][]int{{0, 0}, {0, 0}}, []string{"Normal", "Benign"})
	if err := RenderPlot(vc.GenerateConfusionMatrixPlot(), &bytes.Buffer{}, "png"); err != nil {
		t.Errorf("uniform matrix: %v", err)
	}
}

func TestSaveTrainingCurves(t *testing.T) {
	vc := NewVisualizationCollector("resnet18")
	recordRun(vc)
	dir := filepath.Join(t.TempDir(), "curves")

	paths, err := SaveTrainingCurves(vc, dir, "png")
	if err != nil {
		t.Fatalf("SaveTrainingCurves: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 files, got %v", paths)
	}
	for _, p := range paths {
		if info, err := os.Stat(p); err != nil || info.Size() == 0 {
			t.Errorf("%s not written: %v", p, err)
		}
	}

	if err := SavePlot(vc.GenerateTrainingCurvesPlot(), filepath.Join(dir, "noext")); err == nil {
		t.Error("expected error for a path without extension")
	}
}
