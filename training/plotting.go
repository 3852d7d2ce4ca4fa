package training

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ErrEmptyPlot is returned when a plot has no series to draw
var ErrEmptyPlot = errors.New("plot has no data")

// plotDPI converts PlotConfig pixel sizes to plot lengths. Raster output is
// drawn at the same resolution, so sizes come out in exact pixels.
const plotDPI = 96

func newPlot(pd PlotData) *plot.Plot {
	p := plot.New()
	p.Title.Text = pd.Title
	p.X.Label.Text = pd.Config.XAxisLabel
	p.Y.Label.Text = pd.Config.YAxisLabel
	p.Legend.Top = true
	if pd.Config.ShowGrid {
		p.Add(plotter.NewGrid())
	}
	return p
}

// buildPlot converts renderer-neutral plot data into a gonum plot
func buildPlot(pd PlotData) (*plot.Plot, error) {
	p := newPlot(pd)

	drawn := 0
	for i, s := range pd.Series {
		if len(s.Data) == 0 {
			continue
		}
		drawn++
		switch s.Type {
		case "heatmap":
			if err := addHeatMap(p, s, pd.Config.ClassNames); err != nil {
				return nil, err
			}
		case "", "line":
			pts := make(plotter.XYs, len(s.Data))
			for j, d := range s.Data {
				pts[j].X, pts[j].Y = d.X, d.Y
			}
			line, points, err := plotter.NewLinePoints(pts)
			if err != nil {
				return nil, fmt.Errorf("series %q: %w", s.Name, err)
			}
			line.Width = vg.Points(2)
			line.Color = plotutil.Color(i)
			points.Color = plotutil.Color(i)
			points.Shape = plotutil.Shape(i)
			p.Add(line, points)
			if pd.Config.ShowLegend {
				p.Legend.Add(s.Name, line, points)
			}
		default:
			return nil, fmt.Errorf("series %q: unsupported type %q", s.Name, s.Type)
		}
	}
	if drawn == 0 {
		return nil, ErrEmptyPlot
	}
	return p, nil
}

// matrixGrid adapts heatmap points to plotter.GridXYZ. Rows are true classes,
// columns predicted classes.
type matrixGrid struct {
	n     int
	cells [][]float64
}

func (g matrixGrid) Dims() (c, r int)   { return g.n, g.n }
func (g matrixGrid) Z(c, r int) float64 { return g.cells[r][c] }
func (g matrixGrid) X(c int) float64    { return float64(c) }
func (g matrixGrid) Y(r int) float64    { return float64(r) }

func addHeatMap(p *plot.Plot, s SeriesData, classNames []string) error {
	n := len(classNames)
	if n == 0 || len(s.Data) != n*n {
		return fmt.Errorf("heatmap %q: %d cells for %d classes", s.Name, len(s.Data), n)
	}
	grid := matrixGrid{n: n, cells: make([][]float64, n)}
	for i := range grid.cells {
		grid.cells[i] = make([]float64, n)
	}

	labels := plotter.XYLabels{XYs: make(plotter.XYs, len(s.Data)), Labels: make([]string, len(s.Data))}
	for i, d := range s.Data {
		c, r := int(d.X), int(d.Y)
		if c < 0 || c >= n || r < 0 || r >= n {
			return fmt.Errorf("heatmap %q: cell (%d, %d) outside %dx%d", s.Name, r, c, n, n)
		}
		grid.cells[r][c] = d.Z
		labels.XYs[i].X, labels.XYs[i].Y = d.X, d.Y
		labels.Labels[i] = fmt.Sprintf("%.0f", d.Z)
	}

	hm := plotter.NewHeatMap(grid, palette.Heat(64, 1))
	if hm.Min == hm.Max {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	counts, err := plotter.NewLabels(labels)
	if err != nil {
		return fmt.Errorf("heatmap %q: %w", s.Name, err)
	}
	p.Add(counts)

	ticks := make([]plot.Tick, n)
	for i, name := range classNames {
		ticks[i] = plot.Tick{Value: float64(i), Label: name}
	}
	p.X.Tick.Marker = plot.ConstantTicks(ticks)
	p.Y.Tick.Marker = plot.ConstantTicks(ticks)
	return nil
}

func plotSize(pd PlotData) (vg.Length, vg.Length) {
	w, h := pd.Config.Width, pd.Config.Height
	if w <= 0 {
		w = 800
	}
	if h <= 0 {
		h = 500
	}
	return vg.Inch * vg.Length(w) / plotDPI, vg.Inch * vg.Length(h) / plotDPI
}

// RenderPlot writes the plot in the given format: "png", "svg", "pdf" or "eps"
func RenderPlot(pd PlotData, w io.Writer, format string) error {
	p, err := buildPlot(pd)
	if err != nil {
		return err
	}
	width, height := plotSize(pd)
	writer, err := p.WriterTo(width, height, format)
	if err != nil {
		return fmt.Errorf("render %s plot: %w", pd.PlotType, err)
	}
	if _, err := writer.WriteTo(w); err != nil {
		return fmt.Errorf("write %s plot: %w", pd.PlotType, err)
	}
	return nil
}

// SavePlot renders the plot to path with the format taken from its extension
func SavePlot(pd PlotData, path string) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "" {
		return fmt.Errorf("plot path %q has no extension", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := RenderPlot(pd, f, format); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// SaveTrainingCurves writes the loss, accuracy and learning rate plots into dir
// and returns their paths. format is an image extension such as "png".
func SaveTrainingCurves(vc *VisualizationCollector, dir, format string) ([]string, error) {
	plots := []struct {
		name string
		data PlotData
	}{
		{"loss", vc.GenerateTrainingCurvesPlot()},
		{"accuracy", vc.GenerateAccuracyCurvesPlot()},
		{"learning_rate", vc.GenerateLearningRateSchedulePlot()},
	}

	var paths []string
	for _, pl := range plots {
		path := filepath.Join(dir, pl.name+"."+format)
		if err := SavePlot(pl.data, path); err != nil {
			return paths, fmt.Errorf("%s curves: %w", pl.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
