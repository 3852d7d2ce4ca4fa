package training

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bachhisto/histonet/models"
	"github.com/bachhisto/histonet/nn"
)

// ProgressBar draws batch progress on a terminal writer
type ProgressBar struct {
	out         io.Writer
	description string
	total       int
	current     int
	startTime   time.Time
	width       int
	metrics     map[string]float64
}

// NewProgressBar creates a new progress bar writing to out
func NewProgressBar(out io.Writer, description string, total int) *ProgressBar {
	return &ProgressBar{
		out:         out,
		description: description,
		total:       total,
		startTime:   time.Now(),
		width:       40,
		metrics:     make(map[string]float64),
	}
}

// Update advances the progress bar
func (pb *ProgressBar) Update(step int, metrics map[string]float64) {
	pb.current = step
	for k, v := range metrics {
		pb.metrics[k] = v
	}
	pb.render()
}

// Finish completes the progress bar
func (pb *ProgressBar) Finish() {
	pb.current = pb.total
	pb.render()
	fmt.Fprintln(pb.out)
}

// render draws the progress bar
func (pb *ProgressBar) render() {
	percentage := 1.0
	if pb.total > 0 {
		percentage = float64(pb.current) / float64(pb.total)
	}
	if percentage > 1.0 {
		percentage = 1.0
	}
	filled := int(percentage * float64(pb.width))
	bar := strings.Repeat("█", filled) + strings.Repeat(" ", pb.width-filled)

	elapsed := time.Since(pb.startTime)
	var eta time.Duration
	var rate float64
	if pb.current > 0 {
		rate = float64(pb.current) / elapsed.Seconds()
		eta = time.Duration(float64(elapsed)/percentage) - elapsed
	}

	line := fmt.Sprintf("\r%s: %3.0f%%|%s| %d/%d [%s<%s",
		pb.description, percentage*100, bar, pb.current, pb.total,
		formatDuration(elapsed), formatDuration(eta))
	if rate > 0 {
		line += fmt.Sprintf(", %.2fbatch/s", rate)
	}

	keys := make([]string, 0, len(pb.metrics))
	for k := range pb.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := pb.metrics[key]
		if strings.Contains(key, "acc") {
			line += fmt.Sprintf(", %s=%.2f%%", key, value*100)
		} else {
			line += fmt.Sprintf(", %s=%.3f", key, value)
		}
	}
	fmt.Fprint(pb.out, line+"]")
}

// formatDuration formats duration as MM:SS
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// formatElapsed formats seconds the way the training report prints them: "1m 5s"
func formatElapsed(d time.Duration) string {
	s := d.Seconds()
	return fmt.Sprintf("%.0fm %.0fs", math.Floor(s/60), math.Mod(s, 60))
}

// PrintArchitecture writes a layer-by-layer summary of the network
func PrintArchitecture(out io.Writer, m *models.ResNet) {
	cfg := m.Config()
	fmt.Fprintf(out, "%s(\n", models.Architecture)
	fmt.Fprintf(out, "  (stem): AdaptiveAvgPool2d(output_size=(%d, %d)) -> Linear(in_features=%d, out_features=%d) -> ReLU()\n",
		cfg.StemGrid, cfg.StemGrid, cfg.InputChannels*cfg.StemGrid*cfg.StemGrid, cfg.Widths[0])
	for i, layer := range m.Layers {
		total, trainable := nn.CountParameters(layer.Parameters())
		fmt.Fprintf(out, "  (layer%d): %d x BasicBlock(width=%d) params=%s trainable=%s\n",
			i+1, cfg.BlocksPerStage, cfg.Widths[i], formatParameterCount(int64(total)), formatParameterCount(int64(trainable)))
	}
	fmt.Fprintf(out, "  (fc): Linear(in_features=%d, out_features=%d, bias=true)\n", m.FCInFeatures(), m.NumClasses())
	fmt.Fprintln(out, ")")

	total, trainable := nn.CountParameters(m.Parameters())
	fmt.Fprintf(out, "Total parameters: %s\n", formatParameterCount(int64(total)))
	fmt.Fprintf(out, "Trainable parameters: %s\n", formatParameterCount(int64(trainable)))
	fmt.Fprintf(out, "Non-trainable parameters: %s\n", formatParameterCount(int64(total-trainable)))
	fmt.Fprintf(out, "Params size (MB): %.3f\n\n", float64(total*8)/1024/1024)
}

// formatParameterCount formats parameter count with K/M suffixes
func formatParameterCount(count int64) string {
	if count >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(count)/1000000.0)
	} else if count >= 1000 {
		return fmt.Sprintf("%.1fK", float64(count)/1000.0)
	}
	return fmt.Sprintf("%d", count)
}
