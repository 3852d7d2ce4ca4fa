package training

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/bachhisto/histonet/models"
	"github.com/bachhisto/histonet/nn"
)

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pb := NewProgressBar(&buf, "train", 4)
	for i := 1; i <= 4; i++ {
		pb.Update(i, map[string]float64{"loss": 1.0 / float64(i), "acc": 0.25 * float64(i)})
	}
	pb.Finish()

	out := buf.String()
	if !strings.Contains(out, "train: 100%") || !strings.Contains(out, "4/4") {
		t.Errorf("final state missing:\n%q", out)
	}
	if !strings.Contains(out, "acc=100.00%, loss=0.250") {
		t.Errorf("metrics not rendered in sorted order:\n%q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("Finish should end the line")
	}
}

func TestProgressBarZeroTotal(t *testing.T) {
	var buf bytes.Buffer
	NewProgressBar(&buf, "empty", 0).Finish()
	if !strings.Contains(buf.String(), "100%") {
		t.Errorf("zero-total bar = %q", buf.String())
	}
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		d        time.Duration
		duration string
		elapsed  string
	}{
		{0, "00:00", "0m 0s"},
		{65 * time.Second, "01:05", "1m 5s"},
		{3723 * time.Second, "62:03", "62m 3s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.duration {
			t.Errorf("formatDuration(%v) = %s, expected %s", tt.d, got, tt.duration)
		}
		if got := formatElapsed(tt.d); got != tt.elapsed {
			t.Errorf("formatElapsed(%v) = %s, expected %s", tt.d, got, tt.elapsed)
		}
	}

	counts := map[int64]string{999: "999", 1500: "1.5K", 11_200_000: "11.2M"}
	for n, want := range counts {
		if got := formatParameterCount(n); got != want {
			t.Errorf("formatParameterCount(%d) = %s, expected %s", n, got, want)
		}
	}
}

func TestPrintArchitecture(t *testing.T) {
	m, err := models.ResNet18(tinyModelConfig())
	if err != nil {
		t.Fatal(err)
	}
	nn.SetRequiresGrad(m.BackboneParameters(), false)

	var buf bytes.Buffer
	PrintArchitecture(&buf, m)
	out := buf.String()
	for _, want := range []string{"resnet18(", "(layer4)", "(fc): Linear(in_features=5, out_features=4", "Non-trainable parameters"} {
		if !strings.Contains(out, want) {
			t.Errorf("architecture missing %q:\n%s", want, out)
		}
	}
}
