package dashboard

import (
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bachhisto/histonet/training"
)

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestHistoryAndPlots(t *testing.T) {
	s := New()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if resp, body := get(t, ts.URL+"/history.json"); resp.StatusCode != http.StatusOK || strings.TrimSpace(body) != "[]" {
		t.Errorf("empty history = %d %q", resp.StatusCode, body)
	}
	if resp, _ := get(t, ts.URL+"/plot/loss.svg"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("loss plot without data = %d", resp.StatusCode)
	}

	for epoch := 0; epoch < 2; epoch++ {
		s.OnEpoch(training.EpochStats{Epoch: epoch, Phase: training.PhaseTrain, Loss: 1, Accuracy: 0.5, LearningRate: 0.001})
		s.OnEpoch(training.EpochStats{Epoch: epoch, Phase: training.PhaseValidation, Loss: 1.2, Accuracy: 0.4, LearningRate: 0.001})
	}

	resp, body := get(t, ts.URL+"/history.json")
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var history []training.EpochStats
	if err := json.Unmarshal([]byte(body), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 4 || history[3].Phase != training.PhaseValidation {
		t.Errorf("history = %+v", history)
	}

	for _, kind := range []string{"loss", "accuracy", "lr"} {
		resp, body := get(t, ts.URL+"/plot/"+kind+".svg")
		if resp.StatusCode != http.StatusOK || !strings.Contains(body, "<svg") {
			t.Errorf("%s plot = %d", kind, resp.StatusCode)
		}
	}

	s.RecordConfusionMatrix([][]int{{1, 0}, {0, 1}}, []string{"Normal", "Benign"})
	if resp, _ := get(t, ts.URL+"/plot/confusion.svg"); resp.StatusCode != http.StatusOK {
		t.Errorf("confusion plot = %d", resp.StatusCode)
	}
	if resp, _ := get(t, ts.URL+"/plot/other.svg"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown plot = %d", resp.StatusCode)
	}

	if _, body := get(t, ts.URL+"/"); !strings.Contains(body, "4 phase results") {
		t.Errorf("index page:\n%s", body)
	}
}

func TestRenderServesLatestFile(t *testing.T) {
	s := New()
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	if resp, _ := get(t, ts.URL+"/render/"+training.RenderPredictions); resp.StatusCode != http.StatusNotFound {
		t.Errorf("render before any file = %d", resp.StatusCode)
	}

	path := filepath.Join(t.TempDir(), "predictions.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatal(err)
	}
	f.Close()
	s.OnRender(training.RenderPredictions, path)

	resp, body := get(t, ts.URL+"/render/"+training.RenderPredictions)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("render = %d", resp.StatusCode)
	}
	img, err := png.Decode(strings.NewReader(body))
	if err != nil || img.Bounds().Dx() != 3 {
		t.Errorf("served image: %v", err)
	}
}

func TestWebsocketStream(t *testing.T) {
	s := New()
	s.OnEpoch(training.EpochStats{Epoch: 0, Phase: training.PhaseTrain})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello Message
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != "hello" || hello.Epochs != 1 {
		t.Errorf("hello = %+v", hello)
	}

	s.OnEpoch(training.EpochStats{Epoch: 1, Phase: training.PhaseValidation, Accuracy: 0.75})
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read epoch: %v", err)
	}
	if msg.Type != "epoch" || msg.Stats == nil || msg.Stats.Accuracy != 0.75 || msg.Stats.Phase != training.PhaseValidation {
		t.Errorf("epoch message = %+v", msg)
	}

	s.OnRender(training.RenderCurves, "/tmp/loss.svg")
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read render: %v", err)
	}
	if msg.Type != "render" || msg.Kind != training.RenderCurves {
		t.Errorf("render message = %+v", msg)
	}

	s.OnRollback(1)
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read rollback: %v", err)
	}
	if msg.Type != "rollback" || msg.Epochs != 1 {
		t.Errorf("rollback message = %+v", msg)
	}
	if _, body := get(t, ts.URL+"/history.json"); strings.Contains(body, "0.75") {
		t.Errorf("history still holds the withdrawn epoch: %s", body)
	}
}
