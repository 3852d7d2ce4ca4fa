package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	d := Default()
	if err := d.Validate(); err != nil {
		t.Fatalf("Default() invalid: %v", err)
	}
	if d.BatchSize != 4 || d.NumWorkers != 0 || d.ImageSize != 224 || d.ValidationSplit != "test" {
		t.Errorf("unexpected defaults: %+v", d)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Settings)
		want   string
	}{
		{"zero batch", func(s *Settings) { s.BatchSize = 0 }, KeyBatchSize},
		{"negative workers", func(s *Settings) { s.NumWorkers = -1 }, KeyNumWorkers},
		{"zero image size", func(s *Settings) { s.ImageSize = 0 }, KeyImageSize},
		{"empty output", func(s *Settings) { s.OutputFolder = " " }, KeyOutputFolder},
		{"empty model folder", func(s *Settings) { s.ModelSaveFolder = "" }, KeyModelSaveFolder},
		{"zero learning rate", func(s *Settings) { s.LearningRate = 0 }, KeyLearningRate},
		{"validation ratio too large", func(s *Settings) { s.ValidationSplit = "1.5" }, KeyValidationSplit},
		{"zero validation ratio", func(s *Settings) { s.ValidationSplit = "0" }, KeyValidationSplit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.modify(&s)
			err := s.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, expected mention of %s", err, tt.want)
			}
		})
	}
}

func TestValidateErrorOrder(t *testing.T) {
	s := Default()
	s.OutputFolder = ""
	s.ModelSaveFolder = ""
	s.VisualizationFolder = ""
	s.ValidationSplit = ""

	keys := []string{KeyOutputFolder, KeyModelSaveFolder, KeyVisualizationFolder, KeyValidationSplit}
	first := s.Validate().Error()
	last := -1
	for _, key := range keys {
		idx := strings.Index(first, key+" must not be empty")
		if idx <= last {
			t.Fatalf("errors out of order: %q", first)
		}
		last = idx
	}
	for i := 0; i < 20; i++ {
		if msg := s.Validate().Error(); msg != first {
			t.Fatalf("Validate() message changed between calls:\n%s\n%s", first, msg)
		}
	}
}

func TestValidationRatio(t *testing.T) {
	tests := []struct {
		split string
		ratio float64
		ok    bool
	}{
		{"test", 0, false},
		{"val", 0, false},
		{"0.2", 0.2, true},
		{" 0.25 ", 0.25, true},
	}
	for _, tt := range tests {
		s := Default()
		s.ValidationSplit = tt.split
		ratio, ok := s.ValidationRatio()
		if ratio != tt.ratio || ok != tt.ok {
			t.Errorf("ValidationRatio(%q) = %v, %v, expected %v, %v", tt.split, ratio, ok, tt.ratio, tt.ok)
		}
		if err := s.Validate(); err != nil {
			t.Errorf("Validate(%q): %v", tt.split, err)
		}
	}
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "histonet.yaml")
	content := "batch_size: 8\noutput_folder: /data/bach\nimage_size: 112\n"
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HISTONET_IMAGE_SIZE", "64")

	s, err := Load(New(), configFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.BatchSize != 8 || s.OutputFolder != "/data/bach" {
		t.Errorf("config file values not applied: %+v", s)
	}
	if s.ImageSize != 64 {
		t.Errorf("environment should override the config file, image_size = %d", s.ImageSize)
	}
	if s.CacheSize != 1000 || s.Seed != 1 {
		t.Errorf("defaults not applied: %+v", s)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}

	t.Setenv("HISTONET_BATCH_SIZE", "0")
	if _, err := Load(New(), ""); err == nil {
		t.Error("expected validation error for batch_size 0")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("HISTONET_NUM_WORKERS=3\nHISTONET_SEED=7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	// Registered with t.Setenv so the values are restored after the test
	t.Setenv("HISTONET_NUM_WORKERS", "")
	os.Unsetenv("HISTONET_NUM_WORKERS")
	t.Setenv("HISTONET_SEED", "9")

	if err := LoadDotEnv(envFile, filepath.Join(dir, "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	s, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.NumWorkers != 3 {
		t.Errorf("num_workers = %d, expected 3 from .env", s.NumWorkers)
	}
	if s.Seed != 9 {
		t.Errorf("seed = %d, existing environment should win over .env", s.Seed)
	}
}
