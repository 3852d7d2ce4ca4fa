package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bachhisto/histonet/labels"
)

// createTestDataset creates class directories holding mock image files
func createTestDataset(t *testing.T, classes map[string]int) string {
	t.Helper()
	root := t.TempDir()
	for className, count := range classes {
		classDir := filepath.Join(root, className)
		if err := os.MkdirAll(classDir, 0755); err != nil {
			t.Fatalf("Failed to create class directory %s: %v", classDir, err)
		}
		for i := 0; i < count; i++ {
			createMockImageFile(t, filepath.Join(classDir, fmt.Sprintf("image_%d.tif", i)))
		}
	}
	return root
}

// createMockImageFile creates a simple file to simulate an image
func createMockImageFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("mock image content"), 0644); err != nil {
		t.Fatalf("Failed to create mock image %s: %v", path, err)
	}
}

func TestNewBACHDataset(t *testing.T) {
	t.Run("ValidDataset", func(t *testing.T) {
		root := createTestDataset(t, map[string]int{
			"Normal": 2, "Benign": 3, "InSitu": 1, "Invasive": 4,
		})

		dataset, err := NewBACHDataset(root)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if dataset.Len() != 10 {
			t.Errorf("Expected 10 images, got %d", dataset.Len())
		}
		if dataset.NumClasses() != labels.Count() {
			t.Errorf("Expected %d classes, got %d", labels.Count(), dataset.NumClasses())
		}

		dist := dataset.ClassDistribution()
		expected := map[string]int{"Normal": 2, "Benign": 3, "In Situ": 1, "Invasive": 4}
		for name, count := range expected {
			if dist[name] != count {
				t.Errorf("Class %s: expected %d, got %d", name, count, dist[name])
			}
		}
	})

	t.Run("LabelsFollowRegistry", func(t *testing.T) {
		root := createTestDataset(t, map[string]int{"in_situ": 1, "0": 1})
		dataset, err := NewBACHDataset(root)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		// "0" sorts before "in_situ"
		for i, want := range []int{labels.Normal.ID, labels.InSitu.ID} {
			_, label, err := dataset.GetItem(i)
			if err != nil {
				t.Fatalf("GetItem(%d): %v", i, err)
			}
			if label != want {
				t.Errorf("item %d: label %d, expected %d", i, label, want)
			}
		}
	})

	t.Run("ExtensionsAndHiddenEntries", func(t *testing.T) {
		root := createTestDataset(t, map[string]int{"Benign": 0})
		classDir := filepath.Join(root, "Benign")
		for _, name := range []string{"a.TIF", "b.png", "c.JPEG", "notes.txt", "d.bmp"} {
			createMockImageFile(t, filepath.Join(classDir, name))
		}
		if err := os.MkdirAll(filepath.Join(root, ".cache"), 0755); err != nil {
			t.Fatal(err)
		}
		createMockImageFile(t, filepath.Join(root, "readme.png"))

		dataset, err := NewBACHDataset(root)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if dataset.Len() != 4 {
			t.Errorf("Expected 4 images, got %d", dataset.Len())
		}
	})

	t.Run("UnknownClassDirectory", func(t *testing.T) {
		root := createTestDataset(t, map[string]int{"Normal": 1, "cats": 1})
		_, err := NewBACHDataset(root)
		if !errors.Is(err, labels.ErrInvalidLabelID) {
			t.Errorf("Expected ErrInvalidLabelID, got %v", err)
		}
	})

	t.Run("DuplicateClassDirectory", func(t *testing.T) {
		root := createTestDataset(t, map[string]int{"InSitu": 1, "in-situ": 1})
		if _, err := NewBACHDataset(root); err == nil {
			t.Error("Expected error for two directories naming one class")
		}
	})

	t.Run("EmptyDataset", func(t *testing.T) {
		root := createTestDataset(t, map[string]int{"Normal": 0})
		if _, err := NewBACHDataset(root); !errors.Is(err, ErrEmptyDataset) {
			t.Errorf("Expected ErrEmptyDataset, got %v", err)
		}
	})

	t.Run("MissingRoot", func(t *testing.T) {
		if _, err := NewBACHDataset(filepath.Join(t.TempDir(), "nope")); err == nil {
			t.Error("Expected error for missing root")
		}
	})
}

func TestGetItem(t *testing.T) {
	root := createTestDataset(t, map[string]int{"Normal": 2})
	dataset, err := NewBACHDataset(root)
	if err != nil {
		t.Fatal(err)
	}

	path, label, err := dataset.GetItem(1)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if filepath.Base(path) != "image_1.tif" || label != labels.Normal.ID {
		t.Errorf("GetItem(1) = %s, %d", path, label)
	}

	for _, idx := range []int{-1, 2} {
		if _, _, err := dataset.GetItem(idx); err == nil {
			t.Errorf("GetItem(%d): expected error", idx)
		}
	}
}

func TestSplitIsSeeded(t *testing.T) {
	root := createTestDataset(t, map[string]int{"Normal": 5, "Invasive": 5})
	dataset, err := NewBACHDataset(root)
	if err != nil {
		t.Fatal(err)
	}

	trainA, valA, err := dataset.Split(0.7, true, 42)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	trainB, _, _ := dataset.Split(0.7, true, 42)

	if trainA.Len() != 7 || valA.Len() != 3 {
		t.Errorf("Split sizes = %d/%d, expected 7/3", trainA.Len(), valA.Len())
	}
	for i := 0; i < trainA.Len(); i++ {
		a, _, _ := trainA.GetItem(i)
		b, _, _ := trainB.GetItem(i)
		if a != b {
			t.Fatalf("same seed produced different splits at %d: %s vs %s", i, a, b)
		}
	}

	for _, ratio := range []float64{0, 1, -0.5} {
		if _, _, err := dataset.Split(ratio, false, 0); err == nil {
			t.Errorf("Split(%v): expected error", ratio)
		}
	}
}

func TestSubset(t *testing.T) {
	root := createTestDataset(t, map[string]int{"Normal": 3, "Benign": 3})
	dataset, err := NewBACHDataset(root)
	if err != nil {
		t.Fatal(err)
	}

	subset := dataset.Subset([]int{5, 0})
	if subset.Len() != 2 {
		t.Fatalf("Subset length = %d", subset.Len())
	}
	_, first, _ := subset.GetItem(0)
	if first != labels.Normal.ID {
		t.Errorf("Subset kept wrong order: first label %d", first)
	}
}

func TestString(t *testing.T) {
	root := createTestDataset(t, map[string]int{"Invasive": 2})
	dataset, err := NewBACHDataset(root)
	if err != nil {
		t.Fatal(err)
	}
	s := dataset.String()
	for _, want := range []string{"2 samples", "Invasive: 2 samples", "In Situ: 0 samples"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}
	if names := dataset.ClassNames(); len(names) != 4 || names[2] != "In Situ" {
		t.Errorf("ClassNames() = %v", names)
	}
}
