package labels

import (
	"errors"
	"strings"
	"testing"
)

func TestRegisteredLabels(t *testing.T) {
	tests := []struct {
		id       int
		expected string
	}{
		{0, "Normal"},
		{1, "Benign"},
		{2, "In Situ"},
		{3, "Invasive"},
	}

	for _, tt := range tests {
		if !IsValidOption(tt.id) {
			t.Errorf("IsValidOption(%d) = false, expected true", tt.id)
		}
		name, err := GetName(tt.id)
		if err != nil {
			t.Fatalf("GetName(%d) unexpected error: %v", tt.id, err)
		}
		if name != tt.expected {
			t.Errorf("GetName(%d) = %q, expected %q", tt.id, name, tt.expected)
		}
	}
}

func TestInvalidLabelIDs(t *testing.T) {
	for _, id := range []int{-1, 4, 100} {
		if IsValidOption(id) {
			t.Errorf("IsValidOption(%d) = true, expected false", id)
		}
		_, err := GetName(id)
		if !errors.Is(err, ErrInvalidLabelID) {
			t.Errorf("GetName(%d) error = %v, expected ErrInvalidLabelID", id, err)
		}
	}
}

func TestDescribeAll(t *testing.T) {
	expected := "0 : Normal, 1 : Benign, 2 : In Situ, 3 : Invasive"
	if got := DescribeAll(); got != expected {
		t.Errorf("DescribeAll() = %q, expected %q", got, expected)
	}
}

func TestGetNameGatedByIsValidOption(t *testing.T) {
	for id := -10; id <= 10; id++ {
		_, err := GetName(id)
		if IsValidOption(id) && err != nil {
			t.Errorf("GetName(%d) failed for a valid id: %v", id, err)
		}
		if !IsValidOption(id) && err == nil {
			t.Errorf("GetName(%d) succeeded for an invalid id", id)
		}
	}
}

func TestChoicesAreContiguousAndCopied(t *testing.T) {
	items := Choices()
	if len(items) != Count() {
		t.Fatalf("Choices() returned %d items, Count() = %d", len(items), Count())
	}
	for i, item := range items {
		if item.ID != i {
			t.Errorf("choice %d has id %d", i, item.ID)
		}
	}

	names := Names()
	for i, item := range items {
		if names[i] != item.Name {
			t.Errorf("Names()[%d] = %q, expected %q", i, names[i], item.Name)
		}
	}

	items[0].Name = "changed"
	names[1] = "changed"
	if name, _ := GetName(0); name != "Normal" {
		t.Errorf("mutating Choices() leaked into the registry: %q", name)
	}
	if Names()[1] != "Benign" {
		t.Error("mutating Names() leaked into the registry")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		input    string
		expected LabelItem
	}{
		{"Normal", Normal},
		{"benign", Benign},
		{"InSitu", InSitu},
		{"in_situ", InSitu},
		{"In Situ", InSitu},
		{"in-situ", InSitu},
		{"INVASIVE", Invasive},
		{"2", InSitu},
		{" 3 ", Invasive},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("Parse(%q) = %v, expected %v", tt.input, got, tt.expected)
			}
		})
	}

	for _, bad := range []string{"7", "-1", "tumour", ""} {
		if _, err := Parse(bad); !errors.Is(err, ErrInvalidLabelID) {
			t.Errorf("Parse(%q) error = %v, expected ErrInvalidLabelID", bad, err)
		}
	}
}

func TestMustNamePanicsOnInvalidID(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected MustName to panic")
		}
		if err, ok := r.(error); !ok || !strings.Contains(err.Error(), "invalid label id") {
			t.Errorf("unexpected panic value: %v", r)
		}
	}()
	MustName(42)
}
