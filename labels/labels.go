package labels

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidLabelID is returned when a label code is not one of the registered choices
var ErrInvalidLabelID = errors.New("invalid label id")

// LabelItem pairs a label code with its display name
type LabelItem struct {
	ID   int
	Name string
}

// String returns the "id : name" form used by DescribeAll
func (l LabelItem) String() string {
	return fmt.Sprintf("%d : %s", l.ID, l.Name)
}

// Registered histology classes
var (
	Normal   = LabelItem{ID: 0, Name: "Normal"}
	Benign   = LabelItem{ID: 1, Name: "Benign"}
	InSitu   = LabelItem{ID: 2, Name: "In Situ"}
	Invasive = LabelItem{ID: 3, Name: "Invasive"}
)

// choices holds the labels in declaration order; index equals ID
var choices = [...]LabelItem{Normal, Benign, InSitu, Invasive}

// index is built once at init and never written afterwards
var index = func() map[int]LabelItem {
	m := make(map[int]LabelItem, len(choices))
	for _, item := range choices {
		m[item.ID] = item
	}
	return m
}()

// Choices returns a copy of the registered labels in declaration order
func Choices() []LabelItem {
	out := make([]LabelItem, len(choices))
	copy(out, choices[:])
	return out
}

// Names returns the label names indexed by ID
func Names() []string {
	names := make([]string, len(choices))
	for i, item := range choices {
		names[i] = item.Name
	}
	return names
}

// Count returns the number of registered labels
func Count() int {
	return len(choices)
}

// IsValidOption reports whether id belongs to any of the choices
func IsValidOption(id int) bool {
	_, ok := index[id]
	return ok
}

// GetName returns the display name associated with id
func GetName(id int) (string, error) {
	item, ok := index[id]
	if !ok {
		return "", fmt.Errorf("%w: %d (valid: %s)", ErrInvalidLabelID, id, DescribeAll())
	}
	return item.Name, nil
}

// MustName is GetName for ids that were already validated. It panics otherwise.
func MustName(id int) string {
	name, err := GetName(id)
	if err != nil {
		panic(err)
	}
	return name
}

// DescribeAll returns "id : name" pairs in declaration order, comma separated
func DescribeAll() string {
	parts := make([]string, len(choices))
	for i, item := range choices {
		parts[i] = item.String()
	}
	return strings.Join(parts, ", ")
}

// Parse resolves a numeric code or a class name such as a dataset directory name.
// Matching ignores case, spaces, underscores and hyphens.
func Parse(s string) (LabelItem, error) {
	trimmed := strings.TrimSpace(s)
	if id, err := strconv.Atoi(trimmed); err == nil {
		if item, ok := index[id]; ok {
			return item, nil
		}
		return LabelItem{}, fmt.Errorf("%w: %d (valid: %s)", ErrInvalidLabelID, id, DescribeAll())
	}

	key := canonical(trimmed)
	for _, item := range choices {
		if canonical(item.Name) == key {
			return item, nil
		}
	}
	return LabelItem{}, fmt.Errorf("%w: unknown label name %q (valid: %s)", ErrInvalidLabelID, s, DescribeAll())
}

func canonical(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(s))
}
