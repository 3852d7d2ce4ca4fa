package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/bachhisto/histonet/labels"
)

// ErrEmptyDataset is returned when a split directory holds no images
var ErrEmptyDataset = errors.New("no images found")

// Extensions lists the image file extensions picked up from class directories
var Extensions = []string{".tif", ".tiff", ".png", ".jpg", ".jpeg", ".bmp"}

// BACHDataset is one split of the BACH histology images, laid out as
// root/<label dir>/<image>. Labels are registry IDs, not directory order.
type BACHDataset struct {
	root       string
	imagePaths []string
	labels     []int
}

// NewBACHDataset scans root for class directories. Directory names are resolved
// with labels.Parse, so "InSitu", "in_situ" and "2" all map to the same class.
func NewBACHDataset(root string) (*BACHDataset, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes in %s: %w", root, err)
	}

	dataset := &BACHDataset{root: root}
	seen := make(map[int]string)

	// os.ReadDir sorts by name, which keeps sample order stable across runs
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		item, err := labels.Parse(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("class directory %s: %w", filepath.Join(root, entry.Name()), err)
		}
		if prev, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("class directories %q and %q both resolve to %s", prev, entry.Name(), item)
		}
		seen[item.ID] = entry.Name()

		classDir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, fmt.Errorf("failed to list images in %s: %w", classDir, err)
		}
		for _, f := range files {
			if f.IsDir() || !isImageFile(f.Name()) {
				continue
			}
			dataset.imagePaths = append(dataset.imagePaths, filepath.Join(classDir, f.Name()))
			dataset.labels = append(dataset.labels, item.ID)
		}
	}

	if len(dataset.imagePaths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrEmptyDataset, root)
	}
	return dataset, nil
}

func isImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Root returns the directory the dataset was scanned from
func (d *BACHDataset) Root() string {
	return d.root
}

// Len returns the number of items in the dataset
func (d *BACHDataset) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and label at the given index
func (d *BACHDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// NumClasses returns the number of registered labels, present in this split or not
func (d *BACHDataset) NumClasses() int {
	return labels.Count()
}

// ClassNames returns the label names indexed by label ID
func (d *BACHDataset) ClassNames() []string {
	return labels.Names()
}

// ClassDistribution returns the number of samples per label name
func (d *BACHDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		dist[labels.MustName(label)]++
	}
	return dist
}

// Split divides the dataset into two parts. With shuffle the permutation comes
// from seed, so the same seed always yields the same split.
func (d *BACHDataset) Split(trainRatio float64, shuffle bool, seed int64) (*BACHDataset, *BACHDataset, error) {
	if trainRatio <= 0 || trainRatio >= 1 {
		return nil, nil, fmt.Errorf("train ratio must be in (0, 1), got %v", trainRatio)
	}
	n := len(d.imagePaths)
	trainSize := int(float64(n) * trainRatio)

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	if shuffle {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(n, func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	return d.Subset(indices[:trainSize]), d.Subset(indices[trainSize:]), nil
}

// Subset creates a dataset with the items at the given indices, in that order.
// Out of range indices panic.
func (d *BACHDataset) Subset(indices []int) *BACHDataset {
	subset := &BACHDataset{
		root:       d.root,
		imagePaths: make([]string, len(indices)),
		labels:     make([]int, len(indices)),
	}
	for i, idx := range indices {
		subset.imagePaths[i] = d.imagePaths[idx]
		subset.labels[i] = d.labels[idx]
	}
	return subset
}

// String returns a string representation of the dataset
func (d *BACHDataset) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "BACHDataset(%s): %d samples, %d classes\n", d.root, len(d.imagePaths), labels.Count())
	sb.WriteString("Class distribution:\n")

	dist := d.ClassDistribution()
	for _, item := range labels.Choices() {
		fmt.Fprintf(&sb, "  %s: %d samples\n", item.Name, dist[item.Name])
	}
	return sb.String()
}
