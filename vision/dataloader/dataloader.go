package dataloader

import (
	"fmt"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/bachhisto/histonet/vision/preprocessing"
)

// DefaultCacheSize is used when Config.MaxCacheSize is zero
const DefaultCacheSize = 1000

// Dataset interface defines the contract for datasets
type Dataset interface {
	Len() int
	GetItem(index int) (imagePath string, label int, err error)
}

// Batch is one mini-batch of preprocessed samples
type Batch struct {
	Images   []float32 // NCHW
	Labels   []int
	Paths    []string
	Size     int
	Channels int
	Height   int
	Width    int
}

// SampleSize returns the number of values per sample (C*H*W)
func (b *Batch) SampleSize() int {
	return b.Channels * b.Height * b.Width
}

// Matrix returns the images as a Size x (C*H*W) matrix, one sample per row
func (b *Batch) Matrix() *mat.Dense {
	data := make([]float64, len(b.Images))
	for i, v := range b.Images {
		data[i] = float64(v)
	}
	return mat.NewDense(b.Size, b.SampleSize(), data)
}

// Sample returns the CHW values of the i-th sample
func (b *Batch) Sample(i int) []float32 {
	n := b.SampleSize()
	return b.Images[i*n : (i+1)*n]
}

// DataLoader batches a dataset through a preprocessing pipeline with LRU caching
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	indices   []int
	position  int
	rng       *rand.Rand
	mu        sync.Mutex

	// Cache manager - can be shared between DataLoaders. Nil disables caching.
	cacheManager *CacheManager
	ownedCache   bool

	processor  *preprocessing.ImageProcessor
	numWorkers int
}

// Config holds configuration for DataLoader
type Config struct {
	BatchSize    int
	Shuffle      bool
	MaxCacheSize int // 0 means DefaultCacheSize, negative disables caching
	NumWorkers   int // 0 preprocesses on the calling goroutine
	Transform    preprocessing.Transform
	Seed         int64
	CacheManager *CacheManager // Optional shared cache manager
}

// NewDataLoader creates a new data loader. A non-positive batch size is treated as 1.
func NewDataLoader(dataset Dataset, config Config) *DataLoader {
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if config.MaxCacheSize == 0 {
		config.MaxCacheSize = DefaultCacheSize
	}

	indices := make([]int, dataset.Len())
	for i := range indices {
		indices[i] = i
	}

	var cacheManager *CacheManager
	var ownedCache bool
	switch {
	case config.CacheManager != nil:
		cacheManager = config.CacheManager
	case config.MaxCacheSize > 0:
		cacheManager = NewCacheManager(config.MaxCacheSize)
		ownedCache = true
	}

	dl := &DataLoader{
		dataset:      dataset,
		batchSize:    config.BatchSize,
		shuffle:      config.Shuffle,
		indices:      indices,
		rng:          rand.New(rand.NewSource(config.Seed)),
		cacheManager: cacheManager,
		ownedCache:   ownedCache,
		processor:    preprocessing.NewImageProcessor(config.Transform),
		numWorkers:   config.NumWorkers,
	}
	dl.shuffleIndices()
	return dl
}

func (dl *DataLoader) shuffleIndices() {
	if !dl.shuffle {
		return
	}
	dl.rng.Shuffle(len(dl.indices), func(i, j int) {
		dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
	})
}

// Reset rewinds to the first batch and reshuffles when shuffling is on
func (dl *DataLoader) Reset() {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.position = 0
	dl.shuffleIndices()
}

// Len returns the number of samples per epoch
func (dl *DataLoader) Len() int {
	return len(dl.indices)
}

// BatchSize returns the configured batch size
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// NumBatches returns the number of batches per epoch, counting a short final batch
func (dl *DataLoader) NumBatches() int {
	return (len(dl.indices) + dl.batchSize - 1) / dl.batchSize
}

// Transform returns the preprocessing pipeline
func (dl *DataLoader) Transform() preprocessing.Transform {
	return dl.processor.Transform()
}

// NextBatch loads the next batch. It returns nil, nil once the epoch is exhausted.
// On error the position is not advanced.
func (dl *DataLoader) NextBatch() (*Batch, error) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	remaining := len(dl.indices) - dl.position
	if remaining <= 0 {
		return nil, nil
	}
	size := dl.batchSize
	if remaining < size {
		size = remaining
	}

	batch := &Batch{
		Labels: make([]int, size),
		Paths:  make([]string, size),
		Size:   size,
	}
	for i := 0; i < size; i++ {
		path, label, err := dl.dataset.GetItem(dl.indices[dl.position+i])
		if err != nil {
			return nil, fmt.Errorf("failed to get item %d: %w", dl.indices[dl.position+i], err)
		}
		batch.Paths[i] = path
		batch.Labels[i] = label
	}

	images, err := dl.load(batch.Paths)
	if err != nil {
		return nil, err
	}

	first := images[0]
	batch.Channels, batch.Height, batch.Width = first.Channels, first.Height, first.Width
	n := batch.SampleSize()
	batch.Images = make([]float32, size*n)
	for i, img := range images {
		if img.Channels != first.Channels || img.Height != first.Height || img.Width != first.Width {
			return nil, fmt.Errorf("%s: shape %dx%dx%d does not match batch shape %dx%dx%d (add a Resize transform)",
				batch.Paths[i], img.Channels, img.Height, img.Width, first.Channels, first.Height, first.Width)
		}
		copy(batch.Images[i*n:(i+1)*n], img.Data)
	}

	dl.position += size
	return batch, nil
}

// load returns the preprocessed images for paths, serving hits from the cache
// and preprocessing misses with the worker pool
func (dl *DataLoader) load(paths []string) ([]*preprocessing.ProcessedImage, error) {
	images := make([]*preprocessing.ProcessedImage, len(paths))
	var missing []int
	for i, path := range paths {
		if dl.cacheManager != nil {
			if img, ok := dl.cacheManager.Get(path); ok {
				images[i] = img
				continue
			}
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return images, nil
	}

	missPaths := make([]string, len(missing))
	for j, i := range missing {
		missPaths[j] = paths[i]
	}

	var processed []*preprocessing.ProcessedImage
	if dl.numWorkers <= 0 {
		processed = make([]*preprocessing.ProcessedImage, len(missPaths))
		for j, path := range missPaths {
			img, err := dl.processor.ProcessFile(path)
			if err != nil {
				return nil, err
			}
			processed[j] = img
		}
	} else {
		var err error
		processed, err = preprocessing.PreprocessBatch(missPaths, dl.processor.Transform(), dl.numWorkers)
		if err != nil {
			return nil, err
		}
	}

	for j, i := range missing {
		images[i] = processed[j]
		if dl.cacheManager != nil {
			dl.cacheManager.Put(paths[i], processed[j])
		}
	}
	return images, nil
}

// Stats returns cache statistics
func (dl *DataLoader) Stats() string {
	if dl.cacheManager == nil {
		return "Cache: disabled"
	}
	return dl.cacheManager.Stats().String()
}

// Progress returns the current progress through the dataset
func (dl *DataLoader) Progress() (current, total int) {
	dl.mu.Lock()
	defer dl.mu.Unlock()
	return dl.position, len(dl.indices)
}

// ClearCache clears the image cache. Shared caches are left alone.
func (dl *DataLoader) ClearCache() {
	if dl.ownedCache {
		dl.cacheManager.Clear()
	}
}

// GetCacheManager returns the cache manager for sharing between DataLoaders
func (dl *DataLoader) GetCacheManager() *CacheManager {
	return dl.cacheManager
}
