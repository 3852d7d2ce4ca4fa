package preprocessing

import (
	"fmt"
	"image"
	_ "image/jpeg" // registers JPEG
	_ "image/png"  // registers PNG
	"io"
	"os"
	"sync"

	_ "golang.org/x/image/bmp"  // registers BMP
	_ "golang.org/x/image/tiff" // registers TIFF, the BACH patch format
)

// Decode decodes a JPEG, PNG, TIFF or BMP image
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// LoadImage opens and decodes the image at path
func LoadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// ImageProcessor decodes images and runs them through a transform pipeline
type ImageProcessor struct {
	transform Transform
}

// NewImageProcessor creates a processor for the given transform. A nil transform
// means ToTensor only.
func NewImageProcessor(transform Transform) *ImageProcessor {
	if transform == nil {
		transform = ToTensor()
	}
	return &ImageProcessor{transform: transform}
}

// Transform returns the processor's pipeline
func (p *ImageProcessor) Transform() Transform {
	return p.transform
}

// ProcessedImage represents a preprocessed image ready for neural network input
type ProcessedImage struct {
	Data     []float32 // CHW
	Width    int
	Height   int
	Channels int
}

// DecodeAndPreprocess decodes an image and applies the pipeline.
// The pipeline must produce tensor data (include ToTensor).
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) (*ProcessedImage, error) {
	img, _, err := Decode(reader)
	if err != nil {
		return nil, err
	}
	return p.Process(img)
}

// Process applies the pipeline to a decoded image
func (p *ImageProcessor) Process(img image.Image) (*ProcessedImage, error) {
	sample := &Sample{Image: img}
	if err := p.transform.Apply(sample); err != nil {
		return nil, err
	}
	if sample.Data == nil {
		return nil, fmt.Errorf("transform %s produced no tensor data", p.transform)
	}
	return &ProcessedImage{
		Data:     sample.Data,
		Width:    sample.Width,
		Height:   sample.Height,
		Channels: sample.Channels,
	}, nil
}

// ProcessFile opens, decodes and preprocesses the image at path
func (p *ImageProcessor) ProcessFile(path string) (*ProcessedImage, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := p.DecodeAndPreprocess(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// PreprocessBatch preprocesses multiple images concurrently with maxWorkers goroutines.
// The first error in path order is returned.
func PreprocessBatch(imagePaths []string, transform Transform, maxWorkers int) ([]*ProcessedImage, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	results := make([]*ProcessedImage, len(imagePaths))
	errs := make([]error, len(imagePaths))

	type job struct {
		index int
		path  string
	}

	jobs := make(chan job, len(imagePaths))
	var wg sync.WaitGroup

	processor := NewImageProcessor(transform)
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.index], errs[j.index] = processor.ProcessFile(j.path)
			}
		}()
	}

	for i, path := range imagePaths {
		jobs <- job{index: i, path: path}
	}
	close(jobs)

	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("failed to process image %d: %w", i, err)
		}
	}
	return results, nil
}
