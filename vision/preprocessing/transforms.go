package preprocessing

import (
	"fmt"
	"image"
	"strings"

	"golang.org/x/image/draw"
)

// ImageNet channel statistics the pretrained backbone expects
var (
	MEAN = []float32{0.485, 0.456, 0.406}
	STD  = []float32{0.229, 0.224, 0.225}
)

// Sample is the value a transform pipeline works on. Image-stage transforms
// read and replace Image; tensor-stage transforms read and replace Data (CHW).
type Sample struct {
	Image    image.Image
	Data     []float32
	Channels int
	Height   int
	Width    int
}

// Transform is one preprocessing step. Implementations must be safe for concurrent use.
type Transform interface {
	Apply(s *Sample) error
	String() string
}

type resize struct {
	size int
}

// Resize scales the image to size x size with bilinear interpolation
func Resize(size int) Transform {
	return resize{size: size}
}

func (r resize) Apply(s *Sample) error {
	if r.size <= 0 {
		return fmt.Errorf("resize: size must be positive, got %d", r.size)
	}
	if s.Image == nil {
		return fmt.Errorf("resize: sample has no image (Resize must precede ToTensor)")
	}
	b := s.Image.Bounds()
	if b.Dx() == r.size && b.Dy() == r.size {
		return nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.size, r.size))
	draw.BiLinear.Scale(dst, dst.Rect, s.Image, b, draw.Src, nil)
	s.Image = dst
	return nil
}

func (r resize) String() string { return fmt.Sprintf("Resize(%d)", r.size) }

type toTensor struct{}

// ToTensor converts the image to RGB CHW float32 values in [0, 1]
func ToTensor() Transform {
	return toTensor{}
}

func (toTensor) Apply(s *Sample) error {
	if s.Image == nil {
		return fmt.Errorf("to tensor: sample has no image")
	}
	b := s.Image.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	data := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := s.Image.At(b.Min.X+x, b.Min.Y+y).RGBA()
			idx := y*w + x
			data[idx] = float32(r) / 65535.0
			data[plane+idx] = float32(g) / 65535.0
			data[2*plane+idx] = float32(bl) / 65535.0
		}
	}

	s.Data = data
	s.Channels, s.Height, s.Width = 3, h, w
	return nil
}

func (toTensor) String() string { return "ToTensor" }

type normalize struct {
	mean, std []float32
}

// Normalize applies (x - mean[c]) / std[c] per channel
func Normalize(mean, std []float32) Transform {
	return normalize{mean: mean, std: std}
}

func (n normalize) Apply(s *Sample) error {
	if s.Data == nil {
		return fmt.Errorf("normalize: sample has no tensor data (Normalize must follow ToTensor)")
	}
	if len(n.mean) != s.Channels || len(n.std) != s.Channels {
		return fmt.Errorf("normalize: %d channels, got %d means and %d stds", s.Channels, len(n.mean), len(n.std))
	}
	plane := s.Height * s.Width
	for c := 0; c < s.Channels; c++ {
		if n.std[c] == 0 {
			return fmt.Errorf("normalize: zero std for channel %d", c)
		}
		ch := s.Data[c*plane : (c+1)*plane]
		for i, v := range ch {
			ch[i] = (v - n.mean[c]) / n.std[c]
		}
	}
	return nil
}

func (n normalize) String() string {
	return fmt.Sprintf("Normalize(%v, %v)", n.mean, n.std)
}

type compose []Transform

// Compose chains transforms in order
func Compose(transforms ...Transform) Transform {
	return compose(transforms)
}

func (c compose) Apply(s *Sample) error {
	for _, t := range c {
		if err := t.Apply(s); err != nil {
			return err
		}
	}
	return nil
}

func (c compose) String() string {
	names := make([]string, len(c))
	for i, t := range c {
		names[i] = t.String()
	}
	return "Compose(" + strings.Join(names, ", ") + ")"
}

// DefaultTransform returns Resize, ToTensor and ImageNet normalisation
func DefaultTransform(imageSize int) Transform {
	return Compose(Resize(imageSize), ToTensor(), Normalize(MEAN, STD))
}

// Denormalize reverses Normalize and clamps to [0, 1], returning a new slice
func Denormalize(data []float32, channels int, mean, std []float32) ([]float32, error) {
	if channels <= 0 || len(data)%channels != 0 {
		return nil, fmt.Errorf("denormalize: %d values do not split into %d channels", len(data), channels)
	}
	if len(mean) != channels || len(std) != channels {
		return nil, fmt.Errorf("denormalize: %d channels, got %d means and %d stds", channels, len(mean), len(std))
	}
	plane := len(data) / channels
	out := make([]float32, len(data))
	for c := 0; c < channels; c++ {
		for i := c * plane; i < (c+1)*plane; i++ {
			v := data[i]*std[c] + mean[c]
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			out[i] = v
		}
	}
	return out, nil
}

// NormalizationOf returns the statistics of the last Normalize step in t
func NormalizationOf(t Transform) (mean, std []float32, ok bool) {
	switch v := t.(type) {
	case normalize:
		return v.mean, v.std, true
	case compose:
		for i := len(v) - 1; i >= 0; i-- {
			if mean, std, ok := NormalizationOf(v[i]); ok {
				return mean, std, true
			}
		}
	}
	return nil, nil, false
}
