package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// AvgPool2D is an adaptive average pool. Each input row is a CHW image and each
// output row is C*Grid*Grid cell means. Cell bounds follow floor(i*H/Grid).
type AvgPool2D struct {
	mode
	Channels, Height, Width int
	Grid                    int
}

// NewAvgPool2D creates an adaptive average pool for CHW inputs
func NewAvgPool2D(channels, height, width, grid int) (*AvgPool2D, error) {
	if channels <= 0 || height <= 0 || width <= 0 {
		return nil, fmt.Errorf("avgpool: invalid input shape %dx%dx%d", channels, height, width)
	}
	if grid <= 0 || grid > height || grid > width {
		return nil, fmt.Errorf("avgpool: grid %d does not fit %dx%d input", grid, height, width)
	}
	return &AvgPool2D{
		mode:     mode{training: true},
		Channels: channels,
		Height:   height,
		Width:    width,
		Grid:     grid,
	}, nil
}

// InFeatures returns C*H*W
func (p *AvgPool2D) InFeatures() int { return p.Channels * p.Height * p.Width }

// OutFeatures returns C*Grid*Grid
func (p *AvgPool2D) OutFeatures() int { return p.Channels * p.Grid * p.Grid }

func (p *AvgPool2D) bounds(i, size int) (int, int) {
	start := i * size / p.Grid
	end := ((i+1)*size + p.Grid - 1) / p.Grid
	return start, end
}

// Forward averages every cell
func (p *AvgPool2D) Forward(input *mat.Dense) (*mat.Dense, error) {
	rows, cols := input.Dims()
	if cols != p.InFeatures() {
		return nil, fmt.Errorf("avgpool: input size mismatch: expected %d, got %d", p.InFeatures(), cols)
	}

	output := mat.NewDense(rows, p.OutFeatures(), nil)
	plane := p.Height * p.Width
	for n := 0; n < rows; n++ {
		src := input.RawRowView(n)
		dst := output.RawRowView(n)
		for c := 0; c < p.Channels; c++ {
			base := c * plane
			for gy := 0; gy < p.Grid; gy++ {
				y0, y1 := p.bounds(gy, p.Height)
				for gx := 0; gx < p.Grid; gx++ {
					x0, x1 := p.bounds(gx, p.Width)
					var sum float64
					for y := y0; y < y1; y++ {
						row := src[base+y*p.Width:]
						for x := x0; x < x1; x++ {
							sum += row[x]
						}
					}
					dst[(c*p.Grid+gy)*p.Grid+gx] = sum / float64((y1-y0)*(x1-x0))
				}
			}
		}
	}
	return output, nil
}

// Backward spreads each cell gradient evenly over the cell
func (p *AvgPool2D) Backward(gradOutput *mat.Dense) (*mat.Dense, error) {
	rows, cols := gradOutput.Dims()
	if cols != p.OutFeatures() {
		return nil, fmt.Errorf("avgpool: gradient size mismatch: expected %d, got %d", p.OutFeatures(), cols)
	}

	gradInput := mat.NewDense(rows, p.InFeatures(), nil)
	plane := p.Height * p.Width
	for n := 0; n < rows; n++ {
		g := gradOutput.RawRowView(n)
		dst := gradInput.RawRowView(n)
		for c := 0; c < p.Channels; c++ {
			base := c * plane
			for gy := 0; gy < p.Grid; gy++ {
				y0, y1 := p.bounds(gy, p.Height)
				for gx := 0; gx < p.Grid; gx++ {
					x0, x1 := p.bounds(gx, p.Width)
					share := g[(c*p.Grid+gy)*p.Grid+gx] / float64((y1-y0)*(x1-x0))
					for y := y0; y < y1; y++ {
						row := dst[base+y*p.Width:]
						for x := x0; x < x1; x++ {
							row[x] += share
						}
					}
				}
			}
		}
	}
	return gradInput, nil
}

// Parameters returns nothing; pooling has no weights
func (p *AvgPool2D) Parameters() []*Parameter { return nil }
