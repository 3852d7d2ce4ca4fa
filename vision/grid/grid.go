// Package grid renders CHW tensors as images: tile grids, captioned panels and PNG output.
package grid

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Grid defaults used for training batch previews
const (
	DefaultNRow    = 8
	DefaultPadding = 2
)

// Tile is a CHW float image with values in [0, 1]. One channel is drawn as grey.
type Tile struct {
	Data     []float32
	Channels int
	Height   int
	Width    int
}

func (t Tile) validate() error {
	if t.Channels != 1 && t.Channels != 3 {
		return fmt.Errorf("tile must have 1 or 3 channels, got %d", t.Channels)
	}
	if t.Height <= 0 || t.Width <= 0 {
		return fmt.Errorf("tile size must be positive, got %dx%d", t.Height, t.Width)
	}
	if len(t.Data) != t.Channels*t.Height*t.Width {
		return fmt.Errorf("tile data has %d values, expected %d", len(t.Data), t.Channels*t.Height*t.Width)
	}
	return nil
}

// at returns channel c of pixel (y, x), repeating a grey channel
func (t Tile) at(c, y, x int) float32 {
	if t.Channels == 1 {
		c = 0
	}
	return t.Data[c*t.Height*t.Width+y*t.Width+x]
}

// MakeGrid lays tiles out nrow per row with padding pixels of black between
// and around them. All tiles must share one size. The result has 3 channels.
func MakeGrid(tiles []Tile, nrow, padding int) (Tile, error) {
	if len(tiles) == 0 {
		return Tile{}, fmt.Errorf("make grid: no tiles")
	}
	if nrow <= 0 || padding < 0 {
		return Tile{}, fmt.Errorf("make grid: invalid nrow %d or padding %d", nrow, padding)
	}
	h, w := tiles[0].Height, tiles[0].Width
	for i, t := range tiles {
		if err := t.validate(); err != nil {
			return Tile{}, fmt.Errorf("make grid: tile %d: %w", i, err)
		}
		if t.Height != h || t.Width != w {
			return Tile{}, fmt.Errorf("make grid: tile %d is %dx%d, expected %dx%d", i, t.Height, t.Width, h, w)
		}
	}

	xmaps := nrow
	if len(tiles) < xmaps {
		xmaps = len(tiles)
	}
	ymaps := (len(tiles) + xmaps - 1) / xmaps
	cellH, cellW := h+padding, w+padding

	out := Tile{
		Channels: 3,
		Height:   ymaps*cellH + padding,
		Width:    xmaps*cellW + padding,
	}
	out.Data = make([]float32, 3*out.Height*out.Width)
	plane := out.Height * out.Width

	for k, t := range tiles {
		oy := (k/xmaps)*cellH + padding
		ox := (k%xmaps)*cellW + padding
		for c := 0; c < 3; c++ {
			for y := 0; y < h; y++ {
				row := c*plane + (oy+y)*out.Width + ox
				for x := 0; x < w; x++ {
					out.Data[row+x] = t.at(c, y, x)
				}
			}
		}
	}
	return out, nil
}

// ToImage converts a tile to RGBA, clamping values to [0, 1]
func ToImage(t Tile) (*image.RGBA, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, t.Width, t.Height))
	for y := 0; y < t.Height; y++ {
		for x := 0; x < t.Width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: to8(t.at(0, y, x)),
				G: to8(t.at(1, y, x)),
				B: to8(t.at(2, y, x)),
				A: 255,
			})
		}
	}
	return img, nil
}

func to8(v float32) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 255
	}
	return uint8(v*255 + 0.5)
}

// captionHeight is the strip added above an image by Caption
const captionHeight = 18

// Caption returns a copy of img with text drawn on a white strip above it.
// The canvas widens when the text is wider than the image.
func Caption(img image.Image, text string) *image.RGBA {
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, text).Ceil() + 8

	b := img.Bounds()
	width := b.Dx()
	if textWidth > width {
		width = textWidth
	}
	out := image.NewRGBA(image.Rect(0, 0, width, b.Dy()+captionHeight))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(out, image.Rect(0, captionHeight, b.Dx(), captionHeight+b.Dy()), img, b.Min, draw.Src)

	d := &font.Drawer{
		Dst:  out,
		Src:  image.Black,
		Face: face,
		Dot:  fixed.P(4, captionHeight-5),
	}
	d.DrawString(text)
	return out
}

// Panels arranges images left to right, top to bottom in the given number of
// columns on a white background. Cells are sized to the largest image.
func Panels(images []image.Image, columns, padding int) (*image.RGBA, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("panels: no images")
	}
	if columns <= 0 || padding < 0 {
		return nil, fmt.Errorf("panels: invalid columns %d or padding %d", columns, padding)
	}
	cellW, cellH := 0, 0
	for _, img := range images {
		b := img.Bounds()
		if b.Dx() > cellW {
			cellW = b.Dx()
		}
		if b.Dy() > cellH {
			cellH = b.Dy()
		}
	}
	if len(images) < columns {
		columns = len(images)
	}
	rows := (len(images) + columns - 1) / columns

	out := image.NewRGBA(image.Rect(0, 0,
		columns*(cellW+padding)+padding,
		rows*(cellH+padding)+padding))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)

	for i, img := range images {
		x := (i%columns)*(cellW+padding) + padding
		y := (i/columns)*(cellH+padding) + padding
		b := img.Bounds()
		draw.Draw(out, image.Rect(x, y, x+b.Dx(), y+b.Dy()), img, b.Min, draw.Src)
	}
	return out, nil
}

// SavePNG encodes img to path, creating parent directories and overwriting any existing file
func SavePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
