package annotation

import (
	"image"
	"math"
)

// Mask is a binary occupancy grid: 1 where at least one box covers the pixel,
// 0 elsewhere. Pix is stored row-major.
type Mask struct {
	Width  int
	Height int
	Pix    []uint8
}

// NewMask returns an all-zero mask.
func NewMask(height, width int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height),
	}
}

// At returns the mask value at column x, row y.
func (m *Mask) At(x, y int) uint8 {
	return m.Pix[y*m.Width+x]
}

// Set sets the mask value at column x, row y.
func (m *Mask) Set(x, y int, v uint8) {
	m.Pix[y*m.Width+x] = v
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Gray returns the mask as an 8-bit gray image with set pixels at 255.
func (m *Mask) Gray() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		if v != 0 {
			img.Pix[i] = 255
		}
	}
	return img
}

// MaskFromGray thresholds a gray image back into a mask, any non-zero pixel is set.
func MaskFromGray(img *image.Gray) *Mask {
	b := img.Bounds()
	m := NewMask(b.Dy(), b.Dx())
	for y := 0; y < m.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+m.Width]
		for x, v := range row {
			if v != 0 {
				m.Pix[y*m.Width+x] = 1
			}
		}
	}
	return m
}

// Rasterize builds a height x width mask with every box filled in. Coordinates
// are truncated toward zero and each box covers rows [y1,y2) and columns
// [x1,x2). Overlapping boxes are merged. The write region is clamped to the
// image, so boxes extending past the borders are cut.
func Rasterize(height, width int, boxes []CornerBox) *Mask {
	m := NewMask(height, width)
	for _, b := range boxes {
		x1 := clamp(truncate(b.X1), 0, width)
		y1 := clamp(truncate(b.Y1), 0, height)
		x2 := clamp(truncate(b.X2), 0, width)
		y2 := clamp(truncate(b.Y2), 0, height)
		for y := y1; y < y2; y++ {
			row := m.Pix[y*width : (y+1)*width]
			for x := x1; x < x2; x++ {
				row[x] = 1
			}
		}
	}
	return m
}

// MaskFromResult rasterizes an annotation for an image of the given size.
// Anything but a Boxes result gives an all-zero mask.
func MaskFromResult(height, width int, r Result) *Mask {
	if r.Status != Boxes {
		return NewMask(height, width)
	}
	return Rasterize(height, width, ToCorners(height, width, r.Boxes))
}

// MaskFromFile reads the annotation at path and rasterizes it. It returns the
// read Result alongside, so callers can log or reject malformed files.
func MaskFromFile(height, width int, path string) (*Mask, Result) {
	r := ReadFile(path)
	return MaskFromResult(height, width, r), r
}

func truncate(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int(v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
