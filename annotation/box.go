// Package annotation handles the per-image opacity annotations of the chest
// X-ray dataset: parsing the text annotation files, converting the normalized
// center boxes into absolute corner boxes, and rasterizing them into binary
// segmentation masks.
//
// Annotation files hold whitespace separated floats in groups of five:
//
//	class cx cy w h
//
// where cx, cy, w and h are normalized to [0,1] relative to the image size.
package annotation

// CenterBox is a box in normalized center form: the center point and the size,
// all relative to the image dimensions.
type CenterBox struct {
	Class float64
	CX    float64
	CY    float64
	W     float64
	H     float64
}

// CornerBox is a box in absolute corner form, in pixels. The coordinates are
// not clamped to the image, so a box can extend past its borders.
type CornerBox struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// Width of the box in pixels.
func (b CornerBox) Width() float64 { return b.X2 - b.X1 }

// Height of the box in pixels.
func (b CornerBox) Height() float64 { return b.Y2 - b.Y1 }

// ToCorners converts normalized center boxes into absolute corner boxes for an
// image of the given height and width.
//
// The computation happens on fresh float64 values, the input slice is not
// modified. No clamping is performed.
func ToCorners(height, width int, boxes []CenterBox) []CornerBox {
	h, w := float64(height), float64(width)
	out := make([]CornerBox, len(boxes))
	for i, b := range boxes {
		cx, bw := b.CX*w, b.W*w
		cy, bh := b.CY*h, b.H*h
		x1 := cx - bw/2
		y1 := cy - bh/2
		out[i] = CornerBox{
			X1: x1,
			Y1: y1,
			X2: x1 + bw,
			Y2: y1 + bh,
		}
	}
	return out
}

// ToCenters is the inverse of ToCorners. The class of the returned boxes is 0.
func ToCenters(height, width int, boxes []CornerBox) []CenterBox {
	h, w := float64(height), float64(width)
	out := make([]CenterBox, len(boxes))
	for i, b := range boxes {
		bw, bh := b.Width(), b.Height()
		out[i] = CenterBox{
			CX: (b.X1 + bw/2) / w,
			CY: (b.Y1 + bh/2) / h,
			W:  bw / w,
			H:  bh / h,
		}
	}
	return out
}
