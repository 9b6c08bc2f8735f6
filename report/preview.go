package report

import (
	"image"
	"image/color"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/Noofbiz/chestxray/annotation"
	"github.com/Noofbiz/chestxray/datasets"
)

// overlayColor paints the opacity mask.
var overlayColor = color.NRGBA{R: 255, G: 40, B: 40, A: 255}

// PreviewImage renders the first channel of a sample, scaled by its
// MaxValue, with the mask (if any) blended on top in red. If width is
// positive the result is resized to that width keeping the aspect ratio.
func PreviewImage(s *datasets.Sample, width int, opacity float64) (*image.NRGBA, error) {
	img := s.Image
	if img == nil || img.Width == 0 || img.Height == 0 {
		return nil, errors.New("empty sample image")
	}
	gray := image.NewGray(image.Rect(0, 0, img.Width, img.Height))
	scale := float32(255)
	if img.MaxValue > 0 {
		scale = 255 / img.MaxValue
	}
	for y := range img.Height {
		for x := range img.Width {
			v := min(max(img.At(x, y, 0)*scale, 0), 255)
			gray.Pix[y*gray.Stride+x] = uint8(v + 0.5)
		}
	}
	out := imaging.Clone(gray)
	if s.Mask != nil {
		out = imaging.Overlay(out, maskLayer(s.Mask), image.Pt(0, 0), opacity)
	}
	if width > 0 && width != out.Bounds().Dx() {
		out = imaging.Resize(out, width, 0, imaging.Lanczos)
	}
	return out, nil
}

// maskLayer returns an image that is transparent outside the mask.
func maskLayer(m *annotation.Mask) *image.NRGBA {
	layer := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := range m.Height {
		for x := range m.Width {
			if m.At(x, y) != 0 {
				layer.SetNRGBA(x, y, overlayColor)
			}
		}
	}
	return layer
}

// Preview writes PreviewImage to path. The format follows the file
// extension.
func Preview(s *datasets.Sample, path string, width int) error {
	img, err := PreviewImage(s, width, 0.35)
	if err != nil {
		return errors.WithMessagef(err, "preview of %s", s.Path)
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return errors.Wrapf(imaging.Save(img, path), "failed to save preview %s", path)
}
