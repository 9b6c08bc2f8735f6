package datasets

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	// ImageSuffix is the suffix of the image ids in the image-level CSV.
	ImageSuffix = "_image"
	// TrainSubDir holds the images below the data directory.
	TrainSubDir = "train"

	imageExt      = ".png"
	annotationExt = ".txt"
)

// ImagePath returns the path of the image with the given id:
// <dataDir>/train/<id without "_image">_image.png.
func ImagePath(dataDir, imageID string) string {
	base, _, _ := strings.Cut(imageID, ImageSuffix)
	return filepath.Join(dataDir, TrainSubDir, base+ImageSuffix+imageExt)
}

// AnnotationPath returns the annotation file next to an image.
func AnnotationPath(imagePath string) string {
	return strings.TrimSuffix(imagePath, filepath.Ext(imagePath)) + annotationExt
}

// ReadImage decodes the image at path into a single-channel image holding the
// raw intensities. 8-bit gray images keep their 0-255 range, 16-bit gray
// images their 0-65535 range, and any other color model is converted to
// 16-bit gray.
func ReadImage(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode image %s", path)
	}
	return FromImage(img), nil
}

// FromImage converts a decoded image into a single-channel Image.
func FromImage(img image.Image) *Image {
	b := img.Bounds()
	out := NewImage(b.Dy(), b.Dx(), 1)
	switch src := img.(type) {
	case *image.Gray:
		out.MaxValue = 255
		for y := 0; y < out.Height; y++ {
			row := src.Pix[(y)*src.Stride : y*src.Stride+out.Width]
			for x, v := range row {
				out.Pix[y*out.Width+x] = float32(v)
			}
		}
	case *image.Gray16:
		out.MaxValue = 65535
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				out.Pix[y*out.Width+x] = float32(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		out.MaxValue = 65535
		for y := 0; y < out.Height; y++ {
			for x := 0; x < out.Width; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				out.Pix[y*out.Width+x] = float32(g.Y)
			}
		}
	}
	return out
}

// Replicate returns a new image with the first channel of im copied into
// each of the requested channels.
func Replicate(im *Image, channels int) *Image {
	out := NewImage(im.Height, im.Width, channels)
	out.MaxValue = im.MaxValue
	n := im.Width * im.Height
	for i := range n {
		v := im.Pix[i*im.Channels]
		for c := range channels {
			out.Pix[i*channels+c] = v
		}
	}
	return out
}
