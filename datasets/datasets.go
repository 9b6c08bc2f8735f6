package datasets

import (
	"github.com/Noofbiz/chestxray/annotation"
	"github.com/Noofbiz/chestxray/studies"
)

// This package turns the study table built by the studies package into
// samples and batches suitable for model training.
//
// Samples are loaded lazily: the datasets only hold the (immutable) study
// table and the data directory, and every call to Sample reads the image and
// its annotation from disk. Nothing is cached, so concurrent loaders can
// share one dataset without locking.
//
// Layout and intended usage:
//
// CXRDataset
//   - One record of a studies.Table per sample.
//   - Image: <data_dir>/train/<image id>_image.png, 8 or 16-bit grayscale,
//     replicated to 3 channels (HWC, float32, raw intensity values).
//   - Label: 4 values, see studies.Classes.
//   - Mask (optional): rasterized from <image path>.txt.
//
// Loader
//   - Batches a Dataset, loading the samples of each batch with a pool of
//     goroutines, and converts batches to gomlx tensors. It implements
//     gomlx's train.Dataset interface.
//
// Module
//   - Builds the train/validation/test datasets and their loaders from a
//     config.Config.

// Dataset is a collection of samples with random access.
type Dataset interface {
	Name() string
	Len() int
	Sample(i int) (*Sample, error)
}

// Image is a float32 image stored channels-last (HWC) in row-major order.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []float32

	// MaxValue is the largest representable intensity of the source, 255 for
	// 8-bit and 65535 for 16-bit images, or 1 once normalized.
	MaxValue float32
}

// NewImage allocates a zeroed image.
func NewImage(height, width, channels int) *Image {
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]float32, height*width*channels),
		MaxValue: 1,
	}
}

// At returns channel c of the pixel at column x, row y.
func (im *Image) At(x, y, c int) float32 {
	return im.Pix[(y*im.Width+x)*im.Channels+c]
}

// Set sets channel c of the pixel at column x, row y.
func (im *Image) Set(x, y, c int, v float32) {
	im.Pix[(y*im.Width+x)*im.Channels+c] = v
}

// Plane returns a copy of channel c in row-major order.
func (im *Image) Plane(c int) []float32 {
	out := make([]float32, im.Width*im.Height)
	for i := range out {
		out[i] = im.Pix[i*im.Channels+c]
	}
	return out
}

// Len returns the number of float32 values of the image.
func (im *Image) Len() int {
	return len(im.Pix)
}

// Sample is the unit produced by a Dataset.
type Sample struct {
	// Index of the sample in its Dataset.
	Index int
	Image *Image
	Label [studies.NumClasses]float32
	// Mask is nil unless the dataset is configured to load masks.
	Mask *annotation.Mask
	// Path of the source image, to trace failures back to files.
	Path string
}
