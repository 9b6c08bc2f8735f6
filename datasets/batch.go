package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/Noofbiz/chestxray/studies"
)

// Batch is an ordered group of samples, as produced by a Loader.
type Batch struct {
	// Indices of the samples in their dataset.
	Indices []int
	Samples []*Sample
}

// Len returns the number of samples.
func (b *Batch) Len() int {
	return len(b.Samples)
}

// Flat flattens the batch into contiguous buffers.
func (b *Batch) Flat() (*BatchFlat, error) {
	return MakeBatchFlat(b.Samples)
}

// BatchFlat stores a batch in flat contiguous buffers: images as
// [B, H, W, C], labels as [B, 4] and masks as [B, H, W].
type BatchFlat struct {
	Images []float32
	Labels []float32
	// Masks is nil if the samples have no mask.
	Masks []float32

	BatchSize int
	Height    int
	Width     int
	Channels  int
}

// MakeBatchFlat flattens samples into contiguous buffers. All images must
// share the same shape, and either all or none of the samples have a mask.
func MakeBatchFlat(samples []*Sample) (*BatchFlat, error) {
	if len(samples) == 0 {
		return &BatchFlat{}, nil
	}
	first := samples[0].Image
	b := &BatchFlat{
		BatchSize: len(samples),
		Height:    first.Height,
		Width:     first.Width,
		Channels:  first.Channels,
	}
	imageDim := b.Height * b.Width * b.Channels
	maskDim := b.Height * b.Width
	withMasks := samples[0].Mask != nil

	b.Images = make([]float32, b.BatchSize*imageDim)
	b.Labels = make([]float32, b.BatchSize*studies.NumClasses)
	if withMasks {
		b.Masks = make([]float32, b.BatchSize*maskDim)
	}

	for i, s := range samples {
		img := s.Image
		if img.Height != b.Height || img.Width != b.Width || img.Channels != b.Channels {
			return nil, errors.Errorf("inconsistent image shape at example %d: expected %dx%dx%d, got %dx%dx%d",
				i, b.Height, b.Width, b.Channels, img.Height, img.Width, img.Channels)
		}
		copy(b.Images[i*imageDim:], img.Pix)
		copy(b.Labels[i*studies.NumClasses:], s.Label[:])

		if (s.Mask != nil) != withMasks {
			return nil, errors.Errorf("example %d: mixed samples with and without masks", i)
		}
		if !withMasks {
			continue
		}
		if s.Mask.Height != b.Height || s.Mask.Width != b.Width {
			return nil, errors.Errorf("inconsistent mask shape at example %d: expected %dx%d, got %dx%d",
				i, b.Height, b.Width, s.Mask.Height, s.Mask.Width)
		}
		dst := b.Masks[i*maskDim : (i+1)*maskDim]
		for j, v := range s.Mask.Pix {
			if v != 0 {
				dst[j] = 1
			}
		}
	}
	return b, nil
}

// ImageDims returns the dimensions of the images tensor.
func (b *BatchFlat) ImageDims() []int {
	return []int{b.BatchSize, b.Height, b.Width, b.Channels}
}

// Bytes returns the size of the buffers.
func (b *BatchFlat) Bytes() uint64 {
	return uint64(len(b.Images)+len(b.Labels)+len(b.Masks)) * 4
}

// ToGomlxTensors converts the batch to gomlx tensors. masks is nil if the
// batch has no masks.
func (b *BatchFlat) ToGomlxTensors() (images, labels, masks *tensors.Tensor, err error) {
	// handle empty batch gracefully
	if b.BatchSize == 0 {
		images = tensors.FromAnyValue(make([][]float32, 0))
		labels = tensors.FromAnyValue(make([][]float32, 0))
		return images, labels, nil, nil
	}
	images = tensors.FromFlatDataAndDimensions(b.Images, b.ImageDims()...)
	labels = tensors.FromFlatDataAndDimensions(b.Labels, b.BatchSize, studies.NumClasses)
	if b.Masks != nil {
		masks = tensors.FromFlatDataAndDimensions(b.Masks, b.BatchSize, b.Height, b.Width)
	}
	return images, labels, masks, nil
}
