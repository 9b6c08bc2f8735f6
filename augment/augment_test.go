package augment

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/f64"

	"github.com/Noofbiz/chestxray/annotation"
	"github.com/Noofbiz/chestxray/datasets"
)

// gradient returns a 3-channel 16-bit image with value 1000*x + y.
func gradient(width, height int) *datasets.Image {
	img := datasets.NewImage(height, width, 3)
	img.MaxValue = 65535
	for y := range height {
		for x := range width {
			for c := range 3 {
				img.Set(x, y, c, float32(1000*x+y))
			}
		}
	}
	return img
}

func apply(m f64.Aff3, x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

func TestAffine(t *testing.T) {
	// Identity geometry with a stretch.
	m := affine(100, 50, 200, 200, params{scale: 1})
	x, y := apply(m, 50, 25)
	assert.InDelta(t, 100, x, 1e-9)
	assert.InDelta(t, 100, y, 1e-9)
	x, y = apply(m, 0, 0)
	assert.InDelta(t, 0, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)

	// Flip mirrors around the vertical axis.
	m = affine(10, 10, 10, 10, params{flip: true, scale: 1})
	x, y = apply(m, 0, 3)
	assert.InDelta(t, 10, x, 1e-9)
	assert.InDelta(t, 3, y, 1e-9)

	// Rotation keeps the center fixed and turns (right of center) to (below
	// center) for a quarter turn in image coordinates.
	m = affine(10, 10, 10, 10, params{angle: math.Pi / 2, scale: 1})
	x, y = apply(m, 5, 5)
	assert.InDelta(t, 5, x, 1e-9)
	assert.InDelta(t, 5, y, 1e-9)
	x, y = apply(m, 8, 5)
	assert.InDelta(t, 5, x, 1e-9)
	assert.InDelta(t, 8, y, 1e-9)

	// Zoom scales distances to the center.
	m = affine(10, 10, 10, 10, params{scale: 2})
	x, _ = apply(m, 6, 5)
	assert.InDelta(t, 7, x, 1e-9)
}

func TestEvalNormalizesOnly(t *testing.T) {
	img := gradient(4, 3)
	mask := annotation.NewMask(3, 4)
	mask.Set(2, 1, 1)

	out, outMask, err := Eval(0).Apply(img, mask)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Width)
	assert.Equal(t, 3, out.Height)
	assert.Equal(t, float32(1), out.MaxValue)
	assert.InDelta(t, float32(3002)/65535, out.At(3, 2, 1), 1e-7)
	assert.Same(t, mask, outMask)
	// The input is untouched.
	assert.Equal(t, float32(3002), img.At(3, 2, 1))
}

func TestEvalResizes(t *testing.T) {
	img := datasets.NewImage(8, 8, 3)
	img.MaxValue = 255
	for i := range img.Pix {
		img.Pix[i] = 51
	}
	mask := annotation.NewMask(8, 8)
	for y := range 8 {
		for x := range 4 {
			mask.Set(x, y, 1)
		}
	}

	out, outMask, err := Eval(4).Apply(img, mask)
	require.NoError(t, err)
	assert.Equal(t, 4, out.Width)
	assert.Equal(t, 4, out.Height)
	assert.Equal(t, 3, out.Channels)
	for _, v := range out.Pix {
		assert.InDelta(t, 0.2, v, 1e-6)
	}
	require.NotNil(t, outMask)
	assert.Equal(t, 4, outMask.Width)
	assert.Equal(t, 8, outMask.Count())
	for y := range 4 {
		assert.Equal(t, uint8(1), outMask.At(1, y))
		assert.Equal(t, uint8(0), outMask.At(2, y))
	}

	// Nil masks stay nil.
	_, outMask, err = Eval(4).Apply(img, nil)
	require.NoError(t, err)
	assert.Nil(t, outMask)
}

func TestFlipAppliesToImageAndMask(t *testing.T) {
	img := gradient(6, 4)
	mask := annotation.NewMask(4, 6)
	mask.Set(0, 1, 1)

	p := New(Options{FlipProb: 1, Seed: 3})
	out, outMask, err := p.Apply(img, mask)
	require.NoError(t, err)
	for y := range 4 {
		for x := range 6 {
			assert.InDelta(t, img.At(5-x, y, 0), out.At(x, y, 0), 1, "pixel %d,%d", x, y)
			assert.Equal(t, out.At(x, y, 0), out.At(x, y, 2))
		}
	}
	assert.Equal(t, 1, outMask.Count())
	assert.Equal(t, uint8(1), outMask.At(5, 1))
}

func TestTrainPipeline(t *testing.T) {
	img := gradient(32, 24)
	mask := annotation.NewMask(24, 32)
	for y := 8; y < 16; y++ {
		for x := 8; x < 24; x++ {
			mask.Set(x, y, 1)
		}
	}

	a, aMask, err := Train(16, 7).Apply(img, mask)
	require.NoError(t, err)
	b, bMask, err := Train(16, 7).Apply(img, mask)
	require.NoError(t, err)
	assert.Equal(t, a.Pix, b.Pix, "same seed, same augmentation")
	assert.Equal(t, aMask.Pix, bMask.Pix)

	assert.Equal(t, 16, a.Width)
	assert.Equal(t, 16, a.Height)
	assert.Equal(t, 16, aMask.Width)
	for _, v := range a.Pix {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
	for _, v := range aMask.Pix {
		assert.Contains(t, []uint8{0, 1}, v)
	}
	assert.Positive(t, aMask.Count())
}

func TestApplyRejectsMismatchedMask(t *testing.T) {
	_, _, err := Eval(0).Apply(gradient(4, 4), annotation.NewMask(3, 4))
	assert.Error(t, err)
	_, _, err = Eval(0).Apply(datasets.NewImage(0, 0, 3), nil)
	assert.Error(t, err)
}

func TestPipelineConcurrentUse(t *testing.T) {
	p := Train(8, 11)
	img := gradient(10, 10)
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = p.Apply(img, annotation.NewMask(10, 10))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
}
