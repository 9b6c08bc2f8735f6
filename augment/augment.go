// Package augment provides the image transforms applied by the datasets:
// resizing, random geometric augmentation and intensity normalization.
//
// Geometry is applied to the image and its mask with the same affine
// matrix. Images are interpolated bilinearly on 16-bit gray planes, masks
// with nearest neighbour so they stay binary.
package augment

import (
	"image"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/Noofbiz/chestxray/annotation"
	"github.com/Noofbiz/chestxray/datasets"
)

// Options configure a Pipeline.
type Options struct {
	// Size is the side of the square output. Zero keeps the input size.
	Size int
	// FlipProb is the probability of a horizontal flip.
	FlipProb float64
	// MaxRotate is the largest rotation, in degrees, in either direction.
	MaxRotate float64
	// ScaleJitter draws the zoom factor uniformly in [1-j, 1+j].
	ScaleJitter float64
	// Normalize divides intensities by the image's MaxValue, mapping them
	// into [0, 1].
	Normalize bool
	// Seed for the random parameters. Zero means time-based.
	Seed int64
}

// Pipeline is a datasets.Transform. It is safe for concurrent use.
type Pipeline struct {
	opts Options

	mu  sync.Mutex
	rng *rand.Rand
}

var _ datasets.Transform = (*Pipeline)(nil)

// New returns a pipeline with the given options.
func New(opts Options) *Pipeline {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Pipeline{opts: opts, rng: rand.New(rand.NewSource(seed))}
}

// Train returns the training pipeline: resize to size, random horizontal
// flip, rotation up to 10 degrees, zoom within 10% and normalization.
func Train(size int, seed int64) *Pipeline {
	return New(Options{
		Size:        size,
		FlipProb:    0.5,
		MaxRotate:   10,
		ScaleJitter: 0.1,
		Normalize:   true,
		Seed:        seed,
	})
}

// Eval returns the evaluation pipeline: resize to size and normalization.
func Eval(size int) *Pipeline {
	return New(Options{Size: size, Normalize: true, Seed: 1})
}

// Options returns the pipeline's options.
func (p *Pipeline) Options() Options {
	return p.opts
}

// params are the random draws for one sample.
type params struct {
	flip  bool
	angle float64 // radians
	scale float64
}

func (pr params) identity() bool {
	return !pr.flip && pr.angle == 0 && pr.scale == 1
}

func (p *Pipeline) sample() params {
	pr := params{scale: 1}
	if p.opts.FlipProb <= 0 && p.opts.MaxRotate <= 0 && p.opts.ScaleJitter <= 0 {
		return pr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opts.FlipProb > 0 {
		pr.flip = p.rng.Float64() < p.opts.FlipProb
	}
	if p.opts.MaxRotate > 0 {
		deg := (2*p.rng.Float64() - 1) * p.opts.MaxRotate
		pr.angle = deg * math.Pi / 180
	}
	if p.opts.ScaleJitter > 0 {
		pr.scale = 1 + (2*p.rng.Float64()-1)*p.opts.ScaleJitter
	}
	return pr
}

// Apply implements datasets.Transform.
func (p *Pipeline) Apply(img *datasets.Image, mask *annotation.Mask) (*datasets.Image, *annotation.Mask, error) {
	if img == nil || img.Width == 0 || img.Height == 0 {
		return nil, nil, errors.New("augment: empty image")
	}
	if mask != nil && (mask.Width != img.Width || mask.Height != img.Height) {
		return nil, nil, errors.Errorf("augment: mask is %dx%d but image is %dx%d",
			mask.Width, mask.Height, img.Width, img.Height)
	}
	outW, outH := img.Width, img.Height
	if p.opts.Size > 0 {
		outW, outH = p.opts.Size, p.opts.Size
	}
	pr := p.sample()

	out := img
	if !pr.identity() || outW != img.Width || outH != img.Height {
		src := toGray16(img)
		dst := image.NewGray16(image.Rect(0, 0, outW, outH))
		m := affine(img.Width, img.Height, outW, outH, pr)
		if pr.identity() {
			draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		} else {
			draw.BiLinear.Transform(dst, m, src, src.Bounds(), draw.Src, nil)
		}
		out = fromGray16(dst, img.Channels, img.MaxValue)

		if mask != nil {
			srcMask := mask.Gray()
			dstMask := image.NewGray(image.Rect(0, 0, outW, outH))
			if pr.identity() {
				draw.NearestNeighbor.Scale(dstMask, dstMask.Bounds(), srcMask, srcMask.Bounds(), draw.Src, nil)
			} else {
				draw.NearestNeighbor.Transform(dstMask, m, srcMask, srcMask.Bounds(), draw.Src, nil)
			}
			mask = annotation.MaskFromGray(dstMask)
		}
	}

	if p.opts.Normalize {
		out = normalize(out)
	}
	return out, mask, nil
}

// affine returns the matrix mapping source coordinates to destination
// coordinates: around the image center, flip, then rotate, then scale,
// then stretch to the output size.
func affine(srcW, srcH, dstW, dstH int, pr params) f64.Aff3 {
	sx, sy := float64(dstW)/float64(srcW), float64(dstH)/float64(srcH)
	m := translate(-float64(srcW)/2, -float64(srcH)/2)
	if pr.flip {
		m = mul(f64.Aff3{-1, 0, 0, 0, 1, 0}, m)
	}
	if pr.angle != 0 {
		sin, cos := math.Sincos(pr.angle)
		m = mul(f64.Aff3{cos, -sin, 0, sin, cos, 0}, m)
	}
	m = mul(f64.Aff3{pr.scale * sx, 0, 0, 0, pr.scale * sy, 0}, m)
	return mul(translate(float64(dstW)/2, float64(dstH)/2), m)
}

func translate(tx, ty float64) f64.Aff3 {
	return f64.Aff3{1, 0, tx, 0, 1, ty}
}

// mul returns a*b, the transform applying b first.
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

// toGray16 converts the first channel of img to a 16-bit plane, rounding and
// clamping values into [0, 65535].
func toGray16(img *datasets.Image) *image.Gray16 {
	g := image.NewGray16(image.Rect(0, 0, img.Width, img.Height))
	for y := range img.Height {
		for x := range img.Width {
			v := math.Round(float64(img.At(x, y, 0)))
			v = min(max(v, 0), math.MaxUint16)
			i := g.PixOffset(x, y)
			g.Pix[i] = uint8(uint16(v) >> 8)
			g.Pix[i+1] = uint8(uint16(v))
		}
	}
	return g
}

func fromGray16(g *image.Gray16, channels int, maxValue float32) *datasets.Image {
	b := g.Bounds()
	out := datasets.NewImage(b.Dy(), b.Dx(), channels)
	out.MaxValue = maxValue
	for y := range out.Height {
		for x := range out.Width {
			i := g.PixOffset(x, y)
			v := float32(uint16(g.Pix[i])<<8 | uint16(g.Pix[i+1]))
			for c := range channels {
				out.Set(x, y, c, v)
			}
		}
	}
	return out
}

func normalize(img *datasets.Image) *datasets.Image {
	if img.MaxValue <= 0 || img.MaxValue == 1 {
		return img
	}
	out := datasets.NewImage(img.Height, img.Width, img.Channels)
	scale := 1 / img.MaxValue
	for i, v := range img.Pix {
		out.Pix[i] = v * scale
	}
	return out
}
