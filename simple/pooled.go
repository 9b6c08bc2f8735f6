package simple

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Noofbiz/chestxray/datasets"
)

// PooledDataset holds fixed-size features extracted from the samples of a
// datasets.Loader: the first channel average-pooled onto a Grid x Grid
// lattice, plus the sample's label vector.
type PooledDataset struct {
	Grid     int
	features [][]float32
	labels   [][]float32
}

// NewPooledDataset drains one epoch of loader and pools every sample. The
// loader is reset first.
func NewPooledDataset(ctx context.Context, loader *datasets.Loader, grid int) (*PooledDataset, error) {
	if grid <= 0 {
		return nil, errors.Errorf("grid must be > 0, got %d", grid)
	}
	d := &PooledDataset{Grid: grid}
	loader.Reset()
	err := loader.ForEach(ctx, func(b *datasets.Batch) error {
		for _, s := range b.Samples {
			f, err := Pool(s.Image, grid)
			if err != nil {
				return errors.WithMessagef(err, "sample %s", s.Path)
			}
			d.features = append(d.features, f)
			d.labels = append(d.labels, append([]float32(nil), s.Label[:]...))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Len implements Dataset.
func (d *PooledDataset) Len() int {
	return len(d.features)
}

// Batch implements Dataset.
func (d *PooledDataset) Batch(indices []int) ([][]float32, [][]float32, error) {
	inputs := make([][]float32, len(indices))
	labels := make([][]float32, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(d.features) {
			return nil, nil, errors.Errorf("index %d out of range [0, %d)", idx, len(d.features))
		}
		inputs[i] = d.features[idx]
		labels[i] = d.labels[idx]
	}
	return inputs, labels, nil
}

// Pool averages the first channel of img over a grid x grid lattice of
// cells. Cells cover [y*H/grid, (y+1)*H/grid) rows and likewise for columns;
// images smaller than the grid repeat pixels.
func Pool(img *datasets.Image, grid int) ([]float32, error) {
	if img.Width == 0 || img.Height == 0 {
		return nil, errors.New("empty image")
	}
	out := make([]float32, grid*grid)
	for gy := range grid {
		y0 := gy * img.Height / grid
		y1 := max((gy+1)*img.Height/grid, y0+1)
		for gx := range grid {
			x0 := gx * img.Width / grid
			x1 := max((gx+1)*img.Width/grid, x0+1)
			var sum float32
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					sum += img.At(x, y, 0)
				}
			}
			out[gy*grid+gx] = sum / float32((y1-y0)*(x1-x0))
		}
	}
	return out, nil
}
