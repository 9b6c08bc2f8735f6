package report

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/Noofbiz/chestxray/datasets"
	"github.com/Noofbiz/chestxray/studies"
)

// DefaultStride keeps one pixel out of DefaultStride in each direction.
const DefaultStride = 8

// IntensityStats accumulates a subsample of the pixel intensities and the
// label distribution of the samples it is given. It is safe for concurrent
// use.
type IntensityStats struct {
	stride int

	mu       sync.Mutex
	values   []float64
	samples  int
	masked   int
	labelSum [studies.NumClasses]float64
}

// NewIntensityStats returns an accumulator sampling every stride-th pixel in
// each direction. stride <= 0 means DefaultStride.
func NewIntensityStats(stride int) *IntensityStats {
	if stride <= 0 {
		stride = DefaultStride
	}
	return &IntensityStats{stride: stride}
}

// Add accumulates the first channel of every sample of the batch.
func (s *IntensityStats) Add(b *datasets.Batch) {
	local := make([]float64, 0, 64)
	for _, smp := range b.Samples {
		img := smp.Image
		for y := 0; y < img.Height; y += s.stride {
			for x := 0; x < img.Width; x += s.stride {
				local = append(local, float64(img.At(x, y, 0)))
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = append(s.values, local...)
	for _, smp := range b.Samples {
		s.samples++
		if smp.Mask != nil && smp.Mask.Count() > 0 {
			s.masked++
		}
		for c, v := range smp.Label {
			s.labelSum[c] += float64(v)
		}
	}
}

// Summary describes the accumulated values.
type Summary struct {
	Samples int
	// Masked counts the samples with at least one opacity pixel.
	Masked int
	Pixels int

	Mean, StdDev     float64
	Min, Median, Max float64
	// LabelMean is the average label vector.
	LabelMean [studies.NumClasses]float64
}

// Summary computes the statistics of everything added so far.
func (s *IntensityStats) Summary() Summary {
	s.mu.Lock()
	values := append([]float64(nil), s.values...)
	sum := Summary{Samples: s.samples, Masked: s.masked, Pixels: len(s.values)}
	labels := s.labelSum
	s.mu.Unlock()

	if sum.Samples > 0 {
		for c := range labels {
			sum.LabelMean[c] = labels[c] / float64(sum.Samples)
		}
	}
	if len(values) == 0 {
		return sum
	}
	sum.Mean, sum.StdDev = stat.MeanStdDev(values, nil)
	if math.IsNaN(sum.StdDev) {
		sum.StdDev = 0
	}
	sort.Float64s(values)
	sum.Min = values[0]
	sum.Max = values[len(values)-1]
	sum.Median = stat.Quantile(0.5, stat.Empirical, values, nil)
	return sum
}

func (s Summary) String() string {
	return fmt.Sprintf("samples=%d masked=%d pixels=%d mean=%.4g std=%.4g min=%.4g median=%.4g max=%.4g",
		s.Samples, s.Masked, s.Pixels, s.Mean, s.StdDev, s.Min, s.Median, s.Max)
}
