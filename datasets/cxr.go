package datasets

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Noofbiz/chestxray/annotation"
	"github.com/Noofbiz/chestxray/studies"
)

// Channels is the number of channels of the images produced by CXRDataset.
const Channels = 3

// CXRConfig configures a CXRDataset.
type CXRConfig struct {
	// DataDir holds train/ and the CSV files.
	DataDir string
	// WithMasks loads and rasterizes the opacity boxes of every image.
	WithMasks bool
	// StrictAnnotations turns malformed annotation files into errors instead
	// of empty masks.
	StrictAnnotations bool
	// LabelSmoothing clamps labels into [s, 1-s]. Zero disables it.
	LabelSmoothing float32
	// Transform defaults to Identity.
	Transform Transform
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// CXRDataset serves the images of a studies.Table. It reads nothing at
// construction time, and is safe for concurrent use as long as its
// Transform is.
type CXRDataset struct {
	name  string
	table *studies.Table
	cfg   CXRConfig
}

// NewCXRDataset returns a dataset serving the records of table.
func NewCXRDataset(name string, table *studies.Table, cfg CXRConfig) *CXRDataset {
	if cfg.Transform == nil {
		cfg.Transform = Identity
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &CXRDataset{name: name, table: table, cfg: cfg}
}

// Name returns the name given at construction, e.g. "train".
func (d *CXRDataset) Name() string {
	return d.name
}

// Len returns the number of records in the table.
func (d *CXRDataset) Len() int {
	return d.table.Len()
}

// Table returns the table served by the dataset.
func (d *CXRDataset) Table() *studies.Table {
	return d.table
}

// WithMasks reports whether samples carry a mask.
func (d *CXRDataset) WithMasks() bool {
	return d.cfg.WithMasks
}

// Record returns the i-th record, without loading anything.
func (d *CXRDataset) Record(i int) (studies.Record, error) {
	if i < 0 || i >= d.table.Len() {
		return studies.Record{}, errors.Errorf("index %d out of range [0, %d)", i, d.table.Len())
	}
	return d.table.At(i), nil
}

// Sample loads the i-th sample: the image replicated to 3 channels, its
// (smoothed) label and, if configured, its mask, all passed through the
// dataset's Transform.
func (d *CXRDataset) Sample(i int) (*Sample, error) {
	rec, err := d.Record(i)
	if err != nil {
		return nil, err
	}
	path := ImagePath(d.cfg.DataDir, rec.ImageID)
	gray, err := ReadImage(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %s: sample %d (%s)", d.name, i, rec.ImageID)
	}
	img := Replicate(gray, Channels)

	var mask *annotation.Mask
	if d.cfg.WithMasks {
		mask, err = d.mask(img.Height, img.Width, path)
		if err != nil {
			return nil, errors.WithMessagef(err, "dataset %s: sample %d (%s)", d.name, i, rec.ImageID)
		}
	}

	img, mask, err = d.cfg.Transform.Apply(img, mask)
	if err != nil {
		return nil, errors.WithMessagef(err, "dataset %s: transform of sample %d (%s)", d.name, i, rec.ImageID)
	}
	return &Sample{
		Index: i,
		Image: img,
		Label: rec.Label(d.cfg.LabelSmoothing),
		Mask:  mask,
		Path:  path,
	}, nil
}

func (d *CXRDataset) mask(height, width int, imagePath string) (*annotation.Mask, error) {
	annPath := AnnotationPath(imagePath)
	mask, res := annotation.MaskFromFile(height, width, annPath)
	if res.Status == annotation.Malformed {
		if d.cfg.StrictAnnotations {
			return nil, errors.WithMessagef(res.Err, "annotation %s", annPath)
		}
		d.cfg.Logger.Debug("malformed annotation, using an empty mask",
			zap.String("path", annPath), zap.Error(res.Err))
	}
	return mask, nil
}

// Batch loads the samples at the given indices sequentially.
func (d *CXRDataset) Batch(indices []int) ([]*Sample, error) {
	samples := make([]*Sample, len(indices))
	for i, idx := range indices {
		s, err := d.Sample(idx)
		if err != nil {
			return nil, err
		}
		samples[i] = s
	}
	return samples, nil
}
