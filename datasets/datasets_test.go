package datasets

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Noofbiz/chestxray/annotation"
	"github.com/Noofbiz/chestxray/config"
	"github.com/Noofbiz/chestxray/studies"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// writePNG16 writes a 16-bit grayscale PNG whose pixel values are given by
// value.
func writePNG16(t *testing.T, path string, width, height int, value func(x, y int) uint16) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.SetGray16(x, y, color.Gray16{Y: value(x, y)})
		}
	}
	writePNG(t, path, img)
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// writeCSV writes a CSV file with the given header and rows to path.
func writeCSV(t *testing.T, path, header string, rows []string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString(header + "\n")
	require.NoError(t, err)
	for _, r := range rows {
		_, err = f.WriteString(r + "\n")
		require.NoError(t, err)
	}
}

// writeDataDir creates a data directory with n single-image studies of
// width x height pixels. Image i has constant value 100*i and belongs to
// class i%4. Every image with an even index carries one centered box.
func writeDataDir(t *testing.T, n, width, height int) string {
	t.Helper()
	dir := t.TempDir()
	var imageRows, studyRows []string
	for i := range n {
		id := fmt.Sprintf("img%03d", i)
		sid := fmt.Sprintf("s%03d", i)
		imageRows = append(imageRows, fmt.Sprintf("%s_image,,none 1 0 0 1 1,%s", id, sid))
		labels := [studies.NumClasses]int{}
		labels[i%studies.NumClasses] = 1
		studyRows = append(studyRows, fmt.Sprintf("%s_study,%d,%d,%d,%d", sid, labels[0], labels[1], labels[2], labels[3]))

		path := ImagePath(dir, id+ImageSuffix)
		v := uint16(100 * i)
		writePNG16(t, path, width, height, func(int, int) uint16 { return v })
		if i%2 == 0 {
			require.NoError(t, os.WriteFile(AnnotationPath(path), []byte("0 0.5 0.5 0.5 0.5"), 0o644))
		}
	}
	writeCSV(t, filepath.Join(dir, studies.ImageLevelFile), "id,boxes,label,StudyInstanceUID", imageRows)
	writeCSV(t, filepath.Join(dir, studies.StudyLevelFile),
		"id,Negative for Pneumonia,Typical Appearance,Indeterminate Appearance,Atypical Appearance", studyRows)
	return dir
}

func TestPaths(t *testing.T) {
	p := ImagePath("data", "000a312787f2_image")
	assert.Equal(t, filepath.Join("data", "train", "000a312787f2_image.png"), p)
	assert.Equal(t, filepath.Join("data", "train", "000a312787f2_image.txt"), AnnotationPath(p))
	// Ids without the suffix resolve to the same file.
	assert.Equal(t, p, ImagePath("data", "000a312787f2"))
}

func TestReadImageKeepsRawValues(t *testing.T) {
	dir := t.TempDir()

	p16 := filepath.Join(dir, "a.png")
	writePNG16(t, p16, 4, 3, func(x, y int) uint16 { return uint16(1000*y + x) })
	img, err := ReadImage(p16)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 3, img.Height)
	assert.Equal(t, 1, img.Channels)
	assert.Equal(t, float32(65535), img.MaxValue)
	assert.Equal(t, float32(2003), img.At(3, 2, 0))

	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.SetGray(1, 1, color.Gray{Y: 200})
	p8 := filepath.Join(dir, "b.png")
	writePNG(t, p8, gray)
	img, err = ReadImage(p8)
	require.NoError(t, err)
	assert.Equal(t, float32(255), img.MaxValue)
	assert.Equal(t, float32(200), img.At(1, 1, 0))
	assert.Equal(t, float32(0), img.At(0, 1, 0))

	_, err = ReadImage(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestReplicate(t *testing.T) {
	gray := NewImage(2, 2, 1)
	gray.Pix = []float32{1, 2, 3, 4}
	gray.MaxValue = 255
	rgb := Replicate(gray, 3)
	assert.Equal(t, 3, rgb.Channels)
	assert.Equal(t, float32(255), rgb.MaxValue)
	assert.Equal(t, []float32{1, 1, 1, 2, 2, 2, 3, 3, 3, 4, 4, 4}, rgb.Pix)
	assert.Equal(t, []float32{1, 2, 3, 4}, rgb.Plane(2))
}

func TestCXRDatasetSample(t *testing.T) {
	dir := writeDataDir(t, 4, 20, 10)
	table := studies.NewTable([]studies.Record{
		{ImageID: "img000_image", StudyID: "s000", Classes: [4]float32{1, 0, 0, 0}},
		{ImageID: "img001_image", StudyID: "s001", Classes: [4]float32{0, 1, 0, 0}},
	})
	ds := NewCXRDataset("train", table, CXRConfig{DataDir: dir, WithMasks: true, LabelSmoothing: 0.1})
	assert.Equal(t, 2, ds.Len())

	s, err := ds.Sample(0)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Index)
	assert.Equal(t, Channels, s.Image.Channels)
	assert.Equal(t, 20, s.Image.Width)
	assert.Equal(t, 10, s.Image.Height)
	assert.InDeltaSlice(t, []float32{0.9, 0.1, 0.1, 0.1}, s.Label[:], 1e-6)
	require.NotNil(t, s.Mask)
	// Centered box of half the image: x in [5,15), y in [2.5,7.5) truncated to [2,7).
	assert.Equal(t, 10*5, s.Mask.Count())
	assert.Equal(t, uint8(1), s.Mask.At(5, 2))
	assert.Equal(t, uint8(0), s.Mask.At(15, 2))

	// Image 1 has no annotation file: an all-zero mask of the same size.
	s, err = ds.Sample(1)
	require.NoError(t, err)
	assert.Equal(t, float32(100), s.Image.At(3, 3, 1))
	require.NotNil(t, s.Mask)
	assert.Equal(t, 0, s.Mask.Count())
	assert.Equal(t, 20, s.Mask.Width)

	_, err = ds.Sample(2)
	assert.Error(t, err)
}

func TestCXRDatasetWithoutMasks(t *testing.T) {
	dir := writeDataDir(t, 2, 8, 8)
	table := studies.NewTable([]studies.Record{{ImageID: "img000_image", Classes: [4]float32{0, 0, 0, 1}}})
	ds := NewCXRDataset("valid", table, CXRConfig{DataDir: dir})
	s, err := ds.Sample(0)
	require.NoError(t, err)
	assert.Nil(t, s.Mask)
	// No smoothing configured.
	assert.Equal(t, [4]float32{0, 0, 0, 1}, s.Label)
}

func TestCXRDatasetMalformedAnnotation(t *testing.T) {
	dir := writeDataDir(t, 1, 8, 8)
	path := ImagePath(dir, "img000_image")
	require.NoError(t, os.WriteFile(AnnotationPath(path), []byte("0 0.5 0.5"), 0o644))
	table := studies.NewTable([]studies.Record{{ImageID: "img000_image"}})

	lenient := NewCXRDataset("train", table, CXRConfig{DataDir: dir, WithMasks: true})
	s, err := lenient.Sample(0)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Mask.Count())

	strict := NewCXRDataset("train", table, CXRConfig{DataDir: dir, WithMasks: true, StrictAnnotations: true})
	_, err = strict.Sample(0)
	assert.ErrorIs(t, err, annotation.ErrMalformed)
}

func TestCXRDatasetTransform(t *testing.T) {
	dir := writeDataDir(t, 1, 8, 8)
	table := studies.NewTable([]studies.Record{{ImageID: "img000_image"}})
	var gotMask bool
	halve := TransformFunc(func(img *Image, mask *annotation.Mask) (*Image, *annotation.Mask, error) {
		gotMask = mask != nil
		out := NewImage(img.Height/2, img.Width/2, img.Channels)
		return out, annotation.NewMask(out.Height, out.Width), nil
	})
	ds := NewCXRDataset("train", table, CXRConfig{DataDir: dir, WithMasks: true, Transform: halve})
	s, err := ds.Sample(0)
	require.NoError(t, err)
	assert.True(t, gotMask)
	assert.Equal(t, 4, s.Image.Width)
	assert.Equal(t, 4, s.Mask.Height)
}

func TestMakeBatchFlat(t *testing.T) {
	mk := func(v float32, withMask bool) *Sample {
		img := NewImage(2, 3, 3)
		for i := range img.Pix {
			img.Pix[i] = v
		}
		s := &Sample{Image: img, Label: [4]float32{v, 0, 0, 1}}
		if withMask {
			s.Mask = annotation.NewMask(2, 3)
			s.Mask.Set(1, 1, 1)
		}
		return s
	}

	b, err := MakeBatchFlat([]*Sample{mk(1, true), mk(2, true)})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3, 3}, b.ImageDims())
	assert.Len(t, b.Images, 2*2*3*3)
	assert.Equal(t, float32(2), b.Images[18])
	assert.Equal(t, []float32{1, 0, 0, 1, 2, 0, 0, 1}, b.Labels)
	assert.Equal(t, []float32{0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 1, 0}, b.Masks)

	images, labels, masks, err := b.ToGomlxTensors()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3, 3}, images.Shape().Dimensions)
	assert.Equal(t, []int{2, 4}, labels.Shape().Dimensions)
	assert.Equal(t, []int{2, 2, 3}, masks.Shape().Dimensions)

	b, err = MakeBatchFlat([]*Sample{mk(1, false)})
	require.NoError(t, err)
	assert.Nil(t, b.Masks)
	_, _, masks, err = b.ToGomlxTensors()
	require.NoError(t, err)
	assert.Nil(t, masks)

	_, err = MakeBatchFlat([]*Sample{mk(1, true), mk(2, false)})
	assert.Error(t, err)

	other := mk(3, false)
	other.Image = NewImage(4, 4, 3)
	_, err = MakeBatchFlat([]*Sample{mk(1, false), other})
	assert.Error(t, err)

	empty, err := MakeBatchFlat(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.BatchSize)
}

func TestModule(t *testing.T) {
	dir := writeDataDir(t, 12, 16, 16)
	cfg := &config.Config{
		DataDir:             dir,
		NumFolds:            3,
		FoldIndex:           1,
		Seed:                52,
		BatchSize:           2,
		NumWorkers:          2,
		LabelSmoothing:      0.1,
		WithMasks:           true,
		ClassMultiplicities: []int{2, 1, 3, 6},
		Unmatched:           "drop",
	}
	m, err := NewModule(cfg, nil, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 8, m.TrainDataset().Len())
	assert.Equal(t, 4, m.ValidDataset().Len())
	assert.Equal(t, m.ValidDataset().Table(), m.TestDataset().Table())

	train, err := m.TrainLoader()
	require.NoError(t, err)
	valid, err := m.ValidLoader()
	require.NoError(t, err)
	test, err := m.TestLoader()
	require.NoError(t, err)

	assert.Equal(t, LoaderConfig{BatchSize: 2, NumWorkers: 2, PinMemory: true, Seed: 53}, train.Config())
	assert.Equal(t, LoaderConfig{BatchSize: 4, Shuffle: true, NumWorkers: 2, PinMemory: true, Seed: 54}, valid.Config())
	assert.Equal(t, LoaderConfig{BatchSize: 2, NumWorkers: 2, Seed: 55}, test.Config())
	assert.Equal(t, 4, train.Len())
	assert.Equal(t, 1, valid.Len())
	assert.Equal(t, 2, test.Len())

	// Smoothing on the training split only.
	s, err := m.TrainDataset().Sample(0)
	require.NoError(t, err)
	for _, v := range s.Label {
		assert.GreaterOrEqual(t, v, float32(0.1))
	}
	s, err = m.TestDataset().Sample(0)
	require.NoError(t, err)
	assert.Contains(t, s.Label[:], float32(0))
	assert.Contains(t, s.Label[:], float32(1))

	// Rebalancing.
	cfg.AugmentClass = true
	m, err = NewModule(cfg, nil, nil, nil)
	require.NoError(t, err)
	counts := m.Split().Valid.ClassCounts()
	assert.Equal(t, 4, counts[0]+counts[1]+counts[2]+counts[3])
	assert.Greater(t, m.Split().Train.Len(), 8)
}

func TestModuleErrors(t *testing.T) {
	_, err := NewModule(&config.Config{DataDir: t.TempDir(), NumFolds: 5, BatchSize: 1,
		ClassMultiplicities: []int{1, 1, 1, 1}, Unmatched: "drop"}, nil, nil, nil)
	assert.Error(t, err, "missing CSVs")

	_, err = NewModule(&config.Config{NumFolds: 1}, nil, nil, nil)
	assert.Error(t, err, "invalid config")
}
