package annotation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCornersSingleBox(t *testing.T) {
	boxes := []CenterBox{{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2}}
	corners := ToCorners(100, 100, boxes)
	require.Len(t, corners, 1)
	assert.InDelta(t, 40, corners[0].X1, 1e-9)
	assert.InDelta(t, 40, corners[0].Y1, 1e-9)
	assert.InDelta(t, 60, corners[0].X2, 1e-9)
	assert.InDelta(t, 60, corners[0].Y2, 1e-9)

	// Input untouched.
	assert.Equal(t, CenterBox{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2}, boxes[0])
}

func TestToCornersScalesAxesSeparately(t *testing.T) {
	// Width scales x, height scales y.
	corners := ToCorners(200, 400, []CenterBox{{CX: 0.25, CY: 0.5, W: 0.5, H: 0.1}})
	assert.InDelta(t, 0, corners[0].X1, 1e-9)
	assert.InDelta(t, 200, corners[0].X2, 1e-9)
	assert.InDelta(t, 90, corners[0].Y1, 1e-9)
	assert.InDelta(t, 110, corners[0].Y2, 1e-9)
}

func TestCornersRoundTrip(t *testing.T) {
	sizes := [][2]int{{100, 100}, {1024, 768}, {37, 911}}
	boxes := []CenterBox{
		{CX: 0.5, CY: 0.5, W: 0.2, H: 0.2},
		{CX: 0.1, CY: 0.9, W: 0.3, H: 0.05},
		{CX: 0.99, CY: 0.01, W: 0.5, H: 0.5},
		{CX: 0.333, CY: 0.777, W: 0.123, H: 0.456},
	}
	for _, hw := range sizes {
		back := ToCenters(hw[0], hw[1], ToCorners(hw[0], hw[1], boxes))
		require.Len(t, back, len(boxes))
		for i := range boxes {
			assert.InDelta(t, boxes[i].CX, back[i].CX, 1e-9, "size %v box %d", hw, i)
			assert.InDelta(t, boxes[i].CY, back[i].CY, 1e-9, "size %v box %d", hw, i)
			assert.InDelta(t, boxes[i].W, back[i].W, 1e-9, "size %v box %d", hw, i)
			assert.InDelta(t, boxes[i].H, back[i].H, 1e-9, "size %v box %d", hw, i)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		status Status
		boxes  int
	}{
		{"empty", "", Empty, 0},
		{"whitespace", " \n\t\n", Empty, 0},
		{"one box", "0 0.5 0.5 0.2 0.2", Boxes, 1},
		{"two boxes on lines", "0 0.1 0.1 0.1 0.1\n0 0.7 0.7 0.2 0.2\n", Boxes, 2},
		{"two boxes on one line", "0 0.1 0.1 0.1 0.1 0 0.7 0.7 0.2 0.2", Boxes, 2},
		{"short group", "0 0.5 0.5 0.2", Malformed, 0},
		{"not a number", "0 0.5 abc 0.2 0.2", Malformed, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Parse(tt.data)
			assert.Equal(t, tt.status, r.Status)
			assert.Len(t, r.Boxes, tt.boxes)
			if tt.status == Malformed {
				assert.ErrorIs(t, r.Err, ErrMalformed)
			} else {
				assert.NoError(t, r.Err)
			}
		})
	}
}

func TestReadFileMissing(t *testing.T) {
	r := ReadFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Equal(t, NoFile, r.Status)
	assert.NoError(t, r.Err)
	assert.False(t, r.HasFindings())
}

func TestRasterizeScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img_image.txt")
	require.NoError(t, os.WriteFile(path, []byte("0 0.5 0.5 0.2 0.2"), 0o644))

	m, r := MaskFromFile(100, 100, path)
	require.Equal(t, Boxes, r.Status)
	require.Equal(t, 100, m.Width)
	require.Equal(t, 100, m.Height)
	assert.Equal(t, 400, m.Count())
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			want := uint8(0)
			if x >= 40 && x < 60 && y >= 40 && y < 60 {
				want = 1
			}
			if m.At(x, y) != want {
				t.Fatalf("mask at (%d,%d) = %d, want %d", x, y, m.At(x, y), want)
			}
		}
	}
}

func TestRasterizeEmptyAndMalformed(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"empty.txt":     "",
		"malformed.txt": "0 0.5 0.5",
		"garbage.txt":   "no findings here at all",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		m, _ := MaskFromFile(32, 48, path)
		assert.Equal(t, 32, m.Height, name)
		assert.Equal(t, 48, m.Width, name)
		assert.Zero(t, m.Count(), name)
	}

	m, r := MaskFromFile(32, 48, filepath.Join(dir, "absent.txt"))
	assert.Equal(t, NoFile, r.Status)
	assert.Zero(t, m.Count())
}

func TestRasterizeUnionAndClamp(t *testing.T) {
	boxes := []CornerBox{
		{X1: 0, Y1: 0, X2: 5, Y2: 5},
		{X1: 3, Y1: 3, X2: 8, Y2: 8},    // overlaps the first
		{X1: -4, Y1: 7, X2: 2.9, Y2: 20}, // past the left and bottom borders
		{X1: 30, Y1: 30, X2: 40, Y2: 40}, // fully outside
	}
	m := Rasterize(10, 10, boxes)
	// 25 + 25 - 4 overlap + 2 cols x 3 rows (rows 7..9, cols 0..1).
	assert.Equal(t, 25+25-4+6, m.Count())
	assert.Equal(t, uint8(1), m.At(4, 4))
	assert.Equal(t, uint8(1), m.At(1, 9))
	assert.Equal(t, uint8(0), m.At(2, 9))
	assert.Equal(t, uint8(0), m.At(9, 0))
}

func TestMaskGrayRoundTrip(t *testing.T) {
	m := Rasterize(6, 9, []CornerBox{{X1: 1, Y1: 2, X2: 4, Y2: 5}})
	back := MaskFromGray(m.Gray())
	assert.Equal(t, m, back)
}
