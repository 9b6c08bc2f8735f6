// Package report renders diagnostics of the data pipeline: class balance
// per fold, sample previews with their opacity masks and intensity
// statistics.
package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/Noofbiz/chestxray/studies"
)

// classColors are the bar colors, in studies.Classes order.
var classColors = [studies.NumClasses]color.Color{
	color.RGBA{R: 120, G: 120, B: 120, A: 255},
	color.RGBA{R: 20, G: 80, B: 200, A: 255},
	color.RGBA{R: 230, G: 150, B: 20, A: 255},
	color.RGBA{R: 200, G: 30, B: 30, A: 255},
}

// FoldClassCounts counts the records of each class in each fold.
func FoldClassCounts(t *studies.Table, numFolds int) [][studies.NumClasses]int {
	counts := make([][studies.NumClasses]int, numFolds)
	for _, r := range t.Records() {
		if r.Fold < 0 || r.Fold >= numFolds {
			continue
		}
		for _, c := range studies.Classes {
			if r.Is(c) {
				counts[r.Fold][c]++
			}
		}
	}
	return counts
}

// PlotFolds writes a grouped bar chart of the class counts per fold of
// split.All to path. The image format follows the file extension.
func PlotFolds(split *studies.Split, numFolds int, path string) error {
	counts := FoldClassCounts(split.All, numFolds)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Class balance over %d folds (%d images)", numFolds, split.All.Len())
	p.X.Label.Text = "fold"
	p.Y.Label.Text = "images"

	width := vg.Points(40 / float64(studies.NumClasses))
	for i, c := range studies.Classes {
		values := make(plotter.Values, numFolds)
		for f := range numFolds {
			values[f] = float64(counts[f][c])
		}
		bars, err := plotter.NewBarChart(values, width)
		if err != nil {
			return errors.Wrapf(err, "failed to build bars for %s", c)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = classColors[i]
		bars.Offset = width * vg.Length(float64(i)-float64(studies.NumClasses-1)/2)
		p.Add(bars)
		p.Legend.Add(c.String(), bars)
	}
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	names := make([]string, numFolds)
	for f := range numFolds {
		names[f] = fmt.Sprintf("%d", f)
	}
	p.NominalX(names...)

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save fold plot")
	}
	return nil
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return errors.Wrapf(os.MkdirAll(path, 0o755), "failed to create %s", path)
}
