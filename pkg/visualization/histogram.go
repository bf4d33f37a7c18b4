package visualization

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"ctslices/internal/models"
)

// WriteHistogram renders the intensity histogram of v to path. The image
// format follows the file extension (png, svg, pdf). Each marker is drawn
// as a vertical line, typically the bounds of a threshold window.
func WriteHistogram(v *models.Volume, path string, bins int, markers ...float64) error {
	if err := v.Validate(); err != nil {
		return err
	}
	if bins <= 0 {
		return fmt.Errorf("histogram needs a positive bin count, got %d", bins)
	}

	values := make(plotter.Values, len(v.Data))
	for i, s := range v.Data {
		values[i] = float64(s)
	}

	stats := v.Stats()
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Intensity histogram (mean %.1f, sd %.1f)", stats.Mean, stats.StdDev)
	p.X.Label.Text = "Value"
	p.Y.Label.Text = "Voxels"

	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return fmt.Errorf("failed to build histogram: %w", err)
	}
	p.Add(hist)

	var peak float64
	for _, b := range hist.Bins {
		peak = max(peak, b.Weight)
	}
	for _, m := range markers {
		line, err := plotter.NewLine(plotter.XYs{{X: m, Y: 0}, {X: m, Y: peak}})
		if err != nil {
			return fmt.Errorf("failed to draw marker %g: %w", m, err)
		}
		line.Width = vg.Points(1)
		line.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(line)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save histogram: %w", err)
	}
	return nil
}
