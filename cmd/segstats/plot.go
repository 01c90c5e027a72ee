package main

import (
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// plotClassFrequency writes a bar chart of the class pixel frequencies, bars
// coloured with the palette colour of each class.
func plotClassFrequency(outDir string, stats *classStats) error {
	p := plot.New()
	p.Title.Text = "Class pixel frequency"
	p.Y.Label.Text = "fraction of pixels"
	p.Y.Min = 0

	freq := stats.Frequencies()
	width := vg.Points(14)
	for i, l := range stats.pal {
		values := make(plotter.Values, len(freq))
		values[i] = freq[i]
		bars, err := plotter.NewBarChart(values, width)
		if err != nil {
			return err
		}
		bars.Color = l.Color
		bars.LineStyle.Color = color.RGBA{R: 60, G: 60, B: 60, A: 255}
		bars.LineStyle.Width = vg.Points(0.5)
		p.Add(bars)
	}
	p.NominalX(stats.pal.Names()...)
	p.X.Tick.Label.Rotation = 1.2
	p.X.Tick.Label.XAlign = -1.1
	p.Add(plotter.NewGrid())

	if err := ensureDir(outDir); err != nil {
		return err
	}
	outPath := filepath.Join(outDir, "class_frequency.png")
	if err := p.Save(10*vg.Inch, 5*vg.Inch, outPath); err != nil {
		return err
	}
	return nil
}

func ensureDir(path string) error {
	if path == "" {
		return nil
	}
	return os.MkdirAll(path, 0755)
}
