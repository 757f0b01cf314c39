// Command lap-plot renders a saved lap-timing results document as a PNG chart.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"
	"path/filepath"

	"github.com/lapvision/lapvision/internal/stats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

func main() {
	results := flag.String("results", "", "path to a lap_times_*.json results document")
	output := flag.String("o", "laps.png", "output image path")
	flag.Parse()

	if *results == "" {
		log.Fatal("-results is required")
	}

	doc, err := stats.LoadDocument(*results)
	if err != nil {
		log.Fatalf("Failed to load results: %v", err)
	}
	if err := renderPlot(doc, *output); err != nil {
		log.Fatalf("Failed to render plot: %v", err)
	}
	log.Printf("✓ Created: %s", *output)
}

// renderPlot draws lap time against lap number and writes the chart to path.
func renderPlot(doc *stats.Document, path string) error {
	laps := doc.Statistics.Laps
	if len(laps) == 0 {
		return fmt.Errorf("results document has no laps")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Lap Times: %s", filepath.Base(doc.VideoPath))
	p.X.Label.Text = "Lap"
	p.Y.Label.Text = "Seconds"

	pts := make(plotter.XYs, 0, len(laps))
	for _, lap := range laps {
		pts = append(pts, plotter.XY{X: float64(lap.LapNumber), Y: lap.Time})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(fmt.Sprintf("%d laps", doc.Statistics.TotalLaps), line)
	p.Legend.Top = true

	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}
