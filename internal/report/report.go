// Package report renders HTML charts of lap-timing results using
// go-echarts. The output is a self-contained page suitable for the
// debug surface.
package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/lapvision/lapvision/internal/laptime"
	"github.com/lapvision/lapvision/internal/stats"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// RenderLapChart writes an HTML bar chart of lap times. videoPath
// labels the chart; laps may be empty.
func RenderLapChart(w io.Writer, videoPath string, laps []stats.Lap) error {
	st := stats.Compute(laps)

	labels := make([]string, 0, len(laps))
	data := make([]opts.BarData, 0, len(laps))
	for _, lap := range laps {
		labels = append(labels, fmt.Sprintf("Lap %d", lap.Number))
		data = append(data, opts.BarData{
			Name:  laptime.Format(lap.Seconds),
			Value: lap.Seconds,
		})
	}

	subtitle := fmt.Sprintf("video=%s no laps confirmed", videoPath)
	if st.TotalLaps > 0 {
		subtitle = fmt.Sprintf("video=%s laps=%d best=%s average=%s",
			videoPath, st.TotalLaps, st.BestLap, st.AverageLap)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Lap Times", Theme: "dark", Width: "900px", Height: "500px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Lap Times", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "lap"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("lap time", data)

	return bar.Render(w)
}
