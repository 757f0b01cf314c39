// Package stats aggregates confirmed laps into summary statistics and
// persists completed analyses as JSON result documents.
package stats

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/lapvision/lapvision/internal/laptime"
)

// Lap is one confirmed lap. StartFrame is the boundary that opened the
// lap, EndFrame the boundary that closed it, and Seconds the elapsed
// time between them at the source frame rate.
type Lap struct {
	Number     int     `json:"number"`
	StartFrame int     `json:"start_frame"`
	EndFrame   int     `json:"end_frame"`
	Seconds    float64 `json:"seconds"`
}

// LapEntry is the per-lap record embedded in a Statistics document.
// FrameIndex is the frame that closed the lap.
type LapEntry struct {
	LapNumber     int     `json:"lap_number"`
	Time          float64 `json:"time"`
	FormattedTime string  `json:"formatted_time"`
	FrameIndex    int     `json:"frame_index"`
}

// Statistics summarizes a set of laps. The aggregate fields hold
// formatted mm:ss.mmm strings and are omitted when no laps exist.
type Statistics struct {
	TotalLaps  int        `json:"total_laps"`
	Laps       []LapEntry `json:"laps"`
	BestLap    string     `json:"best_lap,omitempty"`
	WorstLap   string     `json:"worst_lap,omitempty"`
	AverageLap string     `json:"average_lap,omitempty"`
	TotalTime  string     `json:"total_time,omitempty"`
}

// Compute summarizes laps in confirmation order. With no laps the
// result carries an empty (non-nil) Laps slice and no aggregates, so
// it marshals as {"total_laps": 0, "laps": []}.
func Compute(laps []Lap) Statistics {
	entries := make([]LapEntry, len(laps))
	times := make([]float64, len(laps))
	for i, lap := range laps {
		entries[i] = LapEntry{
			LapNumber:     lap.Number,
			Time:          lap.Seconds,
			FormattedTime: laptime.Format(lap.Seconds),
			FrameIndex:    lap.EndFrame,
		}
		times[i] = lap.Seconds
	}

	s := Statistics{
		TotalLaps: len(laps),
		Laps:      entries,
	}
	if len(laps) == 0 {
		return s
	}

	s.BestLap = laptime.Format(floats.Min(times))
	s.WorstLap = laptime.Format(floats.Max(times))
	s.AverageLap = laptime.Format(stat.Mean(times, nil))
	s.TotalTime = laptime.Format(floats.Sum(times))
	return s
}
