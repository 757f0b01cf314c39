package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lapvision/lapvision/internal/video"
)

// VideoInfo is the source description embedded in a saved document,
// tagged with the device the embedding sidecar ran on.
type VideoInfo struct {
	FPS               float64 `json:"fps"`
	TotalFrames       int     `json:"total_frames"`
	Duration          float64 `json:"duration"`
	FormattedDuration string  `json:"formatted_duration"`
	Device            string  `json:"device"`
}

// NewVideoInfo builds the document view of a video source.
func NewVideoInfo(info video.Info, device string) VideoInfo {
	return VideoInfo{
		FPS:               info.FPS,
		TotalFrames:       info.TotalFrames,
		Duration:          info.Duration,
		FormattedDuration: info.FormattedDuration(),
		Device:            device,
	}
}

// Document is the saved analysis for one video. ReferenceFrameIdx is
// the boundary anchor at save time; it advances to the end frame of
// each confirmed lap, so with laps recorded it names the last boundary
// rather than the frame the reference embedding came from. CreatedAt
// is an RFC 3339 timestamp.
type Document struct {
	VideoPath         string     `json:"video_path"`
	VideoInfo         VideoInfo  `json:"video_info"`
	MinLapTime        float64    `json:"min_lap_time"`
	ReferenceFrameIdx int        `json:"reference_frame_idx"`
	Statistics        Statistics `json:"statistics"`
	CreatedAt         string     `json:"created_at"`
}

// Write stores the document as indented JSON, creating parent
// directories as needed.
func (d *Document) Write(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}

// LoadDocument reads a document previously stored with Write.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read results: %w", err)
	}
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse results %s: %w", filepath.Base(path), err)
	}
	return &d, nil
}
