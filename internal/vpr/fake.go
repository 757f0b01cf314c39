package vpr

import (
	"context"
	"fmt"
	"math"

	"github.com/lapvision/lapvision/internal/video"
)

// TrackEmbedder is a deterministic Embedder for tests. It recovers the frame
// index from synthetic frame payloads and maps the vehicle's track position
// to a point on the unit circle, so frames exactly one lap apart embed
// identically and similarity falls off smoothly with track distance. This
// gives ranking tests a ground truth without a real model.
type TrackEmbedder struct {
	// LapFrames is the simulated lap length in frames.
	LapFrames int

	// Embeds counts Embed calls, for asserting cache behavior.
	Embeds int
}

// Embed maps the frame's track position to a unit vector.
func (e *TrackEmbedder) Embed(ctx context.Context, frame []byte) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx, ok := video.SyntheticIndex(frame)
	if !ok {
		return nil, fmt.Errorf("track embedder needs synthetic frames, got %q", frame)
	}
	e.Embeds++

	theta := 2 * math.Pi * float64(idx%e.LapFrames) / float64(e.LapFrames)
	return Vector{float32(math.Cos(theta)), float32(math.Sin(theta))}, nil
}

// Dims returns the fake embedding width.
func (e *TrackEmbedder) Dims() int { return 2 }

// Device reports a fixed fake device.
func (e *TrackEmbedder) Device() string { return "cpu" }
