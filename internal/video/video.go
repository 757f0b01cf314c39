// Package video provides frame-accurate access to onboard video files. A
// Source decodes single frames by index; FrameStore layers a bounded LRU
// cache over a Source so repeated visits during lap search stay cheap.
package video

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lapvision/lapvision/internal/laptime"
)

var (
	// ErrInvalidFrameIndex reports a frame index outside [0, TotalFrames).
	ErrInvalidFrameIndex = errors.New("frame index out of range")

	// ErrDecodeFailure reports a frame the decoder could not produce.
	ErrDecodeFailure = errors.New("frame decode failed")
)

// Info describes an opened video stream.
type Info struct {
	Path        string  `json:"path"`
	FPS         float64 `json:"fps"`
	TotalFrames int     `json:"total_frames"`
	Duration    float64 `json:"duration"` // seconds
}

// FormattedDuration renders the stream duration as mm:ss.mmm.
func (i Info) FormattedDuration() string {
	return laptime.Format(i.Duration)
}

// CheckIndex validates that idx addresses a frame in this stream.
func (i Info) CheckIndex(idx int) error {
	if idx < 0 || idx >= i.TotalFrames {
		return fmt.Errorf("frame %d outside [0, %d): %w", idx, i.TotalFrames, ErrInvalidFrameIndex)
	}
	return nil
}

// FrameTime returns the timestamp in seconds of the frame at idx.
func (i Info) FrameTime(idx int) float64 {
	return laptime.FramesToSeconds(idx, i.FPS)
}

// Frame is a single decoded video frame. Data is a PNG-encoded raster and is
// immutable once decoded.
type Frame struct {
	Index int
	Data  []byte
}

// Source is the video decoding capability. Implementations must be safe to
// call from the single goroutine that owns them; FrameStore adds locking for
// shared use.
type Source interface {
	// Info returns the stream metadata captured when the source was opened.
	Info() Info

	// Decode produces the frame at index. Indices outside [0, TotalFrames)
	// return ErrInvalidFrameIndex; a readable index that cannot be decoded
	// returns ErrDecodeFailure rather than a substitute frame.
	Decode(ctx context.Context, index int) (*Frame, error)

	// Close releases any resources held by the source.
	Close() error
}

// MemorySource is an in-memory Source for tests and tooling. Frames are
// served from a slice; decode errors can be injected per index.
type MemorySource struct {
	info   Info
	frames [][]byte
	broken map[int]bool
	closed bool
}

// NewMemorySource builds a MemorySource whose frame i carries frames[i].
func NewMemorySource(path string, fps float64, frames [][]byte) *MemorySource {
	return &MemorySource{
		info: Info{
			Path:        path,
			FPS:         fps,
			TotalFrames: len(frames),
			Duration:    laptime.FramesToSeconds(len(frames), fps),
		},
		frames: frames,
		broken: make(map[int]bool),
	}
}

// syntheticPrefix tags frames produced by NewSyntheticSource so test
// embedders can recover the frame index from the payload alone.
const syntheticPrefix = "synthetic-frame-"

// NewSyntheticSource builds a MemorySource with totalFrames generated frames
// whose bytes encode their own index, so embeddings derived from them are
// deterministic and distinct.
func NewSyntheticSource(path string, fps float64, totalFrames int) *MemorySource {
	frames := make([][]byte, totalFrames)
	for i := range frames {
		frames[i] = []byte(fmt.Sprintf("%s%06d", syntheticPrefix, i))
	}
	return NewMemorySource(path, fps, frames)
}

// SyntheticIndex recovers the frame index from a synthetic frame payload.
// It reports false for frames that did not come from NewSyntheticSource.
func SyntheticIndex(data []byte) (int, bool) {
	s, ok := strings.CutPrefix(string(data), syntheticPrefix)
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return idx, true
}

// Break marks an index so Decode reports ErrDecodeFailure for it.
func (s *MemorySource) Break(idx int) {
	s.broken[idx] = true
}

// Info returns the stream metadata.
func (s *MemorySource) Info() Info {
	return s.info
}

// Decode returns the stored frame at index.
func (s *MemorySource) Decode(ctx context.Context, index int) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, fmt.Errorf("source closed: %w", ErrDecodeFailure)
	}
	if err := s.info.CheckIndex(index); err != nil {
		return nil, err
	}
	if s.broken[index] {
		return nil, fmt.Errorf("frame %d: %w", index, ErrDecodeFailure)
	}
	return &Frame{Index: index, Data: s.frames[index]}, nil
}

// Close marks the source closed.
func (s *MemorySource) Close() error {
	s.closed = true
	return nil
}
