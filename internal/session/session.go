// Package session owns the per-video analysis state machine: reference
// selection, coarse search, refinement, and lap confirmation. One
// mutex per session serializes every mutating operation, so two
// concurrent confirms can never interleave lap numbers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lapvision/lapvision/internal/config"
	"github.com/lapvision/lapvision/internal/laptime"
	"github.com/lapvision/lapvision/internal/monitoring"
	"github.com/lapvision/lapvision/internal/stats"
	"github.com/lapvision/lapvision/internal/timeutil"
	"github.com/lapvision/lapvision/internal/video"
	"github.com/lapvision/lapvision/internal/vpr"
)

var (
	// ErrNoReference rejects search, refine, and confirm before a
	// reference frame has been set.
	ErrNoReference = errors.New("reference frame not set")

	// ErrNoSearch rejects refine before any coarse search has run.
	ErrNoSearch = errors.New("no search has been run")

	// ErrMinLapTime rejects a confirm whose elapsed time falls below
	// the session's minimum lap time.
	ErrMinLapTime = errors.New("lap shorter than minimum lap time")

	// ErrEndOfVideo means the minimum-lap floor leaves no room for
	// another search window before the video ends.
	ErrEndOfVideo = errors.New("reached end of video")

	// ErrSessionClosed rejects any operation after Close.
	ErrSessionClosed = errors.New("session closed")
)

// Phase is the session's position in the analysis cycle.
type Phase int

const (
	// PhaseInitialized means the video is open but no reference is set.
	PhaseInitialized Phase = iota
	// PhaseReferenceSet means a search may run. Confirming a lap
	// returns here.
	PhaseReferenceSet
	// PhaseSearching means coarse candidates are available.
	PhaseSearching
	// PhaseRefining means a dense pass has run around a candidate.
	PhaseRefining
)

func (p Phase) String() string {
	switch p {
	case PhaseInitialized:
		return "initialized"
	case PhaseReferenceSet:
		return "reference_set"
	case PhaseSearching:
		return "searching"
	case PhaseRefining:
		return "refining"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// SearchOptions carries per-call overrides for Search.
type SearchOptions struct {
	// RangeSeconds bounds how far past the minimum-lap floor the
	// window extends. Zero or negative selects the configured default.
	// The floor itself cannot be overridden.
	RangeSeconds float64
}

// Session is one video analysis. The boundary anchor starts at the
// reference frame and advances to the end of each confirmed lap, so
// every search window opens after the previous boundary plus the
// minimum-lap floor.
type Session struct {
	id         string
	frames     *video.FrameStore
	engine     *vpr.Engine
	embedder   vpr.Embedder
	cfg        *config.TuningConfig
	clock      timeutil.Clock
	minLapTime float64
	createdAt  time.Time

	mu     sync.Mutex
	phase  Phase
	refIdx int // boundary anchor, -1 until a reference is set
	refVec vpr.Vector
	laps   []stats.Lap
	closed bool
}

// New builds a session over an opened video source. minLapTime at or
// below zero selects the configured default. A nil cfg uses built-in
// defaults and a nil clock uses real time.
func New(id string, src video.Source, embedder vpr.Embedder, cfg *config.TuningConfig, minLapTime float64, clock timeutil.Clock) *Session {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if minLapTime <= 0 {
		minLapTime = cfg.GetDefaultMinLapTime()
	}
	frames := video.NewFrameStore(src, cfg.GetCacheCapacity())
	s := &Session{
		id:         id,
		frames:     frames,
		engine:     vpr.NewEngine(frames, embedder, cfg.GetTopK()),
		embedder:   embedder,
		cfg:        cfg,
		clock:      clock,
		minLapTime: minLapTime,
		createdAt:  clock.Now(),
		refIdx:     -1,
	}
	info := frames.Info()
	monitoring.SessionLogf(id, "created for %s (%.3f fps, %d frames, min lap %s)",
		info.Path, info.FPS, info.TotalFrames, laptime.Format(minLapTime))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// MinLapTime returns the session's minimum lap time in seconds.
func (s *Session) MinLapTime() float64 { return s.minLapTime }

// VideoInfo returns the immutable descriptor of the opened video.
func (s *Session) VideoInfo() video.Info { return s.frames.Info() }

// Device reports the compute device the embedding provider runs on.
func (s *Session) Device() string { return s.embedder.Device() }

// Phase returns the current analysis phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Reference returns the current boundary anchor and whether a
// reference has been set.
func (s *Session) Reference() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refIdx, s.refVec != nil
}

// Laps returns a copy of the confirmed laps in order.
func (s *Session) Laps() []stats.Lap {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]stats.Lap, len(s.laps))
	copy(out, s.laps)
	return out
}

// Statistics summarizes the confirmed laps.
func (s *Session) Statistics() stats.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stats.Compute(s.laps)
}

// Frame fetches one frame through the session's cache.
func (s *Session) Frame(ctx context.Context, index int) (*video.Frame, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.frames.Frame(ctx, index)
}

// SetReference chooses the frame that represents crossing the line and
// stores its embedding. It may be called again at any time; the new
// reference replaces the old one and the boundary anchor resets to it.
// The decoded frame is returned for preview. On error no state changes.
func (s *Session) SetReference(ctx context.Context, index int) (*video.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	frame, err := s.frames.Frame(ctx, index)
	if err != nil {
		return nil, err
	}
	vec, err := s.engine.EmbedFrame(ctx, index)
	if err != nil {
		return nil, err
	}

	s.refIdx = index
	s.refVec = vec
	s.phase = PhaseReferenceSet
	monitoring.SessionLogf(s.id, "reference frame set to %d", index)
	return frame, nil
}

// Search runs a coarse sweep for the next lap boundary. The window
// opens at the boundary anchor plus the minimum-lap floor and extends
// RangeSeconds (or the configured default), clipped to the video.
func (s *Session) Search(ctx context.Context, opts SearchOptions) ([]vpr.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.refVec == nil {
		return nil, ErrNoReference
	}

	win, err := s.searchWindow(opts.RangeSeconds)
	if err != nil {
		return nil, err
	}
	cands, err := s.engine.Search(ctx, s.refVec, win)
	if err != nil {
		return nil, err
	}
	s.phase = PhaseSearching
	monitoring.SessionLogf(s.id, "search [%d, %d) step %d returned %d candidates",
		win.Start, win.End, win.Step, len(cands))
	return cands, nil
}

// searchWindow derives the sampling window from the boundary anchor.
// Callers hold s.mu.
func (s *Session) searchWindow(rangeSeconds float64) (vpr.Window, error) {
	if rangeSeconds <= 0 {
		rangeSeconds = s.cfg.GetSearchRangeSeconds()
	}
	info := s.frames.Info()

	minFrame := s.refIdx + laptime.SecondsToFrames(s.minLapTime, info.FPS)
	if minFrame >= info.TotalFrames {
		return vpr.Window{}, fmt.Errorf("no frames after boundary %d plus minimum lap: %w", s.refIdx, ErrEndOfVideo)
	}
	maxFrame := minFrame + laptime.SecondsToFrames(rangeSeconds, info.FPS)
	if maxFrame > info.TotalFrames-1 {
		maxFrame = info.TotalFrames - 1
	}
	if maxFrame <= minFrame {
		// Window collapsed against the end of the video. Search
		// whatever frames remain.
		maxFrame = info.TotalFrames - 1
		if maxFrame <= minFrame {
			return vpr.Window{}, fmt.Errorf("remaining video shorter than one lap: %w", ErrEndOfVideo)
		}
	}

	step := laptime.SecondsToFrames(s.cfg.GetSampleIntervalSeconds(), info.FPS)
	if step < 1 {
		step = 1
	}
	return vpr.Window{Start: minFrame, End: maxFrame, Step: step}, nil
}

// Refine densely re-scores every frame around center. It requires a
// prior Search in the current cycle; frames below the minimum-lap
// floor are never proposed.
func (s *Session) Refine(ctx context.Context, center int) ([]vpr.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.refVec == nil {
		return nil, ErrNoReference
	}
	if s.phase != PhaseSearching && s.phase != PhaseRefining {
		return nil, ErrNoSearch
	}

	info := s.frames.Info()
	floor := s.refIdx + laptime.SecondsToFrames(s.minLapTime, info.FPS)
	cands, err := s.engine.Refine(ctx, s.refVec, center, s.cfg.GetRefineRadius(), floor)
	if err != nil {
		return nil, err
	}
	s.phase = PhaseRefining
	monitoring.SessionLogf(s.id, "refine around %d returned %d candidates", center, len(cands))
	return cands, nil
}

// Confirm commits frame index as the next lap boundary. The elapsed
// time must be at least the minimum lap time; exactly the minimum is
// accepted. On success the boundary anchor advances to index and the
// session is ready to search for the next lap.
func (s *Session) Confirm(index int) (stats.Lap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stats.Lap{}, ErrSessionClosed
	}
	if s.refVec == nil {
		return stats.Lap{}, ErrNoReference
	}

	info := s.frames.Info()
	if err := info.CheckIndex(index); err != nil {
		return stats.Lap{}, err
	}
	elapsed := laptime.FramesToSeconds(index-s.refIdx, info.FPS)
	if elapsed < s.minLapTime {
		return stats.Lap{}, fmt.Errorf("lap time %s below minimum %s: %w",
			laptime.Format(elapsed), laptime.Format(s.minLapTime), ErrMinLapTime)
	}

	lap := stats.Lap{
		Number:     len(s.laps) + 1,
		StartFrame: s.refIdx,
		EndFrame:   index,
		Seconds:    elapsed,
	}
	s.laps = append(s.laps, lap)
	s.refIdx = index
	s.phase = PhaseReferenceSet
	monitoring.SessionLogf(s.id, "lap %d confirmed at frame %d (%s)",
		lap.Number, index, laptime.Format(elapsed))
	return lap, nil
}

// Document assembles the persistable record of the session's current
// state, stamped with the session clock.
func (s *Session) Document() *stats.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.frames.Info()
	return &stats.Document{
		VideoPath:         info.Path,
		VideoInfo:         stats.NewVideoInfo(info, s.embedder.Device()),
		MinLapTime:        s.minLapTime,
		ReferenceFrameIdx: s.refIdx,
		Statistics:        stats.Compute(s.laps),
		CreatedAt:         s.clock.Now().Format(time.RFC3339),
	}
}

// Close releases the frame cache and underlying video source. It is
// idempotent; every other operation fails once the session is closed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.refVec = nil
	monitoring.SessionLogf(s.id, "closed")
	return s.frames.Close()
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}
