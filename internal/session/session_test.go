package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lapvision/lapvision/internal/config"
	"github.com/lapvision/lapvision/internal/timeutil"
	"github.com/lapvision/lapvision/internal/video"
	"github.com/lapvision/lapvision/internal/vpr"
)

var testEpoch = time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)

// newTrackSession builds a session over a synthetic 60fps video where
// the vehicle crosses the line every 1200 frames (a 20s lap).
func newTrackSession(t *testing.T, totalFrames int, minLap float64) *Session {
	t.Helper()
	src := video.NewSyntheticSource("videos/test.mp4", 60, totalFrames)
	embedder := &vpr.TrackEmbedder{LapFrames: 1200}
	s := New("test-session", src, embedder, config.EmptyTuningConfig(), minLap, timeutil.NewMockClock(testEpoch))
	t.Cleanup(func() { s.Close() })
	return s
}

func setRef(t *testing.T, s *Session, idx int) {
	t.Helper()
	_, err := s.SetReference(context.Background(), idx)
	require.NoError(t, err)
}

// The full analysis cycle on a 200s video with 20s laps and an 18s
// minimum: reference at frame 100, boundaries every 1200 frames.
func TestSessionEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTrackSession(t, 12000, 18)
	require.Equal(t, PhaseInitialized, s.Phase())

	frame, err := s.SetReference(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, frame.Index)
	assert.Equal(t, PhaseReferenceSet, s.Phase())

	// Coarse search: window opens at 100 + 18s*60 = 1180 and the
	// boundary 1300 sits on the 6-frame sampling grid.
	cands, err := s.Search(ctx, SearchOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, cands)
	assert.LessOrEqual(t, len(cands), 5)
	assert.Equal(t, 1300, cands[0].FrameIndex)
	assert.InDelta(t, 1.0, cands[0].Similarity, 1e-6)
	assert.Equal(t, PhaseSearching, s.Phase())

	refined, err := s.Refine(ctx, cands[0].FrameIndex)
	require.NoError(t, err)
	require.NotEmpty(t, refined)
	assert.Equal(t, 1300, refined[0].FrameIndex)
	assert.Equal(t, PhaseRefining, s.Phase())

	// The two paths share one embedding and one scoring function, so
	// the boundary's score is bit-identical between them.
	assert.Equal(t, cands[0].Similarity, refined[0].Similarity)

	lap, err := s.Confirm(refined[0].FrameIndex)
	require.NoError(t, err)
	assert.Equal(t, 1, lap.Number)
	assert.Equal(t, 100, lap.StartFrame)
	assert.Equal(t, 1300, lap.EndFrame)
	assert.InDelta(t, 20.0, lap.Seconds, 1e-9)
	assert.Equal(t, PhaseReferenceSet, s.Phase())

	// The anchor advanced, so the next window opens past 1300 + floor.
	cands, err = s.Search(ctx, SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2500, cands[0].FrameIndex)
	lap, err = s.Confirm(2500)
	require.NoError(t, err)
	assert.Equal(t, 2, lap.Number)
	assert.Equal(t, 1300, lap.StartFrame)

	st := s.Statistics()
	assert.Equal(t, 2, st.TotalLaps)
	assert.Equal(t, "00:20.000", st.BestLap)
	assert.Equal(t, "00:20.000", st.WorstLap)
	assert.Equal(t, "00:20.000", st.AverageLap)
	assert.Equal(t, "00:40.000", st.TotalTime)
}

func TestSessionRequiresReference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTrackSession(t, 12000, 18)

	_, err := s.Search(ctx, SearchOptions{})
	assert.ErrorIs(t, err, ErrNoReference)

	_, err = s.Refine(ctx, 1300)
	assert.ErrorIs(t, err, ErrNoReference)

	_, err = s.Confirm(1300)
	assert.ErrorIs(t, err, ErrNoReference)

	assert.Equal(t, PhaseInitialized, s.Phase())
}

func TestSessionRefineRequiresSearch(t *testing.T) {
	t.Parallel()

	s := newTrackSession(t, 12000, 18)
	setRef(t, s, 100)

	_, err := s.Refine(context.Background(), 1300)
	assert.ErrorIs(t, err, ErrNoSearch)
}

// Confirming again after a lap needs a fresh search first.
func TestSessionRefineResetsAfterConfirm(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTrackSession(t, 12000, 18)
	setRef(t, s, 100)

	_, err := s.Search(ctx, SearchOptions{})
	require.NoError(t, err)
	_, err = s.Confirm(1300)
	require.NoError(t, err)

	_, err = s.Refine(ctx, 2500)
	assert.ErrorIs(t, err, ErrNoSearch)
}

func TestSessionConfirmFloor(t *testing.T) {
	t.Parallel()

	// 18s at 60fps is 1080 frames past the reference at 100.
	t.Run("exactly at floor accepted", func(t *testing.T) {
		t.Parallel()
		s := newTrackSession(t, 12000, 18)
		setRef(t, s, 100)

		lap, err := s.Confirm(1180)
		require.NoError(t, err)
		assert.InDelta(t, 18.0, lap.Seconds, 1e-9)
	})

	t.Run("one frame short rejected", func(t *testing.T) {
		t.Parallel()
		s := newTrackSession(t, 12000, 18)
		setRef(t, s, 100)

		_, err := s.Confirm(1179)
		assert.ErrorIs(t, err, ErrMinLapTime)
		assert.Empty(t, s.Laps())
		assert.Equal(t, PhaseReferenceSet, s.Phase())
	})
}

func TestSessionConfirmValidatesIndex(t *testing.T) {
	t.Parallel()

	s := newTrackSession(t, 12000, 18)
	setRef(t, s, 100)

	_, err := s.Confirm(12000)
	assert.ErrorIs(t, err, video.ErrInvalidFrameIndex)
	_, err = s.Confirm(-1)
	assert.ErrorIs(t, err, video.ErrInvalidFrameIndex)
	assert.Empty(t, s.Laps())
}

func TestSessionLapNumbersSequential(t *testing.T) {
	t.Parallel()

	s := newTrackSession(t, 12000, 18)
	setRef(t, s, 100)

	boundaries := []int{1300, 2500, 3700}
	for i, b := range boundaries {
		lap, err := s.Confirm(b)
		require.NoError(t, err)
		assert.Equal(t, i+1, lap.Number)
	}

	laps := s.Laps()
	require.Len(t, laps, 3)
	assert.Equal(t, 100, laps[0].StartFrame)
	assert.Equal(t, 1300, laps[1].StartFrame)
	assert.Equal(t, 2500, laps[2].StartFrame)
	for _, lap := range laps {
		assert.Greater(t, lap.EndFrame, lap.StartFrame)
	}
}

func TestSessionSearchWindow(t *testing.T) {
	t.Parallel()

	s := newTrackSession(t, 12000, 18)
	setRef(t, s, 100)

	win, err := s.searchWindow(0)
	require.NoError(t, err)
	assert.Equal(t, vpr.Window{Start: 1180, End: 1780, Step: 6}, win)

	// Caller override narrows the range but never the floor.
	win, err = s.searchWindow(5)
	require.NoError(t, err)
	assert.Equal(t, vpr.Window{Start: 1180, End: 1480, Step: 6}, win)

	// A wide range clips to the last frame.
	win, err = s.searchWindow(500)
	require.NoError(t, err)
	assert.Equal(t, vpr.Window{Start: 1180, End: 11999, Step: 6}, win)
}

// Frame counts derived from seconds truncate, matching a 59.94fps
// NTSC-style source.
func TestSessionSearchWindowFractionalFPS(t *testing.T) {
	t.Parallel()

	src := video.NewSyntheticSource("videos/ntsc.mp4", 59.94, 12000)
	s := New("ntsc", src, &vpr.TrackEmbedder{LapFrames: 1200}, config.EmptyTuningConfig(), 18, timeutil.NewMockClock(testEpoch))
	t.Cleanup(func() { s.Close() })
	setRef(t, s, 100)

	win, err := s.searchWindow(0)
	require.NoError(t, err)
	// floor 18*59.94 = 1078.92 -> 1078, range 599.4 -> 599, step 5.994 -> 5
	assert.Equal(t, vpr.Window{Start: 1178, End: 1777, Step: 5}, win)
}

func TestSessionSearchEndOfVideo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("floor past last frame", func(t *testing.T) {
		t.Parallel()
		s := newTrackSession(t, 12000, 18)
		setRef(t, s, 10920) // 10920 + 1080 = 12000

		_, err := s.Search(ctx, SearchOptions{})
		assert.ErrorIs(t, err, ErrEndOfVideo)
	})

	t.Run("floor on last frame", func(t *testing.T) {
		t.Parallel()
		s := newTrackSession(t, 12000, 18)
		setRef(t, s, 10919) // floor lands on 11999, nothing to sample

		_, err := s.Search(ctx, SearchOptions{})
		assert.ErrorIs(t, err, ErrEndOfVideo)
	})

	t.Run("short remainder still searched", func(t *testing.T) {
		t.Parallel()
		s := newTrackSession(t, 12000, 18)
		setRef(t, s, 10900) // floor 11980, only 19 frames left

		cands, err := s.Search(ctx, SearchOptions{})
		require.NoError(t, err)
		assert.NotEmpty(t, cands)
	})
}

func TestSessionSearchCanceled(t *testing.T) {
	t.Parallel()

	s := newTrackSession(t, 12000, 18)
	setRef(t, s, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Search(ctx, SearchOptions{})
	assert.ErrorIs(t, err, context.Canceled)

	// The aborted sweep leaves no trace.
	assert.Equal(t, PhaseReferenceSet, s.Phase())
}

func TestSessionSetReferenceFailureLeavesState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := video.NewSyntheticSource("videos/test.mp4", 60, 12000)
	src.Break(200)
	s := New("broken", src, &vpr.TrackEmbedder{LapFrames: 1200}, config.EmptyTuningConfig(), 18, timeutil.NewMockClock(testEpoch))
	t.Cleanup(func() { s.Close() })

	_, err := s.SetReference(ctx, 200)
	require.ErrorIs(t, err, video.ErrDecodeFailure)
	assert.Equal(t, PhaseInitialized, s.Phase())
	_, ok := s.Reference()
	assert.False(t, ok)
}

func TestSessionSearchDecodeFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := video.NewSyntheticSource("videos/test.mp4", 60, 12000)
	src.Break(1180)
	s := New("broken", src, &vpr.TrackEmbedder{LapFrames: 1200}, config.EmptyTuningConfig(), 18, timeutil.NewMockClock(testEpoch))
	t.Cleanup(func() { s.Close() })
	setRef(t, s, 100)

	_, err := s.Search(ctx, SearchOptions{})
	assert.ErrorIs(t, err, video.ErrDecodeFailure)
	assert.Equal(t, PhaseReferenceSet, s.Phase())
}

func TestSessionSetReferenceOverwrites(t *testing.T) {
	t.Parallel()

	s := newTrackSession(t, 12000, 18)
	setRef(t, s, 100)
	_, err := s.Confirm(1300)
	require.NoError(t, err)

	// Re-selecting the reference moves the anchor but keeps history.
	setRef(t, s, 200)
	idx, ok := s.Reference()
	require.True(t, ok)
	assert.Equal(t, 200, idx)
	assert.Len(t, s.Laps(), 1)

	win, err := s.searchWindow(0)
	require.NoError(t, err)
	assert.Equal(t, 1280, win.Start)
}

func TestSessionFrame(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTrackSession(t, 12000, 18)

	frame, err := s.Frame(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, frame.Index)
	idx, ok := video.SyntheticIndex(frame.Data)
	require.True(t, ok)
	assert.Equal(t, 42, idx)

	_, err = s.Frame(ctx, 12000)
	assert.ErrorIs(t, err, video.ErrInvalidFrameIndex)
}

func TestSessionDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	src := video.NewSyntheticSource("videos/test.mp4", 60, 12000)
	clock := timeutil.NewMockClock(testEpoch)
	s := New("doc", src, &vpr.TrackEmbedder{LapFrames: 1200}, config.EmptyTuningConfig(), 18, clock)
	t.Cleanup(func() { s.Close() })

	_, err := s.SetReference(ctx, 100)
	require.NoError(t, err)
	_, err = s.Confirm(1300)
	require.NoError(t, err)

	// The document is stamped when assembled, not at session creation.
	clock.Advance(90 * time.Second)
	doc := s.Document()

	assert.Equal(t, "videos/test.mp4", doc.VideoPath)
	assert.Equal(t, 60.0, doc.VideoInfo.FPS)
	assert.Equal(t, 12000, doc.VideoInfo.TotalFrames)
	assert.Equal(t, "03:20.000", doc.VideoInfo.FormattedDuration)
	assert.Equal(t, "cpu", doc.VideoInfo.Device)
	assert.Equal(t, 18.0, doc.MinLapTime)
	assert.Equal(t, 1300, doc.ReferenceFrameIdx, "anchor advances to the confirmed boundary")
	assert.Equal(t, 1, doc.Statistics.TotalLaps)
	assert.Equal(t, "2026-08-25T10:31:30Z", doc.CreatedAt)
}

func TestSessionDocumentBeforeReference(t *testing.T) {
	t.Parallel()

	s := newTrackSession(t, 12000, 18)
	doc := s.Document()

	assert.Equal(t, -1, doc.ReferenceFrameIdx)
	assert.Equal(t, 0, doc.Statistics.TotalLaps)
}

func TestSessionClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTrackSession(t, 12000, 18)
	setRef(t, s, 100)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	_, err := s.SetReference(ctx, 100)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Search(ctx, SearchOptions{})
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Refine(ctx, 1300)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Confirm(1300)
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Frame(ctx, 0)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionDefaultMinLapTime(t *testing.T) {
	t.Parallel()

	s := newTrackSession(t, 12000, 0)
	assert.Equal(t, 18.0, s.MinLapTime())
}
