package vpr

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lapvision/lapvision/internal/video"
)

const (
	// DefaultTopK is the number of ranked candidates a search returns.
	DefaultTopK = 5

	// DefaultRefineRadius is the half-width in frames of a refinement sweep.
	DefaultRefineRadius = 5
)

// Candidate is one scored frame from a search. Candidates are ephemeral:
// they are produced per search call and never persisted.
type Candidate struct {
	FrameIndex int     `json:"frame_index"`
	Similarity float64 `json:"similarity"`
	Rank       int     `json:"rank"`
}

// Window is a frame-index sampling range: Start inclusive, End exclusive,
// sampled every Step frames.
type Window struct {
	Start int
	End   int
	Step  int
}

// Engine ranks frames against a reference embedding. It reads frames through
// a FrameStore so revisited frames cost neither a decode nor an embed, and
// it embeds through an Embedder. The same scoring path serves both coarse
// and refinement sweeps, so the two agree on any shared frame.
type Engine struct {
	store    *video.FrameStore
	embedder Embedder
	topK     int
}

// NewEngine builds an Engine over store and embedder. topK <= 0 selects
// DefaultTopK.
func NewEngine(store *video.FrameStore, embedder Embedder, topK int) *Engine {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Engine{store: store, embedder: embedder, topK: topK}
}

// EmbedFrame returns the embedding for the frame at index, computing and
// caching it on first use. Embeddings ride along with the cached frame, so
// eviction drops both together.
func (e *Engine) EmbedFrame(ctx context.Context, index int) (Vector, error) {
	if vec, ok := e.store.Embedding(index); ok {
		return vec, nil
	}

	frame, err := e.store.Frame(ctx, index)
	if err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, frame.Data)
	if err != nil {
		return nil, fmt.Errorf("embed frame %d: %w", index, err)
	}

	e.store.SetEmbedding(index, vec)
	return vec, nil
}

// Search samples win at win.Step spacing, scores each sample against ref,
// and returns the top candidates by descending similarity. Equal scores
// prefer the later frame: after the vehicle fully crosses the line, the
// later of two identical views is likelier the true crossing. A window with
// fewer samples than the candidate list returns all of them, ranked. A
// canceled ctx aborts between frames with no partial results.
func (e *Engine) Search(ctx context.Context, ref Vector, win Window) ([]Candidate, error) {
	if len(ref) == 0 {
		return nil, errors.New("search requires a reference embedding")
	}

	total := e.store.Info().TotalFrames
	if win.Start < 0 {
		win.Start = 0
	}
	if win.End > total {
		win.End = total
	}
	if win.Step < 1 {
		win.Step = 1
	}

	scored, err := e.sweep(ctx, ref, win)
	if err != nil {
		return nil, err
	}
	return rank(scored, e.topK), nil
}

// Refine re-scores every frame in [center-radius, center+radius] against
// ref, clipped to the video bounds and to floor, the first frame index the
// minimum-lap-time invariant permits. The coarse pass samples sparsely, so
// the true boundary may sit between samples; the dense sweep recovers it at
// a bounded cost of at most 2*radius+1 embeddings. radius < 0 selects
// DefaultRefineRadius.
func (e *Engine) Refine(ctx context.Context, ref Vector, center, radius, floor int) ([]Candidate, error) {
	if len(ref) == 0 {
		return nil, errors.New("refine requires a reference embedding")
	}
	if radius < 0 {
		radius = DefaultRefineRadius
	}

	lo := center - radius
	if lo < floor {
		lo = floor
	}
	if lo < 0 {
		lo = 0
	}
	hi := center + radius
	if total := e.store.Info().TotalFrames; hi > total-1 {
		hi = total - 1
	}
	if lo > hi {
		return []Candidate{}, nil
	}

	scored, err := e.sweep(ctx, ref, Window{Start: lo, End: hi + 1, Step: 1})
	if err != nil {
		return nil, err
	}
	return rank(scored, e.topK), nil
}

// sweep embeds and scores every sampled frame in win. It checks ctx between
// frames and discards partial results on cancellation.
func (e *Engine) sweep(ctx context.Context, ref Vector, win Window) ([]Candidate, error) {
	var scored []Candidate
	for idx := win.Start; idx < win.End; idx += win.Step {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vec, err := e.EmbedFrame(ctx, idx)
		if err != nil {
			return nil, err
		}

		scored = append(scored, Candidate{
			FrameIndex: idx,
			Similarity: Dot(ref, vec),
		})
	}
	return scored, nil
}

// rank orders candidates by descending similarity, breaking ties toward the
// later frame index, and keeps the top k with 1-based ranks assigned.
func rank(scored []Candidate, k int) []Candidate {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].FrameIndex > scored[j].FrameIndex
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored
}
