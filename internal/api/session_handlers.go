package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/lapvision/lapvision/internal/db"
	"github.com/lapvision/lapvision/internal/httputil"
	"github.com/lapvision/lapvision/internal/laptime"
	"github.com/lapvision/lapvision/internal/session"
	"github.com/lapvision/lapvision/internal/stats"
	"github.com/lapvision/lapvision/internal/vpr"
)

// handleInit creates a session for a video and returns its id together
// with the stream metadata.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req struct {
		VideoPath  string  `json:"video_path"`
		MinLapTime float64 `json:"min_lap_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if req.VideoPath == "" {
		httputil.BadRequest(w, "Missing video_path")
		return
	}

	src, err := s.openSource(r.Context(), req.VideoPath)
	if err != nil {
		httputil.InternalServerError(w, "Failed to open video", err.Error())
		return
	}
	sess := s.store.Create(src, s.embedder, req.MinLapTime)

	httputil.WriteSuccess(w, "LapVision service initialized", map[string]interface{}{
		"session_id": sess.ID(),
		"video_info": stats.NewVideoInfo(sess.VideoInfo(), sess.Device()),
	})
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	select {
	case s.frameSem <- struct{}{}:
		defer func() { <-s.frameSem }()
	default:
		httputil.WriteError(w, http.StatusTooManyRequests, "Too many concurrent requests", "")
		return
	}

	sess, idx, ok := s.pathSessionFrame(w, r, "/api/frame/")
	if !ok {
		return
	}
	frame, err := sess.Frame(r.Context(), idx)
	if err != nil {
		s.writeError(w, err, "Cannot read frame")
		return
	}

	info := sess.VideoInfo()
	timeSec := info.FrameTime(idx)
	httputil.WriteSuccess(w, "frame retrieved", map[string]interface{}{
		"frame_idx":      idx,
		"time_sec":       timeSec,
		"formatted_time": laptime.Format(timeSec),
		"image_base64":   base64.StdEncoding.EncodeToString(frame.Data),
	})
}

func (s *Server) handleFrameInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sess, ok := s.pathSession(w, r, "/api/frame-info/")
	if !ok {
		return
	}

	info := sess.VideoInfo()
	httputil.WriteSuccess(w, "success", map[string]interface{}{
		"total_frames": info.TotalFrames,
		"fps":          info.FPS,
		"duration":     info.Duration,
	})
}

func (s *Server) handleSetReference(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	sess, idx, ok := s.pathSessionFrame(w, r, "/api/set-ref-frame/")
	if !ok {
		return
	}

	frame, err := sess.SetReference(r.Context(), idx)
	if err != nil {
		s.writeError(w, err, "Failed to set reference frame")
		return
	}

	info := sess.VideoInfo()
	timeSec := info.FrameTime(idx)
	httputil.WriteSuccess(w, "reference frame set", map[string]interface{}{
		"ref_frame_idx":  idx,
		"time_sec":       timeSec,
		"formatted_time": laptime.Format(timeSec),
		"image_base64":   base64.StdEncoding.EncodeToString(frame.Data),
	})
}

// frameCandidate is one scored boundary proposal with its preview
// image, the shape clients render in the candidate picker.
type frameCandidate struct {
	FrameIdx      int     `json:"frame_idx"`
	TimeSec       float64 `json:"time_sec"`
	FormattedTime string  `json:"formatted_time"`
	Similarity    float64 `json:"similarity"`
	Rank          int     `json:"rank"`
	ImageBase64   string  `json:"image_base64"`
}

// candidatePayloads attaches preview images to scored candidates. The
// frames were just scored, so the cache serves them without decoding.
func (s *Server) candidatePayloads(ctx context.Context, sess *session.Session, cands []vpr.Candidate) ([]frameCandidate, error) {
	info := sess.VideoInfo()
	out := make([]frameCandidate, 0, len(cands))
	for _, c := range cands {
		frame, err := sess.Frame(ctx, c.FrameIndex)
		if err != nil {
			return nil, err
		}
		timeSec := info.FrameTime(c.FrameIndex)
		out = append(out, frameCandidate{
			FrameIdx:      c.FrameIndex,
			TimeSec:       timeSec,
			FormattedTime: laptime.Format(timeSec),
			Similarity:    c.Similarity,
			Rank:          c.Rank,
			ImageBase64:   base64.StdEncoding.EncodeToString(frame.Data),
		})
	}
	return out, nil
}

func (s *Server) handleSearchLap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	sess, ok := s.pathSession(w, r, "/api/search-lap/")
	if !ok {
		return
	}

	// An absent body or search_range falls back to the configured range.
	var req struct {
		SearchRange float64 `json:"search_range"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.BadRequest(w, "Invalid request body")
		return
	}

	cands, err := sess.Search(r.Context(), session.SearchOptions{RangeSeconds: req.SearchRange})
	if err != nil {
		s.writeError(w, err, "Search failed")
		return
	}
	payloads, err := s.candidatePayloads(r.Context(), sess, cands)
	if err != nil {
		s.writeError(w, err, "Cannot read candidate frame")
		return
	}

	httputil.WriteSuccess(w, "search complete", map[string]interface{}{
		"candidates": payloads,
	})
}

func (s *Server) handleRefineLap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	sess, ok := s.pathSession(w, r, "/api/refine-lap/")
	if !ok {
		return
	}

	var req struct {
		CenterFrame int `json:"center_frame"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}

	cands, err := sess.Refine(r.Context(), req.CenterFrame)
	if err != nil {
		s.writeError(w, err, "Refine failed")
		return
	}
	payloads, err := s.candidatePayloads(r.Context(), sess, cands)
	if err != nil {
		s.writeError(w, err, "Cannot read candidate frame")
		return
	}

	httputil.WriteSuccess(w, "refine complete", map[string]interface{}{
		"candidates": payloads,
	})
}

func (s *Server) handleConfirmLap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	sess, idx, ok := s.pathSessionFrame(w, r, "/api/confirm-lap/")
	if !ok {
		return
	}

	lap, err := sess.Confirm(idx)
	if err != nil {
		s.writeError(w, err, "Failed to confirm lap")
		return
	}

	httputil.WriteSuccess(w, "lap confirmed", map[string]interface{}{
		"lap_time":           lap.Seconds,
		"formatted_lap_time": laptime.Format(lap.Seconds),
		"statistics":         sess.Statistics(),
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sess, ok := s.pathSession(w, r, "/api/statistics/")
	if !ok {
		return
	}

	httputil.WriteSuccess(w, "success", map[string]interface{}{
		"statistics": sess.Statistics(),
	})
}

func (s *Server) handleSaveResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	sess, ok := s.pathSession(w, r, "/api/save-results/")
	if !ok {
		return
	}

	laps := sess.Laps()
	doc := sess.Document()

	timestamp := s.clock.Now().Format("20060102_150405")
	outputPath := filepath.Join(s.cfg.GetResultsDir(), fmt.Sprintf("lap_times_%s.json", timestamp))
	if err := doc.Write(outputPath); err != nil {
		httputil.InternalServerError(w, "Failed to save results", err.Error())
		return
	}

	analysisID, err := s.archive.RecordAnalysis(doc, laps, outputPath)
	if err != nil {
		httputil.InternalServerError(w, "Failed to archive results", err.Error())
		return
	}

	httputil.WriteSuccess(w, "results saved", map[string]interface{}{
		"output_path": outputPath,
		"analysis_id": analysisID,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	analyses, err := s.archive.Analyses()
	if err != nil {
		httputil.InternalServerError(w, "Failed to list archived results", err.Error())
		return
	}
	if analyses == nil {
		analyses = []db.Analysis{}
	}

	httputil.WriteSuccess(w, "success", map[string]interface{}{
		"analyses": analyses,
	})
}

// handleClose tears down a session. Closing an unknown or already
// closed session succeeds, so clients can retry without bookkeeping.
func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	parts, ok := pathSegments(w, r, "/api/close/", 1)
	if !ok {
		return
	}

	if err := s.store.Close(parts[0]); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		s.writeError(w, err, "Failed to close session")
		return
	}

	httputil.WriteSuccess(w, "session closed", map[string]interface{}{})
}
