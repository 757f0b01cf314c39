// Package api exposes lap-timing sessions over HTTP. Every response
// uses the JSON envelope {status, message, data} on success and
// {status, message, error} on failure.
package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lapvision/lapvision/internal/config"
	"github.com/lapvision/lapvision/internal/db"
	"github.com/lapvision/lapvision/internal/httputil"
	"github.com/lapvision/lapvision/internal/monitoring"
	"github.com/lapvision/lapvision/internal/report"
	"github.com/lapvision/lapvision/internal/session"
	"github.com/lapvision/lapvision/internal/timeutil"
	"github.com/lapvision/lapvision/internal/version"
	"github.com/lapvision/lapvision/internal/video"
	"github.com/lapvision/lapvision/internal/vpr"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxConcurrentFrameRequests caps simultaneous frame extractions so a
// scrubbing client cannot pile decodes onto one video handle.
const maxConcurrentFrameRequests = 3

type Server struct {
	store    *session.Store
	archive  *db.DB
	cfg      *config.TuningConfig
	embedder vpr.Embedder
	clock    timeutil.Clock

	// openSource is swapped for an in-memory source in tests.
	openSource func(ctx context.Context, path string) (video.Source, error)

	frameSem chan struct{}
}

func NewServer(store *session.Store, archive *db.DB, cfg *config.TuningConfig, embedder vpr.Embedder, clock timeutil.Clock) *Server {
	if cfg == nil {
		cfg = config.EmptyTuningConfig()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{
		store:    store,
		archive:  archive,
		cfg:      cfg,
		embedder: embedder,
		clock:    clock,
		openSource: func(ctx context.Context, path string) (video.Source, error) {
			return video.OpenFFmpegSource(ctx, path)
		},
		frameSem: make(chan struct{}, maxConcurrentFrameRequests),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/init", s.handleInit)
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/api/videos", s.handleListVideos)
	mux.HandleFunc("/api/frame/", s.handleFrame)
	mux.HandleFunc("/api/frame-info/", s.handleFrameInfo)
	mux.HandleFunc("/api/set-ref-frame/", s.handleSetReference)
	mux.HandleFunc("/api/search-lap/", s.handleSearchLap)
	mux.HandleFunc("/api/refine-lap/", s.handleRefineLap)
	mux.HandleFunc("/api/confirm-lap/", s.handleConfirmLap)
	mux.HandleFunc("/api/statistics/", s.handleStatistics)
	mux.HandleFunc("/api/save-results/", s.handleSaveResults)
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/api/close/", s.handleClose)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/debug/lapchart", s.handleLapChart)
	s.archive.AttachAdminRoutes(mux)
	return mux
}

// errorStatus maps domain errors onto HTTP status codes. Unknown
// errors are treated as internal.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionClosed):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoReference),
		errors.Is(err, session.ErrNoSearch),
		errors.Is(err, session.ErrMinLapTime),
		errors.Is(err, session.ErrEndOfVideo),
		errors.Is(err, video.ErrInvalidFrameIndex),
		errors.Is(err, video.ErrDecodeFailure):
		return http.StatusBadRequest
	case errors.Is(err, vpr.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error, message string) {
	httputil.WriteError(w, errorStatus(err), message, err.Error())
}

// pathSegments splits the request path after prefix into non-empty
// segments, rejecting the request when the count differs from want.
func pathSegments(w http.ResponseWriter, r *http.Request, prefix string, want int) ([]string, bool) {
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/"), "/")
	if len(parts) != want {
		httputil.BadRequest(w, "invalid request path")
		return nil, false
	}
	for _, p := range parts {
		if p == "" {
			httputil.BadRequest(w, "invalid request path")
			return nil, false
		}
	}
	return parts, true
}

// pathSession resolves the session named by the single path segment
// after prefix.
func (s *Server) pathSession(w http.ResponseWriter, r *http.Request, prefix string) (*session.Session, bool) {
	parts, ok := pathSegments(w, r, prefix, 1)
	if !ok {
		return nil, false
	}
	sess, err := s.store.Get(parts[0])
	if err != nil {
		s.writeError(w, err, "Invalid session_id")
		return nil, false
	}
	return sess, true
}

// pathSessionFrame resolves a {session}/{frame} path pair.
func (s *Server) pathSessionFrame(w http.ResponseWriter, r *http.Request, prefix string) (*session.Session, int, bool) {
	parts, ok := pathSegments(w, r, prefix, 2)
	if !ok {
		return nil, 0, false
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil {
		httputil.BadRequest(w, "Invalid frame index")
		return nil, 0, false
	}
	sess, err := s.store.Get(parts[0])
	if err != nil {
		s.writeError(w, err, "Invalid session_id")
		return nil, 0, false
	}
	return sess, idx, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteSuccess(w, "success", map[string]interface{}{
		"status":          "running",
		"active_sessions": s.store.Len(),
		"version":         version.Version,
	})
}

func (s *Server) handleLapChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.URL.Query().Get("session_id")
	if id == "" {
		httputil.BadRequest(w, "Missing session_id")
		return
	}
	sess, err := s.store.Get(id)
	if err != nil {
		s.writeError(w, err, "Invalid session_id")
		return
	}

	var buf bytes.Buffer
	if err := report.RenderLapChart(&buf, sess.VideoInfo().Path, sess.Laps()); err != nil {
		httputil.InternalServerError(w, "Failed to render lap chart", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
