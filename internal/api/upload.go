package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/lapvision/lapvision/internal/httputil"
	"github.com/lapvision/lapvision/internal/security"
)

// allowedVideoExtensions gates uploads and the video listing.
var allowedVideoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mov": true,
}

func allowedVideoFile(name string) bool {
	return allowedVideoExtensions[strings.ToLower(filepath.Ext(name))]
}

// uniqueFilename builds the stored name for an upload: sanitized stem,
// timestamp, and a short random suffix so concurrent uploads of the
// same file never collide.
func (s *Server) uniqueFilename(original string) string {
	ext := strings.ToLower(filepath.Ext(original))
	stem := security.SanitizeFilename(strings.TrimSuffix(filepath.Base(original), filepath.Ext(original)))
	timestamp := s.clock.Now().Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s%s", stem, timestamp, uuid.NewString()[:8], ext)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	maxBytes := s.cfg.GetMaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("video")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.BadRequest(w, fmt.Sprintf("File size exceeds maximum limit of %dMB", maxBytes/(1024*1024)))
			return
		}
		httputil.BadRequest(w, "Missing video file")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		httputil.BadRequest(w, "Empty filename")
		return
	}
	if !allowedVideoFile(header.Filename) {
		httputil.BadRequest(w, "File type not allowed. Supported formats: .mp4, .avi, .mov")
		return
	}

	uploadDir := s.cfg.GetUploadDir()
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		httputil.InternalServerError(w, "Failed to create upload directory", err.Error())
		return
	}

	storedName := s.uniqueFilename(header.Filename)
	storedPath := filepath.Join(uploadDir, storedName)
	if err := security.ValidatePathWithinDirectory(storedPath, uploadDir); err != nil {
		httputil.BadRequest(w, "Invalid filename")
		return
	}
	dst, err := os.Create(storedPath)
	if err != nil {
		httputil.InternalServerError(w, "Failed to store video", err.Error())
		return
	}

	size, err := io.Copy(dst, file)
	dst.Close()
	if err != nil {
		os.Remove(storedPath)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httputil.BadRequest(w, fmt.Sprintf("File size exceeds maximum limit of %dMB", maxBytes/(1024*1024)))
			return
		}
		httputil.InternalServerError(w, "Failed to store video", err.Error())
		return
	}

	httputil.WriteSuccess(w, "Video uploaded successfully", map[string]interface{}{
		"file_path":     storedPath,
		"file_name":     storedName,
		"original_name": header.Filename,
		"file_size":     size,
	})
}

type videoEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// listVideoDir collects playable videos in dir, tagging each with the
// given type. A missing directory yields an empty list.
func listVideoDir(dir, entryType string) []videoEntry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var videos []videoEntry
	for _, entry := range entries {
		if entry.IsDir() || !allowedVideoFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		videos = append(videos, videoEntry{
			Name: entry.Name(),
			Path: filepath.Join(dir, entry.Name()),
			Size: info.Size(),
			Type: entryType,
		})
	}
	sort.Slice(videos, func(i, j int) bool { return videos[i].Name < videos[j].Name })
	return videos
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	videos := append(
		listVideoDir(s.cfg.GetVideoDir(), "preset"),
		listVideoDir(s.cfg.GetUploadDir(), "uploaded")...,
	)
	if videos == nil {
		videos = []videoEntry{}
	}

	httputil.WriteSuccess(w, "Video list retrieved successfully", map[string]interface{}{
		"videos": videos,
	})
}
