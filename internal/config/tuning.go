package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// TuningConfig holds the lap-detection tuning parameters and server paths.
// All fields are pointers so a partial JSON file overrides only what it
// names; the Get* accessors supply defaults for everything else.
type TuningConfig struct {
	// Search params
	SampleIntervalSeconds *float64 `json:"sample_interval_seconds,omitempty"`
	SearchRangeSeconds    *float64 `json:"search_range_seconds,omitempty"`
	RefineRadius          *int     `json:"refine_radius,omitempty"`
	TopK                  *int     `json:"top_k,omitempty"`

	// Frame cache params
	CacheCapacity *int `json:"cache_capacity,omitempty"`

	// Session params
	DefaultMinLapTime *float64 `json:"default_min_lap_time,omitempty"`

	// Embedding sidecar params
	EmbedderURL     *string `json:"embedder_url,omitempty"`
	EmbedderTimeout *string `json:"embedder_timeout,omitempty"` // duration string like "30s"

	// Storage params
	VideoDir    *string `json:"video_dir,omitempty"`
	UploadDir   *string `json:"upload_dir,omitempty"`
	ResultsDir  *string `json:"results_dir,omitempty"`
	MaxUploadMB *int64  `json:"max_upload_mb,omitempty"`
	ArchivePath *string `json:"archive_path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil, so
// every accessor falls back to its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.SampleIntervalSeconds != nil && *c.SampleIntervalSeconds <= 0 {
		return fmt.Errorf("sample_interval_seconds must be positive, got %f", *c.SampleIntervalSeconds)
	}

	if c.SearchRangeSeconds != nil && *c.SearchRangeSeconds <= 0 {
		return fmt.Errorf("search_range_seconds must be positive, got %f", *c.SearchRangeSeconds)
	}

	if c.RefineRadius != nil && *c.RefineRadius < 0 {
		return fmt.Errorf("refine_radius must be non-negative, got %d", *c.RefineRadius)
	}

	if c.TopK != nil && *c.TopK < 1 {
		return fmt.Errorf("top_k must be at least 1, got %d", *c.TopK)
	}

	if c.CacheCapacity != nil && *c.CacheCapacity < 1 {
		return fmt.Errorf("cache_capacity must be at least 1, got %d", *c.CacheCapacity)
	}

	if c.DefaultMinLapTime != nil && *c.DefaultMinLapTime < 0 {
		return fmt.Errorf("default_min_lap_time must be non-negative, got %f", *c.DefaultMinLapTime)
	}

	if c.EmbedderTimeout != nil && *c.EmbedderTimeout != "" {
		if _, err := time.ParseDuration(*c.EmbedderTimeout); err != nil {
			return fmt.Errorf("invalid embedder_timeout '%s': %w", *c.EmbedderTimeout, err)
		}
	}

	if c.MaxUploadMB != nil && *c.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", *c.MaxUploadMB)
	}

	return nil
}

// GetSampleIntervalSeconds returns the coarse sampling interval or the default.
func (c *TuningConfig) GetSampleIntervalSeconds() float64 {
	if c.SampleIntervalSeconds == nil {
		return 0.1 // default: ten samples per second of video
	}
	return *c.SampleIntervalSeconds
}

// GetSearchRangeSeconds returns the search window span or the default.
func (c *TuningConfig) GetSearchRangeSeconds() float64 {
	if c.SearchRangeSeconds == nil {
		return 10.0
	}
	return *c.SearchRangeSeconds
}

// GetRefineRadius returns the dense refinement radius in frames or the default.
func (c *TuningConfig) GetRefineRadius() int {
	if c.RefineRadius == nil {
		return 5
	}
	return *c.RefineRadius
}

// GetTopK returns the candidate list size or the default.
func (c *TuningConfig) GetTopK() int {
	if c.TopK == nil {
		return 5
	}
	return *c.TopK
}

// GetCacheCapacity returns the frame cache capacity or the default.
func (c *TuningConfig) GetCacheCapacity() int {
	if c.CacheCapacity == nil {
		return 100
	}
	return *c.CacheCapacity
}

// GetDefaultMinLapTime returns the fallback minimum lap time in seconds,
// used when a session is created without an explicit value.
func (c *TuningConfig) GetDefaultMinLapTime() float64 {
	if c.DefaultMinLapTime == nil {
		return 18.0
	}
	return *c.DefaultMinLapTime
}

// GetEmbedderURL returns the embedding sidecar base URL or the default.
func (c *TuningConfig) GetEmbedderURL() string {
	if c.EmbedderURL == nil || *c.EmbedderURL == "" {
		return "http://localhost:8500"
	}
	return *c.EmbedderURL
}

// GetEmbedderTimeout parses and returns the EmbedderTimeout as a time.Duration.
func (c *TuningConfig) GetEmbedderTimeout() time.Duration {
	if c.EmbedderTimeout == nil || *c.EmbedderTimeout == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.EmbedderTimeout)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetVideoDir returns the preset video directory or the default.
func (c *TuningConfig) GetVideoDir() string {
	if c.VideoDir == nil || *c.VideoDir == "" {
		return "videos"
	}
	return *c.VideoDir
}

// GetUploadDir returns the upload directory or the default.
func (c *TuningConfig) GetUploadDir() string {
	if c.UploadDir == nil || *c.UploadDir == "" {
		return "uploads"
	}
	return *c.UploadDir
}

// GetResultsDir returns the saved results directory or the default.
func (c *TuningConfig) GetResultsDir() string {
	if c.ResultsDir == nil || *c.ResultsDir == "" {
		return "results"
	}
	return *c.ResultsDir
}

// GetMaxUploadBytes returns the upload size cap in bytes.
func (c *TuningConfig) GetMaxUploadBytes() int64 {
	if c.MaxUploadMB == nil {
		return 500 * 1024 * 1024 // 500MB
	}
	return *c.MaxUploadMB * 1024 * 1024
}

// GetArchivePath returns the sqlite archive path or the default.
func (c *TuningConfig) GetArchivePath() string {
	if c.ArchivePath == nil || *c.ArchivePath == "" {
		return "lapvision.db"
	}
	return *c.ArchivePath
}
