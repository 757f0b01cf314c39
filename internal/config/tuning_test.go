package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEmptyTuningConfigDefaults(t *testing.T) {
	cfg := EmptyTuningConfig()

	if got := cfg.GetSampleIntervalSeconds(); got != 0.1 {
		t.Errorf("GetSampleIntervalSeconds() = %f, want 0.1", got)
	}
	if got := cfg.GetSearchRangeSeconds(); got != 10.0 {
		t.Errorf("GetSearchRangeSeconds() = %f, want 10", got)
	}
	if got := cfg.GetRefineRadius(); got != 5 {
		t.Errorf("GetRefineRadius() = %d, want 5", got)
	}
	if got := cfg.GetTopK(); got != 5 {
		t.Errorf("GetTopK() = %d, want 5", got)
	}
	if got := cfg.GetCacheCapacity(); got != 100 {
		t.Errorf("GetCacheCapacity() = %d, want 100", got)
	}
	if got := cfg.GetDefaultMinLapTime(); got != 18.0 {
		t.Errorf("GetDefaultMinLapTime() = %f, want 18", got)
	}
	if got := cfg.GetEmbedderURL(); got != "http://localhost:8500" {
		t.Errorf("GetEmbedderURL() = %q", got)
	}
	if got := cfg.GetEmbedderTimeout(); got != 30*time.Second {
		t.Errorf("GetEmbedderTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetVideoDir(); got != "videos" {
		t.Errorf("GetVideoDir() = %q, want 'videos'", got)
	}
	if got := cfg.GetUploadDir(); got != "uploads" {
		t.Errorf("GetUploadDir() = %q, want 'uploads'", got)
	}
	if got := cfg.GetResultsDir(); got != "results" {
		t.Errorf("GetResultsDir() = %q, want 'results'", got)
	}
	if got := cfg.GetMaxUploadBytes(); got != 500*1024*1024 {
		t.Errorf("GetMaxUploadBytes() = %d, want 500MB", got)
	}
	if got := cfg.GetArchivePath(); got != "lapvision.db" {
		t.Errorf("GetArchivePath() = %q, want 'lapvision.db'", got)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "sample_interval_seconds": 0.2,
  "search_range_seconds": 15,
  "refine_radius": 8,
  "cache_capacity": 50,
  "embedder_url": "http://gpu-box:9000",
  "embedder_timeout": "45s",
  "max_upload_mb": 200
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetSampleIntervalSeconds() != 0.2 {
		t.Errorf("GetSampleIntervalSeconds() = %f, want 0.2", cfg.GetSampleIntervalSeconds())
	}
	if cfg.GetSearchRangeSeconds() != 15 {
		t.Errorf("GetSearchRangeSeconds() = %f, want 15", cfg.GetSearchRangeSeconds())
	}
	if cfg.GetRefineRadius() != 8 {
		t.Errorf("GetRefineRadius() = %d, want 8", cfg.GetRefineRadius())
	}
	if cfg.GetCacheCapacity() != 50 {
		t.Errorf("GetCacheCapacity() = %d, want 50", cfg.GetCacheCapacity())
	}
	if cfg.GetEmbedderURL() != "http://gpu-box:9000" {
		t.Errorf("GetEmbedderURL() = %q", cfg.GetEmbedderURL())
	}
	if cfg.GetEmbedderTimeout() != 45*time.Second {
		t.Errorf("GetEmbedderTimeout() = %v, want 45s", cfg.GetEmbedderTimeout())
	}
	if cfg.GetMaxUploadBytes() != 200*1024*1024 {
		t.Errorf("GetMaxUploadBytes() = %d, want 200MB", cfg.GetMaxUploadBytes())
	}

	// Fields not present in the file keep their defaults.
	if cfg.GetTopK() != 5 {
		t.Errorf("GetTopK() = %d, want default 5", cfg.GetTopK())
	}
	if cfg.GetDefaultMinLapTime() != 18.0 {
		t.Errorf("GetDefaultMinLapTime() = %f, want default 18", cfg.GetDefaultMinLapTime())
	}
}

func TestLoadTuningConfigMissing(t *testing.T) {
	_, err := LoadTuningConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadTuningConfigWrongExtension(t *testing.T) {
	_, err := LoadTuningConfig("/etc/passwd")
	if err == nil {
		t.Error("Expected error for non-json extension, got nil")
	}
}

func TestLoadTuningConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid_config.json")

	invalidJSON := `{
  "sample_interval_seconds": "fast"
`
	if err := os.WriteFile(configPath, []byte(invalidJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	_, err := LoadTuningConfig(configPath)
	if err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *TuningConfig
		wantErr bool
	}{
		{
			name:    "empty config is valid",
			cfg:     EmptyTuningConfig(),
			wantErr: false,
		},
		{
			name: "valid full config",
			cfg: &TuningConfig{
				SampleIntervalSeconds: ptrFloat64(0.1),
				SearchRangeSeconds:    ptrFloat64(10),
				RefineRadius:          ptrInt(5),
				TopK:                  ptrInt(5),
				CacheCapacity:         ptrInt(100),
				DefaultMinLapTime:     ptrFloat64(18),
				EmbedderTimeout:       ptrString("30s"),
				MaxUploadMB:           ptrInt64(500),
				ResultsDir:            ptrString("out"),
			},
			wantErr: false,
		},
		{
			name: "zero sample interval",
			cfg: &TuningConfig{
				SampleIntervalSeconds: ptrFloat64(0),
			},
			wantErr: true,
		},
		{
			name: "negative search range",
			cfg: &TuningConfig{
				SearchRangeSeconds: ptrFloat64(-1),
			},
			wantErr: true,
		},
		{
			name: "negative refine radius",
			cfg: &TuningConfig{
				RefineRadius: ptrInt(-1),
			},
			wantErr: true,
		},
		{
			name: "zero top_k",
			cfg: &TuningConfig{
				TopK: ptrInt(0),
			},
			wantErr: true,
		},
		{
			name: "zero cache capacity",
			cfg: &TuningConfig{
				CacheCapacity: ptrInt(0),
			},
			wantErr: true,
		},
		{
			name: "negative min lap time",
			cfg: &TuningConfig{
				DefaultMinLapTime: ptrFloat64(-5),
			},
			wantErr: true,
		},
		{
			name: "bad embedder timeout",
			cfg: &TuningConfig{
				EmbedderTimeout: ptrString("soon"),
			},
			wantErr: true,
		},
		{
			name: "zero upload cap",
			cfg: &TuningConfig{
				MaxUploadMB: ptrInt64(0),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
