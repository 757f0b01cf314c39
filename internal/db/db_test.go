package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lapvision/lapvision/internal/stats"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testDocument(laps []stats.Lap) *stats.Document {
	return &stats.Document{
		VideoPath: "/videos/session.mp4",
		VideoInfo: stats.VideoInfo{
			FPS:               59.94,
			TotalFrames:       215784,
			Duration:          3600,
			FormattedDuration: "60:00.000",
			Device:            "cuda",
		},
		MinLapTime:        18,
		ReferenceFrameIdx: 2216,
		Statistics:        stats.Compute(laps),
		CreatedAt:         "2026-08-25T10:30:00Z",
	}
}

func TestRecordAnalysisRoundTrip(t *testing.T) {
	db := newTestDB(t)

	laps := []stats.Lap{
		{Number: 1, StartFrame: 100, EndFrame: 1209, Seconds: 18.5},
		{Number: 2, StartFrame: 1209, EndFrame: 2243, Seconds: 17.25},
	}
	doc := testDocument(laps)

	id, err := db.RecordAnalysis(doc, laps, "/results/session_results.json")
	if err != nil {
		t.Fatalf("RecordAnalysis failed: %v", err)
	}
	if id == "" {
		t.Fatal("RecordAnalysis returned empty id")
	}

	analyses, err := db.Analyses()
	if err != nil {
		t.Fatalf("Analyses failed: %v", err)
	}
	if len(analyses) != 1 {
		t.Fatalf("expected 1 analysis, got %d", len(analyses))
	}

	want := Analysis{
		ID:                id,
		VideoPath:         "/videos/session.mp4",
		FPS:               59.94,
		TotalFrames:       215784,
		Duration:          3600,
		Device:            "cuda",
		MinLapTime:        18,
		ReferenceFrameIdx: 2216,
		TotalLaps:         2,
		BestLap:           "00:17.250",
		WorstLap:          "00:18.500",
		AverageLap:        "00:17.875",
		TotalTime:         "00:35.750",
		ResultsPath:       "/results/session_results.json",
		CreatedAt:         "2026-08-25T10:30:00Z",
	}
	if diff := cmp.Diff(want, analyses[0]); diff != "" {
		t.Errorf("archived analysis mismatch (-want +got):\n%s", diff)
	}

	gotLaps, err := db.AnalysisLaps(id)
	if err != nil {
		t.Fatalf("AnalysisLaps failed: %v", err)
	}
	if diff := cmp.Diff(laps, gotLaps); diff != "" {
		t.Errorf("archived laps mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordAnalysisNoLaps(t *testing.T) {
	db := newTestDB(t)

	doc := testDocument(nil)
	id, err := db.RecordAnalysis(doc, nil, "/results/empty_results.json")
	if err != nil {
		t.Fatalf("RecordAnalysis failed: %v", err)
	}

	analyses, err := db.Analyses()
	if err != nil {
		t.Fatalf("Analyses failed: %v", err)
	}
	if len(analyses) != 1 {
		t.Fatalf("expected 1 analysis, got %d", len(analyses))
	}
	if analyses[0].TotalLaps != 0 {
		t.Errorf("expected 0 total laps, got %d", analyses[0].TotalLaps)
	}
	if analyses[0].BestLap != "" {
		t.Errorf("expected empty best lap, got %q", analyses[0].BestLap)
	}

	gotLaps, err := db.AnalysisLaps(id)
	if err != nil {
		t.Fatalf("AnalysisLaps failed: %v", err)
	}
	if len(gotLaps) != 0 {
		t.Errorf("expected no laps, got %d", len(gotLaps))
	}
}

// Analyses orders by id, which only works if ids from the same process
// sort in insertion order even when recorded within one millisecond.
func TestAnalysesNewestFirst(t *testing.T) {
	db := newTestDB(t)

	paths := []string{"/videos/a.mp4", "/videos/b.mp4", "/videos/c.mp4"}
	var ids []string
	for _, path := range paths {
		doc := testDocument(nil)
		doc.VideoPath = path
		id, err := db.RecordAnalysis(doc, nil, "/results/r.json")
		if err != nil {
			t.Fatalf("RecordAnalysis(%s) failed: %v", path, err)
		}
		ids = append(ids, id)
	}

	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("ids not monotonic: %q then %q", ids[i-1], ids[i])
		}
	}

	analyses, err := db.Analyses()
	if err != nil {
		t.Fatalf("Analyses failed: %v", err)
	}
	if len(analyses) != 3 {
		t.Fatalf("expected 3 analyses, got %d", len(analyses))
	}
	wantOrder := []string{"/videos/c.mp4", "/videos/b.mp4", "/videos/a.mp4"}
	for i, want := range wantOrder {
		if analyses[i].VideoPath != want {
			t.Errorf("analysis %d: expected %s, got %s", i, want, analyses[i].VideoPath)
		}
	}
}

func TestAnalysisLapsUnknownID(t *testing.T) {
	db := newTestDB(t)

	laps, err := db.AnalysisLaps("01JZZZZZZZZZZZZZZZZZZZZZZZ")
	if err != nil {
		t.Fatalf("AnalysisLaps failed: %v", err)
	}
	if len(laps) != 0 {
		t.Errorf("expected no laps for unknown id, got %d", len(laps))
	}
}

func TestOpenDBCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "archive", "nested", "test.db")

	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database in nested dir: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}
