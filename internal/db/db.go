// Package db is the results archive: every saved analysis document is
// also recorded in sqlite, one row per analysis plus one row per lap,
// so past sessions stay queryable after their JSON files scatter.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/lapvision/lapvision/internal/stats"
)

type DB struct {
	*sql.DB

	path string

	// ulid entropy is monotonic within a millisecond so archive ids
	// sort in insertion order.
	entropyMu sync.Mutex
	entropy   io.Reader
}

// OpenDB opens the archive without touching the schema. Use NewDB
// unless you are driving migrations by hand.
func OpenDB(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &DB{
		DB:      sqlDB,
		path:    path,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

// NewDB opens the archive and applies any pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) newID() string {
	db.entropyMu.Lock()
	defer db.entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), db.entropy).String()
}

// Analysis is one archived results document. The aggregate lap fields
// mirror the document's formatted strings; per-lap numbers live in the
// laps table.
type Analysis struct {
	ID                string  `json:"id"`
	VideoPath         string  `json:"video_path"`
	FPS               float64 `json:"fps"`
	TotalFrames       int     `json:"total_frames"`
	Duration          float64 `json:"duration"`
	Device            string  `json:"device"`
	MinLapTime        float64 `json:"min_lap_time"`
	ReferenceFrameIdx int     `json:"reference_frame_idx"`
	TotalLaps         int     `json:"total_laps"`
	BestLap           string  `json:"best_lap,omitempty"`
	WorstLap          string  `json:"worst_lap,omitempty"`
	AverageLap        string  `json:"average_lap,omitempty"`
	TotalTime         string  `json:"total_time,omitempty"`
	ResultsPath       string  `json:"results_path"`
	CreatedAt         string  `json:"created_at"`
}

// RecordAnalysis archives a saved document and its laps under a fresh
// ulid, in one transaction. resultsPath is where the JSON document was
// written. The returned id is the archive key.
func (db *DB) RecordAnalysis(doc *stats.Document, laps []stats.Lap, resultsPath string) (string, error) {
	id := db.newID()

	tx, err := db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO analyses (
			id, video_path, fps, total_frames, duration, device,
			min_lap_time, reference_frame_idx, total_laps,
			best_lap, worst_lap, average_lap, total_time,
			results_path, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, doc.VideoPath, doc.VideoInfo.FPS, doc.VideoInfo.TotalFrames,
		doc.VideoInfo.Duration, doc.VideoInfo.Device,
		doc.MinLapTime, doc.ReferenceFrameIdx, doc.Statistics.TotalLaps,
		doc.Statistics.BestLap, doc.Statistics.WorstLap,
		doc.Statistics.AverageLap, doc.Statistics.TotalTime,
		resultsPath, doc.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert analysis: %w", err)
	}

	for _, lap := range laps {
		_, err = tx.Exec(
			`INSERT INTO laps (analysis_id, lap_number, start_frame, end_frame, lap_time)
			 VALUES (?, ?, ?, ?, ?)`,
			id, lap.Number, lap.StartFrame, lap.EndFrame, lap.Seconds,
		)
		if err != nil {
			return "", fmt.Errorf("insert lap %d: %w", lap.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit archive transaction: %w", err)
	}
	return id, nil
}

// Analyses returns archived analyses, newest first. Ulid ids sort
// chronologically, so ordering by id is ordering by time.
func (db *DB) Analyses() ([]Analysis, error) {
	rows, err := db.Query(
		`SELECT id, video_path, fps, total_frames, duration, device,
			min_lap_time, reference_frame_idx, total_laps,
			best_lap, worst_lap, average_lap, total_time,
			results_path, created_at
		 FROM analyses ORDER BY id DESC LIMIT 500`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var analyses []Analysis
	for rows.Next() {
		var a Analysis
		if err := rows.Scan(
			&a.ID, &a.VideoPath, &a.FPS, &a.TotalFrames, &a.Duration, &a.Device,
			&a.MinLapTime, &a.ReferenceFrameIdx, &a.TotalLaps,
			&a.BestLap, &a.WorstLap, &a.AverageLap, &a.TotalTime,
			&a.ResultsPath, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return analyses, nil
}

// AnalysisLaps returns the archived laps for one analysis in lap order.
func (db *DB) AnalysisLaps(id string) ([]stats.Lap, error) {
	rows, err := db.Query(
		`SELECT lap_number, start_frame, end_frame, lap_time
		 FROM laps WHERE analysis_id = ? ORDER BY lap_number`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var laps []stats.Lap
	for rows.Next() {
		var lap stats.Lap
		if err := rows.Scan(&lap.Number, &lap.StartFrame, &lap.EndFrame, &lap.Seconds); err != nil {
			return nil, err
		}
		laps = append(laps, lap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return laps, nil
}

// AttachAdminRoutes mounts the tailsql live-query UI and a backup
// download under /debug/. tsweb restricts these to debug-capable
// clients, so they never reach the public API surface.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "LapVision archive",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the archive", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := fmt.Sprintf("lapvision-backup-%d.db", time.Now().Unix())
		backupPath := filepath.Join(os.TempDir(), name)
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to open backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
		w.Header().Set("Content-Type", "application/octet-stream")

		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			log.Printf("failed to stream backup: %v", err)
		}
	}))
}
