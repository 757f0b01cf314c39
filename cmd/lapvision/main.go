// Command lapvision serves the lap-timing API: video sessions, VPR
// boundary search, lap statistics, and the sqlite results archive.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/lapvision/lapvision/internal/api"
	"github.com/lapvision/lapvision/internal/config"
	"github.com/lapvision/lapvision/internal/db"
	"github.com/lapvision/lapvision/internal/httputil"
	"github.com/lapvision/lapvision/internal/session"
	"github.com/lapvision/lapvision/internal/timeutil"
	"github.com/lapvision/lapvision/internal/version"
	"github.com/lapvision/lapvision/internal/vpr"
)

var (
	devMode     = flag.Bool("dev", false, "Run with the synthetic embedder instead of the sidecar")
	listen      = flag.String("listen", ":8080", "Listen address")
	configPath  = flag.String("config", "", "Path to a tuning config JSON file")
	resultsDir  = flag.String("results-dir", "", "Directory for saved results documents (overrides config)")
	archivePath = flag.String("db", "", "Path to the sqlite results archive (overrides config)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// devLapFrames sets the synthetic embedder's repeat period in dev
// mode: one lap every 20 seconds of 60fps video.
const devLapFrames = 1200

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("lapvision version %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *resultsDir != "" {
		cfg.ResultsDir = resultsDir
	}
	if *archivePath != "" {
		cfg.ArchivePath = archivePath
	}

	var embedder vpr.Embedder
	if *devMode {
		embedder = &vpr.TrackEmbedder{LapFrames: devLapFrames}
		log.Printf("dev mode: synthetic embedder, laps repeat every %d frames", devLapFrames)
	} else {
		client := httputil.NewStandardClientTimeout(cfg.GetEmbedderTimeout())
		var err error
		embedder, err = vpr.NewHTTPEmbedder(cfg.GetEmbedderURL(), client)
		if err != nil {
			log.Fatalf("failed to connect to embedding sidecar: %v", err)
		}
	}

	archive, err := db.NewDB(cfg.GetArchivePath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer archive.Close()

	store := session.NewStore(cfg, timeutil.RealClock{})
	mux := api.NewServer(store, archive, cfg, embedder, timeutil.RealClock{}).ServeMux()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()
	log.Printf("lapvision %s listening on %s", version.Version, *listen)

	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	// Sessions hold open video handles; release them before exit.
	if err := store.CloseAll(); err != nil {
		log.Printf("failed to close sessions: %v", err)
	}

	log.Printf("Graceful shutdown complete")
}
