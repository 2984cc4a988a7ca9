// Command gaze-plot renders a session's gaze angles and pupil diameter from
// the results database into a PNG.
package main

import (
	"flag"
	"log"

	"github.com/banshee-data/eye3d/internal/db"
	"github.com/banshee-data/eye3d/internal/monitor"
)

func main() {
	dbPath := flag.String("db", "eye3d.db", "results database")
	session := flag.String("session", "", "session id (default: newest)")
	minConf := flag.Float64("min-confidence", 0, "skip frames below this confidence")
	output := flag.String("o", "gaze.png", "output PNG path")
	flag.Parse()

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *dbPath, err)
	}
	defer store.Close()

	id := *session
	if id == "" {
		s, err := store.LatestSession()
		if err != nil {
			log.Fatalf("no session to plot: %v", err)
		}
		id = s.ID
	}

	samples, err := store.GazeTrace(id, *minConf)
	if err != nil {
		log.Fatalf("failed to load gaze trace: %v", err)
	}
	if err := monitor.PlotGazeTrace(samples, *output); err != nil {
		log.Fatalf("failed to plot: %v", err)
	}
	log.Printf("✓ %d samples from session %s → %s", len(samples), id, *output)
}
