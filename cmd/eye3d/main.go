// Command eye3d runs the 3D eye model over a recorded detection log or a
// synthetic eye, stores per-frame results in SQLite and optionally serves the
// debug UI and a gRPC result stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/eye3d/internal/version"
)

var (
	logPath    = flag.String("log", "", "Detection log directory to replay")
	dbPath     = flag.String("db", "eye3d.db", "Path to the results database")
	configPath = flag.String("config", "", "Tuning config JSON (defaults to config/tuning.defaults.json)")
	focal      = flag.Float64("focal", 620, "Camera focal length in pixels (synthetic runs, or to override the log header)")
	width      = flag.Int("width", 400, "Image width in pixels")
	height     = flag.Int("height", 400, "Image height in pixels")
	mode       = flag.String("mode", "", "Long-term refit mode: blocking or async (overrides config)")
	synthetic  = flag.Int("synthetic", 0, "Generate N synthetic frames instead of reading -log")
	listen     = flag.String("listen", "", "Serve the debug UI on this address, e.g. :8080")
	grpcAddr   = flag.String("grpc", "", "Stream results over gRPC on this address, e.g. localhost:50061")
	realtime   = flag.Bool("realtime", false, "Pace frames by their timestamps")
	speed      = flag.Float64("speed", 1, "Playback speed multiplier with -realtime")
	canny      = flag.Bool("canny", false, "Use OpenCV Canny edges for the surface search (needs a gocv build)")
	debugInfo  = flag.Bool("debug-info", false, "Attach model debug blocks to results")
	batchSize  = flag.Int("batch", 100, "Results per database transaction")
	verbose    = flag.Bool("v", false, "Verbose logging")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println("eye3d", version.String())
		return
	}
	log.Printf("eye3d %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := optionsFromFlags(flag.CommandLine)
	if err != nil {
		log.Fatalf("invalid flags: %v", err)
	}
	if err := run(ctx, opts); err != nil {
		log.Fatalf("eye3d: %v", err)
	}
}
