// Command gen-eyelog generates synthetic detection logs for testing replay.
package main

import (
	"flag"
	"log"

	"github.com/banshee-data/eye3d/internal/camera"
	"github.com/banshee-data/eye3d/internal/detector"
	"github.com/banshee-data/eye3d/internal/recorder"
	"github.com/banshee-data/eye3d/internal/search"
	"github.com/banshee-data/eye3d/internal/testutil"
)

func main() {
	output := flag.String("o", "sample.eyelog", "output directory")
	frames := flag.Int("n", 300, "number of frames")
	noFrames := flag.Bool("no-frames", false, "omit frame pixels (detections only)")
	flag.Parse()

	stream := testutil.DefaultStream()
	stream.Render = !*noFrames
	eye := stream.Eye
	cam := camera.Model{FocalLength: eye.Focal, Resolution: [2]int{eye.Width, eye.Height}}

	rec, err := recorder.NewRecorder(*output, cam)
	if err != nil {
		log.Fatalf("failed to create log: %v", err)
	}
	for i := 0; i < *frames; i++ {
		f := stream.Next()
		d := detector.Datum{Ellipse: f.Ellipse, Confidence: f.Confidence, Timestamp: f.Timestamp}
		if err := rec.Record(d, search.Frame{Width: eye.Width, Height: eye.Height, Pix: f.Pix}); err != nil {
			log.Fatalf("frame %d: %v", i, err)
		}
		if (i+1)%100 == 0 {
			log.Printf("%d/%d frames", i+1, *frames)
		}
	}
	if err := rec.Close(); err != nil {
		log.Fatalf("failed to close log: %v", err)
	}
	log.Printf("✓ Created: %s", *output)
}
