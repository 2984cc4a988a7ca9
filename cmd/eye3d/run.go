package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/banshee-data/eye3d/internal/camera"
	"github.com/banshee-data/eye3d/internal/config"
	"github.com/banshee-data/eye3d/internal/db"
	"github.com/banshee-data/eye3d/internal/detector"
	"github.com/banshee-data/eye3d/internal/feed"
	"github.com/banshee-data/eye3d/internal/monitor"
	"github.com/banshee-data/eye3d/internal/monitoring"
	"github.com/banshee-data/eye3d/internal/recorder"
	"github.com/banshee-data/eye3d/internal/refraction"
	"github.com/banshee-data/eye3d/internal/search"
	"github.com/banshee-data/eye3d/internal/testutil"
	"github.com/banshee-data/eye3d/internal/timeutil"
)

type runOptions struct {
	LogPath    string
	DBPath     string
	ConfigPath string
	Camera     camera.Model
	// CameraSet is true when any of -focal, -width or -height was given.
	CameraSet bool
	Mode      string
	Synthetic int
	Listen    string
	GRPC      string
	Realtime  bool
	Speed     float64
	Canny     bool
	Debug     bool
	BatchSize int
	Verbose   bool

	Clock timeutil.Clock
}

func optionsFromFlags(fs *flag.FlagSet) (runOptions, error) {
	o := runOptions{
		LogPath:    *logPath,
		DBPath:     *dbPath,
		ConfigPath: *configPath,
		Camera:     camera.Model{FocalLength: *focal, Resolution: [2]int{*width, *height}},
		Mode:       *mode,
		Synthetic:  *synthetic,
		Listen:     *listen,
		GRPC:       *grpcAddr,
		Realtime:   *realtime,
		Speed:      *speed,
		Canny:      *canny,
		Debug:      *debugInfo,
		BatchSize:  *batchSize,
		Verbose:    *verbose,
		Clock:      timeutil.RealClock{},
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "focal", "width", "height":
			o.CameraSet = true
		}
	})
	return o, o.validate()
}

func (o runOptions) validate() error {
	if (o.LogPath == "") == (o.Synthetic <= 0) {
		return errors.New("exactly one of -log or -synthetic is required")
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("-batch must be positive, got %d", o.BatchSize)
	}
	if o.Realtime && o.Speed <= 0 {
		return fmt.Errorf("-speed must be positive, got %g", o.Speed)
	}
	return nil
}

// loadTuning reads the config file, falling back to the repository defaults
// and then to built-in defaults.
func loadTuning(path string) (*config.TuningConfig, error) {
	if path != "" {
		return config.LoadTuningConfig(path)
	}
	t, err := config.LoadTuningConfig(config.DefaultConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		monitoring.Logf("%s not found, using built-in defaults", config.DefaultConfigPath)
		return config.EmptyTuningConfig(), nil
	}
	return t, err
}

// frameSource yields recorded entries until io.EOF.
type frameSource interface {
	Next() (recorder.Entry, error)
	Camera() camera.Model
	Name() string
}

type replaySource struct {
	r   *recorder.Replayer
	cam camera.Model
}

func (s *replaySource) Next() (recorder.Entry, error) { return s.r.Next() }
func (s *replaySource) Camera() camera.Model         { return s.cam }
func (s *replaySource) Name() string                 { return "log" }

type syntheticSource struct {
	stream *testutil.Stream
	cam    camera.Model
	limit  int
}

func newSyntheticSource(n int, cam camera.Model) *syntheticSource {
	st := testutil.DefaultStream()
	st.Eye.Focal = cam.FocalLength
	st.Eye.Width, st.Eye.Height = cam.Resolution[0], cam.Resolution[1]
	return &syntheticSource{stream: st, cam: cam, limit: n}
}

func (s *syntheticSource) Next() (recorder.Entry, error) {
	if s.stream.Count() >= s.limit {
		return recorder.Entry{}, io.EOF
	}
	f := s.stream.Next()
	return recorder.Entry{
		Datum: detector.Datum{Ellipse: f.Ellipse, Confidence: f.Confidence, Timestamp: f.Timestamp},
		Frame: search.Frame{Width: s.cam.Resolution[0], Height: s.cam.Resolution[1], Pix: f.Pix},
	}, nil
}

func (s *syntheticSource) Camera() camera.Model { return s.cam }
func (s *syntheticSource) Name() string         { return "synthetic" }

func openSource(o runOptions) (frameSource, error) {
	if o.Synthetic > 0 {
		return newSyntheticSource(o.Synthetic, o.Camera), nil
	}
	r, err := recorder.NewReplayer(o.LogPath)
	if err != nil {
		return nil, err
	}
	cam := r.Header().Camera
	if o.CameraSet {
		cam = o.Camera
	}
	return &replaySource{r: r, cam: cam}, nil
}

func buildDetector(o runOptions, t *config.TuningConfig, cam camera.Model) (*detector.Detector, error) {
	cfg := detector.ConfigFromTuning(t)
	if o.Canny {
		ext, err := cannyExtractor()
		if err != nil {
			return nil, err
		}
		cfg.Search.Extractor = ext
	}

	modeName := t.GetMode()
	if o.Mode != "" {
		modeName = o.Mode
	}
	m, err := detector.ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	var corrector refraction.Corrector = refraction.Identity{}
	if path := t.GetRefractionModel(); path != "" {
		p, err := refraction.LoadPolynomial(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load refraction model: %w", err)
		}
		corrector = p
	}
	return detector.New(cam, cfg, detector.WithMode(m), detector.WithCorrector(corrector))
}

func run(ctx context.Context, o runOptions) error {
	if o.Verbose {
		monitoring.SetDebugLogger(log.Printf)
	}
	tuning, err := loadTuning(o.ConfigPath)
	if err != nil {
		return err
	}
	src, err := openSource(o)
	if err != nil {
		return err
	}
	cam := src.Camera()
	if err := cam.Validate(); err != nil {
		return err
	}

	det, err := buildDetector(o, tuning, cam)
	if err != nil {
		return err
	}
	defer det.Close()

	store, err := db.NewDB(o.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open results database: %w", err)
	}
	defer store.Close()

	sessionID, err := store.CreateSession(src.Name(), det.Mode().String(), cam, tuning)
	if err != nil {
		return err
	}
	log.Printf("session %s: %s source, %s mode, camera f=%.1f %dx%d",
		sessionID, src.Name(), det.Mode(), cam.FocalLength, cam.Resolution[0], cam.Resolution[1])

	serveCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	serverDone := make(chan error, 1)
	if o.Listen != "" {
		ws := monitor.NewWebServer(monitor.WebServerConfig{
			Address:   o.Listen,
			Source:    det,
			DB:        store,
			SessionID: sessionID,
		})
		go func() { serverDone <- ws.Start(serveCtx) }()
	} else {
		close(serverDone)
	}

	var pub resultPublisher
	if o.GRPC != "" {
		cfg := feed.DefaultConfig()
		cfg.ListenAddr = o.GRPC
		p := feed.NewPublisher(cfg)
		if err := p.Start(); err != nil {
			return fmt.Errorf("failed to start result feed: %w", err)
		}
		defer p.Stop()
		pub = p
	}

	stats, err := process(ctx, o, src, det, store, sessionID, tuning.GetApplyRefractionCorrection(), pub)
	if err != nil {
		return err
	}
	log.Printf("processed %d frames (%d confident, %d failed)", stats.frames, stats.confident, stats.failed)

	if o.Listen != "" || o.GRPC != "" {
		log.Printf("serving until interrupted (debug UI %q, gRPC feed %q)", o.Listen, o.GRPC)
		<-ctx.Done()
		stopServer()
	}
	if err, ok := <-serverDone; ok && err != nil {
		return err
	}
	return nil
}

type runStats struct {
	frames    int
	confident int
	failed    int
}

// resultPublisher is satisfied by *feed.Publisher.
type resultPublisher interface {
	Publish(detector.Result, detector.State)
}

// process feeds every entry through the detector and stores results in
// batches. pub, when set, also receives every result with the model state.
func process(ctx context.Context, o runOptions, src frameSource, det *detector.Detector, store *db.DB, sessionID string, refract bool, pub resultPublisher) (runStats, error) {
	var (
		stats   runStats
		pacer   *timeutil.Pacer
		pending []detector.Result
		first   int
	)
	if o.Realtime {
		clock := o.Clock
		if clock == nil {
			clock = timeutil.RealClock{}
		}
		pacer = timeutil.NewPacer(clock, o.Speed)
	}
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := store.RecordResults(sessionID, first, pending); err != nil {
			return err
		}
		first += len(pending)
		pending = pending[:0]
		return nil
	}
	detectOpts := detector.DetectOptions{ApplyRefractionCorrection: refract, Debug: o.Debug}

	for {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("stopping after %d frames: %v", stats.frames, err)
			break
		}
		entry, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read frame %d: %w", stats.frames, err)
		}
		if pacer != nil {
			pacer.Wait(entry.Datum.Timestamp)
		}

		res, err := det.UpdateAndDetect(entry.Datum, entry.Frame, detectOpts)
		if err != nil {
			// Malformed detections still occupy a frame slot.
			monitoring.Debugf("frame %d: %v", stats.frames, err)
			stats.failed++
			res = detector.Result{Timestamp: entry.Datum.Timestamp}
		}
		if res.Confidence > 0 {
			stats.confident++
		}
		stats.frames++
		if pub != nil {
			pub.Publish(res, det.State())
		}
		pending = append(pending, res)
		if len(pending) >= o.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	return stats, flush()
}
