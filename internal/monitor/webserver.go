// Package monitor serves the live debug UI: detector state, bin occupancy and
// gaze charts.
package monitor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/banshee-data/eye3d/internal/db"
	"github.com/banshee-data/eye3d/internal/detector"
	"github.com/banshee-data/eye3d/internal/eyemodel"
	"github.com/banshee-data/eye3d/internal/httputil"
	"github.com/banshee-data/eye3d/internal/monitoring"
	"github.com/banshee-data/eye3d/internal/version"
)

// StateSource is satisfied by *detector.Detector.
type StateSource interface {
	State() detector.State
}

// WebServer handles the HTTP interface for the running detector.
type WebServer struct {
	address   string
	server    *http.Server
	source    StateSource
	db        *db.DB
	sessionID string
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Source  StateSource
	// DB and SessionID are optional; without a DB the gaze endpoints
	// answer 503.
	DB        *db.DB
	SessionID string
}

func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:   config.Address,
		source:    config.Source,
		db:        config.DB,
		sessionID: config.SessionID,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// Handler returns the route table, for tests and embedding.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start serves until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			monitoring.Logf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/state", ws.handleState)
	mux.HandleFunc("/api/sessions", ws.handleSessions)
	mux.HandleFunc("/charts/bins", ws.handleBinsChart)
	mux.HandleFunc("/charts/gaze", ws.handleGazeChart)
	mux.HandleFunc("/plots/gaze.png", ws.handleGazePlot)

	if ws.db != nil {
		ws.db.AttachAdminRoutes(mux)
	}
	return mux
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"status": "ok", "version": version.String()})
}

type estimateJSON struct {
	Projected [2]float64 `json:"projected"`
	Center    [3]float64 `json:"center"`
	Corrected [3]float64 `json:"corrected_center"`
}

type stateJSON struct {
	ShortTerm     estimateJSON `json:"short_term"`
	LongTerm      estimateJSON `json:"long_term"`
	UltraLongTerm estimateJSON `json:"ultra_long_term"`
	Counts        [3]int       `json:"counts"`
	Bins          []int        `json:"bins"`
}

func toStateJSON(s detector.State) stateJSON {
	conv := func(e eyemodel.Estimate) estimateJSON {
		return estimateJSON{
			Projected: [2]float64{e.Projected.X, e.Projected.Y},
			Center:    [3]float64{e.SphereCenter.X, e.SphereCenter.Y, e.SphereCenter.Z},
			Corrected: [3]float64{e.CorrectedSphereCenter.X, e.CorrectedSphereCenter.Y, e.CorrectedSphereCenter.Z},
		}
	}
	return stateJSON{
		ShortTerm:     conv(s.ShortTerm),
		LongTerm:      conv(s.LongTerm),
		UltraLongTerm: conv(s.UltraLongTerm),
		Counts:        s.Counts,
		Bins:          s.Bins,
	}
}

func (ws *WebServer) handleState(w http.ResponseWriter, r *http.Request) {
	if ws.source == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no detector attached")
		return
	}
	httputil.WriteJSONOK(w, toStateJSON(ws.source.State()))
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "result DB not configured")
		return
	}
	sessions, err := ws.db.Sessions()
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type sessionJSON struct {
		ID      string `json:"session_id"`
		Created string `json:"created"`
		Source  string `json:"source"`
		Mode    string `json:"mode"`
	}
	out := make([]sessionJSON, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionJSON{ID: s.ID, Created: s.Created.UTC().Format(time.RFC3339), Source: s.Source, Mode: s.Mode})
	}
	httputil.WriteJSONOK(w, out)
}

// resolveSession picks the session_id query parameter, then the configured
// session, then the newest one in the DB.
func (ws *WebServer) resolveSession(r *http.Request) (string, error) {
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id, nil
	}
	if ws.sessionID != "" {
		return ws.sessionID, nil
	}
	s, err := ws.db.LatestSession()
	if err != nil {
		return "", err
	}
	return s.ID, nil
}
