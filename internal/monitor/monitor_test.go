package monitor

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eye3d/internal/camera"
	"github.com/banshee-data/eye3d/internal/db"
	"github.com/banshee-data/eye3d/internal/detector"
	"github.com/banshee-data/eye3d/internal/eyemodel"
)

type fakeSource struct {
	state detector.State
}

func (f fakeSource) State() detector.State { return f.state }

func testState() detector.State {
	return detector.State{
		LongTerm: eyemodel.Estimate{SphereCenter: r3.Vector{X: 1, Y: -2, Z: 40}},
		Counts:   [3]int{10, 50, 50},
		Bins:     []int{0, 0, 3, 12, 20, 10, 5, 0, 0, 0},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func seededDB(t *testing.T, n int) (*db.DB, string) {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cam := camera.Model{FocalLength: 620, Resolution: [2]int{400, 400}}
	id, err := store.CreateSession("synthetic", "blocking", cam, nil)
	require.NoError(t, err)

	results := make([]detector.Result, n)
	for i := range results {
		ts := float64(i) / 30
		results[i] = detector.Result{
			Timestamp:  ts,
			Confidence: 1,
			Theta:      math.Pi/2 + 0.2*math.Sin(ts),
			Phi:        -math.Pi/2 + 0.2*math.Cos(ts),
			Diameter3D: 4,
		}
	}
	require.NoError(t, store.RecordResults(id, 0, results))
	return store, id
}

func TestBinLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "-162°", binLabel(0, 10))
	assert.Equal(t, "18°", binLabel(5, 10))
	assert.Equal(t, "0°", binLabel(0, 1))
}

func TestHealthAndState(t *testing.T) {
	t.Parallel()
	ws := NewWebServer(WebServerConfig{Source: fakeSource{state: testState()}})

	w := get(t, ws.Handler(), "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	w = get(t, ws.Handler(), "/api/state")
	require.Equal(t, http.StatusOK, w.Code)
	var got stateJSON
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, [3]int{10, 50, 50}, got.Counts)
	assert.Equal(t, [3]float64{1, -2, 40}, got.LongTerm.Center)
	assert.Len(t, got.Bins, 10)
}

func TestState_NoSource(t *testing.T) {
	t.Parallel()
	ws := NewWebServer(WebServerConfig{})
	assert.Equal(t, http.StatusServiceUnavailable, get(t, ws.Handler(), "/api/state").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, ws.Handler(), "/charts/bins").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, ws.Handler(), "/charts/gaze").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, ws.Handler(), "/api/sessions").Code)
}

func TestBinsChart(t *testing.T) {
	t.Parallel()
	ws := NewWebServer(WebServerConfig{Source: fakeSource{state: testState()}})
	w := get(t, ws.Handler(), "/charts/bins")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	body := w.Body.String()
	assert.Contains(t, body, "echarts")
	assert.Contains(t, body, "Long-term bin occupancy")
}

func TestBinsChart_Empty(t *testing.T) {
	t.Parallel()
	ws := NewWebServer(WebServerConfig{Source: fakeSource{}})
	assert.Equal(t, http.StatusNotFound, get(t, ws.Handler(), "/charts/bins").Code)
}

func TestGazeEndpoints(t *testing.T) {
	t.Parallel()
	store, id := seededDB(t, 60)
	ws := NewWebServer(WebServerConfig{Source: fakeSource{state: testState()}, DB: store})

	w := get(t, ws.Handler(), "/charts/gaze")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Gaze angles")
	assert.Contains(t, w.Body.String(), id)

	w = get(t, ws.Handler(), "/plots/gaze.png?session_id="+id)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = get(t, ws.Handler(), "/api/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), id)

	w = get(t, ws.Handler(), "/charts/gaze?session_id=unknown")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Admin routes are mounted alongside.
	w = get(t, ws.Handler(), "/debug/db-stats")
	assert.NotEqual(t, http.StatusNotFound, w.Code)
}

func TestGazeChart_NoSessions(t *testing.T) {
	t.Parallel()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ws := NewWebServer(WebServerConfig{DB: store})
	w := get(t, ws.Handler(), "/charts/gaze")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "no sessions"))
}

func TestPlotGazeTrace(t *testing.T) {
	t.Parallel()
	store, id := seededDB(t, 30)
	samples, err := store.GazeTrace(id, 0.5)
	require.NoError(t, err)
	require.Len(t, samples, 30)

	path := filepath.Join(t.TempDir(), "plots", "gaze.png")
	require.NoError(t, PlotGazeTrace(samples, path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(1000))

	assert.ErrorIs(t, WriteGazePNG(&bytes.Buffer{}, nil), ErrNoSamples)
}
