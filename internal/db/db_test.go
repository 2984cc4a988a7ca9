package db

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/eye3d/internal/camera"
	"github.com/banshee-data/eye3d/internal/detector"
	"github.com/banshee-data/eye3d/internal/geometry"
)

var testCamera = camera.Model{FocalLength: 620, Resolution: [2]int{400, 400}}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testResult(ts, conf float64) detector.Result {
	return detector.Result{
		Timestamp:       ts,
		Sphere:          detector.SphereResult{Center: [3]float64{1.5, -1, 40}, Radius: geometry.EyeRadiusDefault},
		ProjectedSphere: geometry.PixelEllipse{Center: [2]float64{223, 184.5}, Axes: [2]float64{321, 321}, Angle: 90},
		Circle3D: detector.CircleResult{
			Center: [3]float64{1.2, -0.4, 29.6},
			Normal: [3]float64{-0.03, 0.06, -0.998},
			Radius: 2,
		},
		Diameter3D:      4,
		Ellipse:         geometry.PixelEllipse{Center: [2]float64{225, 191.6}, Axes: [2]float64{83, 84}, Angle: 120},
		Diameter:        84,
		Location:        [2]float64{225, 191.6},
		Confidence:      conf,
		Confidence2D:    conf,
		ModelConfidence: 1,
		Theta:           1.5,
		Phi:             -1.6,
		Debug:           &detector.Debug{BinData: [][]float64{{1}}},
	}
}

func TestNewDB_MigratesToLatest(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	latest, err := LatestMigrationVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	// Reopening is a no-op migration.
	require.NoError(t, db.MigrateUp(MigrationsFS()))
}

func TestMigrateDown(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	require.NoError(t, db.MigrateDown(MigrationsFS()))
	version, _, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='results'`).Scan(&n)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSessions(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	id, err := db.CreateSession("synthetic", "blocking", testCamera, map[string]int{"bins": 10})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	s, err := db.Session(id)
	require.NoError(t, err)
	assert.Equal(t, "synthetic", s.Source)
	assert.Equal(t, "blocking", s.Mode)
	assert.Equal(t, testCamera, s.Camera)
	assert.JSONEq(t, `{"bins":10}`, s.ConfigRaw)

	id2, err := db.CreateSession("log", "async", testCamera, nil)
	require.NoError(t, err)
	latest, err := db.LatestSession()
	require.NoError(t, err)
	assert.Equal(t, id2, latest.ID)

	all, err := db.Sessions()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = db.Session("missing")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestLatestSession_Empty(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	_, err := db.LatestSession()
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestResults_RoundTrip(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	id, err := db.CreateSession("synthetic", "blocking", testCamera, nil)
	require.NoError(t, err)

	in := []detector.Result{testResult(0, 1), testResult(1.0/30, 0.5), testResult(2.0/30, 0.99)}
	require.NoError(t, db.RecordResults(id, 0, in[:2]))
	require.NoError(t, db.RecordResult(id, 2, in[2]))

	rows, err := db.Results(id, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for i, r := range rows {
		assert.Equal(t, i, r.FrameIndex)
		want := in[i]
		want.Debug = nil
		if diff := cmp.Diff(want, r.Result, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("frame %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	limited, err := db.Results(id, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	trace, err := db.GazeTrace(id, 0.9)
	require.NoError(t, err)
	require.Len(t, trace, 2)
	assert.Equal(t, 0.0, trace[0].Timestamp)
	assert.Equal(t, 4.0, trace[1].Diameter3D)
	assert.Equal(t, 1.5, trace[1].Theta)
}

func TestRecordResults_UnknownSession(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	err := db.RecordResult("no-such-session", 0, testResult(0, 1))
	assert.Error(t, err, "foreign key enforced")

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.Results)
}

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	_, err := db.CreateSession("synthetic", "blocking", testCamera, nil)
	require.NoError(t, err)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, uint(2), stats.Version)

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	for _, path := range []string{"/debug/db-stats", "/debug/tailsql/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		// Registered routes answer 200 or 403 depending on debug access.
		assert.NotEqual(t, http.StatusNotFound, w.Code, path)
	}
}
