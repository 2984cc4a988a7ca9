package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/eye3d/internal/db"
	"github.com/banshee-data/eye3d/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// binLabel names a horizontal gaze bin by the center of its angle range
// in degrees.
func binLabel(i, n int) string {
	width := 360.0 / float64(n)
	return strconv.FormatFloat(-180+width*(float64(i)+0.5), 'f', 0, 64) + "°"
}

// handleBinsChart renders the long-term storage's bin occupancy as a
// one-row heatmap.
func (ws *WebServer) handleBinsChart(w http.ResponseWriter, r *http.Request) {
	if ws.source == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no detector attached")
		return
	}
	state := ws.source.State()
	if len(state.Bins) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no bins available")
		return
	}

	labels := make([]string, len(state.Bins))
	data := make([]opts.HeatMapData, len(state.Bins))
	maxCount := 1
	for i, n := range state.Bins {
		labels[i] = binLabel(i, len(state.Bins))
		data[i] = opts.HeatMapData{Value: [3]interface{}{i, 0, n}}
		maxCount = max(maxCount, n)
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Eye Model Bins", Theme: "dark", Width: "900px", Height: "300px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Long-term bin occupancy",
			Subtitle: fmt.Sprintf("short=%d long=%d ultra=%d", state.Counts[0], state.Counts[1], state.Counts[2]),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: labels, Name: "gaze azimuth"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: []string{"bins"}}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxCount),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.SetXAxis(labels).AddSeries("observations", data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

// gazeSamples loads the trace for the requested session.
// Query params:
//   - session_id (optional; defaults to the running or newest session)
//   - min_confidence (optional; default 0)
func (ws *WebServer) gazeSamples(w http.ResponseWriter, r *http.Request) ([]db.GazeSample, string, bool) {
	if ws.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "result DB not configured")
		return nil, "", false
	}
	sessionID, err := ws.resolveSession(r)
	if errors.Is(err, db.ErrSessionNotFound) {
		httputil.WriteJSONError(w, http.StatusNotFound, "no sessions recorded")
		return nil, "", false
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return nil, "", false
	}
	minConf := 0.0
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed >= 0 && parsed <= 1 {
			minConf = parsed
		}
	}
	samples, err := ws.db.GazeTrace(sessionID, minConf)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, err.Error())
		return nil, "", false
	}
	if len(samples) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no samples for session")
		return nil, "", false
	}
	return samples, sessionID, true
}

func (ws *WebServer) handleGazeChart(w http.ResponseWriter, r *http.Request) {
	samples, sessionID, ok := ws.gazeSamples(w, r)
	if !ok {
		return
	}

	x := make([]string, len(samples))
	theta := make([]opts.LineData, len(samples))
	phi := make([]opts.LineData, len(samples))
	diameter := make([]opts.LineData, len(samples))
	for i, s := range samples {
		x[i] = strconv.FormatFloat(s.Timestamp, 'f', 3, 64)
		theta[i] = opts.LineData{Value: degrees(s.Theta)}
		phi[i] = opts.LineData{Value: degrees(s.Phi)}
		diameter[i] = opts.LineData{Value: s.Diameter3D}
	}

	angles := charts.NewLine()
	angles.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Gaze angles", Subtitle: fmt.Sprintf("session=%s frames=%d", sessionID, len(samples))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "deg"}),
	)
	angles.SetXAxis(x).
		AddSeries("theta", theta).
		AddSeries("phi", phi)

	size := charts.NewLine()
	size.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "300px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Pupil diameter"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mm"}),
	)
	size.SetXAxis(x).AddSeries("diameter_3d", diameter)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(angles, size)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	httputil.WriteBody(w, "text/html; charset=utf-8", buf.Bytes())
}

func (ws *WebServer) handleGazePlot(w http.ResponseWriter, r *http.Request) {
	samples, _, ok := ws.gazeSamples(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := WriteGazePNG(&buf, samples); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to plot: %v", err))
		return
	}
	httputil.WriteBody(w, "image/png", buf.Bytes())
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
