package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/eye3d/internal/db"
)

// ErrNoSamples is returned when there is nothing to plot.
var ErrNoSamples = errors.New("monitor: no gaze samples")

var (
	thetaColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	phiColor      = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	diameterColor = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

func newLine(pts plotter.XYs, c color.Color) (*plotter.Line, error) {
	l, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	l.Color = c
	l.Width = vg.Points(1)
	return l, nil
}

// gazePlots builds the angle panel (theta, phi in degrees) and the pupil
// diameter panel, both against timestamp.
func gazePlots(samples []db.GazeSample) (*plot.Plot, *plot.Plot, error) {
	if len(samples) == 0 {
		return nil, nil, ErrNoSamples
	}
	thetaPts := make(plotter.XYs, len(samples))
	phiPts := make(plotter.XYs, len(samples))
	diaPts := make(plotter.XYs, len(samples))
	for i, s := range samples {
		thetaPts[i] = plotter.XY{X: s.Timestamp, Y: degrees(s.Theta)}
		phiPts[i] = plotter.XY{X: s.Timestamp, Y: degrees(s.Phi)}
		diaPts[i] = plotter.XY{X: s.Timestamp, Y: s.Diameter3D}
	}

	pAng := plot.New()
	pAng.Title.Text = "Gaze angles"
	pAng.X.Label.Text = "Time (s)"
	pAng.Y.Label.Text = "Angle (deg)"
	thetaLine, err := newLine(thetaPts, thetaColor)
	if err != nil {
		return nil, nil, fmt.Errorf("theta line: %w", err)
	}
	phiLine, err := newLine(phiPts, phiColor)
	if err != nil {
		return nil, nil, fmt.Errorf("phi line: %w", err)
	}
	pAng.Add(plotter.NewGrid(), thetaLine, phiLine)
	pAng.Legend.Add("theta", thetaLine)
	pAng.Legend.Add("phi", phiLine)
	pAng.Legend.Top = true
	pAng.Legend.Left = false
	pAng.Legend.XOffs = -10
	pAng.Legend.YOffs = -10

	pDia := plot.New()
	pDia.Title.Text = "Pupil diameter"
	pDia.X.Label.Text = "Time (s)"
	pDia.Y.Label.Text = "Diameter (mm)"
	diaLine, err := newLine(diaPts, diameterColor)
	if err != nil {
		return nil, nil, fmt.Errorf("diameter line: %w", err)
	}
	pDia.Add(plotter.NewGrid(), diaLine)

	return pAng, pDia, nil
}

// WriteGazePNG renders samples as a two-panel PNG.
func WriteGazePNG(w io.Writer, samples []db.GazeSample) error {
	pAng, pDia, err := gazePlots(samples)
	if err != nil {
		return err
	}

	img := vgimg.New(14*vg.Inch, 8*vg.Inch)
	dc := draw.New(img)
	tiles := draw.Tiles{Rows: 2, Cols: 1, PadY: vg.Millimeter * 4, PadTop: vg.Millimeter * 2, PadBottom: vg.Millimeter * 2}
	canvases := plot.Align([][]*plot.Plot{{pAng}, {pDia}}, tiles, dc)
	pAng.Draw(canvases[0][0])
	pDia.Draw(canvases[1][0])

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}

// PlotGazeTrace writes samples to a PNG at path, creating parent
// directories as needed.
func PlotGazeTrace(samples []db.GazeSample, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteGazePNG(f, samples); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
