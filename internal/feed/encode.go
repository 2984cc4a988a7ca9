package feed

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/eye3d/internal/detector"
	"github.com/banshee-data/eye3d/internal/eyemodel"
	"github.com/banshee-data/eye3d/internal/geometry"
)

// Frame is one published detector output.
type Frame struct {
	Index  uint64
	Result detector.Result
	State  detector.State
}

// StreamOptions select the optional parts of each streamed message. They
// travel as the fields include_state and include_debug of the request.
type StreamOptions struct {
	IncludeState bool
	IncludeDebug bool
}

// Request builds the request message for opts.
func (o StreamOptions) Request() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"include_state": structpb.NewBoolValue(o.IncludeState),
		"include_debug": structpb.NewBoolValue(o.IncludeDebug),
	}}
}

func optionsFromRequest(req *structpb.Struct) StreamOptions {
	f := req.GetFields()
	return StreamOptions{
		IncludeState: f["include_state"].GetBoolValue(),
		IncludeDebug: f["include_debug"].GetBoolValue(),
	}
}

func num(v float64) *structpb.Value { return structpb.NewNumberValue(v) }

func nums(v ...float64) *structpb.Value {
	vals := make([]*structpb.Value, len(v))
	for i, x := range v {
		vals[i] = num(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func obj(fields map[string]*structpb.Value) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func vec3(v r3.Vector) *structpb.Value { return nums(v.X, v.Y, v.Z) }
func vec2(p r2.Point) *structpb.Value  { return nums(p.X, p.Y) }

func pixelEllipse(e geometry.PixelEllipse) *structpb.Value {
	return obj(map[string]*structpb.Value{
		"center": nums(e.Center[0], e.Center[1]),
		"axes":   nums(e.Axes[0], e.Axes[1]),
		"angle":  num(e.Angle),
	})
}

// encodeFrame lays out a frame with the same field names as the JSON form of
// detector.Result.
func encodeFrame(f *Frame, opts StreamOptions) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"index":  num(float64(f.Index)),
		"result": encodeResult(f.Result, opts.IncludeDebug),
	}
	if opts.IncludeState {
		fields["state"] = encodeState(f.State)
	}
	return &structpb.Struct{Fields: fields}
}

func encodeResult(r detector.Result, withDebug bool) *structpb.Value {
	c := r.Circle3D
	fields := map[string]*structpb.Value{
		"timestamp": num(r.Timestamp),
		"sphere": obj(map[string]*structpb.Value{
			"center": nums(r.Sphere.Center[:]...),
			"radius": num(r.Sphere.Radius),
		}),
		"projected_sphere": pixelEllipse(r.ProjectedSphere),
		"circle_3d": obj(map[string]*structpb.Value{
			"center": nums(c.Center[:]...),
			"normal": nums(c.Normal[:]...),
			"radius": num(c.Radius),
		}),
		"diameter_3d":      num(r.Diameter3D),
		"ellipse":          pixelEllipse(r.Ellipse),
		"diameter":         num(r.Diameter),
		"location":         nums(r.Location[:]...),
		"confidence":       num(r.Confidence),
		"confidence_2d":    num(r.Confidence2D),
		"model_confidence": num(r.ModelConfidence),
		"theta":            num(r.Theta),
		"phi":              num(r.Phi),
	}
	if withDebug && r.Debug != nil {
		fields["debug_info"] = encodeDebug(r.Debug)
	}
	return obj(fields)
}

func encodeDebug(d *detector.Debug) *structpb.Value {
	rows := make([]*structpb.Value, len(d.BinData))
	for i, row := range d.BinData {
		rows[i] = nums(row...)
	}
	return obj(map[string]*structpb.Value{
		"projected_short_term":      pixelEllipse(d.ProjectedShortTerm),
		"projected_long_term":       pixelEllipse(d.ProjectedLongTerm),
		"projected_ultra_long_term": pixelEllipse(d.ProjectedUltraLongTerm),
		"bin_data":                  structpb.NewListValue(&structpb.ListValue{Values: rows}),
		"short_term":                encodeDebugInfo(d.ShortTerm),
		"long_term":                 encodeDebugInfo(d.LongTerm),
		"ultra_long_term":           encodeDebugInfo(d.UltraLongTerm),
	})
}

func encodeDebugInfo(d eyemodel.DebugInfo) *structpb.Value {
	return obj(map[string]*structpb.Value{
		"cost":      num(d.Cost),
		"residuals": nums(d.Residuals...),
		"cutoff":    num(d.Cutoff),
	})
}

func encodeEstimate(e eyemodel.Estimate) *structpb.Value {
	return obj(map[string]*structpb.Value{
		"sphere_center":           vec3(e.SphereCenter),
		"corrected_sphere_center": vec3(e.CorrectedSphereCenter),
		"projected":               vec2(e.Projected),
	})
}

func encodeState(s detector.State) *structpb.Value {
	bins := make([]float64, len(s.Bins))
	for i, b := range s.Bins {
		bins[i] = float64(b)
	}
	return obj(map[string]*structpb.Value{
		"short_term":      encodeEstimate(s.ShortTerm),
		"long_term":       encodeEstimate(s.LongTerm),
		"ultra_long_term": encodeEstimate(s.UltraLongTerm),
		"counts":          nums(float64(s.Counts[0]), float64(s.Counts[1]), float64(s.Counts[2])),
		"bins":            nums(bins...),
	})
}
