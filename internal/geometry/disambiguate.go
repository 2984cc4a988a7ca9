package geometry

import "github.com/golang/geo/r2"

// DisambiguateLine picks which of two candidate pupil circles faces away
// from the projected eyeball center. It returns 0 when the projected gaze
// line of the first candidate points away from center2D and 1 otherwise.
func DisambiguateLine(gaze Line2D, center2D r2.Point) int {
	if gaze.Origin.Sub(center2D).Dot(gaze.Direction) >= 0 {
		return 0
	}
	return 1
}

// Disambiguate returns the index of the circle in pair whose gaze points
// away from the projected sphere center.
func Disambiguate(pair CirclePair, center2D r2.Point, focal float64) int {
	line := ProjectLine(Line{Origin: pair[0].Center, Direction: pair[0].Normal}, focal)
	return DisambiguateLine(line, center2D)
}
