package calculator

import "slices"

// LiveTrack accumulates the live route one sample at a time. The path only
// grows; a new track is the only way to start over. It is not safe for
// concurrent use.
type LiveTrack struct {
	path    Path
	current LatLng
	hasPos  bool
}

// NewLiveTrack returns an empty track
func NewLiveTrack() *LiveTrack {
	return &LiveTrack{}
}

// Append records s as the current position and extends the path.
func (t *LiveTrack) Append(s GeoSample) {
	pos := s.Position()
	t.current = pos
	t.hasPos = true
	t.path = append(t.path, pos)
}

// Current returns the most recent position.
func (t *LiveTrack) Current() (LatLng, bool) {
	return t.current, t.hasPos
}

// Path returns a copy of the accumulated route
func (t *LiveTrack) Path() Path {
	return slices.Clone(t.path)
}

// Len returns the number of points on the route
func (t *LiveTrack) Len() int {
	return len(t.path)
}
