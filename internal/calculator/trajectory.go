package calculator

import (
	"cmp"
	"slices"
)

// msPerSecond converts sample timestamps (epoch milliseconds) to seconds
const msPerSecond = 1000.0

// mpsToKmh converts meters per second to kilometers per hour
const mpsToKmh = 3.6

// GeoSample is one usable observation of the vehicle. Timestamp holds epoch
// milliseconds and is only meaningful when HasTimestamp is set; some live
// updates arrive without a clock.
type GeoSample struct {
	Lat          float64
	Lng          float64
	Timestamp    int64
	HasTimestamp bool
}

// NewSample returns a sample without a timestamp
func NewSample(lat, lng float64) GeoSample {
	return GeoSample{Lat: lat, Lng: lng}
}

// NewTimedSample returns a sample stamped with epoch milliseconds
func NewTimedSample(lat, lng float64, timestampMS int64) GeoSample {
	return GeoSample{Lat: lat, Lng: lng, Timestamp: timestampMS, HasTimestamp: true}
}

// LatLng is a [lat, lng] pair, serialized as a two element array for map
// polylines.
type LatLng [2]float64

// Lat returns the latitude in degrees.
func (p LatLng) Lat() float64 { return p[0] }

// Lng returns the longitude in degrees.
func (p LatLng) Lng() float64 { return p[1] }

// Position returns the sample's coordinate pair
func (s GeoSample) Position() LatLng {
	return LatLng{s.Lat, s.Lng}
}

// Path is an ordered route, insertion order being arrival order
type Path []LatLng

// PathOf converts samples to their coordinate pairs, preserving order.
func PathOf(samples []GeoSample) Path {
	path := make(Path, len(samples))
	for i, s := range samples {
		path[i] = s.Position()
	}
	return path
}

// Segment is the interval between two consecutive samples
type Segment struct {
	From           GeoSample
	To             GeoSample
	DistanceMeters float64
	SpeedKmh       float64
	HasSpeed       bool
}

// Segments folds consecutive sample pairs through Haversine. A segment only
// carries a speed when both ends are stamped and time moved forward.
func Segments(samples []GeoSample) []Segment {
	if len(samples) < 2 {
		return nil
	}

	segments := make([]Segment, 0, len(samples)-1)
	for i := 1; i < len(samples); i++ {
		from, to := samples[i-1], samples[i]
		seg := Segment{
			From:           from,
			To:             to,
			DistanceMeters: Haversine(from.Lat, from.Lng, to.Lat, to.Lng),
		}

		if from.HasTimestamp && to.HasTimestamp {
			dt := float64(to.Timestamp-from.Timestamp) / msPerSecond
			if dt > 0 {
				seg.SpeedKmh = seg.DistanceMeters / dt * mpsToKmh
				seg.HasSpeed = true
			}
		}

		segments = append(segments, seg)
	}
	return segments
}

// TripMetrics holds the statistics of a trip. Distances stay in meters;
// callers convert for display.
type TripMetrics struct {
	TotalDistanceMeters float64
	MaxSpeedKmh         float64
	AvgSpeedKmh         float64
	SpeedSamples        int
}

// TotalDistanceKm returns the total distance in kilometers
func (m TripMetrics) TotalDistanceKm() float64 {
	return m.TotalDistanceMeters / 1000
}

// ComputeMetrics derives trip metrics from samples in the given order.
// Fewer than two samples yield zero metrics.
func ComputeMetrics(samples []GeoSample) TripMetrics {
	return metricsOf(Segments(samples))
}

func metricsOf(segments []Segment) TripMetrics {
	var metrics TripMetrics
	var speedSum float64

	for _, seg := range segments {
		metrics.TotalDistanceMeters += seg.DistanceMeters
		if !seg.HasSpeed {
			continue
		}
		speedSum += seg.SpeedKmh
		metrics.SpeedSamples++
		if seg.SpeedKmh > metrics.MaxSpeedKmh {
			metrics.MaxSpeedKmh = seg.SpeedKmh
		}
	}

	if metrics.SpeedSamples > 0 {
		metrics.AvgSpeedKmh = speedSum / float64(metrics.SpeedSamples)
	}
	return metrics
}

// SortChronologically returns a copy of samples ordered by timestamp. Ties
// keep delivery order. When any sample lacks a timestamp no time order can be
// established and the delivery order is returned unchanged.
func SortChronologically(samples []GeoSample) []GeoSample {
	sorted := slices.Clone(samples)
	for _, s := range sorted {
		if !s.HasTimestamp {
			return sorted
		}
	}
	slices.SortStableFunc(sorted, func(a, b GeoSample) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	return sorted
}

// Trip is a fully materialized historical route
type Trip struct {
	Samples  []GeoSample
	Path     Path
	Segments []Segment
	Metrics  TripMetrics
}

// Start returns the first point of the route, if any.
func (t Trip) Start() (LatLng, bool) {
	if len(t.Path) == 0 {
		return LatLng{}, false
	}
	return t.Path[0], true
}

// Aggregate builds a trip from a day's samples. It is pure: the input is not
// modified and the same input always yields the same trip.
func Aggregate(samples []GeoSample) Trip {
	ordered := SortChronologically(samples)
	segments := Segments(ordered)
	return Trip{
		Samples:  ordered,
		Path:     PathOf(ordered),
		Segments: segments,
		Metrics:  metricsOf(segments),
	}
}
