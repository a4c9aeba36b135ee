package report

import (
	"strconv"

	"github.com/stuartshay/trip-tracker/internal/calculator"
)

// Summary is the rounded, human readable form of trip metrics
type Summary struct {
	TotalDistance string `json:"totalDistance"`
	MaxSpeed      string `json:"maxSpeed"`
	AvgSpeed      string `json:"avgSpeed"`
}

// FormatDistanceKm renders meters as kilometers with two decimals
func FormatDistanceKm(meters float64) string {
	return strconv.FormatFloat(meters/1000, 'f', 2, 64)
}

// FormatSpeed renders km/h with one decimal
func FormatSpeed(kmh float64) string {
	return strconv.FormatFloat(kmh, 'f', 1, 64)
}

// Summarize rounds metrics for display
func Summarize(m calculator.TripMetrics) Summary {
	return Summary{
		TotalDistance: FormatDistanceKm(m.TotalDistanceMeters),
		MaxSpeed:      FormatSpeed(m.MaxSpeedKmh),
		AvgSpeed:      FormatSpeed(m.AvgSpeedKmh),
	}
}
