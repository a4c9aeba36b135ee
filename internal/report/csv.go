// Package report renders trip metrics for people: a per-segment CSV file and
// rounded display strings.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stuartshay/trip-tracker/internal/calculator"
)

var header = []string{"timestamp", "latitude", "longitude", "segment_m", "speed_kmh"}

// ErrInvalidVehicleID marks an ID that cannot be part of a file name
var ErrInvalidVehicleID = errors.New("invalid vehicle id")

var vehicleIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidateVehicleID accepts up to 64 letters, digits, '_', '-' and '.',
// starting with a letter or digit.
func ValidateVehicleID(vehicleID string) error {
	if !vehicleIDPattern.MatchString(vehicleID) {
		return fmt.Errorf("%w: %q", ErrInvalidVehicleID, vehicleID)
	}
	return nil
}

// Filename returns the report name for a vehicle and a YYYY-MM-DD date
func Filename(vehicleID, date string) string {
	dateStr := strings.ReplaceAll(date, "-", "")
	if vehicleID == "" {
		return fmt.Sprintf("trip_%s.csv", dateStr)
	}
	return fmt.Sprintf("trip_%s_%s.csv", vehicleID, dateStr)
}

// WriteTripCSV writes one row per sample of the trip followed by a summary
// footer, and returns the file path. The first row has no segment columns;
// later rows describe the segment that ends at that sample.
func WriteTripCSV(dir, vehicleID, date string, trip calculator.Trip) (string, error) {
	if vehicleID != "" {
		if err := ValidateVehicleID(vehicleID); err != nil {
			return "", err
		}
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return "", fmt.Errorf("invalid report date %q: %w", date, err)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	csvPath := filepath.Join(dir, Filename(vehicleID, date))

	file, err := os.Create(csvPath)
	if err != nil {
		return "", fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close CSV file")
		}
	}()

	writer := csv.NewWriter(file)

	if err := writer.Write(header); err != nil {
		return "", fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i, sample := range trip.Samples {
		row := []string{
			formatTimestamp(sample),
			strconv.FormatFloat(sample.Lat, 'f', 6, 64),
			strconv.FormatFloat(sample.Lng, 'f', 6, 64),
			"",
			"",
		}
		if i > 0 && i-1 < len(trip.Segments) {
			seg := trip.Segments[i-1]
			row[3] = strconv.FormatFloat(seg.DistanceMeters, 'f', 1, 64)
			if seg.HasSpeed {
				row[4] = strconv.FormatFloat(seg.SpeedKmh, 'f', 1, 64)
			}
		}
		if err := writer.Write(row); err != nil {
			return "", fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	summary := Summarize(trip.Metrics)
	footer := [][]string{
		{},
		{"Summary"},
		{"Total Distance (km)", summary.TotalDistance},
		{"Max Speed (km/h)", summary.MaxSpeed},
		{"Average Speed (km/h)", summary.AvgSpeed},
		{"Total Samples", strconv.Itoa(len(trip.Samples))},
		{"Speed Samples", strconv.Itoa(trip.Metrics.SpeedSamples)},
	}
	if err := writer.WriteAll(footer); err != nil {
		return "", fmt.Errorf("failed to write CSV summary: %w", err)
	}

	log.Info().
		Str("csv_path", csvPath).
		Str("vehicle_id", vehicleID).
		Str("date", date).
		Int("samples", len(trip.Samples)).
		Msg("CSV file generated successfully")

	return csvPath, nil
}

func formatTimestamp(sample calculator.GeoSample) string {
	if !sample.HasTimestamp {
		return ""
	}
	return time.UnixMilli(sample.Timestamp).UTC().Format(time.RFC3339)
}
