package report

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/trip-tracker/internal/calculator"
)

func TestFilename(t *testing.T) {
	assert.Equal(t, "trip_vehicle1_20241204.csv", Filename("vehicle1", "2024-12-04"))
	assert.Equal(t, "trip_20241204.csv", Filename("", "2024-12-04"))
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"one degree", FormatDistanceKm(111194.93), "111.19"},
		{"zero distance", FormatDistanceKm(0), "0.00"},
		{"sub kilometer", FormatDistanceKm(4), "0.00"},
		{"rounds up", FormatDistanceKm(1235), "1.24"},
		{"speed", FormatSpeed(111.19493), "111.2"},
		{"zero speed", FormatSpeed(0), "0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(calculator.TripMetrics{
		TotalDistanceMeters: 222389.85,
		MaxSpeedKmh:         120.04,
		AvgSpeedKmh:         80.26,
	})

	assert.Equal(t, Summary{TotalDistance: "222.39", MaxSpeed: "120.0", AvgSpeed: "80.3"}, s)
}

func TestWriteTripCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	trip := calculator.Aggregate([]calculator.GeoSample{
		calculator.NewTimedSample(0, 0, 0),
		calculator.NewTimedSample(0, 1, 3_600_000),
		calculator.NewSample(0, 2),
	})

	path, err := WriteTripCSV(dir, "vehicle1", "1970-01-01", trip)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "trip_vehicle1_19700101.csv"), path)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(records), 4)
	assert.Equal(t, header, records[0])
	assert.Equal(t, []string{"1970-01-01T00:00:00Z", "0.000000", "0.000000", "", ""}, records[1])
	assert.Equal(t, []string{"1970-01-01T01:00:00Z", "0.000000", "1.000000", "111194.9", "111.2"}, records[2])
	assert.Equal(t, []string{"", "0.000000", "2.000000", "111194.9", ""}, records[3], "untimed samples have no speed")

	footer := map[string]string{}
	for _, rec := range records[4:] {
		if len(rec) == 2 {
			footer[rec[0]] = rec[1]
		}
	}
	assert.Equal(t, "222.39", footer["Total Distance (km)"])
	assert.Equal(t, "111.2", footer["Max Speed (km/h)"])
	assert.Equal(t, "3", footer["Total Samples"])
	assert.Equal(t, "1", footer["Speed Samples"])
}

func TestWriteTripCSV_EmptyTrip(t *testing.T) {
	path, err := WriteTripCSV(t.TempDir(), "vehicle1", "2024-12-04", calculator.Aggregate(nil))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Total Distance (km),0.00")
}

func TestWriteTripCSV_BadDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := WriteTripCSV(filepath.Join(file, "sub"), "vehicle1", "2024-12-04", calculator.Trip{})
	assert.Error(t, err)
}

func TestValidateVehicleID(t *testing.T) {
	tests := []struct {
		id    string
		valid bool
	}{
		{"vehicle1", true},
		{"pixel8", true},
		{"truck_7-a.b", true},
		{"", false},
		{"../../x", false},
		{"..", false},
		{"a/b", false},
		{`a\b`, false},
		{".hidden", false},
		{"a b", false},
		{strings.Repeat("a", 64), true},
		{strings.Repeat("a", 65), false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateVehicleID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidVehicleID)
		})
	}
}

func TestWriteTripCSV_RejectsUnsafeNames(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "reports")

	_, err := WriteTripCSV(dir, "../../x", "2024-12-04", calculator.Trip{})
	assert.ErrorIs(t, err, ErrInvalidVehicleID)

	_, err = WriteTripCSV(dir, "vehicle1", "../2024-12-04", calculator.Trip{})
	assert.Error(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing is written for rejected names")
}
