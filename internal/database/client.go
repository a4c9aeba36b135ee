// Package database provides PostgreSQL client functionality for reading
// recorded OwnTracks locations as trip history, with connection pooling and
// health checks.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/trip-tracker/internal/calculator"
	"github.com/stuartshay/trip-tracker/internal/snapshot"
)

// Client wraps a PostgreSQL database connection
type Client struct {
	db *sql.DB
	// zone is the IANA name days are bucketed in
	zone string
}

// Location represents a GPS location record from the database
type Location struct {
	ID        int64
	DeviceID  string
	Latitude  float64
	Longitude float64
	// TimestampMS is the device clock in epoch milliseconds, zero when unknown
	TimestampMS  int64
	HasTimestamp bool
	CreatedAt    time.Time
}

// NewClient creates a new database client with connection pooling. Days are
// computed in loc, UTC when nil.
func NewClient(dsn string, loc *time.Location) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (also failed to close: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db, zone: zoneName(loc)}, nil
}

func zoneName(loc *time.Location) string {
	if loc == nil {
		return "UTC"
	}
	return loc.String()
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// GetLocationsByDate retrieves GPS locations of a device for a specific date
// Date should be in YYYY-MM-DD format
func (c *Client) GetLocationsByDate(ctx context.Context, date string, deviceID string) ([]Location, error) {
	query := `
		SELECT
			id, device_id, latitude, longitude,
			(EXTRACT(EPOCH FROM timestamp) * 1000)::bigint AS timestamp_ms, created_at
		FROM public.locations
		WHERE DATE(created_at AT TIME ZONE $3) = $1 AND device_id = $2
		ORDER BY created_at ASC
	`

	rows, err := c.db.QueryContext(ctx, query, date, deviceID, c.zone)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }() // nolint:errcheck // Close in defer, error not actionable

	var locations []Location
	for rows.Next() {
		var loc Location
		var latitude, longitude sql.NullFloat64
		var timestamp sql.NullInt64

		err := rows.Scan(
			&loc.ID,
			&loc.DeviceID,
			&latitude,
			&longitude,
			&timestamp,
			&loc.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}

		// Rows without a fix carry no position and are skipped
		if !latitude.Valid || !longitude.Valid {
			continue
		}
		loc.Latitude = latitude.Float64
		loc.Longitude = longitude.Float64

		if timestamp.Valid {
			loc.TimestampMS = timestamp.Int64
			loc.HasTimestamp = true
		}

		locations = append(locations, loc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return locations, nil
}

// GetDates returns the days with recorded locations for a device, oldest first
func (c *Client) GetDates(ctx context.Context, deviceID string) ([]string, error) {
	query := `
		SELECT DISTINCT to_char(DATE(created_at AT TIME ZONE $2), 'YYYY-MM-DD') AS day
		FROM public.locations
		WHERE device_id = $1
		ORDER BY day
	`

	rows, err := c.db.QueryContext(ctx, query, deviceID, c.zone)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() { _ = rows.Close() }() // nolint:errcheck // Close in defer, error not actionable

	var dates []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		dates = append(dates, day)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	return dates, nil
}

// Dates implements the history store on top of GetDates
func (c *Client) Dates(ctx context.Context, vehicleID string) ([]string, error) {
	return c.GetDates(ctx, vehicleID)
}

// Day implements the history store: the vehicle ID is the OwnTracks device ID
func (c *Client) Day(ctx context.Context, vehicleID, date string) ([]calculator.GeoSample, error) {
	locations, err := c.GetLocationsByDate(ctx, date, vehicleID)
	if err != nil {
		return nil, err
	}
	return ToSamples(locations), nil
}

// ToSamples converts database locations to calculator samples in row order.
// Rows that fail snapshot validation, such as out of range coordinates, are
// skipped.
func ToSamples(locations []Location) []calculator.GeoSample {
	samples := make([]calculator.GeoSample, 0, len(locations))
	for _, loc := range locations {
		sample := calculator.NewSample(loc.Latitude, loc.Longitude)
		if loc.HasTimestamp {
			sample = calculator.NewTimedSample(loc.Latitude, loc.Longitude, loc.TimestampMS)
		}
		if err := snapshot.FromSample(sample).Validate(); err != nil {
			log.Debug().Err(err).Int64("id", loc.ID).Str("device_id", loc.DeviceID).Msg("Skipping invalid location row")
			continue
		}
		samples = append(samples, sample)
	}
	return samples
}

// HealthCheck verifies database connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
