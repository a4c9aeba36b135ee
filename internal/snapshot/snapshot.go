// Package snapshot validates raw location snapshots delivered by the data
// source and turns the usable ones into calculator samples.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/trip-tracker/internal/calculator"
)

// ErrInvalid marks a snapshot that failed decoding or schema validation
var ErrInvalid = errors.New("invalid snapshot")

// Snapshot is the wire form of one observation. Coordinates are pointers so
// an absent or null field is distinguishable from 0.
type Snapshot struct {
	Lat       *float64 `json:"lat" validate:"required,latitude"`
	Lng       *float64 `json:"lng" validate:"required,longitude"`
	Timestamp *Millis  `json:"timestamp,omitempty"`
}

// Millis is an epoch-millisecond clock reading. Decoding never fails: a value
// that is not an integral JSON number leaves it invalid, and the sample is
// kept without a clock.
type Millis struct {
	Value int64
	Valid bool
}

// UnmarshalJSON accepts integer literals and integral floats such as 1.7e12
func (m *Millis) UnmarshalJSON(data []byte) error {
	*m = Millis{}

	raw := string(data)
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*m = Millis{Value: v, Valid: true}
		return nil
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil
	}
	*m = Millis{Value: int64(f), Valid: true}
	return nil
}

// MarshalJSON writes the reading as an integer, or null when invalid
func (m Millis) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, m.Value, 10), nil
}

var validate = validator.New()

// Validate checks the snapshot against the schema
func (s Snapshot) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Sample converts a validated snapshot. Calling it on an invalid snapshot
// panics.
func (s Snapshot) Sample() calculator.GeoSample {
	if s.Timestamp != nil && s.Timestamp.Valid {
		return calculator.NewTimedSample(*s.Lat, *s.Lng, s.Timestamp.Value)
	}
	return calculator.NewSample(*s.Lat, *s.Lng)
}

// FromSample builds the wire form of a sample
func FromSample(sample calculator.GeoSample) Snapshot {
	lat, lng := sample.Lat, sample.Lng
	s := Snapshot{Lat: &lat, Lng: &lng}
	if sample.HasTimestamp {
		s.Timestamp = &Millis{Value: sample.Timestamp, Valid: true}
	}
	return s
}

// Encode marshals a sample to its JSON wire form
func Encode(sample calculator.GeoSample) ([]byte, error) {
	return json.Marshal(FromSample(sample))
}

// Decode parses and validates one JSON snapshot
func Decode(data []byte) (calculator.GeoSample, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return calculator.GeoSample{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return calculator.GeoSample{}, err
	}
	return s.Sample(), nil
}

// DecodeSet decodes a keyed collection of snapshots. Keys only fix the
// delivery order (ascending); unusable entries are skipped.
func DecodeSet(entries map[string]string) []calculator.GeoSample {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	samples := make([]calculator.GeoSample, 0, len(keys))
	for _, k := range keys {
		sample, err := Decode([]byte(entries[k]))
		if err != nil {
			log.Debug().Err(err).Str("key", k).Msg("Skipping unusable snapshot")
			continue
		}
		samples = append(samples, sample)
	}
	return samples
}
