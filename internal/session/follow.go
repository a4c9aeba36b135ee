package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/stuartshay/trip-tracker/internal/calculator"
	"github.com/stuartshay/trip-tracker/internal/snapshot"
)

// LiveUpdate is emitted for every accepted live sample
type LiveUpdate struct {
	Position   calculator.LatLng
	PathLength int
}

// Follow opens a live subscription owned by the caller, independent of any
// Tracker, and emits an update per accepted sample. The channel is closed
// when ctx is done or the feed ends.
func Follow(ctx context.Context, feed LiveFeed, vehicleID string) (<-chan LiveUpdate, error) {
	sub, err := feed.Subscribe(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to live feed: %w", err)
	}

	out := make(chan LiveUpdate, 16)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()

		track := calculator.NewLiveTrack()
		updates := sub.Updates()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-updates:
				if !ok {
					return
				}
				sample, err := snapshot.Decode(raw)
				if err != nil {
					log.Debug().Err(err).Str("vehicle_id", vehicleID).Msg("Dropping live snapshot")
					continue
				}
				track.Append(sample)
				pos, _ := track.Current()
				select {
				case out <- LiveUpdate{Position: pos, PathLength: track.Len()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
