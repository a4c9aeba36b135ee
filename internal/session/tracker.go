package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stuartshay/trip-tracker/internal/calculator"
	"github.com/stuartshay/trip-tracker/internal/snapshot"
)

// Subscription is an open live feed. Updates carries raw snapshots in
// delivery order and is closed when the feed ends.
type Subscription interface {
	Updates() <-chan []byte
	Close() error
}

// LiveFeed opens live subscriptions for a vehicle
type LiveFeed interface {
	Subscribe(ctx context.Context, vehicleID string) (Subscription, error)
}

// HistoryStore serves recorded days for a vehicle
type HistoryStore interface {
	Dates(ctx context.Context, vehicleID string) ([]string, error)
	Day(ctx context.Context, vehicleID, date string) ([]calculator.GeoSample, error)
}

// Tracker owns the view of a single vehicle: its state machine, the live
// subscription handle and historical loads. Each Tracker holds its own path
// and metrics.
type Tracker struct {
	vehicleID string
	feed      LiveFeed
	history   HistoryStore
	tracer    trace.Tracer

	mu      sync.Mutex
	machine *Machine
	sub     Subscription
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTracker creates a tracker in live mode without an open subscription
func NewTracker(vehicleID string, feed LiveFeed, history HistoryStore) *Tracker {
	return &Tracker{
		vehicleID: vehicleID,
		feed:      feed,
		history:   history,
		tracer:    otel.Tracer("github.com/stuartshay/trip-tracker/internal/session"),
		machine:   NewMachine(),
	}
}

// VehicleID returns the tracked vehicle
func (t *Tracker) VehicleID() string { return t.vehicleID }

// View returns the current view
func (t *Tracker) View() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.machine.View()
}

// StartLive enters live mode and opens a new subscription. The live path
// restarts empty; an already open subscription is closed first.
func (t *Tracker) StartLive(ctx context.Context) error {
	t.mu.Lock()
	stop := t.detachLocked()
	tok := t.machine.EnterLive()
	t.mu.Unlock()
	stop()

	sub, err := t.feed.Subscribe(ctx, t.vehicleID)
	if err != nil {
		return fmt.Errorf("failed to subscribe to live feed: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	if t.machine.Token() != tok {
		t.mu.Unlock()
		cancel()
		_ = sub.Close()
		return ErrStale
	}
	t.sub, t.cancel, t.done = sub, cancel, done
	t.mu.Unlock()

	log.Info().Str("vehicle_id", t.vehicleID).Msg("Live subscription started")

	go t.consume(loopCtx, tok, sub, done)
	return nil
}

// StopLive closes the live subscription, if any. The accumulated path stays
// visible until the mode changes.
func (t *Tracker) StopLive() {
	t.mu.Lock()
	stop := t.detachLocked()
	t.mu.Unlock()
	stop()
}

// detachLocked takes ownership of the open subscription and returns the
// function that shuts it down. The caller must run it without holding mu.
func (t *Tracker) detachLocked() func() {
	sub, cancel, done := t.sub, t.cancel, t.done
	t.sub, t.cancel, t.done = nil, nil, nil
	if sub == nil {
		return func() {}
	}
	return func() {
		cancel()
		if err := sub.Close(); err != nil {
			log.Warn().Err(err).Str("vehicle_id", t.vehicleID).Msg("Failed to close live subscription")
		}
		<-done
		log.Info().Str("vehicle_id", t.vehicleID).Msg("Live subscription stopped")
	}
}

func (t *Tracker) consume(ctx context.Context, tok Token, sub Subscription, done chan struct{}) {
	defer close(done)

	updates := sub.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-updates:
			if !ok {
				return
			}
			_ = t.HandleLive(tok, raw)
		}
	}
}

// HandleLive folds one raw live snapshot delivered under tok. Unusable
// snapshots and stale deliveries are dropped and reported.
func (t *Tracker) HandleLive(tok Token, raw []byte) error {
	sample, err := snapshot.Decode(raw)
	if err != nil {
		log.Debug().Err(err).Str("vehicle_id", t.vehicleID).Msg("Dropping live snapshot")
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.machine.ApplyLive(tok, sample); err != nil {
		log.Debug().Err(err).Str("vehicle_id", t.vehicleID).Msg("Ignoring live delivery")
		return err
	}
	return nil
}

// SelectHistory leaves live mode for date selection
func (t *Tracker) SelectHistory() Token {
	t.mu.Lock()
	stop := t.detachLocked()
	tok := t.machine.SelectHistory()
	t.mu.Unlock()
	stop()
	return tok
}

// Dates lists the days that have recorded history, oldest first
func (t *Tracker) Dates(ctx context.Context) ([]string, error) {
	dates, err := t.history.Dates(ctx, t.vehicleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history dates: %w", err)
	}
	slices.Sort(dates)
	return dates, nil
}

// LoadHistory selects date and loads its trip. Dates without recorded history
// are rejected without changing the view. A day that turns out empty leaves
// the previous trip in place. If another transition happens while the day is
// being fetched the result is discarded and ErrStale returned.
func (t *Tracker) LoadHistory(ctx context.Context, date string) (View, error) {
	ctx, span := t.tracer.Start(ctx, "session.LoadHistory",
		trace.WithAttributes(
			attribute.String("vehicle_id", t.vehicleID),
			attribute.String("date", date),
		),
	)
	defer span.End()

	dates, err := t.Dates(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list dates failed")
		return View{}, err
	}
	if !slices.Contains(dates, date) {
		return View{}, fmt.Errorf("%w: %s", ErrUnknownDate, date)
	}

	t.mu.Lock()
	stop := t.detachLocked()
	tok := t.machine.BeginHistory(date)
	t.mu.Unlock()
	stop()

	samples, err := t.history.Day(ctx, t.vehicleID, date)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load day failed")
		return View{}, fmt.Errorf("failed to load history for %s: %w", date, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	applied, err := t.machine.ApplyHistory(tok, samples)
	if err != nil {
		if errors.Is(err, ErrStale) {
			log.Debug().Str("date", date).Msg("Discarding superseded history load")
		}
		return View{}, err
	}

	span.SetAttributes(
		attribute.Int("samples", len(samples)),
		attribute.Bool("applied", applied),
	)

	view := t.machine.View()
	if applied {
		log.Info().
			Str("vehicle_id", t.vehicleID).
			Str("date", date).
			Int("samples", len(samples)).
			Float64("total_distance_km", view.Metrics.TotalDistanceKm()).
			Float64("max_speed_kmh", view.Metrics.MaxSpeedKmh).
			Float64("avg_speed_kmh", view.Metrics.AvgSpeedKmh).
			Msg("History loaded")
	} else {
		log.Warn().Str("vehicle_id", t.vehicleID).Str("date", date).Msg("No samples for date, keeping previous trip")
	}
	return view, nil
}

// Close releases the live subscription
func (t *Tracker) Close() {
	t.StopLive()
}
