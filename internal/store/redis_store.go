// Package store keeps vehicle telemetry in Redis: the latest position, a
// pub/sub channel for the live feed, and one hash per recorded day.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/stuartshay/trip-tracker/internal/calculator"
	"github.com/stuartshay/trip-tracker/internal/session"
	"github.com/stuartshay/trip-tracker/internal/snapshot"
)

// DateLayout is the layout of history day keys
const DateLayout = "2006-01-02"

// RedisStore implements the live feed and history store on Redis
type RedisStore struct {
	Rdb      *redis.Client
	Location *time.Location
	IdemTTL  time.Duration
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(ctx context.Context, addr, password string, db int, loc *time.Location) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewFromClient(rdb, loc), nil
}

// NewFromClient wraps an existing client. Days are bucketed in loc (UTC when nil).
func NewFromClient(rdb *redis.Client, loc *time.Location) *RedisStore {
	if loc == nil {
		loc = time.UTC
	}
	return &RedisStore{Rdb: rdb, Location: loc, IdemTTL: time.Hour}
}

// Close closes the underlying client
func (s *RedisStore) Close() error {
	return s.Rdb.Close()
}

// HealthCheck verifies Redis connectivity
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.Rdb.Ping(ctx).Err()
}

func latestKey(vehicleID string) string { return "vehicle:" + vehicleID + ":latest" }

func liveChannel(vehicleID string) string { return "vehicle:" + vehicleID + ":live" }

func datesKey(vehicleID string) string { return "history:" + vehicleID + ":dates" }

func historyKey(vehicleID, date string) string { return "history:" + vehicleID + ":" + date }

// Recorded describes where a sample was stored
type Recorded struct {
	Date string
	Key  string
}

// Record stores a sample as the latest position, appends it to its day and
// publishes it on the live channel. The day comes from the sample timestamp,
// or from receivedAt when the sample has no clock.
func (s *RedisStore) Record(ctx context.Context, vehicleID string, sample calculator.GeoSample, receivedAt time.Time) (Recorded, error) {
	payload, err := snapshot.Encode(sample)
	if err != nil {
		return Recorded{}, fmt.Errorf("failed to encode sample: %w", err)
	}

	at := receivedAt
	if sample.HasTimestamp {
		at = time.UnixMilli(sample.Timestamp)
	}
	rec := Recorded{
		Date: at.In(s.Location).Format(DateLayout),
		Key:  fmt.Sprintf("%013d-%s", at.UnixMilli(), uuid.NewString()),
	}

	_, err = s.Rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, latestKey(vehicleID), payload, 0)
		pipe.HSet(ctx, historyKey(vehicleID, rec.Date), rec.Key, payload)
		pipe.SAdd(ctx, datesKey(vehicleID), rec.Date)
		pipe.Publish(ctx, liveChannel(vehicleID), payload)
		return nil
	})
	if err != nil {
		return Recorded{}, fmt.Errorf("failed to record sample: %w", err)
	}
	return rec, nil
}

func idemKey(vehicleID string, seq int64) string {
	return fmt.Sprintf("idem:%s:%d", vehicleID, seq)
}

// CheckIdempotency reports whether (vehicle, seq) is new and should be
// processed. A true result claims the pair until ReleaseIdempotency or the TTL.
func (s *RedisStore) CheckIdempotency(ctx context.Context, vehicleID string, seq int64) (bool, error) {
	return s.Rdb.SetNX(ctx, idemKey(vehicleID, seq), 1, s.IdemTTL).Result()
}

// ReleaseIdempotency drops a claim whose write failed so a retry is processed
func (s *RedisStore) ReleaseIdempotency(ctx context.Context, vehicleID string, seq int64) error {
	return s.Rdb.Del(ctx, idemKey(vehicleID, seq)).Err()
}

// Latest returns the most recent usable sample, if any
func (s *RedisStore) Latest(ctx context.Context, vehicleID string) (calculator.GeoSample, bool, error) {
	raw, err := s.Rdb.Get(ctx, latestKey(vehicleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return calculator.GeoSample{}, false, nil
	}
	if err != nil {
		return calculator.GeoSample{}, false, fmt.Errorf("failed to read latest position: %w", err)
	}
	sample, err := snapshot.Decode(raw)
	if err != nil {
		return calculator.GeoSample{}, false, nil
	}
	return sample, true, nil
}

// Dates lists recorded days, oldest first
func (s *RedisStore) Dates(ctx context.Context, vehicleID string) ([]string, error) {
	dates, err := s.Rdb.SMembers(ctx, datesKey(vehicleID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dates: %w", err)
	}
	slices.Sort(dates)
	return dates, nil
}

// Day returns the usable samples recorded for date in key order
func (s *RedisStore) Day(ctx context.Context, vehicleID, date string) ([]calculator.GeoSample, error) {
	entries, err := s.Rdb.HGetAll(ctx, historyKey(vehicleID, date)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read day %s: %w", date, err)
	}
	return snapshot.DecodeSet(entries), nil
}

// Subscribe opens the live feed. The current latest value, when present, is
// delivered first, followed by every published update.
func (s *RedisStore) Subscribe(ctx context.Context, vehicleID string) (session.Subscription, error) {
	pubsub := s.Rdb.Subscribe(ctx, liveChannel(vehicleID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	latest, err := s.Rdb.Get(ctx, latestKey(vehicleID)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to read latest position: %w", err)
	}

	sub := &LiveSubscription{
		pubsub:  pubsub,
		updates: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go sub.run(latest)
	return sub, nil
}

// LiveSubscription relays a Redis pub/sub channel
type LiveSubscription struct {
	pubsub  *redis.PubSub
	updates chan []byte
	done    chan struct{}
	once    sync.Once
	err     error
}

// Updates returns raw snapshots in delivery order
func (s *LiveSubscription) Updates() <-chan []byte {
	return s.updates
}

// Close unsubscribes; Updates is closed shortly after
func (s *LiveSubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.err = s.pubsub.Close()
	})
	return s.err
}

func (s *LiveSubscription) run(initial []byte) {
	defer close(s.updates)

	if initial != nil {
		select {
		case s.updates <- initial:
		case <-s.done:
			return
		}
	}

	messages := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			select {
			case s.updates <- []byte(msg.Payload):
			case <-s.done:
				return
			}
		}
	}
}
