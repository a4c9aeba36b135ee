package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stuartshay/trip-tracker/internal/calculator"
)

type fakeSub struct {
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

func (s *fakeSub) Updates() <-chan []byte { return s.ch }

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSub
	err  error
}

func (f *fakeFeed) Subscribe(_ context.Context, _ string) (Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub := &fakeSub{ch: make(chan []byte, 16)}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.mu.Unlock()
	return sub, nil
}

func (f *fakeFeed) last() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

type fakeHistory struct {
	days    map[string][]calculator.GeoSample
	entered chan struct{}
	gate    chan struct{}
	err     error
}

func (h *fakeHistory) Dates(_ context.Context, _ string) ([]string, error) {
	dates := make([]string, 0, len(h.days))
	for d := range h.days {
		dates = append(dates, d)
	}
	return dates, nil
}

func (h *fakeHistory) Day(_ context.Context, _ string, date string) ([]calculator.GeoSample, error) {
	if h.entered != nil {
		h.entered <- struct{}{}
	}
	if h.gate != nil {
		<-h.gate
	}
	if h.err != nil {
		return nil, h.err
	}
	return h.days[date], nil
}

func oneHourTrip() []calculator.GeoSample {
	return []calculator.GeoSample{
		calculator.NewTimedSample(0, 0, 0),
		calculator.NewTimedSample(0, 1, 3600000),
	}
}

func livePayload(lat, lng float64) []byte {
	return []byte(fmt.Sprintf(`{"lat":%v,"lng":%v}`, lat, lng))
}

func TestMachineLiveDropsMalformedSample(t *testing.T) {
	tracker := NewTracker("vehicle1", &fakeFeed{}, &fakeHistory{})
	tok := tracker.machine.Token()

	require.NoError(t, tracker.HandleLive(tok, livePayload(-32.48, -58.23)))
	require.NoError(t, tracker.HandleLive(tok, livePayload(-32.481, -58.231)))
	require.NoError(t, tracker.HandleLive(tok, livePayload(-32.482, -58.232)))
	require.Error(t, tracker.HandleLive(tok, []byte(`{"lng":-58.233}`)))

	view := tracker.View()
	assert.Equal(t, ModeLive, view.Mode)
	assert.Len(t, view.Path, 3)
	require.NotNil(t, view.Current)
	assert.Equal(t, calculator.LatLng{-32.482, -58.232}, *view.Current)
	assert.Nil(t, view.Metrics)
}

func TestMachineTransitions(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, ModeLive, m.Mode())

	liveTok := m.Token()
	require.NoError(t, m.ApplyLive(liveTok, calculator.NewSample(1, 1)))

	selTok := m.SelectHistory()
	assert.Equal(t, ModeHistorySelecting, m.Mode())
	assert.ErrorIs(t, m.ApplyLive(liveTok, calculator.NewSample(2, 2)), ErrStale)
	assert.ErrorIs(t, m.ApplyLive(selTok, calculator.NewSample(2, 2)), ErrNotLive)
	_, err := m.ApplyHistory(selTok, oneHourTrip())
	assert.ErrorIs(t, err, ErrNotHistory)

	histTok := m.BeginHistory("2024-12-04")
	applied, err := m.ApplyHistory(histTok, oneHourTrip())
	require.NoError(t, err)
	assert.True(t, applied)

	view := m.View()
	assert.Equal(t, ModeHistoryLoaded, view.Mode)
	assert.Equal(t, "2024-12-04", view.Date)
	assert.Equal(t, "2024-12-04", view.TripDate)
	require.NotNil(t, view.Metrics)
	assert.InDelta(t, 111195, view.Metrics.TotalDistanceMeters, 50)
	require.NotNil(t, view.Start)
	assert.Equal(t, calculator.LatLng{0, 0}, *view.Start)

	m.EnterLive()
	view = m.View()
	assert.Equal(t, ModeLive, view.Mode)
	assert.Empty(t, view.Path, "live path restarts empty")
	assert.Nil(t, view.Current)
	assert.Nil(t, view.Metrics)
}

func TestMachineEmptyHistoryKeepsPreviousTrip(t *testing.T) {
	m := NewMachine()

	tok := m.BeginHistory("2024-12-04")
	_, err := m.ApplyHistory(tok, oneHourTrip())
	require.NoError(t, err)
	before := m.View()

	tok = m.BeginHistory("2024-12-05")
	applied, err := m.ApplyHistory(tok, nil)
	require.NoError(t, err)
	assert.False(t, applied)

	after := m.View()
	assert.Equal(t, "2024-12-05", after.Date)
	assert.Equal(t, "2024-12-04", after.TripDate)
	assert.Equal(t, before.Path, after.Path)
	assert.Equal(t, before.Metrics, after.Metrics)
}

func TestMachineStaleHistoryIgnored(t *testing.T) {
	m := NewMachine()

	first := m.BeginHistory("2024-12-04")
	second := m.BeginHistory("2024-12-05")

	_, err := m.ApplyHistory(first, oneHourTrip())
	assert.ErrorIs(t, err, ErrStale)
	assert.Nil(t, m.View().Metrics)

	applied, err := m.ApplyHistory(second, oneHourTrip()[:1])
	require.NoError(t, err)
	assert.True(t, applied)
	view := m.View()
	require.NotNil(t, view.Metrics)
	assert.Zero(t, *view.Metrics)
	assert.Nil(t, view.Start, "start marker needs more than one point")
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "live", ModeLive.String())
	assert.Equal(t, "history_selecting", ModeHistorySelecting.String())
	assert.Equal(t, "history_loaded", ModeHistoryLoaded.String())
	assert.Equal(t, "mode(9)", Mode(9).String())
}

func TestTrackerStartLive(t *testing.T) {
	feed := &fakeFeed{}
	tracker := NewTracker("vehicle1", feed, &fakeHistory{})
	defer tracker.Close()

	require.NoError(t, tracker.StartLive(context.Background()))
	sub := feed.last()

	sub.ch <- livePayload(-32.48, -58.23)
	sub.ch <- []byte(`not json`)
	sub.ch <- livePayload(-32.49, -58.24)

	require.Eventually(t, func() bool {
		return len(tracker.View().Path) == 2
	}, time.Second, 10*time.Millisecond)

	tracker.StopLive()
	assert.True(t, sub.isClosed())
	assert.Len(t, tracker.View().Path, 2, "path stays visible after stop")
}

func TestTrackerRestartLiveResetsPath(t *testing.T) {
	feed := &fakeFeed{}
	tracker := NewTracker("vehicle1", feed, &fakeHistory{})
	defer tracker.Close()

	require.NoError(t, tracker.StartLive(context.Background()))
	first := feed.last()
	first.ch <- livePayload(1, 1)
	require.Eventually(t, func() bool { return len(tracker.View().Path) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, tracker.StartLive(context.Background()))
	assert.True(t, first.isClosed())
	assert.Empty(t, tracker.View().Path)
}

func TestTrackerStartLiveError(t *testing.T) {
	tracker := NewTracker("vehicle1", &fakeFeed{err: errors.New("redis down")}, &fakeHistory{})
	err := tracker.StartLive(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestTrackerLoadHistory(t *testing.T) {
	history := &fakeHistory{days: map[string][]calculator.GeoSample{
		"2024-12-04": oneHourTrip(),
		"2024-12-05": {},
	}}
	tracker := NewTracker("vehicle1", &fakeFeed{}, history)

	dates, err := tracker.Dates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-12-04", "2024-12-05"}, dates)

	view, err := tracker.LoadHistory(context.Background(), "2024-12-04")
	require.NoError(t, err)
	require.NotNil(t, view.Metrics)
	assert.InDelta(t, 111195, view.Metrics.TotalDistanceMeters, 50)
	assert.InDelta(t, 111.195, view.Metrics.AvgSpeedKmh, 0.05)
	assert.Equal(t, view.Metrics.AvgSpeedKmh, view.Metrics.MaxSpeedKmh)

	again, err := tracker.LoadHistory(context.Background(), "2024-12-04")
	require.NoError(t, err)
	assert.Equal(t, view.Metrics, again.Metrics)

	empty, err := tracker.LoadHistory(context.Background(), "2024-12-05")
	require.NoError(t, err)
	assert.Equal(t, "2024-12-05", empty.Date)
	assert.Equal(t, view.Metrics, empty.Metrics)

	_, err = tracker.LoadHistory(context.Background(), "2030-01-01")
	assert.ErrorIs(t, err, ErrUnknownDate)
	assert.Equal(t, "2024-12-05", tracker.View().Date, "unknown date leaves the view alone")
}

func TestTrackerLoadHistoryError(t *testing.T) {
	history := &fakeHistory{
		days: map[string][]calculator.GeoSample{"2024-12-04": oneHourTrip()},
		err:  errors.New("boom"),
	}
	tracker := NewTracker("vehicle1", &fakeFeed{}, history)

	_, err := tracker.LoadHistory(context.Background(), "2024-12-04")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestTrackerSupersededHistoryLoad(t *testing.T) {
	history := &fakeHistory{
		days:    map[string][]calculator.GeoSample{"2024-12-04": oneHourTrip()},
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	feed := &fakeFeed{}
	tracker := NewTracker("vehicle1", feed, history)
	defer tracker.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := tracker.LoadHistory(context.Background(), "2024-12-04")
		errCh <- err
	}()

	<-history.entered
	require.NoError(t, tracker.StartLive(context.Background()))
	close(history.gate)

	assert.ErrorIs(t, <-errCh, ErrStale)
	view := tracker.View()
	assert.Equal(t, ModeLive, view.Mode)
	assert.Nil(t, view.Metrics)
}

func TestTrackerSelectHistoryStopsLive(t *testing.T) {
	feed := &fakeFeed{}
	tracker := NewTracker("vehicle1", feed, &fakeHistory{})

	require.NoError(t, tracker.StartLive(context.Background()))
	tok := tracker.SelectHistory()

	assert.True(t, feed.last().isClosed())
	assert.Equal(t, ModeHistorySelecting, tracker.View().Mode)
	assert.ErrorIs(t, tracker.HandleLive(tok, livePayload(1, 1)), ErrNotLive)
}

func TestFollow(t *testing.T) {
	feed := &fakeFeed{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := Follow(ctx, feed, "vehicle1")
	require.NoError(t, err)
	sub := feed.last()

	sub.ch <- livePayload(1, 1)
	sub.ch <- []byte(`{"lat":null,"lng":2}`)
	sub.ch <- livePayload(3, 3)

	first := <-updates
	assert.Equal(t, calculator.LatLng{1, 1}, first.Position)
	assert.Equal(t, 1, first.PathLength)

	second := <-updates
	assert.Equal(t, calculator.LatLng{3, 3}, second.Position)
	assert.Equal(t, 2, second.PathLength)

	cancel()
	for range updates {
	}
	assert.True(t, sub.isClosed())
}

func TestFollowSubscribeError(t *testing.T) {
	_, err := Follow(context.Background(), &fakeFeed{err: errors.New("no feed")}, "vehicle1")
	require.Error(t, err)
}
