// Package session models which view of the vehicle is active (live feed,
// date selection, or a loaded day) and folds incoming samples into that view.
// Every transition issues a new token; deliveries carrying an older token are
// rejected so a late callback can never overwrite the current view.
package session

import (
	"errors"
	"fmt"

	"github.com/stuartshay/trip-tracker/internal/calculator"
)

// Errors returned when a delivery does not match the active view
var (
	ErrStale       = errors.New("stale delivery")
	ErrNotLive     = errors.New("session is not in live mode")
	ErrNotHistory  = errors.New("session is not loading history")
	ErrUnknownDate = errors.New("no history recorded for date")
)

// Mode is the active view
type Mode int

// Modes of a session
const (
	ModeLive Mode = iota
	ModeHistorySelecting
	ModeHistoryLoaded
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeHistorySelecting:
		return "history_selecting"
	case ModeHistoryLoaded:
		return "history_loaded"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Token identifies one transition of a Machine
type Token uint64

// Machine is the view state machine. It is not safe for concurrent use.
type Machine struct {
	mode  Mode
	date  string
	token Token

	live *calculator.LiveTrack

	trip     *calculator.Trip
	tripDate string
}

// NewMachine returns a machine in live mode with an empty track
func NewMachine() *Machine {
	m := &Machine{}
	m.EnterLive()
	return m
}

// Mode returns the active view
func (m *Machine) Mode() Mode { return m.mode }

// Token returns the token of the latest transition
func (m *Machine) Token() Token { return m.token }

func (m *Machine) advance(mode Mode) Token {
	m.mode = mode
	m.token++
	return m.token
}

// EnterLive switches to live mode. The live path always restarts empty and
// any loaded day is discarded.
func (m *Machine) EnterLive() Token {
	m.date = ""
	m.live = calculator.NewLiveTrack()
	m.trip = nil
	m.tripDate = ""
	return m.advance(ModeLive)
}

// SelectHistory switches to date selection. A previously loaded day stays
// visible until another one replaces it.
func (m *Machine) SelectHistory() Token {
	m.date = ""
	m.live = nil
	return m.advance(ModeHistorySelecting)
}

// BeginHistory selects date and returns the token its load must carry.
func (m *Machine) BeginHistory(date string) Token {
	m.date = date
	m.live = nil
	return m.advance(ModeHistoryLoaded)
}

// ApplyLive appends a live sample delivered under tok.
func (m *Machine) ApplyLive(tok Token, sample calculator.GeoSample) error {
	if tok != m.token {
		return ErrStale
	}
	if m.mode != ModeLive {
		return ErrNotLive
	}
	m.live.Append(sample)
	return nil
}

// ApplyHistory replaces the loaded day with the trip built from samples.
// An empty day leaves the previous trip untouched and reports false.
func (m *Machine) ApplyHistory(tok Token, samples []calculator.GeoSample) (bool, error) {
	if tok != m.token {
		return false, ErrStale
	}
	if m.mode != ModeHistoryLoaded {
		return false, ErrNotHistory
	}
	if len(samples) == 0 {
		return false, nil
	}

	trip := calculator.Aggregate(samples)
	m.trip = &trip
	m.tripDate = m.date
	return true, nil
}

// View is what the presentation layer draws
type View struct {
	Mode     Mode
	Date     string
	Path     calculator.Path
	Current  *calculator.LatLng
	Start    *calculator.LatLng
	Metrics  *calculator.TripMetrics
	TripDate string
}

// View snapshots the current state. Returned slices are copies.
func (m *Machine) View() View {
	v := View{Mode: m.mode, Date: m.date}

	if m.mode == ModeLive {
		v.Path = m.live.Path()
		if pos, ok := m.live.Current(); ok {
			v.Current = &pos
		}
		return v
	}

	if m.trip != nil {
		path := make(calculator.Path, len(m.trip.Path))
		copy(path, m.trip.Path)
		v.Path = path
		metrics := m.trip.Metrics
		v.Metrics = &metrics
		v.TripDate = m.tripDate
		if start, ok := m.trip.Start(); ok && len(path) > 1 {
			v.Start = &start
		}
	}
	return v
}
