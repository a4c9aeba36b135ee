package calculator

import "testing"

func TestLiveTrack(t *testing.T) {
	track := NewLiveTrack()

	if _, ok := track.Current(); ok {
		t.Error("expected no current position on a new track")
	}
	if track.Len() != 0 {
		t.Errorf("expected empty path, got %d points", track.Len())
	}

	track.Append(NewSample(-32.48, -58.23))
	track.Append(NewSample(-32.481, -58.231))
	track.Append(NewTimedSample(0, 0, 0))

	if track.Len() != 3 {
		t.Fatalf("expected 3 points, got %d", track.Len())
	}
	current, ok := track.Current()
	if !ok || current != (LatLng{0, 0}) {
		t.Errorf("expected current (0,0), got %v (ok=%v)", current, ok)
	}

	path := track.Path()
	path[0] = LatLng{1, 1}
	if track.Path()[0] != (LatLng{-32.48, -58.23}) {
		t.Error("expected Path to return a copy")
	}
}
