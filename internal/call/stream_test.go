package call

import "testing"

func TestLocalStreamSetEnabledAllTracks(t *testing.T) {
	stream := NewLocalStream(
		NewLocalAudioTrack("a", nil),
		NewLocalAudioTrack("b", nil),
		NewLocalAudioTrack("c", nil),
	)

	for _, tr := range stream.AudioTracks() {
		if !tr.Enabled() {
			t.Fatalf("track %s should start enabled", tr.ID())
		}
	}

	stream.SetEnabled(false)
	for _, tr := range stream.AudioTracks() {
		if tr.Enabled() {
			t.Fatalf("track %s should be disabled", tr.ID())
		}
	}

	stream.SetEnabled(true)
	for _, tr := range stream.AudioTracks() {
		if !tr.Enabled() {
			t.Fatalf("track %s should be re-enabled", tr.ID())
		}
	}
}

func TestLocalTrackStopIdempotent(t *testing.T) {
	tr := NewLocalAudioTrack("a", nil)
	tr.Stop()
	tr.Stop()

	select {
	case <-tr.Stopped():
	default:
		t.Fatal("stopped channel should be closed")
	}
}

func TestNilStreamAccessors(t *testing.T) {
	var s *LocalStream
	if got := s.AudioTracks(); got != nil {
		t.Fatalf("nil stream tracks = %v, want nil", got)
	}
}
