package call

import (
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// LocalTrack is one captured audio track. The enabled flag is the mute
// switch: capture pumps stop writing samples while it is false, which
// is the Go equivalent of flipping track.enabled in a browser.
type LocalTrack struct {
	id      string
	enabled atomic.Bool

	// Local is the engine-attachable track; nil for fakes in tests.
	Local webrtc.TrackLocal

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewLocalAudioTrack(id string, local webrtc.TrackLocal) *LocalTrack {
	t := &LocalTrack{
		id:      id,
		Local:   local,
		stopped: make(chan struct{}),
	}
	t.enabled.Store(true)
	return t
}

func (t *LocalTrack) ID() string { return t.id }

func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

func (t *LocalTrack) SetEnabled(on bool) { t.enabled.Store(on) }

func (t *LocalTrack) Stopped() <-chan struct{} { return t.stopped }

// Stop ends capture for this track. Idempotent.
func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

// LocalStream is the microphone stream a session exclusively owns.
type LocalStream struct {
	tracks []*LocalTrack
}

func NewLocalStream(tracks ...*LocalTrack) *LocalStream {
	return &LocalStream{tracks: tracks}
}

func (s *LocalStream) AudioTracks() []*LocalTrack {
	if s == nil {
		return nil
	}
	return s.tracks
}

// SetEnabled flips every audio track's enabled flag.
func (s *LocalStream) SetEnabled(on bool) {
	for _, t := range s.AudioTracks() {
		t.SetEnabled(on)
	}
}

func (s *LocalStream) Stop() {
	for _, t := range s.AudioTracks() {
		t.Stop()
	}
}
