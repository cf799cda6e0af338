// Package call manages the client side of a voice call: one session at
// a time, driven through offer/answer/ICE exchange to a live media
// connection and back to idle. Coupling to the signaling transport and
// to the WebRTC engine is via the interfaces below only.
package call

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/lingolive/calls/internal/domain"
)

// Signaler is the only surface the call session needs from the
// signaling transport. Sends are best-effort; the session never
// retries them.
type Signaler interface {
	SendOffer(target domain.UserID, offer json.RawMessage, caller domain.User) error
	SendAnswer(target domain.UserID, answer json.RawMessage) error
	SendCandidate(target domain.UserID, candidate json.RawMessage) error
	SendDecline(target domain.UserID) error
	SendEnd(target domain.UserID, reason string) error
}

// MediaEngine creates peer connections. One connection per session.
type MediaEngine interface {
	NewConnection() (MediaConnection, error)
}

// MediaConnection is the session's view of a WebRTC peer connection.
// Callbacks must be set before Start; setting nil detaches a callback.
type MediaConnection interface {
	Start(ctx context.Context) error
	Close()
	AttachLocalAudio(stream *LocalStream) error
	// CreateOffer generates an offer and sets it as local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer sets the remote offer, then generates and sets the
	// local answer.
	CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// ApplyAnswer sets the remote answer on an offering connection.
	ApplyAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnRemoteTrack(fn func(RemoteTrack))
	OnStateChange(fn func(webrtc.PeerConnectionState))
}

// CaptureDevice acquires the local microphone. Implementations return
// domain.ErrNoAudioDevice when no source is available.
type CaptureDevice interface {
	OpenMicrophone(ctx context.Context) (*LocalStream, error)
}

// RemoteTrack is the displayed remote audio, owned by the session for
// playback purposes until cleanup.
type RemoteTrack interface {
	ID() string
	Stop()
}
