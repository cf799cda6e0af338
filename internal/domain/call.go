package domain

import "errors"

// CallState is the lifecycle position of the local call session.
type CallState string

const (
	CallIdle       CallState = "idle"
	CallCalling    CallState = "calling"
	CallIncoming   CallState = "incoming"
	CallConnecting CallState = "connecting"
	CallConnected  CallState = "connected"
)

func (s CallState) Active() bool { return s != CallIdle }

type CallDirection string

const (
	DirectionOutgoing CallDirection = "outgoing"
	DirectionIncoming CallDirection = "incoming"
)

// End reasons carried on the wire in call-ended events.
const (
	ReasonEnded   = "ended"
	ReasonTimeout = "timeout"
)

var (
	// ErrNoAudioDevice is the media-acquisition failure: no microphone
	// source is available or permission was denied.
	ErrNoAudioDevice = errors.New("no audio device available")

	// ErrNotIdle rejects a start/accept while another call session exists.
	ErrNotIdle = errors.New("call session is not idle")

	// ErrNoPendingCall rejects accept/decline without a held incoming offer.
	ErrNoPendingCall = errors.New("no pending incoming call")
)
