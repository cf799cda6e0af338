// Package protocol is the wire vocabulary spoken between the signaling
// relay and its clients. Offer, answer and candidate payloads are opaque
// session-description blobs: the relay checks only that the field is
// present and forwards the bytes unmodified.
package protocol

import (
	"encoding/json"

	"github.com/lingolive/calls/internal/domain"
)

// Client → server message kinds.
const (
	TypeAnnounce  = "announce"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "ice-candidate"
	TypeDecline   = "decline"
	TypeEnd       = "end"
	TypePing      = "ping"
)

// Server → client event kinds. Candidate forwarding reuses TypeCandidate.
const (
	TypeOnlineUsers     = "online-users"
	TypeIncomingCall    = "incoming-call"
	TypeCallAnswered    = "call-answered"
	TypeCallDeclined    = "call-declined"
	TypeCallEnded       = "call-ended"
	TypeCallUnavailable = "call-unavailable"
	TypePong            = "pong"
)

// Envelope carries only the discriminator; handlers re-unmarshal the
// full payload once the kind is known.
type Envelope struct {
	Type string `json:"type"`
}

type Announce struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"user_id"`
}

type Offer struct {
	Type     string          `json:"type"`
	TargetID domain.UserID   `json:"target_id"`
	Offer    json.RawMessage `json:"offer"`
	Caller   domain.User     `json:"caller"`
}

type Answer struct {
	Type     string          `json:"type"`
	TargetID domain.UserID   `json:"target_id"`
	Answer   json.RawMessage `json:"answer"`
}

type Candidate struct {
	Type      string          `json:"type"`
	TargetID  domain.UserID   `json:"target_id,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}

type Decline struct {
	Type     string        `json:"type"`
	TargetID domain.UserID `json:"target_id"`
}

type End struct {
	Type     string        `json:"type"`
	TargetID domain.UserID `json:"target_id"`
	Reason   string        `json:"reason,omitempty"`
}

type OnlineUsers struct {
	Type  string          `json:"type"`
	Users []domain.UserID `json:"users"`
}

type IncomingCall struct {
	Type   string          `json:"type"`
	From   domain.UserID   `json:"from"`
	Caller domain.User     `json:"caller"`
	Offer  json.RawMessage `json:"offer"`
}

type CallAnswered struct {
	Type   string          `json:"type"`
	Answer json.RawMessage `json:"answer"`
}

type CallDeclined struct {
	Type string `json:"type"`
}

type CallEnded struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

type CallUnavailable struct {
	Type     string        `json:"type"`
	TargetID domain.UserID `json:"target_id"`
}

type Pong struct {
	Type string `json:"type"`
}
