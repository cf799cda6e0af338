package core

import "github.com/lingolive/calls/internal/domain"

// Frame is a marshaled signaling event ready for the wire.
type Frame []byte

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PresenceRegistry maps announced user identity to a live connection.
// At most one connection per user id; last announce wins.
type PresenceRegistry interface {
	Register(id domain.UserID, conn SignalConnection)
	// UnregisterConn removes the entry whose connection equals conn,
	// reporting which user (if any) went offline.
	UnregisterConn(conn SignalConnection) (domain.UserID, bool)
	Lookup(id domain.UserID) (SignalConnection, bool)
	OnlineIDs() []domain.UserID
}
