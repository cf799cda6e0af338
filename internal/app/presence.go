package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lingolive/calls/internal/core"
	"github.com/lingolive/calls/internal/domain"
)

// Presence implements core.PresenceRegistry. It keeps the inverse
// connection→user mapping alongside the forward one so disconnect
// cleanup stays O(1) instead of a scan over all entries.
type Presence struct {
	mu     sync.RWMutex
	byUser map[domain.UserID]core.SignalConnection
	byConn map[core.SignalConnection]domain.UserID
}

func NewPresence() *Presence {
	return &Presence{
		byUser: make(map[domain.UserID]core.SignalConnection),
		byConn: make(map[core.SignalConnection]domain.UserID),
	}
}

// Register upserts the entry for id. A later announce for the same id
// displaces the previous connection; a re-announce on the same
// connection under a new id drops the old id first.
func (p *Presence) Register(id domain.UserID, conn core.SignalConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.byUser[id]; ok && prev != conn {
		delete(p.byConn, prev)
	}
	if prevID, ok := p.byConn[conn]; ok && prevID != id {
		delete(p.byUser, prevID)
	}
	p.byUser[id] = conn
	p.byConn[conn] = id
	log.Info().Str("module", "app.presence").Str("user_id", string(id)).Msg("registered")
}

func (p *Presence) UnregisterConn(conn core.SignalConnection) (domain.UserID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, ok := p.byConn[conn]
	if !ok {
		return "", false
	}
	delete(p.byConn, conn)
	// Guard against the entry having been overwritten by a later
	// announce from another connection.
	if cur, ok := p.byUser[id]; ok && cur == conn {
		delete(p.byUser, id)
	}
	log.Info().Str("module", "app.presence").Str("user_id", string(id)).Msg("unregistered")
	return id, true
}

func (p *Presence) Lookup(id domain.UserID) (core.SignalConnection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, ok := p.byUser[id]
	return conn, ok
}

func (p *Presence) OnlineIDs() []domain.UserID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.UserID, 0, len(p.byUser))
	for id := range p.byUser {
		out = append(out, id)
	}
	return out
}
