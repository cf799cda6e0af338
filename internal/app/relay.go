// Package app holds the server-side call signaling core: the presence
// registry and the relay that routes signaling events between announced
// users. The relay is stateless with respect to calls: it never tracks
// who is talking to whom. Call-state correctness lives in the client
// session state machine.
package app

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lingolive/calls/internal/core"
	"github.com/lingolive/calls/internal/domain"
	"github.com/lingolive/calls/internal/protocol"
)

// Relay forwards the six signaling kinds between connections, resolving
// targets through the presence registry. It also owns the set of all
// live connections so presence snapshots reach every socket, announced
// or not.
type Relay struct {
	presence core.PresenceRegistry
	limiter  *OfferRateLimiter

	mu    sync.RWMutex
	conns map[core.SignalConnection]struct{}
}

func NewRelay(presence core.PresenceRegistry, limiter *OfferRateLimiter) *Relay {
	return &Relay{
		presence: presence,
		limiter:  limiter,
		conns:    make(map[core.SignalConnection]struct{}),
	}
}

// Connect tracks a new live connection. No presence broadcast yet: the
// socket is invisible to peers until it announces an identity.
func (r *Relay) Connect(conn core.SignalConnection) {
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()
}

// Disconnect drops the connection and, if it had announced, evicts the
// presence entry and re-broadcasts the snapshot.
func (r *Relay) Disconnect(conn core.SignalConnection) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()

	if id, ok := r.presence.UnregisterConn(conn); ok {
		log.Info().Str("module", "app.relay").Str("user_id", string(id)).Msg("user went offline")
		r.broadcastPresence()
	}
}

// Announce asserts the user identity for conn. Last announce wins.
func (r *Relay) Announce(conn core.SignalConnection, id domain.UserID) {
	if err := id.Validate(); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("announce dropped")
		return
	}
	r.presence.Register(id, conn)
	r.broadcastPresence()
}

// Offer routes a call offer to its target, or reports call-unavailable
// back to the sender when the target is offline. Offers are the only
// kind with a failure reply; everything else fails silently.
func (r *Relay) Offer(sender core.SignalConnection, p protocol.Offer) {
	if p.TargetID == "" || len(p.Offer) == 0 || p.Caller.ID == "" {
		return
	}
	if !r.limiter.Allow(p.Caller.ID) {
		log.Warn().Str("module", "app.relay").Str("caller", string(p.Caller.ID)).Msg("offer rate limited")
		return
	}

	target, ok := r.presence.Lookup(p.TargetID)
	if !ok {
		r.sendEvent(sender, protocol.CallUnavailable{
			Type:     protocol.TypeCallUnavailable,
			TargetID: p.TargetID,
		})
		return
	}

	log.Info().
		Str("module", "app.relay").
		Str("caller", string(p.Caller.ID)).
		Str("target", string(p.TargetID)).
		Msg("offer forwarded")
	r.sendEvent(target, protocol.IncomingCall{
		Type:   protocol.TypeIncomingCall,
		From:   p.Caller.ID,
		Caller: p.Caller,
		Offer:  p.Offer,
	})
}

func (r *Relay) Answer(p protocol.Answer) {
	if p.TargetID == "" || len(p.Answer) == 0 {
		return
	}
	if target, ok := r.presence.Lookup(p.TargetID); ok {
		r.sendEvent(target, protocol.CallAnswered{
			Type:   protocol.TypeCallAnswered,
			Answer: p.Answer,
		})
	}
}

func (r *Relay) Candidate(p protocol.Candidate) {
	if p.TargetID == "" || len(p.Candidate) == 0 {
		return
	}
	if target, ok := r.presence.Lookup(p.TargetID); ok {
		r.sendEvent(target, protocol.Candidate{
			Type:      protocol.TypeCandidate,
			Candidate: p.Candidate,
		})
	}
}

func (r *Relay) Decline(p protocol.Decline) {
	if p.TargetID == "" {
		return
	}
	if target, ok := r.presence.Lookup(p.TargetID); ok {
		r.sendEvent(target, protocol.CallDeclined{Type: protocol.TypeCallDeclined})
	}
}

func (r *Relay) End(p protocol.End) {
	if p.TargetID == "" {
		return
	}
	reason := p.Reason
	if reason == "" {
		reason = domain.ReasonEnded
	}
	if target, ok := r.presence.Lookup(p.TargetID); ok {
		r.sendEvent(target, protocol.CallEnded{
			Type:   protocol.TypeCallEnded,
			Reason: reason,
		})
	}
}

// broadcastPresence pushes the full online id snapshot to every live
// connection, so clients can keep their online indicators current.
func (r *Relay) broadcastPresence() {
	snapshot := r.presence.OnlineIDs()
	event := protocol.OnlineUsers{Type: protocol.TypeOnlineUsers, Users: snapshot}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for conn := range r.conns {
		r.sendEvent(conn, event)
	}
}

func (r *Relay) sendEvent(conn core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("sendEvent marshal")
		return
	}
	if err := conn.TrySend(core.Frame(b)); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Msg("sendEvent dropped")
	}
}
