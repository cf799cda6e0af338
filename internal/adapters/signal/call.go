package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/lingolive/calls/internal/protocol"
)

// Payload handlers only parse and hand off; routing decisions (target
// lookup, unavailable replies, silent drops) belong to the relay.

func (ctl *WSController) handleOffer(c *wsConn, data []byte) {
	var p protocol.Offer
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad offer payload")
		return
	}
	ctl.Relay.Offer(c, p)
}

func (ctl *WSController) handleAnswer(c *wsConn, data []byte) {
	var p protocol.Answer
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad answer payload")
		return
	}
	ctl.Relay.Answer(p)
}

func (ctl *WSController) handleCandidate(c *wsConn, data []byte) {
	var p protocol.Candidate
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad candidate payload")
		return
	}
	ctl.Relay.Candidate(p)
}

func (ctl *WSController) handleDecline(c *wsConn, data []byte) {
	var p protocol.Decline
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad decline payload")
		return
	}
	ctl.Relay.Decline(p)
}

func (ctl *WSController) handleEnd(c *wsConn, data []byte) {
	var p protocol.End
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad end payload")
		return
	}
	ctl.Relay.End(p)
}
