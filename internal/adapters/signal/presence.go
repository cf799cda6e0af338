package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/lingolive/calls/internal/protocol"
)

func (ctl *WSController) handleAnnounce(c *wsConn, data []byte) {
	var p protocol.Announce
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad announce payload")
		return
	}
	log.Info().Str("module", "signal").Str("user_id", string(p.UserID)).Msg("announce")
	ctl.Relay.Announce(c, p.UserID)
}

func (ctl *WSController) handlePing(c *wsConn) {
	ctl.sendJSON(c, protocol.Pong{Type: protocol.TypePong})
}
