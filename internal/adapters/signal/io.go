package signal

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lingolive/calls/internal/protocol"
)

const writeWait = 5 * time.Second

func (ctl *WSController) writePump(c *wsConn) {
	var ping *time.Ticker
	if ctl.Opts.PingPeriod > 0 {
		ping = time.NewTicker(ctl.Opts.PingPeriod)
		defer ping.Stop()
	} else {
		ping = &time.Ticker{C: make(chan time.Time)}
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ping.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *WSController) readPump(token string, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("token", token).Msg("readPump closing")
		ctl.Relay.Disconnect(c)
		c.Close()
	}()

	if ctl.Opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	}
	if ctl.Opts.PingPeriod > 0 {
		wait := ctl.Opts.pongWait()
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(wait))
		})
	}

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "signal").Str("token", token).Msg("readPump read error")
			}
			return
		}
		ctl.handleMessage(c, data)
	}
}

func (ctl *WSController) handleMessage(c *wsConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case protocol.TypeAnnounce:
		ctl.handleAnnounce(c, data)
	case protocol.TypeOffer:
		ctl.handleOffer(c, data)
	case protocol.TypeAnswer:
		ctl.handleAnswer(c, data)
	case protocol.TypeCandidate:
		ctl.handleCandidate(c, data)
	case protocol.TypeDecline:
		ctl.handleDecline(c, data)
	case protocol.TypeEnd:
		ctl.handleEnd(c, data)
	case protocol.TypePing:
		ctl.handlePing(c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *WSController) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
