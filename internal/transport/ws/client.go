// Package ws is the client side of the signaling transport: it dials
// the relay, announces an identity, implements call.Signaler for
// outbound messages and dispatches inbound relay events to the bound
// call session.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lingolive/calls/internal/domain"
	"github.com/lingolive/calls/internal/protocol"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrNotConnected = errors.New("not connected")
)

const writeWait = 5 * time.Second

// CallHandler receives the relayed call events. *call.Session
// satisfies it.
type CallHandler interface {
	HandleIncomingCall(from domain.UserID, caller domain.User, offer json.RawMessage)
	HandleAnswered(answer json.RawMessage)
	HandleRemoteCandidate(candidate json.RawMessage)
	HandleDeclined()
	HandleEnded(reason string)
	HandleUnavailable(target domain.UserID)
}

type ClientConfig struct {
	// URL of the relay's signal endpoint, e.g.
	// ws://localhost:8080/api/ws/signal.
	URL    string
	UserID domain.UserID

	// OnOnline, when set, receives every online-users snapshot.
	OnOnline func([]domain.UserID)
}

type Client struct {
	cfg     ClientConfig
	handler CallHandler

	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewClient(cfg ClientConfig) *Client {
	return &Client{
		cfg:  cfg,
		send: make(chan []byte, 32),
		done: make(chan struct{}),
	}
}

// Bind attaches the call handler. Must happen before Connect.
func (c *Client) Bind(h CallHandler) { c.handler = h }

// Connect dials the relay, announces the configured identity and
// starts the connection pumps.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.cfg.UserID.Validate(); err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	c.conn = conn

	go c.writePump()
	go c.readPump()

	return c.enqueue(protocol.Announce{
		Type:   protocol.TypeAnnounce,
		UserID: c.cfg.UserID,
	})
}

// Done is closed once the read pump exits (server gone or Close).
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
}

// call.Signaler implementation.

func (c *Client) SendOffer(target domain.UserID, offer json.RawMessage, caller domain.User) error {
	return c.enqueue(protocol.Offer{
		Type:     protocol.TypeOffer,
		TargetID: target,
		Offer:    offer,
		Caller:   caller,
	})
}

func (c *Client) SendAnswer(target domain.UserID, answer json.RawMessage) error {
	return c.enqueue(protocol.Answer{
		Type:     protocol.TypeAnswer,
		TargetID: target,
		Answer:   answer,
	})
}

func (c *Client) SendCandidate(target domain.UserID, candidate json.RawMessage) error {
	return c.enqueue(protocol.Candidate{
		Type:      protocol.TypeCandidate,
		TargetID:  target,
		Candidate: candidate,
	})
}

func (c *Client) SendDecline(target domain.UserID) error {
	return c.enqueue(protocol.Decline{
		Type:     protocol.TypeDecline,
		TargetID: target,
	})
}

func (c *Client) SendEnd(target domain.UserID, reason string) error {
	return c.enqueue(protocol.End{
		Type:     protocol.TypeEnd,
		TargetID: target,
		Reason:   reason,
	})
}

func (c *Client) enqueue(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrNotConnected
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) writePump() {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "ws").Msg("writePump write error")
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.Close()
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("module", "ws").Msg("readPump read error")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("bad json")
		return
	}

	switch env.Type {
	case protocol.TypeOnlineUsers:
		var p protocol.OnlineUsers
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		if c.cfg.OnOnline != nil {
			c.cfg.OnOnline(p.Users)
		}
	case protocol.TypeIncomingCall:
		var p protocol.IncomingCall
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		if c.handler != nil {
			c.handler.HandleIncomingCall(p.From, p.Caller, p.Offer)
		}
	case protocol.TypeCallAnswered:
		var p protocol.CallAnswered
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		if c.handler != nil {
			c.handler.HandleAnswered(p.Answer)
		}
	case protocol.TypeCandidate:
		var p protocol.Candidate
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		if c.handler != nil {
			c.handler.HandleRemoteCandidate(p.Candidate)
		}
	case protocol.TypeCallDeclined:
		if c.handler != nil {
			c.handler.HandleDeclined()
		}
	case protocol.TypeCallEnded:
		var p protocol.CallEnded
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		if c.handler != nil {
			c.handler.HandleEnded(p.Reason)
		}
	case protocol.TypeCallUnavailable:
		var p protocol.CallUnavailable
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		if c.handler != nil {
			c.handler.HandleUnavailable(p.TargetID)
		}
	case protocol.TypePong:
	default:
		log.Warn().Str("module", "ws").Str("type", env.Type).Msg("unknown event")
	}
}
