package signal

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lingolive/calls/internal/app"
	"github.com/lingolive/calls/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Options tune the per-connection transport behavior.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
}

func (o Options) pongWait() time.Duration {
	if o.PingPeriod <= 0 {
		return 60 * time.Second
	}
	// Pong must arrive before the next ping would be overdue.
	return o.PingPeriod * 10 / 9
}

type WSController struct {
	Relay *app.Relay
	Opts  Options
}

func NewWSController(relay *app.Relay, opts Options) *WSController {
	return &WSController{Relay: relay, Opts: opts}
}

// wsConn implements core.SignalConnection over a gorilla socket with a
// buffered outbound channel. TrySend never blocks: a full buffer means
// the client is too slow and the frame is dropped.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection pumps. The
// client token cookie only tags log lines; call identity is asserted by
// the announce message, not the session.
func (ctl *WSController) HandleSignal(c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctl.Relay.Connect(conn)

	go ctl.writePump(conn)
	go ctl.readPump(token, conn)
}
