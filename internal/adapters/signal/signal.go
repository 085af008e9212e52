// Package signal is the WebSocket adapter for the broker: it owns the
// connection lifecycle and translates wire frames into broker calls.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/filesend/filesend/internal/app"
	"github.com/filesend/filesend/internal/config"
	"github.com/filesend/filesend/internal/core"
	"github.com/filesend/filesend/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Broker *app.Broker
	Cfg    *config.Config
}

func NewController(broker *app.Broker, cfg *config.Config) *Controller {
	return &Controller{Broker: broker, Cfg: cfg}
}

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
		return errors.New("connection closed")
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

// HandleSignal upgrades the request and runs the connection until it
// drops. Each upgrade gets a fresh connection id: a username is bound
// to exactly one live socket, never to a browser session.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	connID := domain.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(connID)).Msg("new WS connection")

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 64),
	}

	ctx, cancel := context.WithCancel(ctx)

	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, connID, conn)
		// readPump returning is the disconnect signal, wherever the
		// user was in the pairing lifecycle.
		if name, ok := ctl.Broker.Unregister(connID); ok {
			log.Info().Str("module", "signal").Str("conn", string(connID)).Str("username", string(name)).Msg("logged out on disconnect")
		}
	}()
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b := core.MustFrame(v)
	if b == nil {
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsConn, op string, err error) {
	ctl.sendJSON(c, core.ErrorEvent{
		Type:  core.TypeError,
		Op:    op,
		Error: app.ErrorCode(err),
	})
}
