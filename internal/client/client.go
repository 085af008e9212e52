// Package client is the canonical broker client: one schema, one
// state machine, shared by the CLI and by tests.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/filesend/filesend/internal/core"
)

// Handler receives decoded server events. Nil callbacks are skipped.
// Callbacks run on the read loop goroutine; do not block in them.
type Handler struct {
	OnLogin               func(core.LoginEvent)
	OnUserOnline          func(core.UserOnlineEvent)
	OnUserOffline         func(core.UserOfflineEvent)
	OnUserState           func(core.UserStateEvent)
	OnIncomingOffer       func(core.IncomingOfferEvent)
	OnOfferResult         func(core.OfferResultEvent)
	OnPaired              func(core.PairedEvent)
	OnPartnerDisconnected func(core.PartnerDisconnectedEvent)
	OnRelay               func(core.RelayEvent)
	OnError               func(core.ErrorEvent)
}

type Client struct {
	conn *websocket.Conn
	h    Handler

	writeMu sync.Mutex
}

// Dial connects to the broker's signal endpoint.
func Dial(ctx context.Context, url string, h Handler) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{conn: conn, h: h}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Run reads frames until the connection drops or ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("bad frame")
		return
	}

	switch env.Type {
	case core.TypeLogin:
		decodeTo(data, c.h.OnLogin)
	case core.TypeUserOnline:
		decodeTo(data, c.h.OnUserOnline)
	case core.TypeUserOffline:
		decodeTo(data, c.h.OnUserOffline)
	case core.TypeUserState:
		decodeTo(data, c.h.OnUserState)
	case core.TypeIncomingOffer:
		decodeTo(data, c.h.OnIncomingOffer)
	case core.TypeOfferResult:
		decodeTo(data, c.h.OnOfferResult)
	case core.TypePaired:
		decodeTo(data, c.h.OnPaired)
	case core.TypePartnerDisconnected:
		decodeTo(data, c.h.OnPartnerDisconnected)
	case core.TypeRelay:
		decodeTo(data, c.h.OnRelay)
	case core.TypeError:
		decodeTo(data, c.h.OnError)
	default:
		log.Warn().Str("module", "client").Str("type", env.Type).Msg("unknown frame type")
	}
}

func decodeTo[T any](data []byte, fn func(T)) {
	if fn == nil {
		return
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("decode frame")
		return
	}
	fn(v)
}

func (c *Client) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) Login(username string) error {
	return c.write(map[string]any{"type": core.TypeLogin, "username": username})
}

func (c *Client) Offer(target string) error {
	return c.write(map[string]any{"type": core.TypeOffer, "target": target})
}

func (c *Client) Answer(from string, accept bool) error {
	return c.write(map[string]any{"type": core.TypeAnswer, "from": from, "accept": accept})
}

func (c *Client) Relay(kind string, body json.RawMessage) error {
	return c.write(map[string]any{"type": core.TypeRelay, "kind": kind, "body": body})
}

func (c *Client) End() error {
	return c.write(map[string]any{"type": core.TypeEnd})
}
