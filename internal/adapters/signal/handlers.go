package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/filesend/filesend/internal/app"
	"github.com/filesend/filesend/internal/core"
	"github.com/filesend/filesend/internal/domain"
)

func (ctl *Controller) handleLogin(connID domain.ConnID, c *wsConn, data []byte) {
	var p struct {
		Type     string `json:"type"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendJSON(c, core.ErrorEvent{Type: core.TypeError, Op: core.TypeLogin, Error: "bad_payload"})
		return
	}

	// On success the broker enqueues the login reply itself, inside
	// the same critical section that subscribes this connection.
	if _, err := ctl.Broker.Register(connID, p.Username, c); err != nil {
		ctl.sendJSON(c, core.LoginEvent{
			Type:  core.TypeLogin,
			OK:    false,
			Error: app.ErrorCode(err),
		})
	}
}

func (ctl *Controller) handleOffer(connID domain.ConnID, c *wsConn, data []byte) {
	var p struct {
		Type   string `json:"type"`
		Target string `json:"target"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendJSON(c, core.ErrorEvent{Type: core.TypeError, Op: core.TypeOffer, Error: "bad_payload"})
		return
	}

	if err := ctl.Broker.Offer(connID, domain.Username(p.Target)); err != nil {
		ctl.sendError(c, core.TypeOffer, err)
	}
}

func (ctl *Controller) handleAnswer(connID domain.ConnID, c *wsConn, data []byte) {
	var p struct {
		Type   string `json:"type"`
		From   string `json:"from"`
		Accept bool   `json:"accept"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendJSON(c, core.ErrorEvent{Type: core.TypeError, Op: core.TypeAnswer, Error: "bad_payload"})
		return
	}

	if err := ctl.Broker.Answer(connID, domain.Username(p.From), p.Accept); err != nil {
		ctl.sendError(c, core.TypeAnswer, err)
	}
}

var relayKinds = map[string]bool{
	core.KindSessionDesc:  true,
	core.KindCandidate:    true,
	core.KindFileReady:    true,
	core.KindTransferDone: true,
}

func (ctl *Controller) handleRelay(connID domain.ConnID, c *wsConn, data []byte) {
	var p struct {
		Type string          `json:"type"`
		Kind string          `json:"kind"`
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &p); err != nil || !relayKinds[p.Kind] {
		ctl.sendJSON(c, core.ErrorEvent{Type: core.TypeError, Op: core.TypeRelay, Error: "bad_payload"})
		return
	}

	if err := ctl.Broker.Relay(connID, p.Kind, p.Body); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(connID)).Str("kind", p.Kind).Msg("relay refused")
		ctl.sendError(c, core.TypeRelay, err)
	}
}

func (ctl *Controller) handleEnd(connID domain.ConnID, c *wsConn) {
	if err := ctl.Broker.EndTransfer(connID); err != nil {
		ctl.sendError(c, core.TypeEnd, err)
	}
}
