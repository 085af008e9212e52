package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/filesend/filesend/internal/core"
	"github.com/filesend/filesend/internal/domain"
)

// Relay forwards a negotiation payload, verbatim, to the sender's
// paired peer. The body is never parsed here: the broker enforces the
// pairing authorization and nothing else. A peer whose connection has
// already vanished yields ErrPeerGone, a plain error for the sender
// to surface, never a crash.
//
// The kind transfer-done doubles as the teardown signal: the payload
// is delivered first, then both users return to idle.
func (b *Broker) Relay(connID domain.ConnID, kind string, body json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	me, ok := b.byConn[connID]
	if !ok {
		return ErrNotRegistered
	}
	if me.user.State != domain.StatePaired {
		return ErrNotPaired
	}
	if err := b.checkPairLocked(me.user); err != nil {
		return err
	}

	peer := me.user.Peer
	peerEntry, ok := b.byName[peer.Username]
	if !ok || peerEntry.conn == nil {
		return ErrPeerGone
	}

	frame := core.MustFrame(core.RelayEvent{
		Type: core.TypeRelay,
		Kind: kind,
		From: me.user.Username,
		Body: body,
	})
	if err := peerEntry.conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.broker").
			Str("from", string(me.user.Username)).
			Str("to", string(peer.Username)).
			Str("kind", kind).
			Msg("relay dropped")
	}

	if kind == core.KindTransferDone {
		b.unpairLocked(me.user)
	}
	return nil
}
