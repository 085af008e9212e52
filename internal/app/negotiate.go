package app

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/filesend/filesend/internal/core"
	"github.com/filesend/filesend/internal/domain"
)

// Offer proposes a pairing from the connection's user to target.
// Offers are single-flight and never queued: both sides must be idle,
// and the losing side of a race gets an error rather than a buffered
// offer.
func (b *Broker) Offer(connID domain.ConnID, target domain.Username) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	from, ok := b.byConn[connID]
	if !ok {
		return ErrNotRegistered
	}
	if from.user.Username == target {
		return ErrInvalidTarget
	}
	to, ok := b.byName[target]
	if !ok {
		return ErrInvalidTarget
	}
	if from.user.State != domain.StateIdle {
		return ErrAlreadyPending
	}
	if to.user.State != domain.StateIdle {
		return ErrTargetUnavailable
	}

	from.user.State = domain.StatePendingOutgoing
	to.user.State = domain.StatePendingIncoming
	from.user.Peer = to.user
	to.user.Peer = from.user

	req := &domain.PendingRequest{
		From:      from.user.Username,
		To:        target,
		CreatedAt: time.Now(),
	}
	if b.offerTTL > 0 {
		offerer := from.user.Username
		req.Expiry = time.AfterFunc(b.offerTTL, func() {
			b.expireOffer(offerer, target)
		})
	}
	b.pending[from.user.Username] = req

	b.sendLocked(target, core.MustFrame(core.IncomingOfferEvent{
		Type: core.TypeIncomingOffer,
		From: from.user.Username,
	}))
	b.stateChangedLocked(from.user)
	b.stateChangedLocked(to.user)

	log.Info().Str("module", "app.broker").
		Str("from", string(from.user.Username)).
		Str("to", string(target)).
		Msg("offer created")
	return nil
}

// Answer resolves the pending offer from `from` against the answering
// connection's user. Accept pairs both sides; reject returns both to
// idle. Either way the offerer hears the verdict.
func (b *Broker) Answer(connID domain.ConnID, from domain.Username, accept bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	me, ok := b.byConn[connID]
	if !ok {
		return ErrNotRegistered
	}
	req, ok := b.pending[from]
	if !ok || req.To != me.user.Username || me.user.State != domain.StatePendingIncoming {
		return ErrNotPending
	}
	offerer, ok := b.byName[from]
	if !ok || me.user.Peer != offerer.user {
		// The offerer vanished between pending teardown steps. Treat
		// as no longer pending and repair this side.
		b.resolvePendingLocked(from)
		b.toIdleLocked(me.user)
		return ErrNotPending
	}

	b.resolvePendingLocked(from)

	if !accept {
		me.user.Peer = nil
		offerer.user.Peer = nil
		b.sendLocked(from, core.MustFrame(core.OfferResultEvent{
			Type:   core.TypeOfferResult,
			Target: me.user.Username,
			Accept: false,
		}))
		b.toIdleLocked(me.user)
		b.toIdleLocked(offerer.user)
		log.Info().Str("module", "app.broker").
			Str("from", string(from)).
			Str("to", string(me.user.Username)).
			Msg("offer rejected")
		return nil
	}

	offerer.user.State = domain.StatePaired
	me.user.State = domain.StatePaired
	if err := b.checkPairLocked(offerer.user); err != nil {
		return err
	}

	b.sendLocked(from, core.MustFrame(core.OfferResultEvent{
		Type:   core.TypeOfferResult,
		Target: me.user.Username,
		Accept: true,
	}))
	b.sendLocked(from, core.MustFrame(core.PairedEvent{
		Type: core.TypePaired,
		Peer: me.user.Username,
	}))
	b.sendLocked(me.user.Username, core.MustFrame(core.PairedEvent{
		Type: core.TypePaired,
		Peer: from,
	}))
	b.stateChangedLocked(offerer.user)
	b.stateChangedLocked(me.user)

	log.Info().Str("module", "app.broker").
		Str("from", string(from)).
		Str("to", string(me.user.Username)).
		Msg("paired")
	return nil
}

// EndTransfer returns a paired couple to idle at the request of
// either side.
func (b *Broker) EndTransfer(connID domain.ConnID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	me, ok := b.byConn[connID]
	if !ok {
		return ErrNotRegistered
	}
	if me.user.State != domain.StatePaired {
		return ErrNotPaired
	}
	b.unpairLocked(me.user)
	return nil
}

// expireOffer is the timer path: if the request is still the current
// one it behaves exactly like a reject.
func (b *Broker) expireOffer(from, to domain.Username) {
	b.mu.Lock()
	defer b.mu.Unlock()

	req, ok := b.pending[from]
	if !ok || req.To != to {
		return
	}
	delete(b.pending, from)

	offerer, okFrom := b.byName[from]
	target, okTo := b.byName[to]
	if okFrom {
		offerer.user.Peer = nil
		b.sendLocked(from, core.MustFrame(core.OfferResultEvent{
			Type:   core.TypeOfferResult,
			Target: to,
			Accept: false,
		}))
		b.toIdleLocked(offerer.user)
	}
	if okTo {
		target.user.Peer = nil
		b.toIdleLocked(target.user)
	}
	log.Info().Str("module", "app.broker").
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("offer expired")
}

// resolvePendingLocked destroys the offerer-keyed request and stops
// its expiry timer.
func (b *Broker) resolvePendingLocked(from domain.Username) {
	req, ok := b.pending[from]
	if !ok {
		return
	}
	if req.Expiry != nil {
		req.Expiry.Stop()
	}
	delete(b.pending, from)
}

func (b *Broker) unpairLocked(u *domain.User) {
	peer := u.Peer
	u.Peer = nil
	b.toIdleLocked(u)
	if peer != nil {
		peer.Peer = nil
		b.toIdleLocked(peer)
	}
}

// checkPairLocked verifies the mutual peer invariant. A violation is
// fatal for the pair, never the process: both sides are forced back
// to idle and the diagnostic is logged.
func (b *Broker) checkPairLocked(u *domain.User) error {
	if u.State != domain.StatePaired {
		return nil
	}
	if u.Peer != nil && u.Peer.Peer == u {
		return nil
	}
	log.Error().Str("module", "app.broker").
		Str("username", string(u.Username)).
		Msg("asymmetric peer references, resetting pair")
	if peer := u.Peer; peer != nil {
		peer.Peer = nil
		b.toIdleLocked(peer)
	}
	u.Peer = nil
	b.toIdleLocked(u)
	return ErrNotPaired
}
