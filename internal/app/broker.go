// Package app implements the presence and session-negotiation broker:
// who is online, who is offering to whom, which two users are paired,
// and the relay of opaque negotiation payloads between a pair.
//
// All shared state lives behind one mutex. Every mutation — register,
// unregister, offer, answer, teardown — is a single serialized step,
// so two offers racing for the same target resolve deterministically
// and a disconnect can never interleave with a pairing acceptance.
// Nothing inside the critical section blocks: outbound delivery goes
// through SignalConnection.TrySend, which queues or drops.
package app

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/filesend/filesend/internal/core"
	"github.com/filesend/filesend/internal/domain"
)

type entry struct {
	user *domain.User
	conn core.SignalConnection
}

type Broker struct {
	mu      sync.Mutex
	byConn  map[domain.ConnID]*entry
	byName  map[domain.Username]*entry
	pending map[domain.Username]*domain.PendingRequest // keyed by offerer

	// offerTTL of zero disables offer expiry.
	offerTTL time.Duration
}

func NewBroker(offerTTL time.Duration) *Broker {
	return &Broker{
		byConn:   make(map[domain.ConnID]*entry),
		byName:   make(map[domain.Username]*entry),
		pending:  make(map[domain.Username]*domain.PendingRequest),
		offerTTL: offerTTL,
	}
}

// Register claims a username for a live connection. On success the
// user starts idle, everyone else learns about it, and the returned
// snapshot reflects presence at the moment of registration. Snapshot
// and the user_online fan-out happen under the same lock hold, so the
// new client can never receive a delta for an event that
// happened-before its snapshot.
func (b *Broker) Register(connID domain.ConnID, rawName string, conn core.SignalConnection) ([]core.UserEntry, error) {
	name, err := domain.Sanitize(rawName)
	if err != nil {
		if errors.Is(err, domain.ErrUsernameEmpty) || errors.Is(err, domain.ErrUsernameTooLong) {
			return nil, ErrInvalidUsername
		}
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.byConn[connID]; dup {
		return nil, ErrAlreadyRegistered
	}
	if _, taken := b.byName[name]; taken {
		return nil, ErrUsernameTaken
	}

	user := domain.NewUser(name, connID)
	e := &entry{user: user, conn: conn}
	b.byConn[connID] = e
	b.byName[name] = e

	// The login reply carries the full presence snapshot and is
	// enqueued in the same critical section that subscribes the
	// connection to deltas: no delta can precede the list, and none
	// committed before it can follow.
	snapshot := b.snapshotLocked()
	_ = conn.TrySend(core.MustFrame(core.LoginEvent{
		Type:  core.TypeLogin,
		OK:    true,
		Users: snapshot,
		Name:  name,
	}))
	b.broadcastLocked(connID, core.MustFrame(core.UserOnlineEvent{
		Type:     core.TypeUserOnline,
		Username: name,
		State:    domain.StateIdle,
	}))

	log.Info().Str("module", "app.broker").Str("username", string(name)).Str("conn", string(connID)).Msg("registered")
	return snapshot, nil
}

// Unregister frees the connection's username, cascading any pending
// or paired teardown first so the name only becomes reusable once the
// rest of the state machine has forgotten it. Idempotent: a second
// call for the same connection is a no-op.
func (b *Broker) Unregister(connID domain.ConnID) (domain.Username, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byConn[connID]
	if !ok {
		return "", false
	}
	user := e.user

	switch user.State {
	case domain.StatePendingOutgoing:
		b.resolvePendingLocked(user.Username)
		if peer := user.Peer; peer != nil {
			peer.Peer = nil
			b.toIdleLocked(peer)
		}
	case domain.StatePendingIncoming:
		if peer := user.Peer; peer != nil {
			b.resolvePendingLocked(peer.Username)
			peer.Peer = nil
			b.sendLocked(peer.Username, core.MustFrame(core.OfferResultEvent{
				Type:   core.TypeOfferResult,
				Target: user.Username,
				Accept: false,
			}))
			b.toIdleLocked(peer)
		}
	case domain.StatePaired:
		if peer := user.Peer; peer != nil {
			peer.Peer = nil
			b.sendLocked(peer.Username, core.MustFrame(core.PartnerDisconnectedEvent{
				Type: core.TypePartnerDisconnected,
			}))
			b.toIdleLocked(peer)
		}
	}
	user.Peer = nil

	delete(b.byConn, connID)
	delete(b.byName, user.Username)

	b.broadcastLocked(connID, core.MustFrame(core.UserOfflineEvent{
		Type:     core.TypeUserOffline,
		Username: user.Username,
	}))

	log.Info().Str("module", "app.broker").Str("username", string(user.Username)).Str("conn", string(connID)).Msg("unregistered")
	return user.Username, true
}

// Lookup returns the username bound to a connection, if any.
func (b *Broker) Lookup(connID domain.ConnID) (domain.Username, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.byConn[connID]
	if !ok {
		return "", false
	}
	return e.user.Username, true
}

// Online reports presence for tooling and tests.
func (b *Broker) Online() []core.UserEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Broker) snapshotLocked() []core.UserEntry {
	out := make([]core.UserEntry, 0, len(b.byName))
	for _, e := range b.byName {
		out = append(out, core.UserEntry{Username: e.user.Username, State: e.user.State})
	}
	return out
}
