package app

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filesend/filesend/internal/core"
	"github.com/filesend/filesend/internal/domain"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {}

// events decodes every captured frame into a generic map.
func (f *fakeConn) events() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(fr, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeConn) lastOfType(typ string) (map[string]any, bool) {
	evs := f.events()
	for i := len(evs) - 1; i >= 0; i-- {
		if evs[i]["type"] == typ {
			return evs[i], true
		}
	}
	return nil, false
}

func (f *fakeConn) hasType(typ string) bool {
	_, ok := f.lastOfType(typ)
	return ok
}

func mustRegister(t *testing.T, b *Broker, connID, name string) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	_, err := b.Register(domain.ConnID(connID), name, conn)
	require.NoError(t, err)
	return conn
}

func pair(t *testing.T, b *Broker) (alice, bob *fakeConn) {
	t.Helper()
	alice = mustRegister(t, b, "c-alice", "alice")
	bob = mustRegister(t, b, "c-bob", "bob")
	require.NoError(t, b.Offer("c-alice", "bob"))
	require.NoError(t, b.Answer("c-bob", "alice", true))
	return alice, bob
}

func stateOf(t *testing.T, b *Broker, name domain.Username) domain.State {
	t.Helper()
	for _, u := range b.Online() {
		if u.Username == name {
			return u.State
		}
	}
	t.Fatalf("user %s not online", name)
	return 0
}

func TestRegisterRejectsInvalidAndTakenNames(t *testing.T) {
	b := NewBroker(0)

	_, err := b.Register("c1", "   ", &fakeConn{})
	assert.ErrorIs(t, err, ErrInvalidUsername)

	mustRegister(t, b, "c2", "alice")
	_, err = b.Register("c3", "alice", &fakeConn{})
	assert.ErrorIs(t, err, ErrUsernameTaken)

	// A freed username is registrable again.
	_, ok := b.Unregister("c2")
	require.True(t, ok)
	mustRegister(t, b, "c4", "alice")
}

func TestRegisterTwiceOnOneConnection(t *testing.T) {
	b := NewBroker(0)
	mustRegister(t, b, "c1", "alice")

	_, err := b.Register("c1", "alice2", &fakeConn{})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	// The original login is untouched.
	assert.Equal(t, domain.StateIdle, stateOf(t, b, "alice"))
	assert.Len(t, b.Online(), 1)
}

func TestRegisterSanitizesMarkup(t *testing.T) {
	b := NewBroker(0)
	conn := &fakeConn{}
	users, err := b.Register("c1", "  <b>eve</b> ", conn)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.NotContains(t, string(users[0].Username), "<")

	_, err = b.Register("c2", "<script></script>", &fakeConn{})
	require.NoError(t, err, "escaped markup is still a non-empty name")
}

func TestSnapshotIsTakenWithRegistration(t *testing.T) {
	b := NewBroker(0)
	mustRegister(t, b, "c-alice", "alice")
	users, err := b.Register("c-bob", "bob", &fakeConn{})
	require.NoError(t, err)

	names := map[domain.Username]domain.State{}
	for _, u := range users {
		names[u.Username] = u.State
	}
	assert.Equal(t, domain.StateIdle, names["alice"])
	assert.Equal(t, domain.StateIdle, names["bob"])
}

func TestPairAndRelayDeliversVerbatim(t *testing.T) {
	b := NewBroker(0)
	alice := mustRegister(t, b, "c-alice", "alice")
	bob := mustRegister(t, b, "c-bob", "bob")

	require.NoError(t, b.Offer("c-alice", "bob"))
	offer, ok := bob.lastOfType(core.TypeIncomingOffer)
	require.True(t, ok)
	assert.Equal(t, "alice", offer["from"])

	require.NoError(t, b.Answer("c-bob", "alice", true))

	res, ok := alice.lastOfType(core.TypeOfferResult)
	require.True(t, ok)
	assert.Equal(t, true, res["accept"])

	pairedAlice, ok := alice.lastOfType(core.TypePaired)
	require.True(t, ok)
	assert.Equal(t, "bob", pairedAlice["peer"])
	pairedBob, ok := bob.lastOfType(core.TypePaired)
	require.True(t, ok)
	assert.Equal(t, "alice", pairedBob["peer"])

	body := json.RawMessage(`{"sdp":"x"}`)
	require.NoError(t, b.Relay("c-alice", core.KindSessionDesc, body))

	relay, ok := bob.lastOfType(core.TypeRelay)
	require.True(t, ok)
	assert.Equal(t, core.KindSessionDesc, relay["kind"])
	assert.Equal(t, "alice", relay["from"])
	got, err := json.Marshal(relay["body"])
	require.NoError(t, err)
	assert.JSONEq(t, string(body), string(got))

	// Delivered to exactly the paired peer, never back to the sender.
	assert.False(t, alice.hasType(core.TypeRelay))
}

func TestOfferAgainstBusyTargetFails(t *testing.T) {
	b := NewBroker(0)
	mustRegister(t, b, "c-alice", "alice")
	mustRegister(t, b, "c-bob", "bob")
	mustRegister(t, b, "c-carol", "carol")

	require.NoError(t, b.Offer("c-alice", "bob"))
	assert.ErrorIs(t, b.Offer("c-carol", "bob"), ErrTargetUnavailable)

	// The offerer is single-flight too.
	assert.ErrorIs(t, b.Offer("c-alice", "carol"), ErrAlreadyPending)
}

func TestSelfAndUnknownOffers(t *testing.T) {
	b := NewBroker(0)
	mustRegister(t, b, "c-alice", "alice")

	assert.ErrorIs(t, b.Offer("c-alice", "alice"), ErrInvalidTarget)
	assert.ErrorIs(t, b.Offer("c-alice", "nobody"), ErrInvalidTarget)
	assert.ErrorIs(t, b.Offer("c-ghost", "alice"), ErrNotRegistered)
}

func TestAnswerWithoutPendingOffer(t *testing.T) {
	b := NewBroker(0)
	mustRegister(t, b, "c-alice", "alice")
	mustRegister(t, b, "c-bob", "bob")

	assert.ErrorIs(t, b.Answer("c-bob", "alice", true), ErrNotPending)
}

func TestRejectReturnsBothToIdle(t *testing.T) {
	b := NewBroker(0)
	alice := mustRegister(t, b, "c-alice", "alice")
	mustRegister(t, b, "c-bob", "bob")

	require.NoError(t, b.Offer("c-alice", "bob"))
	require.NoError(t, b.Answer("c-bob", "alice", false))

	res, ok := alice.lastOfType(core.TypeOfferResult)
	require.True(t, ok)
	assert.Equal(t, false, res["accept"])

	assert.Equal(t, domain.StateIdle, stateOf(t, b, "alice"))
	assert.Equal(t, domain.StateIdle, stateOf(t, b, "bob"))

	// Bob is offerable again.
	require.NoError(t, b.Offer("c-alice", "bob"))
}

func TestPairedDisconnectFreesBothSides(t *testing.T) {
	b := NewBroker(0)
	alice, _ := pair(t, b)

	name, ok := b.Unregister("c-bob")
	require.True(t, ok)
	assert.Equal(t, domain.Username("bob"), name)

	assert.True(t, alice.hasType(core.TypePartnerDisconnected))
	assert.Equal(t, domain.StateIdle, stateOf(t, b, "alice"))

	// "bob" is available for a new login.
	mustRegister(t, b, "c-bob2", "bob")

	// The survivor is no longer paired.
	assert.ErrorIs(t, b.Relay("c-alice", core.KindSessionDesc, json.RawMessage(`{}`)), ErrNotPaired)
}

func TestOffererDisconnectClearsPending(t *testing.T) {
	b := NewBroker(0)
	mustRegister(t, b, "c-alice", "alice")
	mustRegister(t, b, "c-bob", "bob")
	require.NoError(t, b.Offer("c-alice", "bob"))

	_, ok := b.Unregister("c-alice")
	require.True(t, ok)

	assert.Equal(t, domain.StateIdle, stateOf(t, b, "bob"))
	assert.Nil(t, b.byName["bob"].user.Peer, "idle user must not reference the departed offerer")
	assert.ErrorIs(t, b.Answer("c-bob", "alice", true), ErrNotPending)
}

func TestTargetDisconnectNotifiesOfferer(t *testing.T) {
	b := NewBroker(0)
	alice := mustRegister(t, b, "c-alice", "alice")
	mustRegister(t, b, "c-bob", "bob")
	require.NoError(t, b.Offer("c-alice", "bob"))

	_, ok := b.Unregister("c-bob")
	require.True(t, ok)

	res, found := alice.lastOfType(core.TypeOfferResult)
	require.True(t, found)
	assert.Equal(t, false, res["accept"])
	assert.Equal(t, domain.StateIdle, stateOf(t, b, "alice"))
	assert.Nil(t, b.byName["alice"].user.Peer, "idle user must not reference the departed target")
}

func TestUnregisterIsIdempotent(t *testing.T) {
	b := NewBroker(0)
	mustRegister(t, b, "c-alice", "alice")

	name, ok := b.Unregister("c-alice")
	require.True(t, ok)
	assert.Equal(t, domain.Username("alice"), name)

	_, ok = b.Unregister("c-alice")
	assert.False(t, ok)
	_, ok = b.Unregister("c-alice")
	assert.False(t, ok)
}

func TestRelayRequiresPairing(t *testing.T) {
	b := NewBroker(0)
	mustRegister(t, b, "c-alice", "alice")
	mustRegister(t, b, "c-bob", "bob")

	assert.ErrorIs(t, b.Relay("c-alice", core.KindSessionDesc, json.RawMessage(`{}`)), ErrNotPaired)

	require.NoError(t, b.Offer("c-alice", "bob"))
	assert.ErrorIs(t, b.Relay("c-alice", core.KindSessionDesc, json.RawMessage(`{}`)), ErrNotPaired)
}

func TestTransferDoneUnpairsBoth(t *testing.T) {
	b := NewBroker(0)
	_, bob := pair(t, b)

	require.NoError(t, b.Relay("c-alice", core.KindTransferDone, json.RawMessage(`{}`)))

	relay, ok := bob.lastOfType(core.TypeRelay)
	require.True(t, ok)
	assert.Equal(t, core.KindTransferDone, relay["kind"])

	assert.Equal(t, domain.StateIdle, stateOf(t, b, "alice"))
	assert.Equal(t, domain.StateIdle, stateOf(t, b, "bob"))
}

func TestEndTransferUnpairs(t *testing.T) {
	b := NewBroker(0)
	pair(t, b)

	require.NoError(t, b.EndTransfer("c-bob"))
	assert.Equal(t, domain.StateIdle, stateOf(t, b, "alice"))
	assert.Equal(t, domain.StateIdle, stateOf(t, b, "bob"))

	assert.ErrorIs(t, b.EndTransfer("c-bob"), ErrNotPaired)
}

func TestOfferExpiryBehavesAsReject(t *testing.T) {
	b := NewBroker(20 * time.Millisecond)
	alice := mustRegister(t, b, "c-alice", "alice")
	mustRegister(t, b, "c-bob", "bob")

	require.NoError(t, b.Offer("c-alice", "bob"))

	assert.Eventually(t, func() bool {
		res, ok := alice.lastOfType(core.TypeOfferResult)
		return ok && res["accept"] == false
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, domain.StateIdle, stateOf(t, b, "alice"))
	assert.Equal(t, domain.StateIdle, stateOf(t, b, "bob"))
	assert.ErrorIs(t, b.Answer("c-bob", "alice", true), ErrNotPending)
}

func TestAcceptStopsExpiry(t *testing.T) {
	b := NewBroker(30 * time.Millisecond)
	pair(t, b)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, domain.StatePaired, stateOf(t, b, "alice"))
	assert.Equal(t, domain.StatePaired, stateOf(t, b, "bob"))
}

func TestPairingSymmetry(t *testing.T) {
	b := NewBroker(0)
	pair(t, b)

	b.mu.Lock()
	defer b.mu.Unlock()
	a := b.byName["alice"].user
	require.NotNil(t, a.Peer)
	assert.Same(t, a, a.Peer.Peer)
}

func TestRacingOffersExactlyOneWins(t *testing.T) {
	b := NewBroker(0)
	mustRegister(t, b, "c-target", "target")

	const n = 16
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		connID := domain.ConnID(string(rune('a'+i)) + "-conn")
		name := "user-" + string(rune('a'+i))
		mustRegister(t, b, string(connID), name)
		wg.Add(1)
		go func(id domain.ConnID) {
			defer wg.Done()
			errs <- b.Offer(id, "target")
		}(connID)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrTargetUnavailable)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestBroadcastOrderMatchesCommitOrder(t *testing.T) {
	b := NewBroker(0)
	watcher := mustRegister(t, b, "c-watch", "watcher")

	mustRegister(t, b, "c-alice", "alice")
	mustRegister(t, b, "c-bob", "bob")
	require.NoError(t, b.Offer("c-alice", "bob"))
	require.NoError(t, b.Answer("c-bob", "alice", true))
	require.NoError(t, b.EndTransfer("c-alice"))

	var aliceStates []string
	for _, ev := range watcher.events() {
		if ev["type"] == core.TypeUserState && ev["username"] == "alice" {
			aliceStates = append(aliceStates, ev["state"].(string))
		}
	}
	assert.Equal(t, []string{"pending_out", "paired", "idle"}, aliceStates)
}
