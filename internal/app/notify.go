package app

import (
	"github.com/filesend/filesend/internal/core"
	"github.com/filesend/filesend/internal/domain"
)

// Fan-out helpers. All run under b.mu; delivery order per recipient
// equals commit order because frames are enqueued while the lock is
// still held and each connection drains its queue in order.

func (b *Broker) sendLocked(to domain.Username, frame core.Frame) {
	e, ok := b.byName[to]
	if !ok || e.conn == nil {
		return
	}
	_ = e.conn.TrySend(frame)
}

func (b *Broker) broadcastLocked(except domain.ConnID, frame core.Frame) {
	for connID, e := range b.byConn {
		if connID == except || e.conn == nil {
			continue
		}
		_ = e.conn.TrySend(frame)
	}
}

func (b *Broker) stateChangedLocked(u *domain.User) {
	b.broadcastLocked("", core.MustFrame(core.UserStateEvent{
		Type:     core.TypeUserState,
		Username: u.Username,
		State:    u.State,
	}))
}

func (b *Broker) toIdleLocked(u *domain.User) {
	u.State = domain.StateIdle
	b.stateChangedLocked(u)
}
