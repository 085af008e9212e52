package core

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/filesend/filesend/internal/domain"
)

// One canonical message schema for both directions. Every frame is a
// JSON object with a "type" discriminator.
const (
	// server -> client
	TypeLogin               = "login"
	TypeUserOnline          = "user_online"
	TypeUserOffline         = "user_offline"
	TypeUserState           = "user_state"
	TypeIncomingOffer       = "incoming_offer"
	TypeOfferResult         = "offer_result"
	TypePaired              = "paired"
	TypePartnerDisconnected = "partner_disconnected"
	TypeError               = "error"

	// both directions
	TypeRelay = "relay"

	// client -> server
	TypeOffer  = "offer"
	TypeAnswer = "answer"
	TypeEnd    = "end"
)

// Relay payload kinds. The broker forwards the body opaquely for all
// of them; KindTransferDone additionally returns the pair to idle.
const (
	KindSessionDesc  = "session-desc"
	KindCandidate    = "candidate"
	KindFileReady    = "file-ready"
	KindTransferDone = "transfer-done"
)

// UserEntry is one row of the presence snapshot sent on login.
type UserEntry struct {
	Username domain.Username `json:"username"`
	State    domain.State    `json:"state"`
}

type LoginEvent struct {
	Type  string          `json:"type"`
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Users []UserEntry     `json:"users,omitempty"`
	Name  domain.Username `json:"username,omitempty"`
}

type UserOnlineEvent struct {
	Type     string          `json:"type"`
	Username domain.Username `json:"username"`
	State    domain.State    `json:"state"`
}

type UserOfflineEvent struct {
	Type     string          `json:"type"`
	Username domain.Username `json:"username"`
}

type UserStateEvent struct {
	Type     string          `json:"type"`
	Username domain.Username `json:"username"`
	State    domain.State    `json:"state"`
}

type IncomingOfferEvent struct {
	Type string          `json:"type"`
	From domain.Username `json:"from"`
}

type OfferResultEvent struct {
	Type   string          `json:"type"`
	Target domain.Username `json:"target"`
	Accept bool            `json:"accept"`
}

type PairedEvent struct {
	Type string          `json:"type"`
	Peer domain.Username `json:"peer"`
}

type PartnerDisconnectedEvent struct {
	Type string `json:"type"`
}

// RelayEvent carries an opaque negotiation payload between two paired
// users. Body is never inspected by the broker.
type RelayEvent struct {
	Type string          `json:"type"`
	Kind string          `json:"kind"`
	From domain.Username `json:"from"`
	Body json.RawMessage `json:"body"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Op    string `json:"op,omitempty"`
	Error string `json:"error"`
}

// MustFrame marshals v into a Frame. The event types above cannot
// fail to marshal; a failure means a programming error and is logged
// rather than propagated.
func MustFrame(v any) Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "core").Msg("event marshal")
		return nil
	}
	return b
}
