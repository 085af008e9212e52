// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"html"
	"strings"
	"unicode"
)

const MaxUsernameLen = 36

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
)

type Username string

// Sanitize turns raw client input into a storable Username.
// Control characters are dropped and markup is escaped before the
// emptiness check, so a name made of tags alone cannot reach the
// broadcast list.
func Sanitize(raw string) (Username, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, raw)
	cleaned = html.EscapeString(strings.TrimSpace(cleaned))
	if cleaned == "" {
		return "", ErrUsernameEmpty
	}
	if len(cleaned) > MaxUsernameLen {
		return "", ErrUsernameTooLong
	}
	return Username(cleaned), nil
}

type ConnID string

// User is the broker's per-username record. Peer is nil unless State
// is one of the pending states or StatePaired; while paired the
// references are mutual: u.Peer.Peer == u.
type User struct {
	Username Username `json:"username"`
	ConnID   ConnID   `json:"-"`
	State    State    `json:"state"`
	Peer     *User    `json:"-"`
}

func NewUser(username Username, connID ConnID) *User {
	return &User{Username: username, ConnID: connID, State: StateIdle}
}
