package app

import "errors"

// Broker error taxonomy. Every value is recoverable at the boundary:
// the adapter reports it to the requesting client and the broker's
// state stays consistent.
var (
	// login
	ErrInvalidUsername   = errors.New("invalid username")
	ErrUsernameTaken     = errors.New("username taken")
	ErrAlreadyRegistered = errors.New("connection already logged in")

	// negotiation
	ErrNotRegistered     = errors.New("connection not registered")
	ErrInvalidTarget     = errors.New("invalid target")
	ErrTargetUnavailable = errors.New("target unavailable")
	ErrAlreadyPending    = errors.New("offer already pending")
	ErrNotPending        = errors.New("no matching pending offer")

	// relay
	ErrNotPaired = errors.New("not paired")
	ErrPeerGone  = errors.New("peer connection gone")
)

// ErrorCode maps a broker error to its wire identifier.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidUsername):
		return "invalid_username"
	case errors.Is(err, ErrUsernameTaken):
		return "username_taken"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_logged_in"
	case errors.Is(err, ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	case errors.Is(err, ErrTargetUnavailable):
		return "target_unavailable"
	case errors.Is(err, ErrAlreadyPending):
		return "already_pending"
	case errors.Is(err, ErrNotPending):
		return "not_pending"
	case errors.Is(err, ErrNotPaired):
		return "not_paired"
	case errors.Is(err, ErrPeerGone):
		return "peer_gone"
	default:
		return "internal"
	}
}
