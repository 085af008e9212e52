package domain

import "time"

// PendingRequest is an outstanding connection offer. At most one may
// exist per offerer and at most one per target; it lives until
// accept, reject, expiry, or either party's disconnect.
type PendingRequest struct {
	From      Username
	To        Username
	CreatedAt time.Time

	// Expiry is stopped on any resolution of the request. Nil when
	// offers are configured not to expire.
	Expiry *time.Timer
}
