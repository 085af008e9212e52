// Package transport abstracts the peer-to-peer file-transfer engine
// behind a narrow capability set: seed, fetch, cancel, progress and
// completion. The broker never imports this package; it only moves
// the Signals between two Sessions without interpreting them.
package transport

import (
	"context"
	"encoding/json"
)

// Signal kinds match the broker's relay contract so a client can pass
// them through unchanged.
const (
	KindSessionDesc = "session-desc"
	KindCandidate   = "candidate"
)

// Signal is an opaque negotiation payload produced by one side of a
// transfer and consumed, uninspected, by the other.
type Signal struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// Progress reports transfer advancement for display.
type Progress struct {
	Bytes    int64
	Total    int64
	Fraction float64
}

// Session is one side of an in-flight transfer.
//
// Signals yields outbound negotiation payloads until the session no
// longer needs signaling; Inject feeds the peer's payloads back in.
// Done yields exactly one value: nil on completion, the failure
// otherwise. Cancel is idempotent.
type Session interface {
	Signals() <-chan Signal
	Inject(Signal) error
	Progress() <-chan Progress
	Done() <-chan error
	Cancel()
}

// Transport creates transfer sessions. Seed serves a local file to
// the peer; Fetch receives one into dir.
type Transport interface {
	Seed(ctx context.Context, path string) (Session, error)
	Fetch(ctx context.Context, dir string) (Session, error)
}
