// Package core holds the interfaces and wire types shared between the
// broker and its transport adapters. The broker never imports an
// adapter package; adapters hand it a SignalConnection and receive
// frames back through it.
package core

// Frame is a raw outbound payload, already marshaled.
type Frame []byte

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
//
// TrySend must never block: the broker calls it inside its critical
// section and relies on the adapter to queue or drop.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
