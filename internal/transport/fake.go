package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Fake is an in-memory Transport for tests: it performs a one
// round-trip signal handshake and then reports completion, without
// touching the network or the filesystem.
type Fake struct{}

var _ Transport = (*Fake)(nil)

func (Fake) Seed(ctx context.Context, path string) (Session, error) {
	s := newFakeSession(true)
	s.signals <- Signal{Kind: KindSessionDesc, Body: json.RawMessage(`{"fake":"offer"}`)}
	return s, nil
}

func (Fake) Fetch(ctx context.Context, dir string) (Session, error) {
	return newFakeSession(false), nil
}

type fakeSession struct {
	offering bool

	signals  chan Signal
	progress chan Progress
	done     chan error

	mu       sync.Mutex
	finished bool
}

func newFakeSession(offering bool) *fakeSession {
	return &fakeSession{
		offering: offering,
		signals:  make(chan Signal, 4),
		progress: make(chan Progress, 4),
		done:     make(chan error, 1),
	}
}

func (s *fakeSession) Signals() <-chan Signal    { return s.signals }
func (s *fakeSession) Progress() <-chan Progress { return s.progress }
func (s *fakeSession) Done() <-chan error        { return s.done }

func (s *fakeSession) Cancel() { s.finish(errors.New("canceled")) }

func (s *fakeSession) Inject(sig Signal) error {
	if sig.Kind != KindSessionDesc {
		return nil
	}
	if !s.offering {
		// Answer the fake offer, then complete.
		s.signals <- Signal{Kind: KindSessionDesc, Body: json.RawMessage(`{"fake":"answer"}`)}
	}
	s.progress <- Progress{Bytes: 1, Total: 1, Fraction: 1}
	s.finish(nil)
	return nil
}

func (s *fakeSession) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.done <- err
}
