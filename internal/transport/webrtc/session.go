// Package webrtc implements transport.Transport over a pion/webrtc
// data channel: the seeder opens the peer connection and an ordered
// channel named "file", then streams the file as a header frame plus
// fixed-size binary chunks; the fetcher verifies a checksum and acks.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/filesend/filesend/internal/transport"
)

type Transport struct {
	stunURL string
}

func New(stunURL string) *Transport {
	return &Transport{stunURL: stunURL}
}

func (t *Transport) config() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: []string{t.stunURL}}},
	}
}

type session struct {
	pc *webrtc.PeerConnection

	signals  chan transport.Signal
	progress chan transport.Progress
	done     chan error

	mu       sync.Mutex
	finished bool
	cancel   context.CancelFunc
}

func newSession(pc *webrtc.PeerConnection, cancel context.CancelFunc) *session {
	return &session{
		pc:       pc,
		signals:  make(chan transport.Signal, 16),
		progress: make(chan transport.Progress, 16),
		done:     make(chan error, 1),
		cancel:   cancel,
	}
}

func (s *session) Signals() <-chan transport.Signal    { return s.signals }
func (s *session) Progress() <-chan transport.Progress { return s.progress }
func (s *session) Done() <-chan error                  { return s.done }

func (s *session) Cancel() {
	s.finish(errors.New("canceled"))
}

// finish resolves the session exactly once and releases the peer
// connection.
func (s *session) finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.mu.Unlock()

	s.cancel()
	_ = s.pc.Close()
	s.done <- err
}

// Inject feeds a peer's negotiation payload into the local peer
// connection.
func (s *session) Inject(sig transport.Signal) error {
	switch sig.Kind {
	case transport.KindSessionDesc:
		var desc webrtc.SessionDescription
		if err := json.Unmarshal(sig.Body, &desc); err != nil {
			return err
		}
		if err := s.pc.SetRemoteDescription(desc); err != nil {
			return err
		}
		// The fetcher answers the seeder's offer.
		if desc.Type == webrtc.SDPTypeOffer {
			answer, err := s.pc.CreateAnswer(nil)
			if err != nil {
				return err
			}
			if err := s.pc.SetLocalDescription(answer); err != nil {
				return err
			}
			s.pushDescription(answer)
		}
		return nil
	case transport.KindCandidate:
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(sig.Body, &cand); err != nil {
			return err
		}
		return s.pc.AddICECandidate(cand)
	default:
		return errors.New("unknown signal kind: " + sig.Kind)
	}
}

func (s *session) pushDescription(desc webrtc.SessionDescription) {
	body, err := json.Marshal(desc)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.webrtc").Msg("marshal description")
		return
	}
	s.push(transport.Signal{Kind: transport.KindSessionDesc, Body: body})
}

func (s *session) wireICE() {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		body, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Error().Err(err).Str("module", "transport.webrtc").Msg("marshal candidate")
			return
		}
		s.push(transport.Signal{Kind: transport.KindCandidate, Body: body})
	})
	s.pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.Debug().Str("module", "transport.webrtc").Str("state", st.String()).Msg("peer connection state")
		if st == webrtc.PeerConnectionStateFailed || st == webrtc.PeerConnectionStateClosed {
			s.finish(errors.New("peer connection " + st.String()))
		}
	})
}

func (s *session) push(sig transport.Signal) {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if finished {
		return
	}
	select {
	case s.signals <- sig:
	default:
		log.Warn().Str("module", "transport.webrtc").Str("kind", sig.Kind).Msg("signal queue full, dropping")
	}
}

func (s *session) reportProgress(bytes, total int64) {
	p := transport.Progress{Bytes: bytes, Total: total}
	if total > 0 {
		p.Fraction = float64(bytes) / float64(total)
	}
	select {
	case s.progress <- p:
	default:
	}
}
