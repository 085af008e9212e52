package webrtc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pion/webrtc/v4"

	"github.com/filesend/filesend/internal/transport"
)

var _ transport.Transport = (*Transport)(nil)

// Seed serves the file at path. The seeder is the offering side: it
// opens the data channel, emits the SDP offer as the first signal,
// and starts streaming once the channel opens.
func (t *Transport) Seed(ctx context.Context, path string) (transport.Session, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("seed %s: is a directory", path)
	}

	pc, err := webrtc.NewPeerConnection(t.config())
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := newSession(pc, cancel)
	s.wireICE()

	ordered := true
	dc, err := pc.CreateDataChannel(fileChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		cancel()
		_ = pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}
	wireSender(ctx, s, dc, path, info)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		s.finish(err)
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		s.finish(err)
		return nil, fmt.Errorf("set local description: %w", err)
	}
	s.pushDescription(offer)

	return s, nil
}

// Fetch receives one file into dir. The fetcher is the answering
// side: it waits for the seeder's offer through Inject and for the
// incoming data channel.
func (t *Transport) Fetch(ctx context.Context, dir string) (transport.Session, error) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("fetch into %s: not a directory", dir)
	}

	pc, err := webrtc.NewPeerConnection(t.config())
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := newSession(pc, cancel)
	s.wireICE()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != fileChannelLabel {
			return
		}
		wireReceiver(ctx, s, dc, dir)
	})

	return s, nil
}

// destPath keeps the transfer inside dir even for hostile filenames.
func destPath(dir, name string) string {
	return filepath.Join(dir, filepath.Base(filepath.Clean("/"+name)))
}
