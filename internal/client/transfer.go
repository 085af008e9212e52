package client

import (
	"context"
	"encoding/json"

	"github.com/filesend/filesend/internal/core"
	"github.com/filesend/filesend/internal/transport"
)

// FileMeta is the body of the file-ready relay payload: just enough
// for the receiving side to decide and to start fetching.
type FileMeta struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// AnnounceFile tells the paired peer a transfer is about to start.
func (c *Client) AnnounceFile(meta FileMeta) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return c.Relay(core.KindFileReady, body)
}

// InjectRelay routes an inbound relay payload into a transfer
// session. Non-negotiation kinds are ignored.
func InjectRelay(sess transport.Session, ev core.RelayEvent) error {
	switch ev.Kind {
	case core.KindSessionDesc, core.KindCandidate:
		return sess.Inject(transport.Signal{Kind: ev.Kind, Body: ev.Body})
	default:
		return nil
	}
}

// PumpSession moves the session's outbound signals onto the relay
// channel and blocks until the transfer resolves. Inbound payloads
// still arrive via the read loop; wire OnRelay to InjectRelay.
func (c *Client) PumpSession(ctx context.Context, sess transport.Session, onProgress func(transport.Progress)) error {
	for {
		select {
		case sig := <-sess.Signals():
			if err := c.Relay(sig.Kind, sig.Body); err != nil {
				return err
			}
		case p := <-sess.Progress():
			if onProgress != nil {
				onProgress(p)
			}
		case err := <-sess.Done():
			// Flush signals queued just before completion so the
			// peer's session can finish too.
			for {
				select {
				case sig := <-sess.Signals():
					if rerr := c.Relay(sig.Kind, sig.Body); rerr != nil {
						return rerr
					}
				default:
					return err
				}
			}
		case <-ctx.Done():
			sess.Cancel()
			return ctx.Err()
		}
	}
}
