package webrtc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	fileChannelLabel = "file"

	chunkSize = 16 << 10

	// Flow control over the data channel's internal buffer: stop
	// queueing above the high water mark, resume on the low one.
	bufferedHighWater = 1 << 20
	bufferedLowWater  = 256 << 10
)

// fileHeader is the first, textual frame of a transfer.
type fileHeader struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// fileAck is the receiver's final verdict.
type fileAck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func wireSender(ctx context.Context, s *session, dc *webrtc.DataChannel, path string, info os.FileInfo) {
	drained := make(chan struct{}, 1)
	dc.SetBufferedAmountLowThreshold(bufferedLowWater)
	dc.OnBufferedAmountLow(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})

	ack := make(chan fileAck, 1)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		var a fileAck
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			return
		}
		select {
		case ack <- a:
		default:
		}
	})

	dc.OnOpen(func() {
		go func() {
			if err := sendFile(ctx, s, dc, drained, path, info); err != nil {
				s.finish(err)
				return
			}
			select {
			case a := <-ack:
				if a.OK {
					s.finish(nil)
				} else {
					s.finish(fmt.Errorf("receiver rejected transfer: %s", a.Error))
				}
			case <-ctx.Done():
				s.finish(ctx.Err())
			}
		}()
	})
}

func sendFile(ctx context.Context, s *session, dc *webrtc.DataChannel, drained <-chan struct{}, path string, info os.FileInfo) error {
	sum, err := fileChecksum(path)
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}

	header, err := json.Marshal(fileHeader{Name: info.Name(), Size: info.Size(), SHA256: sum})
	if err != nil {
		return err
	}
	if err := dc.SendText(string(header)); err != nil {
		return fmt.Errorf("send header: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	log.Info().Str("module", "transport.webrtc").
		Str("file", info.Name()).
		Int64("size", info.Size()).
		Msg("streaming file")

	buf := make([]byte, chunkSize)
	var sent int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			for dc.BufferedAmount() > bufferedHighWater {
				select {
				case <-drained:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if err := dc.Send(chunk); err != nil {
				return fmt.Errorf("send chunk: %w", err)
			}
			sent += int64(n)
			s.reportProgress(sent, info.Size())
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func wireReceiver(ctx context.Context, s *session, dc *webrtc.DataChannel, dir string) {
	var (
		header   *fileHeader
		tmp      *os.File
		digest   hash.Hash
		received int64
	)

	fail := func(err error) {
		if tmp != nil {
			name := tmp.Name()
			_ = tmp.Close()
			_ = os.Remove(name)
			tmp = nil
		}
		if b, mErr := json.Marshal(fileAck{OK: false, Error: err.Error()}); mErr == nil {
			_ = dc.SendText(string(b))
		}
		s.finish(err)
	}

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msg.IsString {
			if header != nil {
				return
			}
			var h fileHeader
			if err := json.Unmarshal(msg.Data, &h); err != nil {
				fail(fmt.Errorf("bad header: %w", err))
				return
			}
			f, err := os.CreateTemp(dir, ".filesend-*")
			if err != nil {
				fail(err)
				return
			}
			header, tmp, digest = &h, f, sha256.New()
			log.Info().Str("module", "transport.webrtc").
				Str("file", h.Name).
				Int64("size", h.Size).
				Msg("receiving file")
			if h.Size == 0 {
				finalizeReceive(s, dc, dir, header, tmp, digest)
				tmp = nil
			}
			return
		}

		if header == nil || tmp == nil {
			fail(errors.New("chunk before header"))
			return
		}
		if _, err := tmp.Write(msg.Data); err != nil {
			fail(err)
			return
		}
		digest.Write(msg.Data)
		received += int64(len(msg.Data))
		s.reportProgress(received, header.Size)

		if received >= header.Size {
			finalizeReceive(s, dc, dir, header, tmp, digest)
			tmp = nil
		}
	})
}

func finalizeReceive(s *session, dc *webrtc.DataChannel, dir string, header *fileHeader, tmp *os.File, digest hash.Hash) {
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		s.finish(err)
		return
	}

	sum := hex.EncodeToString(digest.Sum(nil))
	if sum != header.SHA256 {
		_ = os.Remove(tmpName)
		err := fmt.Errorf("checksum mismatch: got %s want %s", sum, header.SHA256)
		if b, mErr := json.Marshal(fileAck{OK: false, Error: err.Error()}); mErr == nil {
			_ = dc.SendText(string(b))
		}
		s.finish(err)
		return
	}

	dest := destPath(dir, header.Name)
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		s.finish(err)
		return
	}

	if b, err := json.Marshal(fileAck{OK: true}); err == nil {
		_ = dc.SendText(string(b))
	}
	log.Info().Str("module", "transport.webrtc").Str("dest", dest).Msg("file received")
	s.finish(nil)
}
