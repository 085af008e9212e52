package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/filesend/filesend/internal/client"
	"github.com/filesend/filesend/internal/core"
	"github.com/filesend/filesend/internal/transport"
	transportwebrtc "github.com/filesend/filesend/internal/transport/webrtc"
)

func main() {
	server := pflag.String("server", "ws://localhost:8080/api/ws/signal", "broker signal endpoint")
	name := pflag.String("name", "", "username to log in with (required)")
	sendPath := pflag.String("send", "", "file to send; omit to receive")
	peer := pflag.String("peer", "", "peer to offer to (required with --send)")
	outDir := pflag.String("out", ".", "directory to receive into")
	stun := pflag.String("stun", "stun:stun.l.google.com:19302", "STUN server URL")
	debug := pflag.Bool("debug", false, "verbose logging")
	pflag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *name == "" {
		log.Fatal().Msg("--name is required")
	}
	if *sendPath != "" && *peer == "" {
		log.Fatal().Msg("--peer is required with --send")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := &session{
		transport: transportwebrtc.New(*stun),
		sendPath:  *sendPath,
		peer:      *peer,
		outDir:    *outDir,

		loggedIn: make(chan []core.UserEntry, 1),
		paired:   make(chan string, 1),
		relays:   make(chan core.RelayEvent, 64),
		gone:     make(chan struct{}),
	}

	c, err := client.Dial(ctx, *server, app.handler())
	if err != nil {
		log.Fatal().Err(err).Msg("connect to broker")
	}
	app.c = c

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	if err := c.Login(*name); err != nil {
		log.Fatal().Err(err).Msg("login send")
	}

	if err := app.run(ctx, runErr); err != nil {
		log.Fatal().Err(err).Msg("transfer failed")
	}
	log.Info().Msg("done")
}

// session holds the CLI's copy of the pairing state machine.
type session struct {
	c         *client.Client
	transport transport.Transport
	sendPath  string
	peer      string
	outDir    string

	loggedIn chan []core.UserEntry
	paired   chan string
	relays   chan core.RelayEvent
	gone     chan struct{}
}

func (s *session) handler() client.Handler {
	return client.Handler{
		OnLogin: func(ev core.LoginEvent) {
			if !ev.OK {
				log.Fatal().Str("reason", ev.Error).Msg("login rejected")
			}
			s.loggedIn <- ev.Users
		},
		OnUserOnline: func(ev core.UserOnlineEvent) {
			log.Info().Str("username", string(ev.Username)).Msg("user online")
		},
		OnUserOffline: func(ev core.UserOfflineEvent) {
			log.Info().Str("username", string(ev.Username)).Msg("user offline")
		},
		OnIncomingOffer: func(ev core.IncomingOfferEvent) {
			// Receiving mode accepts the first offer that arrives.
			if s.sendPath == "" {
				log.Info().Str("from", string(ev.From)).Msg("accepting incoming offer")
				if err := s.c.Answer(string(ev.From), true); err != nil {
					log.Error().Err(err).Msg("answer")
				}
			} else {
				_ = s.c.Answer(string(ev.From), false)
			}
		},
		OnOfferResult: func(ev core.OfferResultEvent) {
			if !ev.Accept {
				log.Fatal().Str("target", string(ev.Target)).Msg("offer rejected")
			}
		},
		OnPaired: func(ev core.PairedEvent) {
			s.paired <- string(ev.Peer)
		},
		OnPartnerDisconnected: func(core.PartnerDisconnectedEvent) {
			close(s.gone)
		},
		OnRelay: func(ev core.RelayEvent) {
			s.relays <- ev
		},
		OnError: func(ev core.ErrorEvent) {
			log.Warn().Str("op", ev.Op).Str("reason", ev.Error).Msg("broker error")
		},
	}
}

func (s *session) run(ctx context.Context, runErr chan error) error {
	select {
	case users := <-s.loggedIn:
		for _, u := range users {
			log.Info().Str("username", string(u.Username)).Stringer("state", u.State).Msg("online")
		}
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.sendPath != "" {
		if err := s.c.Offer(s.peer); err != nil {
			return err
		}
	}

	var peerName string
	select {
	case peerName = <-s.paired:
		log.Info().Str("peer", peerName).Msg("paired")
	case err := <-runErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.sendPath != "" {
		return s.send(ctx)
	}
	return s.receive(ctx)
}

func (s *session) send(ctx context.Context) error {
	info, err := os.Stat(s.sendPath)
	if err != nil {
		return err
	}
	sess, err := s.transport.Seed(ctx, s.sendPath)
	if err != nil {
		return err
	}
	if err := s.c.AnnounceFile(client.FileMeta{Name: filepath.Base(s.sendPath), Size: info.Size()}); err != nil {
		return err
	}

	go s.injectLoop(ctx, sess)
	if err := s.c.PumpSession(ctx, sess, s.logProgress("sent")); err != nil {
		return err
	}
	return s.c.Relay(core.KindTransferDone, json.RawMessage(`{}`))
}

func (s *session) receive(ctx context.Context) error {
	// Wait for the announcement before opening a fetch session.
	var meta client.FileMeta
	for {
		select {
		case ev := <-s.relays:
			if ev.Kind != core.KindFileReady {
				continue
			}
			if err := json.Unmarshal(ev.Body, &meta); err != nil {
				return err
			}
		case <-s.gone:
			return context.Canceled
		case <-ctx.Done():
			return ctx.Err()
		}
		break
	}
	log.Info().Str("file", meta.Name).Str("size", client.FormatBytes(meta.Size)).Msg("incoming file")

	sess, err := s.transport.Fetch(ctx, s.outDir)
	if err != nil {
		return err
	}
	go s.injectLoop(ctx, sess)
	return s.c.PumpSession(ctx, sess, s.logProgress("received"))
}

func (s *session) injectLoop(ctx context.Context, sess transport.Session) {
	for {
		select {
		case ev := <-s.relays:
			if err := client.InjectRelay(sess, ev); err != nil {
				log.Warn().Err(err).Str("kind", ev.Kind).Msg("inject signal")
			}
		case <-s.gone:
			sess.Cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) logProgress(verb string) func(transport.Progress) {
	return func(p transport.Progress) {
		log.Info().
			Str(verb, client.FormatBytes(p.Bytes)).
			Str("of", client.FormatBytes(p.Total)).
			Msg("progress")
	}
}
