package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"streamcast/internal/client/identity"
	"streamcast/internal/client/media"
	"streamcast/internal/client/session"
	sigclient "streamcast/internal/client/signal"
	clientwebrtc "streamcast/internal/client/webrtc"
	"streamcast/internal/core/domain"
	"streamcast/internal/core/ports"
	"streamcast/pkg/logger"

	"github.com/pion/webrtc/v3"
)

const helpText = `broadcast - join a StreamCast room as a streamer or viewer

Usage:
  broadcast -room <id> [options]

A streamer captures camera and microphone and sends them to every viewer
in the room. A viewer receives the streamer's media.

Options:
  -server   Relay websocket URL (default ws://localhost:8080/ws)
  -room     Room to join (required)
  -role     streamer or viewer (default viewer)
  -name     Display name (default the role)
  -token    Identity token minted by the portal; overrides -role and -name
  -stun     STUN server URL (default stun:stun.l.google.com:19302)
  -log      Log level (default info)
`

func main() {
	var (
		serverURL = flag.String("server", "ws://localhost:8080/ws", "relay websocket URL")
		roomID    = flag.String("room", "", "room to join")
		role      = flag.String("role", "viewer", "streamer or viewer")
		name      = flag.String("name", "", "display name")
		token     = flag.String("token", "", "identity token")
		stunURL   = flag.String("stun", "stun:stun.l.google.com:19302", "STUN server URL")
		logLevel  = flag.String("log", "info", "log level")
	)
	flag.Usage = func() { fmt.Fprint(os.Stderr, helpText) }
	flag.Parse()

	if *roomID == "" {
		flag.Usage()
		os.Exit(2)
	}

	zapLogger := logger.NewWithFormat(*logLevel, "console")
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	displayName := *name
	peerRole := domain.Role(*role)
	if *token != "" {
		id, err := identity.FromToken(*token)
		if err != nil {
			log.Fatalw("invalid identity token", "error", err)
		}
		displayName = id.DisplayName
		peerRole = id.Role
	}
	if peerRole != domain.RoleStreamer && peerRole != domain.RoleViewer {
		log.Fatalw("unknown role", "role", *role)
	}
	if displayName == "" {
		displayName = string(peerRole)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infow("shutting down", "signal", sig.String())
		cancel()
	}()

	transport, err := sigclient.Dial(ctx, *serverURL, logger.Named(zapLogger, "signal"))
	if err != nil {
		log.Fatalw("failed to reach relay", "error", err)
	}

	factoryCfg := clientwebrtc.Config{
		ICEServers: []webrtc.ICEServer{{URLs: []string{*stunURL}}},
	}
	factory := clientwebrtc.NewFactory(factoryCfg, logger.Named(zapLogger, "webrtc"))

	var source ports.MediaSource
	if peerRole.IsStreamer() {
		source = media.NewController(media.Config{}, logger.Named(zapLogger, "media"))
	}

	orch := session.NewOrchestrator(session.Config{
		Transport:   transport,
		Factory:     factory,
		Media:       source,
		IsStreamer:  peerRole.IsStreamer(),
		DisplayName: displayName,
		Logger:      logger.Named(zapLogger, "session"),
	})

	orch.SetOnChange(func(entries []session.EntryInfo) {
		for _, e := range entries {
			log.Infow("peer",
				"peer_id", e.PeerID,
				"name", e.Name,
				"state", e.State.String(),
				"initiator", e.Initiator,
			)
		}
	})

	transport.Start(orch)
	go orch.Run(ctx)

	selfID, err := orch.SelfID(ctx)
	if err != nil {
		log.Fatalw("relay never assigned a peer id", "error", err)
	}
	log.Infow("connected", "self_id", selfID, "role", peerRole)

	if err := orch.JoinRoom(ctx, domain.RoomID(*roomID)); err != nil {
		log.Fatalw("failed to join room", "room_id", *roomID, "error", err)
	}
	log.Infow("joined room", "room_id", *roomID)

	<-ctx.Done()

	if err := orch.Close(); err != nil {
		log.Warnw("session close failed", "error", err)
	}
}
