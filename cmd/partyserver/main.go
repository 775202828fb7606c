// Package main provides the party server binary: room management, the
// tagged-protocol dispatcher, and the websocket/TCP transports.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/partyserver/internal/config"
	"github.com/cory-johannsen/partyserver/internal/dispatch"
	"github.com/cory-johannsen/partyserver/internal/game/wordduel"
	"github.com/cory-johannsen/partyserver/internal/observability"
	"github.com/cory-johannsen/partyserver/internal/room"
	"github.com/cory-johannsen/partyserver/internal/scripting"
	"github.com/cory-johannsen/partyserver/internal/server"
	"github.com/cory-johannsen/partyserver/internal/session"
	"github.com/cory-johannsen/partyserver/internal/transport/tcp"
	"github.com/cory-johannsen/partyserver/internal/transport/ws"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	sweepInterval := flag.Duration("sweep-interval", time.Minute, "how often idle rooms are reaped")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting party server",
		zap.Bool("websocket", cfg.WebSocket.Enabled),
		zap.Bool("tcp", cfg.TCP.Enabled),
	)

	// Game types: the built-in word game plus any scripted manifests. A
	// scripted manifest marked default overrides the built-in default.
	types := room.NewGameTypes()
	types.Register(wordduel.GameType, wordduel.Factory(0, logger))
	types.SetDefault(wordduel.GameType)

	scriptStart := time.Now()
	scripted, err := scripting.RegisterGameTypes(cfg.Scripting, types, logger)
	if err != nil {
		logger.Fatal("loading scripted game types", zap.Error(err))
	}
	logger.Info("game types ready",
		zap.Strings("types", types.Types()),
		zap.Int("scripted", scripted),
		zap.Duration("elapsed", time.Since(scriptStart)),
	)

	registry := room.NewRegistry(cfg.Rooms, types, logger)
	sessions := session.NewManager()
	dispatcher := dispatch.New(registry, sessions, room.FirstAvailable{}, cfg.Protocol, logger)

	lifecycle := server.NewLifecycle(logger)

	// Rooms stop last so the transports drain their clients first.
	roomsQuit := make(chan struct{})
	lifecycle.Add("rooms", &server.FuncService{
		StartFn: func() error {
			<-roomsQuit
			return nil
		},
		StopFn: func() {
			registry.CloseAll()
			sessions.CloseAll()
			close(roomsQuit)
		},
	})

	if cfg.Rooms.IdleTimeout > 0 {
		sweepCtx, stopSweeper := context.WithCancel(ctx)
		lifecycle.Add("sweeper", &server.FuncService{
			StartFn: func() error {
				registry.RunSweeper(sweepCtx, *sweepInterval)
				return nil
			},
			StopFn: stopSweeper,
		})
	}

	if cfg.TCP.Enabled {
		acceptor := tcp.NewAcceptor(cfg.TCP, dispatcher, logger)
		lifecycle.Add("tcp", &server.FuncService{
			StartFn: acceptor.ListenAndServe,
			StopFn:  acceptor.Stop,
		})
	}

	if cfg.WebSocket.Enabled {
		wsServer := ws.NewServer(cfg.WebSocket, dispatcher, logger)
		lifecycle.Add("websocket", &server.FuncService{
			StartFn: wsServer.ListenAndServe,
			StopFn:  wsServer.Stop,
		})
	}

	logger.Info("party server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("ws_addr", cfg.WebSocket.Addr()),
		zap.String("tcp_addr", cfg.TCP.Addr()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
