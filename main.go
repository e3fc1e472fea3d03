package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"chatd/internal/auth"
	"chatd/internal/bot"
	"chatd/internal/config"
	"chatd/internal/friend"
	"chatd/internal/httpapi"
	"chatd/internal/hub"
	"chatd/internal/metrics"
	"chatd/internal/room"
	"chatd/internal/store"
	"chatd/internal/ws"

	"golang.org/x/time/rate"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration", "err", err)
		os.Exit(1)
	}

	addr := flag.String("addr", cfg.Addr, "HTTP listen address")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	debug := flag.Bool("debug", false, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("starting server", "version", Version, "addr", *addr, "db", *dbPath, "env", cfg.Environment)
	if cfg.UsingDevSecret() {
		slog.Warn("using the development JWT secret; set JWT_SECRET before exposing this server")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		slog.Error("open sqlite store", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("close sqlite store", "err", closeErr)
		}
	}()

	authSvc := auth.NewService(st, auth.Config{
		Secret:     []byte(cfg.JWTSecret),
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, auth.LogMailer{})

	h := hub.NewHub(cfg.ChannelCapacity)
	broker := hub.NewBroker(cfg.ChannelCapacity)
	rooms := room.NewRegistry()
	friends := friend.NewManager()

	bots := bot.NewManager()
	bots.Register(bot.NewEchoBot())

	router := hub.NewRouter(h, rooms, broker, st, bots)
	wsHandler := ws.NewHandler(h, router, authSvc, ws.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
	})

	server := httpapi.New(httpapi.Deps{
		Auth:          authSvc,
		Rooms:         rooms,
		Friends:       friends,
		Hub:           h,
		Broker:        broker,
		Store:         st,
		WS:            wsHandler,
		AuthRateLimit: rate.Limit(cfg.AuthRateLimit),
		AuthRateBurst: cfg.AuthRateBurst,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go metrics.RunLogger(ctx, time.Minute, func() (int, int, int) {
		return h.ClientCount(), rooms.Stat().Rooms, broker.Stat().Channels
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	slog.Info("listening", "addr", *addr)
	if err := server.Run(ctx, *addr); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
