package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/scrimspot/roomsync-backend/internal/auth"
	"github.com/scrimspot/roomsync-backend/internal/config"
	"github.com/scrimspot/roomsync-backend/internal/httpapi"
	"github.com/scrimspot/roomsync-backend/internal/hub"
	"github.com/scrimspot/roomsync-backend/internal/room"
	"github.com/scrimspot/roomsync-backend/internal/session"
	"github.com/scrimspot/roomsync-backend/internal/store"
	"github.com/scrimspot/roomsync-backend/internal/tournament"
	"github.com/scrimspot/roomsync-backend/internal/ws"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The tournament subsystem is an external collaborator; the static
	// provider stands in until its service client is wired here.
	provider := &tournament.Static{}

	var persist room.CommitHook
	var st *store.Store
	if cfg.DatabaseURL != "" {
		st, err = store.Open(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("open store", zap.Error(err))
		}
		go st.Run(ctx)
		persist = func(u room.Update) { st.Enqueue(u.Version, u.State) }
		logger.Info("write-behind persistence enabled")
	} else {
		logger.Info("no DATABASE_URL, running in-memory only")
	}
	onCommit := tournament.CombineHooks(persist, tournament.WithdrawalHook(provider, logger))

	h := hub.NewHub(ctx, logger, onCommit)

	if st != nil {
		restored, err := st.LoadAll(ctx)
		if err != nil {
			logger.Fatal("restore rooms", zap.Error(err))
		}
		for _, rr := range restored {
			reply := make(chan *room.Room, 1)
			h.Inbox() <- hub.EnsureRoom{RoomID: rr.State.RoomID, State: rr.State, Version: rr.Version, Reply: reply}
			<-reply
		}
		logger.Info("rooms restored", zap.Int("count", len(restored)))
	}

	registry := session.NewRegistry(cfg.HeartbeatTimeout, logger)
	go registry.Run(ctx, cfg.SweepInterval)

	locker := tournament.NewAutoLocker(h, provider, logger)
	go locker.Run(ctx, cfg.AutoLockInterval)

	handler := httpapi.SetupRoutes(h, ws.Deps{
		Hub:          h,
		Registry:     registry,
		Verifier:     auth.NewVerifier(cfg.JWTSecret),
		Entitlements: provider,
		Logger:       logger,
	}, provider, logger)

	srv := &http.Server{Addr: cfg.Addr, Handler: handler}

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		h.Inbox() <- hub.ShutdownHub{}
		cancel()
	}()

	logger.Info("listening", zap.String("addr", cfg.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server", zap.Error(err))
	}
}
