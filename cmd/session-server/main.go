package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/broadcast"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/config"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/coordinator"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/identity"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/logging"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/registry"
	"github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/store"
	httptransport "github.com/nobuyuki-ootake/AIAgentTRPGGM-sub006/internal/transport/http"
)

func main() {
	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(cfg.Server.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("db ping failed")
	}
	if err := st.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("ensure schema failed")
	}

	// A subscriber dropped for falling behind goes through the same
	// disconnect path as a dead socket and must resume to catch up.
	var reg *registry.Registry
	router := broadcast.NewRouter(func(_, connID string) {
		reg.MarkDisconnected(connID)
	})
	dir := coordinator.NewDirectory(ctx, cfg.Session, st, st, st, router)
	if err := dir.Restore(ctx); err != nil {
		log.Fatal().Err(err).Msg("restore sessions failed")
	}
	dir.StartJanitor(ctx, cfg.Session.JanitorInterval)

	ids := identity.NewService(st)
	reg = registry.New(func(c registry.Conn) {
		if sess, ok := dir.Get(c.SessionID); ok {
			sess.ConnectionLost(c.ID, c.PlayerID)
		}
	})

	r := httptransport.NewRouter(st, cfg.Server, dir, ids, reg)
	httptransport.LogRoutes(r)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Server.HTTPAddr).Msg("http listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server shut down")
}
