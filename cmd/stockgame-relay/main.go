package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"stockgame/internal/api"
	"stockgame/internal/config"
	"stockgame/internal/session"
	"stockgame/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadRelayFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	rules, err := config.RulesOrDefault(cfg.RulesPath)
	if err != nil {
		logger.Error("load rules failed", "path", cfg.RulesPath, "err", err)
		os.Exit(1)
	}

	st, err := store.Open(ctx, cfg, rules.InitialTotalAssets, logger)
	if err != nil {
		logger.Error("store open failed", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	rooms := session.NewManager(ctx, cfg.DefaultRoom, session.Deps{
		Store:  st,
		Rules:  rules,
		Logger: logger,
	})
	defer rooms.Close()

	server := api.New(cfg, logger, rooms, st, rules)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("stockgame relay listening", "addr", cfg.Addr, "store", cfg.Store, "room", cfg.DefaultRoom)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("stockgame relay stopped")
}
