package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"stockgame/internal/cli"
	"stockgame/internal/config"
	"stockgame/internal/desk"
	"stockgame/internal/game"
	"stockgame/internal/syncq"
)

// stockgame-bot is a headless participant. It never trades; it keeps a round
// clock running in the room so boundaries happen even when nobody is playing.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg := config.LoadBotFromEnv()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	client := cli.NewClient(cfg.RelayURL)
	rules, err := loadRules(ctx, client, cfg.RulesPath, logger)
	if err != nil {
		logger.Error("load rules failed", "err", err)
		os.Exit(1)
	}

	dir, err := cli.BaseDir()
	if err != nil {
		logger.Error("state dir", "err", err)
		os.Exit(1)
	}
	profiles := cli.NewProfiles(dir)
	outbox, err := syncq.Open(dir, cfg.Name)
	if err != nil {
		logger.Error("open outbox", "err", err)
		os.Exit(1)
	}

	res, err := desk.Restore(ctx, client, profiles, cfg.Name)
	if err != nil {
		logger.Error("load player failed", "name", cfg.Name, "err", err)
		os.Exit(1)
	}

	d := desk.New(desk.Config{
		Rules:    rules,
		Player:   res.Player,
		Room:     cfg.Room,
		Source:   game.NewRand(cfg.Seed),
		RoundEnd: res.RoundEnd,
		Cutoff:   res.Cutoff,
		Pending:  res.Pending,
		Outbox:   outbox,
		Profiles: profiles,
		Logger:   logger,
		Notify: func(e desk.Event) {
			switch e.Kind {
			case desk.EventRound:
				logger.Info("round boundary", "round_end", e.State.RoundEndTime)
			case desk.EventGameOver:
				logger.Info("game over", "final_assets", e.FinalAssets)
			case desk.EventNewRound:
				logger.Debug("adopted relayed round", "round_end", e.State.RoundEndTime)
			}
		},
	})

	dial := func(ctx context.Context) (desk.Link, error) {
		return cli.Dial(ctx, cfg.RelayURL, cfg.Room, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Serve(gctx, dial) })
	g.Go(func() error { return d.Run(gctx) })
	g.Go(func() error { return keepPlaying(gctx, d, logger) })

	logger.Info("stockgame bot started", "name", cfg.Name, "room", cfg.Room, "relay", cfg.RelayURL)
	if err := g.Wait(); err != nil {
		logger.Error("bot failed", "err", err)
		os.Exit(1)
	}
	logger.Info("bot shutdown")
}

// keepPlaying rejoins whenever the desk is back in the lobby.
func keepPlaying(ctx context.Context, d *desk.Desk, logger *slog.Logger) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		if d.Phase() == game.PhaseIdle {
			resumed, _, err := d.Join()
			switch {
			case errors.Is(err, game.ErrInsufficientAssets):
				logger.Warn("cannot afford stake, waiting")
			case err != nil:
				return err
			default:
				logger.Info("joined game", "resumed", resumed)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func loadRules(ctx context.Context, client *cli.Client, path string, logger *slog.Logger) (*game.Rules, error) {
	if path != "" {
		return config.LoadAndValidate(path)
	}
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rules, err := client.Rules(rctx)
	if err != nil {
		logger.Warn("relay rules unavailable, using defaults", "err", err)
		return config.RulesOrDefault("")
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}
