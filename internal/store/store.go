package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stockgame/internal/config"
	"stockgame/internal/db"
	"stockgame/internal/game"
)

var ErrInvalidName = errors.New("invalid player name")

// Record is the persisted profile of one participant, keyed by name.
type Record struct {
	Name              string    `json:"name"`
	TotalAssets       int64     `json:"totalAssets"`
	CurrentGameAssets int64     `json:"currentGameAssets"`
	Stocks            []string  `json:"stocks"`
	InGame            bool      `json:"inGame"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Patch carries absolute values; nil fields are left untouched. Applying the
// same patch twice yields the same record.
type Patch struct {
	TotalAssets       *int64
	CurrentGameAssets *int64
	Stocks            []string
	SetStocks         bool
	InGame            *bool
}

func (p Patch) apply(r *Record) {
	if p.TotalAssets != nil {
		r.TotalAssets = *p.TotalAssets
	}
	if p.CurrentGameAssets != nil {
		r.CurrentGameAssets = *p.CurrentGameAssets
	}
	if p.SetStocks {
		r.Stocks = append([]string{}, p.Stocks...)
	}
	if p.InGame != nil {
		r.InGame = *p.InGame
	}
}

// JoinPatch persists the projection a participant announces on join.
func JoinPatch(total, current int64, stocks []string, inGame bool) Patch {
	return Patch{TotalAssets: &total, CurrentGameAssets: &current, Stocks: stocks, SetStocks: true, InGame: &inGame}
}

// TradePatch persists the post-trade cash and holdings.
func TradePatch(current int64, stocks []string) Patch {
	return Patch{CurrentGameAssets: &current, Stocks: stocks, SetStocks: true}
}

// GameEndPatch persists the merged total and clears the game pools.
func GameEndPatch(total int64) Patch {
	var zero int64
	inGame := false
	return Patch{TotalAssets: &total, CurrentGameAssets: &zero, Stocks: []string{}, SetStocks: true, InGame: &inGame}
}

type Store interface {
	// Load returns the record for name, creating a default one when absent.
	Load(ctx context.Context, name string) (Record, error)
	Save(ctx context.Context, name string, p Patch) error
	// Leaderboard returns up to limit records ordered by total assets.
	Leaderboard(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Open builds the backend selected by the relay configuration.
func Open(ctx context.Context, cfg config.RelayConfig, initialAssets int64, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Store {
	case config.StoreMemory, "":
		logger.Info("using in-memory player store")
		return NewMemory(initialAssets), nil
	case config.StoreSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("using sqlite player store", "path", cfg.SQLitePath)
		return NewSQLite(conn, initialAssets), nil
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("using postgres player store")
		return NewPostgres(pool, initialAssets, logger), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func cleanName(name string) (string, error) {
	n, err := game.CleanName(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return n, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return game.DefaultLeaderboardSize
	}
	return limit
}
