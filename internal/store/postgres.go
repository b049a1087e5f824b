package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	db      *pgxpool.Pool
	initial int64
	log     *slog.Logger
}

func NewPostgres(pool *pgxpool.Pool, initialAssets int64, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: pool, initial: initialAssets, log: logger}
}

func (s *Postgres) Load(ctx context.Context, name string) (Record, error) {
	name, err := cleanName(name)
	if err != nil {
		return Record{}, err
	}
	if _, err := s.db.Exec(ctx, `
		INSERT INTO players (name, total_assets)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, name, s.initial); err != nil {
		return Record{}, fmt.Errorf("create %q: %w", name, err)
	}
	rec, err := scanPostgres(s.db.QueryRow(ctx, `
		SELECT name, total_assets, current_game_assets, stocks, in_game, created_at, updated_at
		FROM players
		WHERE name = $1
	`, name))
	if err == pgx.ErrNoRows {
		return Record{}, fmt.Errorf("load %q: %w", name, err)
	}
	return rec, err
}

// Save applies the patch under a serializable transaction, retrying on
// serialization failures.
func (s *Postgres) Save(ctx context.Context, name string, p Patch) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}

	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = s.saveOnce(ctx, name, p)
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		s.log.Debug("retrying player save", "player", name, "attempt", attempt+1)
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		retryDelay *= 2
	}
	return fmt.Errorf("save %q: %w", name, err)
}

func (s *Postgres) saveOnce(ctx context.Context, name string, p Patch) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO players (name, total_assets)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, name, s.initial); err != nil {
		return err
	}
	rec, err := scanPostgres(tx.QueryRow(ctx, `
		SELECT name, total_assets, current_game_assets, stocks, in_game, created_at, updated_at
		FROM players
		WHERE name = $1
		FOR UPDATE
	`, name))
	if err != nil {
		return err
	}
	p.apply(&rec)
	stocks, err := json.Marshal(rec.Stocks)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE players
		SET total_assets = $1, current_game_assets = $2, stocks = $3::jsonb, in_game = $4, updated_at = now()
		WHERE name = $5
	`, rec.TotalAssets, rec.CurrentGameAssets, string(stocks), rec.InGame, name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) Leaderboard(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.Query(ctx, `
		SELECT name, total_assets, current_game_assets, stocks, in_game, created_at, updated_at
		FROM players
		ORDER BY total_assets DESC, name ASC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

func scanPostgres(row pgx.Row) (Record, error) {
	var rec Record
	var stocks []byte
	if err := row.Scan(&rec.Name, &rec.TotalAssets, &rec.CurrentGameAssets, &stocks, &rec.InGame, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(stocks, &rec.Stocks); err != nil {
		return Record{}, fmt.Errorf("decode stocks for %q: %w", rec.Name, err)
	}
	if rec.Stocks == nil {
		rec.Stocks = []string{}
	}
	return rec, nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
