package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SQLite persists records through database/sql with the modernc driver.
type SQLite struct {
	db      *sql.DB
	initial int64
}

func NewSQLite(conn *sql.DB, initialAssets int64) *SQLite {
	return &SQLite{db: conn, initial: initialAssets}
}

func (s *SQLite) Load(ctx context.Context, name string) (Record, error) {
	name, err := cleanName(name)
	if err != nil {
		return Record{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	rec, err := s.ensureTx(ctx, tx, name)
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *SQLite) Save(ctx context.Context, name string, p Patch) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rec, err := s.ensureTx(ctx, tx, name)
	if err != nil {
		return err
	}
	p.apply(&rec)
	stocks, err := json.Marshal(rec.Stocks)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE players
		SET total_assets = ?, current_game_assets = ?, stocks = ?, in_game = ?, updated_at = ?
		WHERE name = ?
	`, rec.TotalAssets, rec.CurrentGameAssets, string(stocks), rec.InGame, time.Now().UnixMilli(), name); err != nil {
		return fmt.Errorf("save %q: %w", name, err)
	}
	return tx.Commit()
}

func (s *SQLite) Leaderboard(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, total_assets, current_game_assets, stocks, in_game, created_at, updated_at
		FROM players
		ORDER BY total_assets DESC, name ASC
		LIMIT ?
	`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) ensureTx(ctx context.Context, tx *sql.Tx, name string) (Record, error) {
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO players (name, total_assets, current_game_assets, stocks, in_game, created_at, updated_at)
		VALUES (?, ?, 0, '[]', 0, ?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, s.initial, now, now); err != nil {
		return Record{}, fmt.Errorf("create %q: %w", name, err)
	}
	row := tx.QueryRowContext(ctx, `
		SELECT name, total_assets, current_game_assets, stocks, in_game, created_at, updated_at
		FROM players
		WHERE name = ?
	`, name)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("load %q: %w", name, err)
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (Record, error) {
	var rec Record
	var stocks string
	var inGame bool
	var created, updated int64
	if err := row.Scan(&rec.Name, &rec.TotalAssets, &rec.CurrentGameAssets, &stocks, &inGame, &created, &updated); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal([]byte(stocks), &rec.Stocks); err != nil {
		return Record{}, fmt.Errorf("decode stocks for %q: %w", rec.Name, err)
	}
	if rec.Stocks == nil {
		rec.Stocks = []string{}
	}
	rec.InGame = inGame
	rec.CreatedAt = time.UnixMilli(created)
	rec.UpdatedAt = time.UnixMilli(updated)
	return rec, nil
}
