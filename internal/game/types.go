package game

import (
	"fmt"
	"time"
)

// Rules is the static game configuration. It is built once at startup and
// shared read-only by every component.
type Rules struct {
	InitialTotalAssets int64          `json:"initialTotalAssets" yaml:"initial_total_assets"`
	Stake              int64          `json:"maxGameAssets" yaml:"max_game_assets"`
	Stocks             []StockSpec    `json:"stocks" yaml:"stocks"`
	Fluctuation        int64          `json:"priceFluctuation" yaml:"price_fluctuation"`
	MinPrice           int64          `json:"minPrice" yaml:"min_price"`
	RoundCadence       time.Duration  `json:"roundDuration" yaml:"round_duration"`
	CutoffHour         int            `json:"gameEndHour" yaml:"game_end_hour"`
	Cards              []FunctionCard `json:"functionCards" yaml:"function_cards"`
	LeaderboardSize    int            `json:"leaderboardSize" yaml:"leaderboard_size"`
}

func DefaultRules() Rules {
	return Rules{
		InitialTotalAssets: DefaultInitialTotalAssets,
		Stake:              DefaultStake,
		Stocks: []StockSpec{
			{Name: "股票A", Price: 100},
			{Name: "股票B", Price: 150},
		},
		Fluctuation:  DefaultFluctuation,
		MinPrice:     DefaultMinPrice,
		RoundCadence: time.Hour,
		CutoffHour:   DefaultCutoffHour,
		Cards: []FunctionCard{
			{Name: "强制上涨（百分比）", Effect: EffectRisePercent, Range: []int64{1, 10}, Probability: 0.2},
			{Name: "强制下跌（百分比）", Effect: EffectFallPercent, Range: []int64{1, 10}, Probability: 0.2},
			{Name: "强制上涨（股价）", Effect: EffectRisePrice, Range: []int64{1, 10}, Probability: 0.2},
			{Name: "强制下跌（股价）", Effect: EffectFallPrice, Range: []int64{1, 10}, Probability: 0.2},
			{Name: "锁定股价", Effect: EffectFreeze, Probability: 0.2},
		},
		LeaderboardSize: DefaultLeaderboardSize,
	}
}

// Validate checks catalog consistency.
func (r *Rules) Validate() error {
	if r.InitialTotalAssets < 0 {
		return fmt.Errorf("initial_total_assets must be >= 0")
	}
	if r.Stake <= 0 {
		return fmt.Errorf("max_game_assets must be > 0")
	}
	if len(r.Stocks) == 0 {
		return fmt.Errorf("at least one stock is required")
	}
	seen := make(map[string]bool, len(r.Stocks))
	for i, s := range r.Stocks {
		if _, err := CleanName(s.Name); err != nil {
			return fmt.Errorf("stocks[%d]: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("stocks[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Price < 0 {
			return fmt.Errorf("stocks[%d]: price must be >= 0", i)
		}
	}
	if r.Fluctuation < 0 {
		return fmt.Errorf("price_fluctuation must be >= 0")
	}
	if r.MinPrice < 0 {
		return fmt.Errorf("min_price must be >= 0")
	}
	if r.RoundCadence <= 0 {
		return fmt.Errorf("round_duration must be > 0")
	}
	if r.CutoffHour < 0 || r.CutoffHour > 23 {
		return fmt.Errorf("game_end_hour must be between 0 and 23, got %d", r.CutoffHour)
	}
	var total float64
	for i, c := range r.Cards {
		if !c.Effect.Valid() {
			return fmt.Errorf("function_cards[%d]: %w: %q", i, ErrInvalidEffect, c.Effect)
		}
		if c.Probability < 0 || c.Probability > 1 {
			return fmt.Errorf("function_cards[%d]: probability must be in [0, 1]", i)
		}
		if c.Effect.NeedsRange() {
			if _, _, err := c.Bounds(); err != nil {
				return fmt.Errorf("function_cards[%d]: %w", i, err)
			}
		}
		total += c.Probability
	}
	// Tolerate float accumulation on catalogs that sum to exactly 1.
	if total > 1+1e-9 {
		return fmt.Errorf("function card probabilities sum to %.4f, must be <= 1", total)
	}
	if r.LeaderboardSize < 1 {
		return fmt.Errorf("leaderboard_size must be >= 1")
	}
	return nil
}

// NextRoundEnd returns the next multiple of cadence counted from local
// midnight, strictly after now. An hourly cadence lands on the top of the hour.
func NextRoundEnd(now time.Time, cadence time.Duration) time.Time {
	if cadence <= 0 {
		cadence = time.Hour
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	n := now.Sub(midnight)/cadence + 1
	return midnight.Add(n * cadence)
}

// NextCutoff returns today's cutoff hour, or tomorrow's once it has passed.
func NextCutoff(now time.Time, hour int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !now.Before(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// FormatRemaining renders a countdown as HH:MM:SS.
func FormatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
