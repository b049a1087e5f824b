package desk

import (
	"context"
	"errors"
	"time"

	"stockgame/internal/cli"
	"stockgame/internal/game"
)

// Resume is what a desk needs to pick a participant back up.
type Resume struct {
	Player   game.Participant
	RoundEnd time.Time
	Cutoff   time.Time
	Pending  map[string]game.FunctionCard
}

// FromProfile rebuilds the participant, its round clock and its bound cards
// from a saved profile.
func FromProfile(p cli.Profile) Resume {
	r := Resume{Player: p.Participant()}
	if p.RoundEnd > 0 {
		r.RoundEnd = time.UnixMilli(p.RoundEnd)
	}
	if p.Cutoff > 0 {
		r.Cutoff = time.UnixMilli(p.Cutoff)
	}
	if len(p.Pending) > 0 {
		r.Pending = make(map[string]game.FunctionCard, len(p.Pending))
		for name, card := range p.Pending {
			r.Pending[name] = card
		}
	}
	return r
}

// Restore prefers the local profile and falls back to the relay's record,
// which the relay creates on first use.
func Restore(ctx context.Context, client *cli.Client, profiles *cli.Profiles, name string) (Resume, error) {
	clean, err := game.CleanName(name)
	if err != nil {
		return Resume{}, err
	}
	prof, err := profiles.Load(clean)
	if err == nil {
		return FromProfile(prof), nil
	}
	if !errors.Is(err, cli.ErrNoProfile) {
		return Resume{}, err
	}
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	rec, err := client.Player(rctx, clean)
	if err != nil {
		return Resume{}, err
	}
	return Resume{Player: game.Participant{
		Name:              rec.Name,
		TotalAssets:       rec.TotalAssets,
		CurrentGameAssets: rec.CurrentGameAssets,
		Holdings:          rec.Stocks,
		InGame:            rec.InGame,
	}}, nil
}
