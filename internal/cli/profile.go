package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stockgame/internal/game"
)

var ErrNoProfile = errors.New("no local profile")

// Profile is the participant state kept between runs so that returning to a
// game neither charges the stake again nor resets the round clock.
type Profile struct {
	Name              string              `json:"name"`
	Room              string              `json:"room"`
	TotalAssets       int64               `json:"total_assets"`
	CurrentGameAssets int64               `json:"current_game_assets"`
	Holdings          []string            `json:"holdings"`
	Cards             []game.FunctionCard `json:"cards"`
	InGame            bool                `json:"in_game"`
	RoundEnd          int64               `json:"round_end_ms"`
	Cutoff            int64               `json:"cutoff_ms"`
	UpdatedAt         time.Time           `json:"updated_at"`

	// Pending holds cards bound to a stock for the round in progress.
	Pending map[string]game.FunctionCard `json:"pending_effects,omitempty"`
}

func (p Profile) Participant() game.Participant {
	return game.Participant{
		Name:              p.Name,
		TotalAssets:       p.TotalAssets,
		CurrentGameAssets: p.CurrentGameAssets,
		Holdings:          append([]string(nil), p.Holdings...),
		Cards:             append([]game.FunctionCard(nil), p.Cards...),
		InGame:            p.InGame,
	}
}

// BaseDir is ~/.stk, created if missing.
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".stk")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

type Profiles struct {
	dir string
}

func NewProfiles(dir string) *Profiles {
	return &Profiles{dir: dir}
}

func (ps *Profiles) path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid profile name %q", name)
	}
	if err := os.MkdirAll(ps.dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(ps.dir, "profile-"+name+".json"), nil
}

func (ps *Profiles) Save(p Profile) error {
	path, err := ps.path(p.Name)
	if err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	body, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

// Load returns ErrNoProfile when nothing was saved for name yet.
func (ps *Profiles) Load(name string) (Profile, error) {
	path, err := ps.path(name)
	if err != nil {
		return Profile{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Profile{}, ErrNoProfile
		}
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", path, err)
	}
	return p, nil
}

func (ps *Profiles) Clear(name string) error {
	path, err := ps.path(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
