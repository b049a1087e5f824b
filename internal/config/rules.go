package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"stockgame/internal/game"
)

// Load reads a rules YAML file as-is and expands ${VAR} references.
// Fields absent from the file are left at their zero value.
func Load(path string) (*game.Rules, error) {
	var rules game.Rules
	if err := decodeFile(path, &rules); err != nil {
		return nil, err
	}
	return &rules, nil
}

// LoadWithDefaults decodes the file over the default rules, so only the keys
// present in the file override them. A stock or card list in the file
// replaces the default list entirely.
func LoadWithDefaults(path string) (*game.Rules, error) {
	rules := game.DefaultRules()
	if err := decodeFile(path, &rules); err != nil {
		return nil, err
	}
	applyDefaults(&rules)
	return &rules, nil
}

// LoadAndValidate loads rules, applies defaults, and validates.
func LoadAndValidate(path string) (*game.Rules, error) {
	rules, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("validate rules: %w", err)
	}
	return rules, nil
}

// RulesOrDefault loads and validates path, or returns the built-in rules when
// path is empty.
func RulesOrDefault(path string) (*game.Rules, error) {
	if path == "" {
		rules := game.DefaultRules()
		return &rules, nil
	}
	return LoadAndValidate(path)
}

func decodeFile(path string, into *game.Rules) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), into); err != nil {
		return fmt.Errorf("parse rules yaml: %w", err)
	}
	return nil
}

// applyDefaults restores settings that have no meaningful zero value.
func applyDefaults(r *game.Rules) {
	if r.RoundCadence == 0 {
		r.RoundCadence = game.DefaultRules().RoundCadence
	}
	if r.LeaderboardSize == 0 {
		r.LeaderboardSize = game.DefaultLeaderboardSize
	}
	if r.Stake == 0 {
		r.Stake = game.DefaultStake
	}
}
