package game

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

const (
	DefaultInitialTotalAssets = int64(1000)
	DefaultStake              = int64(1000)
	DefaultFluctuation        = int64(10)
	DefaultMinPrice           = int64(0)
	DefaultCutoffHour         = 15
	DefaultLeaderboardSize    = 10

	MaxNameRunes = 24
)

var (
	ErrInsufficientAssets = errors.New("total assets below stake")
	ErrUnknownStock       = errors.New("unknown stock")
	ErrInvalidName        = errors.New("name must be 1-24 printable characters")
	ErrInvalidEffect      = errors.New("invalid card effect")
)

type EffectKind string

const (
	EffectRisePercent EffectKind = "forceRisePercentage"
	EffectFallPercent EffectKind = "forceFallPercentage"
	EffectRisePrice   EffectKind = "forceRisePrice"
	EffectFallPrice   EffectKind = "forceFallPrice"
	EffectFreeze      EffectKind = "freezeStock"
)

func (k EffectKind) Valid() bool {
	switch k {
	case EffectRisePercent, EffectFallPercent, EffectRisePrice, EffectFallPrice, EffectFreeze:
		return true
	}
	return false
}

// NeedsRange reports whether the effect draws a magnitude.
func (k EffectKind) NeedsRange() bool {
	return k.Valid() && k != EffectFreeze
}

// FunctionCard is a catalog entry. Held cards are value copies of it.
type FunctionCard struct {
	Name        string     `json:"name" yaml:"name"`
	Effect      EffectKind `json:"effect" yaml:"effect"`
	Range       []int64    `json:"range,omitempty" yaml:"range,omitempty"`
	Probability float64    `json:"probability" yaml:"probability"`
}

// Bounds returns the inclusive magnitude range of the card.
func (c FunctionCard) Bounds() (lo, hi int64, err error) {
	if !c.Effect.NeedsRange() {
		return 0, 0, fmt.Errorf("%w: %q has no magnitude", ErrInvalidEffect, c.Effect)
	}
	if len(c.Range) != 2 {
		return 0, 0, fmt.Errorf("%w: %q needs [min, max]", ErrInvalidEffect, c.Name)
	}
	lo, hi = c.Range[0], c.Range[1]
	if lo > hi {
		return 0, 0, fmt.Errorf("%w: %q range %d > %d", ErrInvalidEffect, c.Name, lo, hi)
	}
	return lo, hi, nil
}

// StockSpec is a catalog entry for a tradable stock.
type StockSpec struct {
	Name  string `json:"name" yaml:"name"`
	Price int64  `json:"price" yaml:"price"`
}

type Stock struct {
	Name          string        `json:"name"`
	Price         int64         `json:"price"`
	IsFrozen      bool          `json:"isFrozen,omitempty"`
	PendingEffect *FunctionCard `json:"pendingEffect,omitempty"`
}

// GameState is the snapshot relayed between participants.
type GameState struct {
	Stocks       []Stock `json:"stocks"`
	RoundEndTime int64   `json:"roundEndTime"`
}

type Participant struct {
	ID                string         `json:"id,omitempty"`
	Name              string         `json:"name"`
	TotalAssets       int64          `json:"totalAssets"`
	CurrentGameAssets int64          `json:"currentGameAssets"`
	Holdings          []string       `json:"playerStocks"`
	Cards             []FunctionCard `json:"cards,omitempty"`
	InGame            bool           `json:"inGame"`
}

// HoldingCount returns the number of units held of the named stock.
func (p *Participant) HoldingCount(stock string) int {
	n := 0
	for _, h := range p.Holdings {
		if h == stock {
			n++
		}
	}
	return n
}

// PortfolioValue is cash plus the current price of every held unit.
func (p *Participant) PortfolioValue(m *Market) int64 {
	total := p.CurrentGameAssets
	for _, h := range p.Holdings {
		if s := m.Stock(h); s != nil {
			total += s.Price
		}
	}
	return total
}

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type Trade struct {
	Side  Side   `json:"type"`
	Stock string `json:"stockName"`
	Price int64  `json:"price"`
}

// CleanName trims a display name and checks it is usable as a persistence key.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameRunes {
		return "", ErrInvalidName
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return "", ErrInvalidName
		}
	}
	return name, nil
}

func roundPrice(v float64) int64 {
	return int64(math.Round(v))
}
