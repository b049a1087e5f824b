package game

import "time"

type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseInRound Phase = "in_round"
)

// Boundary describes the outcome of one round boundary.
type Boundary struct {
	At          time.Time
	State       GameState
	Card        *FunctionCard
	GameOver    bool
	FinalAssets int64
}

// Controller drives one participant's game: the lobby, rounds, boundaries and
// game end. It is not safe for concurrent use; callers serialize access.
type Controller struct {
	rules    *Rules
	src      Source
	market   *Market
	player   *Participant
	phase    Phase
	roundEnd time.Time
	cutoff   time.Time
}

// NewController starts in the lobby unless the participant's persisted InGame
// flag says a game is already running.
func NewController(rules *Rules, src Source, player *Participant) *Controller {
	c := &Controller{
		rules:  rules,
		src:    src,
		market: NewMarket(rules.Stocks, rules.Fluctuation, rules.MinPrice),
		player: player,
		phase:  PhaseIdle,
	}
	if player.InGame {
		c.phase = PhaseInRound
	}
	return c
}

func (c *Controller) Phase() Phase { return c.phase }
func (c *Controller) Market() *Market { return c.market }
func (c *Controller) Player() *Participant { return c.player }
func (c *Controller) RoundEnd() time.Time { return c.roundEnd }
func (c *Controller) Cutoff() time.Time { return c.cutoff }
func (c *Controller) Rules() *Rules { return c.rules }
func (c *Controller) SetCutoff(t time.Time) { c.cutoff = t }
func (c *Controller) RestoreRound(t time.Time) { c.roundEnd = t }

func (c *Controller) State() GameState {
	var end int64
	if !c.roundEnd.IsZero() {
		end = c.roundEnd.UnixMilli()
	}
	return GameState{Stocks: c.market.Snapshot(), RoundEndTime: end}
}

// StartGame enters a game. A participant already in a game returns to it
// without paying the stake again and resumed is true.
func (c *Controller) StartGame(now time.Time) (resumed bool, card *FunctionCard, err error) {
	if c.player.InGame {
		c.phase = PhaseInRound
		c.ensureClock(now)
		return true, nil, nil
	}
	if c.player.TotalAssets < c.rules.Stake {
		return false, nil, ErrInsufficientAssets
	}
	c.player.TotalAssets -= c.rules.Stake
	c.player.CurrentGameAssets = c.rules.Stake
	c.player.InGame = true
	c.phase = PhaseInRound
	c.ensureClock(now)
	return false, c.draw(), nil
}

// ensureClock fills in a missing cutoff or round end. A stale round end is
// kept as-is and fires on the next tick.
func (c *Controller) ensureClock(now time.Time) {
	if c.cutoff.IsZero() {
		c.cutoff = NextCutoff(now, c.rules.CutoffHour)
	}
	if c.roundEnd.IsZero() {
		c.roundEnd = NextRoundEnd(now, c.rules.RoundCadence)
	}
}

// Tick fires a boundary once the round timer has elapsed.
func (c *Controller) Tick(now time.Time) (Boundary, bool) {
	if c.phase != PhaseInRound || now.Before(c.roundEnd) {
		return Boundary{}, false
	}
	return c.Advance(now)
}

// Advance runs a boundary immediately (timer fire or manual trigger).
func (c *Controller) Advance(now time.Time) (Boundary, bool) {
	if c.phase != PhaseInRound {
		return Boundary{}, false
	}
	b := Boundary{At: now}
	c.market.Boundary(c.src)

	if !c.cutoff.IsZero() && !now.Before(c.cutoff) {
		b.GameOver = true
		b.FinalAssets = c.finish()
		b.State = c.State()
		return b, true
	}

	c.roundEnd = NextRoundEnd(now, c.rules.RoundCadence)
	b.Card = c.draw()
	b.State = c.State()
	return b, true
}

// EndGame settles the current game: holdings are valued at current prices,
// merged into total assets with the remaining cash, and cleared.
func (c *Controller) EndGame() (int64, bool) {
	if !c.player.InGame {
		return 0, false
	}
	return c.finish(), true
}

func (c *Controller) finish() int64 {
	final := c.player.PortfolioValue(c.market)
	c.player.TotalAssets += final
	c.player.CurrentGameAssets = 0
	c.player.Holdings = nil
	c.player.Cards = nil
	c.market.ClearEffects()
	c.player.InGame = false
	c.cutoff = time.Time{}
	c.phase = PhaseIdle
	return final
}

func (c *Controller) Buy(stock string) (Trade, bool) {
	if c.phase != PhaseInRound {
		return Trade{}, false
	}
	return Buy(c.player, c.market.Stock(stock))
}

func (c *Controller) Sell(stock string) (Trade, bool) {
	if c.phase != PhaseInRound {
		return Trade{}, false
	}
	return Sell(c.player, c.market.Stock(stock))
}

// TargetCard binds the held card at idx to a stock, consuming it from the hand.
func (c *Controller) TargetCard(idx int, stock string) bool {
	if c.phase != PhaseInRound || idx < 0 || idx >= len(c.player.Cards) {
		return false
	}
	if !c.market.Target(c.player.Cards[idx], stock) {
		return false
	}
	c.player.Cards = append(c.player.Cards[:idx], c.player.Cards[idx+1:]...)
	return true
}

// CancelEffect revokes a pending effect and returns its card to the hand.
func (c *Controller) CancelEffect(stock string) bool {
	card, ok := c.market.Cancel(stock)
	if !ok {
		return false
	}
	c.player.Cards = append(c.player.Cards, card)
	return true
}

// RestoreEffects re-binds cards saved with a running game. A card whose stock
// is gone or already bound goes back to the hand.
func (c *Controller) RestoreEffects(pending map[string]FunctionCard) {
	if !c.player.InGame {
		return
	}
	for _, name := range c.market.Names() {
		card, ok := pending[name]
		if !ok {
			continue
		}
		if !c.market.Target(card, name) {
			c.player.Cards = append(c.player.Cards, card)
		}
	}
	for name, card := range pending {
		if c.market.Stock(name) == nil {
			c.player.Cards = append(c.player.Cards, card)
		}
	}
}

// AdoptRound applies a relayed GameState as the new shared truth.
func (c *Controller) AdoptRound(state GameState) {
	c.market.Adopt(state.Stocks)
	if state.RoundEndTime > 0 {
		c.roundEnd = time.UnixMilli(state.RoundEndTime)
	}
}

func (c *Controller) draw() *FunctionCard {
	card, ok := DrawCard(c.src, c.rules.Cards)
	if !ok {
		return nil
	}
	c.player.Cards = append(c.player.Cards, card)
	return &card
}
