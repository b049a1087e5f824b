package desk

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"stockgame/internal/cli"
	"stockgame/internal/game"
	"stockgame/internal/protocol"
	"stockgame/internal/syncq"
)

const (
	tickEvery      = time.Second
	reconnectDelay = 2 * time.Second
)

var ErrNotInGame = errors.New("not in a game")

// Link is the relay connection as seen by a desk.
type Link interface {
	Send(msgType string, payload any) error
	ReadLoop(ctx context.Context, handle func(protocol.Envelope)) error
	Close() error
}

// Dialer opens a fresh relay link.
type Dialer func(ctx context.Context) (Link, error)

type EventKind string

const (
	EventRound       EventKind = "round"
	EventGameOver    EventKind = "game_over"
	EventNewRound    EventKind = "new_round"
	EventRoster      EventKind = "roster"
	EventTransaction EventKind = "transaction"
	EventConnected   EventKind = "connected"
	EventOffline     EventKind = "offline"
)

// Event is a notification for the display. Only the fields for Kind are set.
type Event struct {
	Kind        EventKind
	Card        *game.FunctionCard
	FinalAssets int64
	State       *game.GameState
	Roster      []protocol.Entry
	Transaction *protocol.TransactionUpdate
	Err         error
}

type Config struct {
	Rules    *game.Rules
	Player   game.Participant
	Room     string
	Source   game.Source
	RoundEnd time.Time
	Cutoff   time.Time
	Pending  map[string]game.FunctionCard
	Outbox   *syncq.Queue
	Profiles *cli.Profiles
	Logger   *slog.Logger
	Now      func() time.Time
	Notify   func(Event)
}

// Desk is one participant's runtime. Timer ticks, relay events and user
// intents are serialized behind mu, so a boundary is never observed half done.
type Desk struct {
	mu       sync.Mutex
	ctrl     *game.Controller
	room     string
	link     Link
	joined   bool
	playerID string
	roster   []protocol.Entry

	outbox   *syncq.Queue
	profiles *cli.Profiles
	log      *slog.Logger
	now      func() time.Time
	notify   func(Event)
}

// View is a copy of the desk state for rendering.
type View struct {
	Phase     game.Phase
	Player    game.Participant
	State     game.GameState
	Changes   map[string]int64
	RoundEnd  time.Time
	Cutoff    time.Time
	Remaining time.Duration
	Roster    []protocol.Entry
	PlayerID  string
	Online    bool
}

func New(cfg Config) *Desk {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Source == nil {
		cfg.Source = game.NewTimeRand()
	}
	if cfg.Notify == nil {
		cfg.Notify = func(Event) {}
	}
	player := cfg.Player
	ctrl := game.NewController(cfg.Rules, cfg.Source, &player)
	if !cfg.RoundEnd.IsZero() {
		ctrl.RestoreRound(cfg.RoundEnd)
	}
	if !cfg.Cutoff.IsZero() {
		ctrl.SetCutoff(cfg.Cutoff)
	}
	ctrl.RestoreEffects(cfg.Pending)
	return &Desk{
		ctrl:     ctrl,
		room:     cfg.Room,
		outbox:   cfg.Outbox,
		profiles: cfg.Profiles,
		log:      cfg.Logger.With("player", player.Name),
		now:      cfg.Now,
		notify:   cfg.Notify,
	}
}

func (d *Desk) Phase() game.Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctrl.Phase()
}

func (d *Desk) View() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.ctrl.Market()
	changes := make(map[string]int64, len(m.Names()))
	for _, name := range m.Names() {
		changes[name] = m.Change(name)
	}
	p := *d.ctrl.Player()
	p.Holdings = append([]string(nil), p.Holdings...)
	p.Cards = append([]game.FunctionCard(nil), p.Cards...)
	v := View{
		Phase:    d.ctrl.Phase(),
		Player:   p,
		State:    d.ctrl.State(),
		Changes:  changes,
		RoundEnd: d.ctrl.RoundEnd(),
		Cutoff:   d.ctrl.Cutoff(),
		Roster:   append([]protocol.Entry(nil), d.roster...),
		PlayerID: d.playerID,
		Online:   d.link != nil,
	}
	if !v.RoundEnd.IsZero() {
		v.Remaining = v.RoundEnd.Sub(d.now())
	}
	return v
}

// Join enters a game and announces the participant. resumed is true when a
// game was already running, in which case no stake is charged and no card is
// drawn.
func (d *Desk) Join() (resumed bool, card *game.FunctionCard, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	resumed, card, err = d.ctrl.StartGame(d.now())
	if err != nil {
		return false, nil, err
	}
	d.joined = true
	d.persist()
	d.announce(protocol.MsgPlayerJoin, d.joinPayload())
	return resumed, card, nil
}

func (d *Desk) Buy(stock string) (game.Trade, bool) {
	return d.trade(stock, game.SideBuy)
}

func (d *Desk) Sell(stock string) (game.Trade, bool) {
	return d.trade(stock, game.SideSell)
}

func (d *Desk) trade(stock string, side game.Side) (game.Trade, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var (
		t  game.Trade
		ok bool
	)
	if side == game.SideBuy {
		t, ok = d.ctrl.Buy(stock)
	} else {
		t, ok = d.ctrl.Sell(stock)
	}
	if !ok {
		return t, false
	}
	d.persist()
	p := d.ctrl.Player()
	d.announce(protocol.MsgStockTransaction, protocol.StockTransaction{
		CurrentGameAssets: p.CurrentGameAssets,
		PlayerStocks:      append([]string{}, p.Holdings...),
		StockName:         t.Stock,
		Type:              t.Side,
		Price:             t.Price,
		Key:               syncq.NewKey(),
	})
	return t, true
}

// Target binds held card idx to stock for the next boundary.
func (d *Desk) Target(idx int, stock string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ctrl.TargetCard(idx, stock) {
		return false
	}
	d.persist()
	return true
}

func (d *Desk) Cancel(stock string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.ctrl.CancelEffect(stock) {
		return false
	}
	d.persist()
	return true
}

// Tick runs a boundary if the round timer has elapsed.
func (d *Desk) Tick() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.ctrl.Tick(d.now())
	if ok {
		d.afterBoundary(b)
	}
	return ok
}

// Advance runs a boundary now.
func (d *Desk) Advance() (game.Boundary, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.ctrl.Advance(d.now())
	if ok {
		d.afterBoundary(b)
	}
	return b, ok
}

func (d *Desk) afterBoundary(b game.Boundary) {
	d.persist()
	if b.GameOver {
		d.announceGameEnd(b.FinalAssets)
		d.notify(Event{Kind: EventGameOver, FinalAssets: b.FinalAssets, State: &b.State})
		return
	}
	d.announce(protocol.MsgRoundEnd, protocol.RoundEnd{Stocks: b.State.Stocks, RoundEndTime: b.State.RoundEndTime})
	d.notify(Event{Kind: EventRound, Card: b.Card, State: &b.State})
}

// EndGame settles the running game early.
func (d *Desk) EndGame() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	final, ok := d.ctrl.EndGame()
	if !ok {
		return 0, ErrNotInGame
	}
	d.persist()
	d.announceGameEnd(final)
	return final, nil
}

func (d *Desk) announceGameEnd(final int64) {
	p := d.ctrl.Player()
	d.announce(protocol.MsgGameEnd, protocol.GameEnd{
		PlayerName:  p.Name,
		FinalAssets: final,
		TotalAssets: p.TotalAssets,
	})
}

// HandleEnvelope applies one relay event.
func (d *Desk) HandleEnvelope(env protocol.Envelope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch env.T {
	case protocol.MsgWelcome:
		w, err := protocol.DecodePayload[protocol.Welcome](env)
		if err != nil {
			d.log.Warn("bad welcome", "err", err)
			return
		}
		d.playerID = w.PlayerID
		if w.State != nil {
			d.ctrl.AdoptRound(*w.State)
			d.persist()
		}
	case protocol.MsgNewRound:
		state, err := protocol.DecodePayload[game.GameState](env)
		if err != nil {
			d.log.Warn("bad newRound", "err", err)
			return
		}
		d.ctrl.AdoptRound(state)
		d.persist()
		d.notify(Event{Kind: EventNewRound, State: &state})
	case protocol.MsgPlayersUpdate:
		roster, err := protocol.DecodePayload[[]protocol.Entry](env)
		if err != nil {
			d.log.Warn("bad playersUpdate", "err", err)
			return
		}
		d.roster = roster
		d.notify(Event{Kind: EventRoster, Roster: roster})
	case protocol.MsgTransactionUpdate:
		up, err := protocol.DecodePayload[protocol.TransactionUpdate](env)
		if err != nil {
			d.log.Warn("bad transactionUpdate", "err", err)
			return
		}
		d.notify(Event{Kind: EventTransaction, Transaction: &up})
	case protocol.MsgGameEnd:
		d.log.Info("relay recorded game end")
	default:
		d.log.Debug("ignoring relay event", "type", env.T)
	}
}

// Attach makes link the active relay connection. The relay only accepts
// trades from a joined connection, so a participant with a game running or
// events queued is announced before the queue is replayed in order.
func (d *Desk) Attach(link Link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.link = link
	queued := 0
	if d.outbox != nil {
		n, err := d.outbox.Len()
		if err != nil {
			d.log.Error("read outbox", "err", err)
		}
		queued = n
	}
	if d.joined || d.ctrl.Player().InGame || queued > 0 {
		if err := link.Send(protocol.MsgPlayerJoin, d.joinPayload()); err != nil {
			d.linkFailed(err)
			return
		}
	}
	if d.outbox == nil {
		return
	}
	sent, err := d.outbox.Drain(func(it syncq.Item) error {
		return link.Send(it.Type, it.Payload)
	})
	if sent > 0 {
		d.log.Info("replayed queued events", "count", sent)
	}
	if err != nil {
		d.linkFailed(err)
	}
}

// Detach drops link if it is still the active connection.
func (d *Desk) Detach(link Link) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.link == link {
		d.link = nil
	}
}

// Run ticks the round timer until ctx is cancelled.
func (d *Desk) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Serve keeps a relay link open, reconnecting after failures, until ctx is
// cancelled.
func (d *Desk) Serve(ctx context.Context, dial Dialer) error {
	for {
		link, err := dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Warn("relay dial failed", "err", err)
			d.notify(Event{Kind: EventOffline, Err: err})
		} else {
			d.Attach(link)
			d.notify(Event{Kind: EventConnected})
			err = link.ReadLoop(ctx, d.HandleEnvelope)
			d.Detach(link)
			_ = link.Close()
			if ctx.Err() != nil {
				return nil
			}
			d.log.Warn("relay link lost", "err", err)
			d.notify(Event{Kind: EventOffline, Err: err})
		}
		t := time.NewTimer(reconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (d *Desk) joinPayload() protocol.PlayerJoin {
	p := d.ctrl.Player()
	return protocol.PlayerJoin{
		PlayerName:        p.Name,
		TotalAssets:       p.TotalAssets,
		CurrentGameAssets: p.CurrentGameAssets,
		PlayerStocks:      append([]string{}, p.Holdings...),
		InGame:            p.InGame,
	}
}

// announce sends an event or, when offline, queues it. Local state is never
// rolled back.
func (d *Desk) announce(msgType string, payload any) {
	if d.link != nil {
		err := d.link.Send(msgType, payload)
		if err == nil {
			return
		}
		d.linkFailed(err)
	}
	if d.outbox == nil {
		d.log.Warn("dropping event while offline", "type", msgType)
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("encode queued event", "type", msgType, "err", err)
		return
	}
	item := syncq.Item{Type: msgType, Payload: raw}
	if tx, ok := payload.(protocol.StockTransaction); ok {
		item.Key = tx.Key
	}
	if err := d.outbox.Push(item); err != nil {
		d.log.Error("queue event", "type", msgType, "err", err)
	}
}

func (d *Desk) linkFailed(err error) {
	d.log.Warn("relay send failed", "err", err)
	_ = d.link.Close()
	d.link = nil
}

func (d *Desk) persist() {
	if d.profiles == nil {
		return
	}
	p := d.ctrl.Player()
	prof := cli.Profile{
		Name:              p.Name,
		Room:              d.room,
		TotalAssets:       p.TotalAssets,
		CurrentGameAssets: p.CurrentGameAssets,
		Holdings:          append([]string(nil), p.Holdings...),
		Cards:             append([]game.FunctionCard(nil), p.Cards...),
		InGame:            p.InGame,
	}
	if pending := d.ctrl.Market().Pending(); len(pending) > 0 {
		prof.Pending = pending
	}
	if end := d.ctrl.RoundEnd(); !end.IsZero() {
		prof.RoundEnd = end.UnixMilli()
	}
	if cutoff := d.ctrl.Cutoff(); !cutoff.IsZero() {
		prof.Cutoff = cutoff.UnixMilli()
	}
	if err := d.profiles.Save(prof); err != nil {
		d.log.Error("save profile", "err", err)
	}
}
