package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"stockgame/internal/game"
	"stockgame/internal/protocol"
	"stockgame/internal/store"
)

var ErrStopped = errors.New("session stopped")

const maxSeenKeys = 4096

type Deps struct {
	Store       store.Store
	Rules       *game.Rules
	Logger      *slog.Logger
	Now         func() time.Time
	SaveTimeout time.Duration
}

// Session relays one room. All state is owned by the Run goroutine; every
// other goroutine talks to it through Inbox.
//
// Round proposals are not validated or merged: the stock list from whichever
// participant's timer fires first becomes the shared state.
type Session struct {
	Code    string
	Inbox   chan any
	OnEmpty func(code string)

	store       store.Store
	rules       *game.Rules
	log         *slog.Logger
	now         func() time.Time
	saveTimeout time.Duration

	registry *Registry
	conns    map[string]Conn
	state    *game.GameState
	seen     map[string]struct{}
	seenFIFO []string
	nConns   atomic.Int32

	quit     chan struct{}
	stopOnce sync.Once
}

func New(code string, deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.SaveTimeout <= 0 {
		deps.SaveTimeout = 5 * time.Second
	}
	if deps.Rules == nil {
		rules := game.DefaultRules()
		deps.Rules = &rules
	}
	return &Session{
		Code:        code,
		Inbox:       make(chan any, 256),
		store:       deps.Store,
		rules:       deps.Rules,
		log:         deps.Logger.With("room", code),
		now:         deps.Now,
		saveTimeout: deps.SaveTimeout,
		registry:    NewRegistry(),
		conns:       make(map[string]Conn),
		seen:        make(map[string]struct{}),
		quit:        make(chan struct{}),
	}
}

func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

// NumConns is safe to call from any goroutine.
func (s *Session) NumConns() int {
	return int(s.nConns.Load())
}

func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-s.quit:
			s.closeAll()
			return
		case cmd := <-s.Inbox:
			s.handleCommand(ctx, cmd)
		}
	}
}

// Attach registers conn and returns its connection ID.
func (s *Session) Attach(ctx context.Context, conn Conn) (string, error) {
	reply := make(chan JoinResult, 1)
	if err := s.send(ctx, Join{Conn: conn, Reply: reply}); err != nil {
		return "", err
	}
	select {
	case res := <-reply:
		return res.ConnID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-s.quit:
		return "", ErrStopped
	}
}

func (s *Session) Deliver(ctx context.Context, connID string, data []byte) error {
	return s.send(ctx, Message{ConnID: connID, Data: data})
}

func (s *Session) Detach(ctx context.Context, connID string) error {
	return s.send(ctx, Leave{ConnID: connID})
}

func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := s.send(ctx, snapshotRequest{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-s.quit:
		return Snapshot{}, ErrStopped
	}
}

func (s *Session) send(ctx context.Context, cmd any) error {
	select {
	case s.Inbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrStopped
	}
}

func (s *Session) handleCommand(ctx context.Context, cmd any) {
	switch c := cmd.(type) {
	case Join:
		id := uuid.NewString()
		s.conns[id] = c.Conn
		s.nConns.Store(int32(len(s.conns)))
		s.sendTo(c.Conn, protocol.MsgWelcome, protocol.Welcome{PlayerID: id, Room: s.Code, State: s.stateCopy()})
		c.Reply <- JoinResult{ConnID: id}
		s.log.Info("connection attached", "conn", id)
	case Message:
		if _, ok := s.conns[c.ConnID]; !ok {
			return
		}
		s.handleMessage(ctx, c.ConnID, c.Data)
	case Leave:
		s.handleLeave(c.ConnID)
	case snapshotRequest:
		c.reply <- Snapshot{
			Code:   s.Code,
			Conns:  len(s.conns),
			Roster: s.registry.Entries(),
			Top:    s.registry.Leaderboard(s.rules.LeaderboardSize),
			State:  s.stateCopy(),
		}
	}
}

func (s *Session) handleMessage(ctx context.Context, connID string, data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		s.log.Warn("dropping malformed frame", "conn", connID, "err", err)
		return
	}
	switch env.T {
	case protocol.MsgPlayerJoin:
		in, err := protocol.DecodePayload[protocol.PlayerJoin](env)
		if err != nil {
			s.log.Warn("dropping playerJoin", "conn", connID, "err", err)
			return
		}
		s.onPlayerJoin(ctx, connID, in)
	case protocol.MsgStockTransaction:
		in, err := protocol.DecodePayload[protocol.StockTransaction](env)
		if err != nil {
			s.log.Warn("dropping stockTransaction", "conn", connID, "err", err)
			return
		}
		s.onTransaction(ctx, connID, in)
	case protocol.MsgRoundEnd:
		in, err := protocol.DecodePayload[protocol.RoundEnd](env)
		if err != nil {
			s.log.Warn("dropping roundEnd", "conn", connID, "err", err)
			return
		}
		s.onRoundEnd(connID, in)
	case protocol.MsgGameEnd:
		in, err := protocol.DecodePayload[protocol.GameEnd](env)
		if err != nil {
			s.log.Warn("dropping gameEnd", "conn", connID, "err", err)
			return
		}
		s.onGameEnd(ctx, connID, in)
	default:
		s.log.Warn("dropping unknown event", "conn", connID, "type", env.T)
	}
}

func (s *Session) onPlayerJoin(ctx context.Context, connID string, in protocol.PlayerJoin) {
	name, err := game.CleanName(in.PlayerName)
	if err != nil {
		s.log.Warn("rejecting playerJoin", "conn", connID, "err", err)
		return
	}
	if err := s.save(ctx, name, store.JoinPatch(in.TotalAssets, in.CurrentGameAssets, in.PlayerStocks, in.InGame)); err != nil {
		s.log.Error("persist playerJoin failed", "conn", connID, "player", name, "err", err)
		return
	}
	s.registry.Add(connID, protocol.Entry{
		Name:              name,
		TotalAssets:       in.TotalAssets,
		CurrentGameAssets: in.CurrentGameAssets,
		PlayerStocks:      in.PlayerStocks,
	})
	s.log.Info("player joined", "conn", connID, "player", name)
	s.broadcastPlayers()
}

func (s *Session) onTransaction(ctx context.Context, connID string, in protocol.StockTransaction) {
	entry, ok := s.registry.Get(connID)
	if !ok {
		s.log.Warn("dropping stockTransaction from unjoined connection", "conn", connID)
		return
	}
	if !in.Type.Valid() {
		s.log.Warn("dropping stockTransaction with bad side", "conn", connID, "type", in.Type)
		return
	}
	dedupKey := ""
	if in.Key != "" {
		dedupKey = entry.Name + "|" + in.Key
		if _, dup := s.seen[dedupKey]; dup {
			s.log.Debug("dropping replayed stockTransaction", "conn", connID, "key", in.Key)
			return
		}
	}
	if err := s.save(ctx, entry.Name, store.TradePatch(in.CurrentGameAssets, in.PlayerStocks)); err != nil {
		s.log.Error("persist stockTransaction failed", "conn", connID, "player", entry.Name, "err", err)
		return
	}
	if dedupKey != "" {
		s.remember(dedupKey)
	}
	s.registry.Update(connID, in.CurrentGameAssets, in.PlayerStocks)
	s.broadcast(protocol.MsgTransactionUpdate, protocol.TransactionUpdate{
		PlayerID:   connID,
		PlayerName: entry.Name,
		StockName:  in.StockName,
		Type:       in.Type,
		Price:      in.Price,
	})
	s.broadcastPlayers()
}

func (s *Session) onRoundEnd(connID string, in protocol.RoundEnd) {
	now := s.now()
	end := in.RoundEndTime
	if end <= now.UnixMilli() {
		end = now.Add(s.rules.RoundCadence).UnixMilli()
	}
	// Pending effects are private to the participant that bound them.
	stocks := make([]game.Stock, 0, len(in.Stocks))
	for _, st := range in.Stocks {
		st.PendingEffect = nil
		stocks = append(stocks, st)
	}
	s.state = &game.GameState{Stocks: stocks, RoundEndTime: end}
	s.log.Info("round relayed", "conn", connID, "round_end", time.UnixMilli(end).UTC())
	s.broadcast(protocol.MsgNewRound, s.state)
}

func (s *Session) onGameEnd(ctx context.Context, connID string, in protocol.GameEnd) {
	name := in.PlayerName
	if e, ok := s.registry.Get(connID); ok {
		name = e.Name
	}
	name, err := game.CleanName(name)
	if err != nil {
		s.log.Warn("rejecting gameEnd", "conn", connID, "err", err)
		return
	}
	if err := s.save(ctx, name, store.GameEndPatch(in.TotalAssets)); err != nil {
		s.log.Error("persist gameEnd failed", "conn", connID, "player", name, "err", err)
		return
	}
	s.log.Info("game ended", "conn", connID, "player", name, "final_assets", in.FinalAssets, "total_assets", in.TotalAssets)
	if c, ok := s.conns[connID]; ok {
		s.sendTo(c, protocol.MsgGameEnd, protocol.GameEnd{PlayerName: name, FinalAssets: in.FinalAssets, TotalAssets: in.TotalAssets})
	}
	if s.registry.Settle(connID, in.TotalAssets) {
		s.broadcastPlayers()
	}
}

func (s *Session) handleLeave(connID string) {
	if s.detach(connID) {
		s.broadcastPlayers()
	}
	s.checkEmpty()
}

// detach closes and forgets a connection. It reports whether the roster
// changed.
func (s *Session) detach(connID string) bool {
	c, ok := s.conns[connID]
	if !ok {
		return false
	}
	_ = c.Close()
	delete(s.conns, connID)
	s.nConns.Store(int32(len(s.conns)))
	s.log.Info("connection detached", "conn", connID)
	return s.registry.Remove(connID)
}

func (s *Session) checkEmpty() {
	if len(s.conns) == 0 && s.OnEmpty != nil {
		s.OnEmpty(s.Code)
	}
}

func (s *Session) save(ctx context.Context, name string, p store.Patch) error {
	if s.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.saveTimeout)
	defer cancel()
	return s.store.Save(ctx, name, p)
}

func (s *Session) remember(key string) {
	if len(s.seenFIFO) >= maxSeenKeys {
		delete(s.seen, s.seenFIFO[0])
		s.seenFIFO = s.seenFIFO[1:]
	}
	s.seen[key] = struct{}{}
	s.seenFIFO = append(s.seenFIFO, key)
}

func (s *Session) broadcastPlayers() {
	s.broadcast(protocol.MsgPlayersUpdate, s.registry.Entries())
}

// broadcast encodes once and writes to every connection. Connections whose
// Send fails are dropped.
func (s *Session) broadcast(t string, payload any) {
	b, err := protocol.Encode(t, payload)
	if err != nil {
		s.log.Error("encode broadcast failed", "type", t, "err", err)
		return
	}
	var failed []string
	for id, c := range s.conns {
		if err := c.Send(b); err != nil {
			failed = append(failed, id)
		}
	}
	if len(failed) == 0 {
		return
	}
	changed := false
	for _, id := range failed {
		s.log.Warn("dropping failed connection", "conn", id)
		if s.detach(id) {
			changed = true
		}
	}
	if changed {
		s.broadcastPlayers()
	}
	s.checkEmpty()
}

func (s *Session) sendTo(c Conn, t string, payload any) {
	b, err := protocol.Encode(t, payload)
	if err != nil {
		s.log.Error("encode reply failed", "type", t, "err", err)
		return
	}
	_ = c.Send(b)
}

func (s *Session) stateCopy() *game.GameState {
	if s.state == nil {
		return nil
	}
	cp := game.GameState{RoundEndTime: s.state.RoundEndTime, Stocks: append([]game.Stock{}, s.state.Stocks...)}
	return &cp
}

func (s *Session) closeAll() {
	for id, c := range s.conns {
		_ = c.Close()
		delete(s.conns, id)
	}
	s.nConns.Store(0)
}
