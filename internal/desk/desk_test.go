package desk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"stockgame/internal/cli"
	"stockgame/internal/game"
	"stockgame/internal/protocol"
	"stockgame/internal/session"
	"stockgame/internal/store"
	"stockgame/internal/syncq"
)

// lowSource always walks by -F. Harness rules carry no cards, so nothing is
// ever drawn.
type lowSource struct{}

func (lowSource) Float64() float64            { return 0.999 }
func (lowSource) IntBetween(lo, _ int64) int64 { return lo }

type fakeLink struct {
	mu      sync.Mutex
	sent    []protocol.Envelope
	fail    bool
	closed  bool
	inbound chan protocol.Envelope
}

func newFakeLink() *fakeLink {
	return &fakeLink{inbound: make(chan protocol.Envelope, 8)}
}

func (l *fakeLink) Send(msgType string, payload any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return errors.New("broken pipe")
	}
	b, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	env, err := protocol.DecodeEnvelope(b)
	if err != nil {
		return err
	}
	l.sent = append(l.sent, env)
	return nil
}

func (l *fakeLink) ReadLoop(ctx context.Context, handle func(protocol.Envelope)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-l.inbound:
			if !ok {
				return errors.New("closed")
			}
			handle(env)
		}
	}
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.sent))
	for _, env := range l.sent {
		out = append(out, env.T)
	}
	return out
}

type harness struct {
	desk     *Desk
	clock    time.Time
	events   []Event
	profiles *cli.Profiles
	outbox   *syncq.Queue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	q, err := syncq.Open(dir, "alice")
	if err != nil {
		t.Fatalf("outbox: %v", err)
	}
	rules := game.DefaultRules()
	rules.Cards = nil
	h := &harness{
		clock:    time.Date(2026, 10, 18, 10, 30, 0, 0, time.Local),
		profiles: cli.NewProfiles(dir),
		outbox:   q,
	}
	h.desk = New(Config{
		Rules:    &rules,
		Player:   game.Participant{Name: "alice", TotalAssets: 1000},
		Room:     "main",
		Source:   lowSource{},
		Outbox:   q,
		Profiles: h.profiles,
		Now:      func() time.Time { return h.clock },
		Notify:   func(e Event) { h.events = append(h.events, e) },
	})
	return h
}

func equalTypes(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestJoinTradeAndBoundaryAnnounce(t *testing.T) {
	h := newHarness(t)
	link := newFakeLink()
	h.desk.Attach(link)

	resumed, card, err := h.desk.Join()
	if err != nil || resumed || card != nil {
		t.Fatalf("join resumed=%v card=%v err=%v", resumed, card, err)
	}
	if _, ok := h.desk.Buy("股票A"); !ok {
		t.Fatalf("buy rejected")
	}
	if _, ok := h.desk.Sell("股票B"); ok {
		t.Fatalf("sell without holding accepted")
	}
	b, ok := h.desk.Advance()
	if !ok || b.GameOver {
		t.Fatalf("advance %+v ok=%v", b, ok)
	}

	if got := link.types(); !equalTypes(got, protocol.MsgPlayerJoin, protocol.MsgStockTransaction, protocol.MsgRoundEnd) {
		t.Fatalf("sent %v", got)
	}
	tx, err := protocol.DecodePayload[protocol.StockTransaction](link.sent[1])
	if err != nil || tx.Key == "" || tx.Price != 100 || tx.CurrentGameAssets != 900 || tx.Type != game.SideBuy {
		t.Fatalf("transaction %+v err=%v", tx, err)
	}
	re, _ := protocol.DecodePayload[protocol.RoundEnd](link.sent[2])
	wantEnd := time.Date(2026, 10, 18, 11, 0, 0, 0, time.Local).UnixMilli()
	if re.RoundEndTime != wantEnd || re.Stocks[0].Price != 90 || re.Stocks[1].Price != 140 {
		t.Fatalf("roundEnd %+v", re)
	}

	v := h.desk.View()
	if v.Changes["股票A"] != -10 || v.Player.CurrentGameAssets != 900 || v.Remaining != 30*time.Minute || !v.Online {
		t.Fatalf("view %+v", v)
	}
	if len(h.events) != 1 || h.events[0].Kind != EventRound {
		t.Fatalf("events %+v", h.events)
	}

	prof, err := h.profiles.Load("alice")
	if err != nil || !prof.InGame || prof.RoundEnd != wantEnd || len(prof.Holdings) != 1 || prof.TotalAssets != 0 {
		t.Fatalf("profile %+v err=%v", prof, err)
	}
	if n, _ := h.outbox.Len(); n != 0 {
		t.Fatalf("outbox should be empty, has %d", n)
	}
}

func TestOfflineEventsReplayOnAttach(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.desk.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, ok := h.desk.Buy("股票A"); !ok {
		t.Fatalf("buy rejected offline")
	}
	if n, _ := h.outbox.Len(); n != 2 {
		t.Fatalf("outbox len %d want 2", n)
	}
	queued, _ := h.outbox.Load()

	link := newFakeLink()
	h.desk.Attach(link)
	if got := link.types(); !equalTypes(got, protocol.MsgPlayerJoin, protocol.MsgPlayerJoin, protocol.MsgStockTransaction) {
		t.Fatalf("sent %v", got)
	}
	tx, _ := protocol.DecodePayload[protocol.StockTransaction](link.sent[2])
	orig, _ := protocol.DecodePayload[protocol.StockTransaction](protocol.Envelope{T: queued[1].Type, P: queued[1].Payload})
	if tx.Key == "" || tx.Key != orig.Key || queued[1].Key != orig.Key {
		t.Fatalf("replayed key %q want %q (queued %q)", tx.Key, orig.Key, queued[1].Key)
	}
	if n, _ := h.outbox.Len(); n != 0 {
		t.Fatalf("outbox not drained: %d", n)
	}
}

func TestSendFailureQueuesAndDropsLink(t *testing.T) {
	h := newHarness(t)
	link := newFakeLink()
	link.fail = true
	h.desk.Attach(link)

	if _, _, err := h.desk.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	if !link.closed || h.desk.View().Online {
		t.Fatalf("failed link kept")
	}
	items, _ := h.outbox.Load()
	if len(items) != 1 || items[0].Type != protocol.MsgPlayerJoin {
		t.Fatalf("queued %+v", items)
	}
	// Local state is kept.
	if h.desk.Phase() != game.PhaseInRound {
		t.Fatalf("phase %s", h.desk.Phase())
	}
}

func TestHandleRelayEvents(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.desk.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}

	end := time.Date(2026, 10, 18, 12, 0, 0, 0, time.Local).UnixMilli()
	state := game.GameState{Stocks: []game.Stock{{Name: "股票A", Price: 120}, {Name: "股票B", Price: 150, IsFrozen: true}}, RoundEndTime: end}
	mustEnv := func(msgType string, payload any) protocol.Envelope {
		b, err := protocol.Encode(msgType, payload)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		env, _ := protocol.DecodeEnvelope(b)
		return env
	}

	h.desk.HandleEnvelope(mustEnv(protocol.MsgWelcome, protocol.Welcome{PlayerID: "c1", Room: "main"}))
	h.desk.HandleEnvelope(mustEnv(protocol.MsgNewRound, state))
	h.desk.HandleEnvelope(mustEnv(protocol.MsgPlayersUpdate, []protocol.Entry{{ID: "c1", Name: "alice"}}))
	h.desk.HandleEnvelope(protocol.Envelope{T: protocol.MsgNewRound, P: []byte(`"nope"`)})
	h.desk.HandleEnvelope(mustEnv("mystery", map[string]any{}))

	v := h.desk.View()
	if v.PlayerID != "c1" || len(v.Roster) != 1 {
		t.Fatalf("view %+v", v)
	}
	if v.State.Stocks[0].Price != 120 || !v.State.Stocks[1].IsFrozen || v.Changes["股票A"] != 20 {
		t.Fatalf("adopted state %+v changes %+v", v.State, v.Changes)
	}
	if v.RoundEnd.UnixMilli() != end {
		t.Fatalf("round end %v", v.RoundEnd)
	}
	// Adopting a round never issues a card.
	if len(v.Player.Cards) != 0 {
		t.Fatalf("cards issued on adopt: %+v", v.Player.Cards)
	}
	kinds := []EventKind{}
	for _, e := range h.events {
		kinds = append(kinds, e.Kind)
	}
	if len(kinds) != 2 || kinds[0] != EventNewRound || kinds[1] != EventRoster {
		t.Fatalf("events %v", kinds)
	}
}

func TestCutoffEndsGameAndAnnounces(t *testing.T) {
	h := newHarness(t)
	link := newFakeLink()
	h.desk.Attach(link)
	if _, _, err := h.desk.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	if h.desk.Tick() {
		t.Fatalf("tick fired before round end")
	}

	h.clock = time.Date(2026, 10, 18, 15, 0, 0, 0, time.Local)
	if !h.desk.Tick() {
		t.Fatalf("tick did not fire")
	}
	if h.desk.Phase() != game.PhaseIdle {
		t.Fatalf("phase %s", h.desk.Phase())
	}
	types := link.types()
	if types[len(types)-1] != protocol.MsgGameEnd {
		t.Fatalf("sent %v", types)
	}
	ge, _ := protocol.DecodePayload[protocol.GameEnd](link.sent[len(link.sent)-1])
	if ge.PlayerName != "alice" || ge.FinalAssets != 1000 || ge.TotalAssets != 1000 {
		t.Fatalf("gameEnd %+v", ge)
	}
	last := h.events[len(h.events)-1]
	if last.Kind != EventGameOver || last.FinalAssets != 1000 {
		t.Fatalf("event %+v", last)
	}
	if _, err := h.desk.EndGame(); !errors.Is(err, ErrNotInGame) {
		t.Fatalf("expected ErrNotInGame, got %v", err)
	}
}

func TestResumeFromProfile(t *testing.T) {
	dir := t.TempDir()
	profiles := cli.NewProfiles(dir)
	stale := time.Date(2026, 10, 18, 9, 0, 0, 0, time.Local)
	freeze := game.FunctionCard{Name: "freeze", Effect: game.EffectFreeze}
	if err := profiles.Save(cli.Profile{
		Name: "alice", CurrentGameAssets: 700, Holdings: []string{"股票A"}, InGame: true,
		RoundEnd: stale.UnixMilli(),
		Pending:  map[string]game.FunctionCard{"股票B": freeze},
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	prof, err := profiles.Load("alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	res := FromProfile(prof)
	rules := game.DefaultRules()
	rules.Cards = nil
	clock := time.Date(2026, 10, 18, 10, 30, 0, 0, time.Local)
	d := New(Config{
		Rules: &rules, Player: res.Player, Source: lowSource{}, RoundEnd: res.RoundEnd, Cutoff: res.Cutoff,
		Pending: res.Pending, Profiles: profiles, Now: func() time.Time { return clock },
	})
	if pe := d.View().State.Stocks[1].PendingEffect; pe == nil || pe.Name != "freeze" {
		t.Fatalf("bound card lost on restart: %+v", pe)
	}
	resumed, card, err := d.Join()
	if err != nil || !resumed || card != nil {
		t.Fatalf("resume resumed=%v card=%v err=%v", resumed, card, err)
	}
	if v := d.View(); v.Player.CurrentGameAssets != 700 || v.Player.TotalAssets != 0 {
		t.Fatalf("stake charged again: %+v", v.Player)
	}
	if saved, _ := profiles.Load("alice"); saved.Pending["股票B"].Name != "freeze" {
		t.Fatalf("pending effect not saved: %+v", saved.Pending)
	}
	// The stale round end fires on the first tick and resolves the freeze.
	if !d.Tick() {
		t.Fatalf("stale round end did not fire")
	}
	v := d.View()
	if !v.State.Stocks[1].IsFrozen || v.State.Stocks[1].PendingEffect != nil {
		t.Fatalf("freeze not resolved: %+v", v.State.Stocks[1])
	}
}

func TestEndGameDropsBoundCards(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.desk.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	h.desk.mu.Lock()
	h.desk.ctrl.Player().Cards = []game.FunctionCard{{Name: "freeze", Effect: game.EffectFreeze}}
	h.desk.mu.Unlock()
	if !h.desk.Target(0, "股票A") {
		t.Fatalf("target rejected")
	}
	if prof, _ := h.profiles.Load("alice"); len(prof.Pending) != 1 {
		t.Fatalf("pending effect not saved: %+v", prof.Pending)
	}
	if _, err := h.desk.EndGame(); err != nil {
		t.Fatalf("end game: %v", err)
	}
	if pe := h.desk.View().State.Stocks[0].PendingEffect; pe != nil {
		t.Fatalf("bound card survived game end: %+v", pe)
	}
	if prof, _ := h.profiles.Load("alice"); len(prof.Pending) != 0 {
		t.Fatalf("profile kept pending effects: %+v", prof.Pending)
	}
}

// relayLink hands a desk's frames straight to a relay session.
type relayLink struct {
	s      *session.Session
	connID string
	mu     sync.Mutex
	sent   []string
}

func (l *relayLink) Send(msgType string, payload any) error {
	b, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.sent = append(l.sent, msgType)
	l.mu.Unlock()
	return l.s.Deliver(context.Background(), l.connID, b)
}

func (l *relayLink) ReadLoop(ctx context.Context, _ func(protocol.Envelope)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (l *relayLink) Close() error { return nil }

type sinkConn struct{}

func (sinkConn) Send([]byte) error { return nil }
func (sinkConn) Close() error      { return nil }

func TestRestartReplaysTradeToRelay(t *testing.T) {
	h := newHarness(t)
	first := newFakeLink()
	h.desk.Attach(first)
	if _, _, err := h.desk.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	first.mu.Lock()
	first.fail = true
	first.mu.Unlock()
	if _, ok := h.desk.Buy("股票A"); !ok {
		t.Fatalf("buy rejected")
	}
	if n, _ := h.outbox.Len(); n != 1 {
		t.Fatalf("outbox len %d want 1", n)
	}

	// A fresh process restores from the profile and connects before the
	// participant joins again.
	prof, err := h.profiles.Load("alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	res := FromProfile(prof)
	rules := game.DefaultRules()
	rules.Cards = nil
	d := New(Config{
		Rules: &rules, Player: res.Player, Room: "main", Source: lowSource{},
		RoundEnd: res.RoundEnd, Cutoff: res.Cutoff, Pending: res.Pending,
		Outbox: h.outbox, Profiles: h.profiles, Now: func() time.Time { return h.clock },
	})

	mem := store.NewMemory(1000)
	relay := session.New("main", session.Deps{Store: mem})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)
	connID, err := relay.Attach(ctx, sinkConn{})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	link := &relayLink{s: relay, connID: connID}
	d.Attach(link)

	if !equalTypes(link.sent, protocol.MsgPlayerJoin, protocol.MsgStockTransaction) {
		t.Fatalf("sent on attach %v", link.sent)
	}
	if n, _ := h.outbox.Len(); n != 0 {
		t.Fatalf("outbox not drained: %d", n)
	}
	snap, err := relay.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Roster) != 1 || snap.Roster[0].Name != "alice" || snap.Roster[0].CurrentGameAssets != 900 {
		t.Fatalf("roster %+v", snap.Roster)
	}
	rec, err := mem.Load(ctx, "alice")
	if err != nil || rec.CurrentGameAssets != 900 || len(rec.Stocks) != 1 || rec.Stocks[0] != "股票A" || !rec.InGame {
		t.Fatalf("stored record %+v err=%v", rec, err)
	}
}

func TestAttachIdleWithoutQueueStaysQuiet(t *testing.T) {
	h := newHarness(t)
	link := newFakeLink()
	h.desk.Attach(link)
	if got := link.types(); len(got) != 0 {
		t.Fatalf("idle desk announced %v", got)
	}
}

func TestServeAttachesAndStops(t *testing.T) {
	h := newHarness(t)
	link := newFakeLink()
	b, _ := protocol.Encode(protocol.MsgWelcome, protocol.Welcome{PlayerID: "c9", Room: "main"})
	env, _ := protocol.DecodeEnvelope(b)
	link.inbound <- env

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.desk.Serve(ctx, func(context.Context) (Link, error) { return link, nil })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for h.desk.View().PlayerID != "c9" {
		if time.Now().After(deadline) {
			t.Fatalf("welcome not handled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("serve: %v", err)
	}
	if !link.closed || h.desk.View().Online {
		t.Fatalf("link not released")
	}
}

func TestRestorePrefersProfileThenRelay(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/players/bob" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(cli.PlayerRecord{Name: "bob", TotalAssets: 1000})
	}))
	defer ts.Close()
	client := cli.NewClient(ts.URL)
	profiles := cli.NewProfiles(t.TempDir())
	ctx := context.Background()

	res, err := Restore(ctx, client, profiles, " bob ")
	if err != nil || res.Player.Name != "bob" || res.Player.TotalAssets != 1000 || res.Player.InGame || !res.RoundEnd.IsZero() {
		t.Fatalf("relay restore %+v err=%v", res, err)
	}

	if err := profiles.Save(cli.Profile{Name: "bob", CurrentGameAssets: 640, InGame: true, RoundEnd: 5000}); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err = Restore(ctx, client, profiles, "bob")
	if err != nil || !res.Player.InGame || res.Player.CurrentGameAssets != 640 || res.RoundEnd.UnixMilli() != 5000 {
		t.Fatalf("profile restore %+v err=%v", res, err)
	}

	if _, err := Restore(ctx, client, profiles, "   "); !errors.Is(err, game.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}
