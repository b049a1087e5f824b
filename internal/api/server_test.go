package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"stockgame/internal/config"
	"stockgame/internal/game"
	"stockgame/internal/protocol"
	"stockgame/internal/session"
	"stockgame/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	rules := game.DefaultRules()
	st := store.NewMemory(rules.InitialTotalAssets)
	rooms := session.NewManager(ctx, "main", session.Deps{Store: st, Rules: &rules})
	srv := New(config.RelayConfig{SendBuffer: 16, AllowAnyOrigin: true}, nil, rooms, st, &rules)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		rooms.Close()
		cancel()
	})
	return ts, st
}

func dial(t *testing.T, ts *httptest.Server, room string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?room=" + room
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", msgType, err)
		}
		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.T == msgType {
			return env
		}
	}
}

func writeEvent(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	b, err := protocol.Encode(msgType, payload)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s status=%d want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestRelayEndToEnd(t *testing.T) {
	ts, _ := newTestServer(t)
	alice := dial(t, ts, "main")
	bob := dial(t, ts, "main")

	w, err := protocol.DecodePayload[protocol.Welcome](readUntil(t, alice, protocol.MsgWelcome))
	if err != nil || w.PlayerID == "" || w.Room != "main" {
		t.Fatalf("welcome %+v err=%v", w, err)
	}
	readUntil(t, bob, protocol.MsgWelcome)

	writeEvent(t, alice, protocol.MsgPlayerJoin, protocol.PlayerJoin{PlayerName: "alice", CurrentGameAssets: 1000, InGame: true})
	roster, _ := protocol.DecodePayload[[]protocol.Entry](readUntil(t, bob, protocol.MsgPlayersUpdate))
	if len(roster) != 1 || roster[0].Name != "alice" {
		t.Fatalf("roster %+v", roster)
	}

	writeEvent(t, alice, protocol.MsgStockTransaction, protocol.StockTransaction{
		CurrentGameAssets: 900, PlayerStocks: []string{"股票A"}, StockName: "股票A", Type: game.SideBuy, Price: 100, Key: "t1",
	})
	up, _ := protocol.DecodePayload[protocol.TransactionUpdate](readUntil(t, bob, protocol.MsgTransactionUpdate))
	if up.PlayerID != w.PlayerID || up.Price != 100 {
		t.Fatalf("transaction update %+v", up)
	}

	end := time.Now().Add(time.Hour).UnixMilli()
	writeEvent(t, alice, protocol.MsgRoundEnd, protocol.RoundEnd{Stocks: []game.Stock{{Name: "股票A", Price: 95}}, RoundEndTime: end})
	state, _ := protocol.DecodePayload[game.GameState](readUntil(t, bob, protocol.MsgNewRound))
	if state.RoundEndTime != end || state.Stocks[0].Price != 95 {
		t.Fatalf("new round %+v", state)
	}

	var stateResp struct {
		Room  string          `json:"room"`
		State *game.GameState `json:"state"`
	}
	getJSON(t, ts.URL+"/v1/rooms/main/state", http.StatusOK, &stateResp)
	if stateResp.State == nil || stateResp.State.Stocks[0].Price != 95 {
		t.Fatalf("state endpoint %+v", stateResp)
	}

	var rosterResp struct {
		Players []protocol.Entry `json:"players"`
	}
	getJSON(t, ts.URL+"/v1/rooms/main/roster", http.StatusOK, &rosterResp)
	if len(rosterResp.Players) != 1 || rosterResp.Players[0].CurrentGameAssets != 900 {
		t.Fatalf("roster endpoint %+v", rosterResp)
	}

	writeEvent(t, alice, protocol.MsgGameEnd, protocol.GameEnd{PlayerName: "alice", FinalAssets: 995, TotalAssets: 995})
	readUntil(t, alice, protocol.MsgGameEnd)

	var rec store.Record
	getJSON(t, ts.URL+"/v1/players/alice", http.StatusOK, &rec)
	if rec.TotalAssets != 995 || rec.InGame {
		t.Fatalf("player record %+v", rec)
	}

	var board struct {
		Rows []store.Record `json:"rows"`
	}
	getJSON(t, ts.URL+"/v1/leaderboard", http.StatusOK, &board)
	if len(board.Rows) != 1 || board.Rows[0].Name != "alice" {
		t.Fatalf("leaderboard %+v", board)
	}
}

func TestHTTPErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	getJSON(t, ts.URL+"/healthz", http.StatusOK, nil)
	getJSON(t, ts.URL+"/v1/rooms/nowhere/state", http.StatusNotFound, nil)
	getJSON(t, ts.URL+"/v1/players/%20%20", http.StatusBadRequest, nil)
	getJSON(t, ts.URL+"/v1/leaderboard?limit=zero", http.StatusBadRequest, nil)
	getJSON(t, ts.URL+"/ws?room=bad%20room", http.StatusBadRequest, nil)

	var rooms struct {
		Rooms []session.RoomInfo `json:"rooms"`
	}
	getJSON(t, ts.URL+"/v1/rooms", http.StatusOK, &rooms)
	if len(rooms.Rooms) != 1 || rooms.Rooms[0].Code != "main" {
		t.Fatalf("rooms %+v", rooms)
	}

	var rules game.Rules
	getJSON(t, ts.URL+"/v1/rules", http.StatusOK, &rules)
	if len(rules.Stocks) != 2 || rules.RoundCadence != time.Hour {
		t.Fatalf("rules %+v", rules)
	}
}

func TestCreateRoom(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/v1/rooms", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var out struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	conn := dial(t, ts, out.Code)
	w, _ := protocol.DecodePayload[protocol.Welcome](readUntil(t, conn, protocol.MsgWelcome))
	if w.Room != out.Code {
		t.Fatalf("welcome room %q want %q", w.Room, out.Code)
	}
}
