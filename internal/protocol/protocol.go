package protocol

import (
	"encoding/json"

	"stockgame/internal/game"
)

// Inbound events, participant to relay.
const (
	MsgPlayerJoin       = "playerJoin"
	MsgStockTransaction = "stockTransaction"
	MsgRoundEnd         = "roundEnd"
	MsgGameEnd          = "gameEnd"
)

// Outbound events, relay to participants. gameEnd is reused as the reply to
// the originator.
const (
	MsgWelcome           = "welcome"
	MsgPlayersUpdate     = "playersUpdate"
	MsgTransactionUpdate = "transactionUpdate"
	MsgNewRound          = "newRound"
)

type Envelope struct {
	T string          `json:"t"`
	P json.RawMessage `json:"p"`
}

// PlayerJoin announces a participant and its public projection.
type PlayerJoin struct {
	PlayerName        string   `json:"playerName"`
	TotalAssets       int64    `json:"totalAssets"`
	CurrentGameAssets int64    `json:"currentGameAssets"`
	PlayerStocks      []string `json:"playerStocks"`
	InGame            bool     `json:"inGame"`
}

// StockTransaction carries the post-trade projection plus the trade itself.
// Key is unique per trade so replays from the outbox can be dropped.
type StockTransaction struct {
	CurrentGameAssets int64     `json:"currentGameAssets"`
	PlayerStocks      []string  `json:"playerStocks"`
	StockName         string    `json:"stockName"`
	Type              game.Side `json:"type"`
	Price             int64     `json:"price"`
	Key               string    `json:"key,omitempty"`
}

// RoundEnd proposes the stock list produced by a participant's boundary.
type RoundEnd struct {
	Stocks       []game.Stock `json:"stocks"`
	RoundEndTime int64        `json:"roundEndTime"`
}

type GameEnd struct {
	PlayerName  string `json:"playerName"`
	FinalAssets int64  `json:"finalAssets"`
	TotalAssets int64  `json:"totalAssets"`
}

// Entry is the public projection of one connected participant.
type Entry struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	TotalAssets       int64    `json:"totalAssets"`
	CurrentGameAssets int64    `json:"currentGameAssets"`
	PlayerStocks      []string `json:"playerStocks"`
}

type TransactionUpdate struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	StockName  string    `json:"stockName"`
	Type       game.Side `json:"type"`
	Price      int64     `json:"price"`
}

// Welcome is sent once to a new connection. State is empty until the first
// round has been relayed.
type Welcome struct {
	PlayerID string          `json:"playerId"`
	Room     string          `json:"room"`
	State    *game.GameState `json:"state,omitempty"`
}
