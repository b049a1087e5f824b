package session

import (
	"stockgame/internal/game"
	"stockgame/internal/protocol"
)

type Conn interface {
	Send([]byte) error
	Close() error
}

// Join attaches a new connection. The participant is not on the roster until
// it sends playerJoin.
type Join struct {
	Conn  Conn
	Reply chan<- JoinResult
}

type JoinResult struct {
	ConnID string
}

// Message is one raw inbound frame from a connection.
type Message struct {
	ConnID string
	Data   []byte
}

// Leave is issued on disconnect.
type Leave struct {
	ConnID string
}

// Snapshot is a read-only view of a session for the HTTP surface.
type Snapshot struct {
	Code   string
	Conns  int
	Roster []protocol.Entry
	Top    []protocol.Entry
	State  *game.GameState
}

type snapshotRequest struct {
	reply chan<- Snapshot
}
