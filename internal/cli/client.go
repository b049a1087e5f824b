package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stockgame/internal/game"
	"stockgame/internal/protocol"
)

// Client talks to the relay's HTTP surface.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type RoomInfo struct {
	Code    string `json:"code"`
	Players int    `json:"players"`
}

type Roster struct {
	Room        string           `json:"room"`
	Connections int              `json:"connections"`
	Players     []protocol.Entry `json:"players"`
	Top         []protocol.Entry `json:"top"`
}

// PlayerRecord mirrors the relay's persisted player profile.
type PlayerRecord struct {
	Name              string    `json:"name"`
	TotalAssets       int64     `json:"totalAssets"`
	CurrentGameAssets int64     `json:"currentGameAssets"`
	Stocks            []string  `json:"stocks"`
	InGame            bool      `json:"inGame"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (c *Client) Health(ctx context.Context) error {
	return c.jsonRequest(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) Rules(ctx context.Context) (game.Rules, error) {
	var out game.Rules
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rules", nil, &out)
	return out, err
}

func (c *Client) Rooms(ctx context.Context) ([]RoomInfo, error) {
	var out struct {
		Rooms []RoomInfo `json:"rooms"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rooms", nil, &out)
	return out.Rooms, err
}

func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	var out struct {
		Code string `json:"code"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/rooms", map[string]any{}, &out)
	return out.Code, err
}

// RoomState returns the last relayed round, nil before the first one.
func (c *Client) RoomState(ctx context.Context, room string) (*game.GameState, error) {
	var out struct {
		State *game.GameState `json:"state"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rooms/"+url.PathEscape(room)+"/state", nil, &out)
	return out.State, err
}

func (c *Client) Roster(ctx context.Context, room string) (Roster, error) {
	var out Roster
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/rooms/"+url.PathEscape(room)+"/roster", nil, &out)
	return out, err
}

// Player loads the relay's record for name, creating it on first use.
func (c *Client) Player(ctx context.Context, name string) (PlayerRecord, error) {
	var out PlayerRecord
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/players/"+url.PathEscape(name), nil, &out)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]PlayerRecord, error) {
	path := "/v1/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Rows []PlayerRecord `json:"rows"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out)
	return out.Rows, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("relay status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
