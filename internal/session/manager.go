package session

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"regexp"
	"sort"
	"sync"
)

var (
	ErrInvalidRoom  = errors.New("room code must be 1-32 letters, digits, '-' or '_'")
	ErrRoomNotFound = errors.New("room not found")
)

var roomCodeRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// RoomInfo is returned by the API for the room list.
type RoomInfo struct {
	Code    string `json:"code"`
	Players int    `json:"players"`
}

// Manager holds sessions by room code. The default room lives for the whole
// process; other rooms are created on first join and removed when empty.
type Manager struct {
	mu          sync.RWMutex
	ctx         context.Context
	deps        Deps
	defaultRoom string
	rooms       map[string]*Session
	wg          sync.WaitGroup
}

func NewManager(ctx context.Context, defaultRoom string, deps Deps) *Manager {
	if defaultRoom == "" {
		defaultRoom = "main"
	}
	m := &Manager{
		ctx:         ctx,
		deps:        deps,
		defaultRoom: defaultRoom,
		rooms:       make(map[string]*Session),
	}
	m.mu.Lock()
	m.startLocked(defaultRoom)
	m.mu.Unlock()
	return m
}

func (m *Manager) DefaultRoom() string { return m.defaultRoom }

// GetOrCreate returns the session for code, creating it if needed. An empty
// code selects the default room.
func (m *Manager) GetOrCreate(code string) (*Session, error) {
	if code == "" {
		code = m.defaultRoom
	}
	if !roomCodeRE.MatchString(code) {
		return nil, ErrInvalidRoom
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rooms[code]; ok {
		return s, nil
	}
	return m.startLocked(code), nil
}

// Get returns an existing session without creating one.
func (m *Manager) Get(code string) (*Session, bool) {
	if code == "" {
		code = m.defaultRoom
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.rooms[code]
	return s, ok
}

const codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CreateRoom generates a unique 6-char code, starts the room, and returns the code.
func (m *Manager) CreateRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		code := generateCode(6)
		if _, exists := m.rooms[code]; exists {
			continue
		}
		m.startLocked(code)
		return code
	}
}

// ListRooms returns all active rooms ordered by code.
func (m *Manager) ListRooms() []RoomInfo {
	m.mu.RLock()
	out := make([]RoomInfo, 0, len(m.rooms))
	for code, s := range m.rooms {
		out = append(out, RoomInfo{Code: code, Players: s.NumConns()})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Close stops every session and waits for their loops to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	for code, s := range m.rooms {
		s.Stop()
		delete(m.rooms, code)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) startLocked(code string) *Session {
	s := New(code, m.deps)
	if code != m.defaultRoom {
		s.OnEmpty = m.removeRoom
	}
	m.rooms[code] = s
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		s.Run(m.ctx)
	}()
	return s
}

// removeRoom runs on the session's own goroutine, so it only signals Stop.
func (m *Manager) removeRoom(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.rooms[code]; ok {
		s.Stop()
		delete(m.rooms, code)
	}
}

func generateCode(n int) string {
	b := make([]byte, n)
	max := big.NewInt(int64(len(codeChars)))
	for i := range b {
		idx, _ := rand.Int(rand.Reader, max)
		b[i] = codeChars[idx.Int64()]
	}
	return string(b)
}
