package session

import (
	"sort"

	"stockgame/internal/protocol"
)

// Registry is the live set of connected participants keyed by connection ID.
// It is owned by one session goroutine and is not safe for concurrent use.
type Registry struct {
	entries map[string]protocol.Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]protocol.Entry)}
}

func (r *Registry) Add(id string, e protocol.Entry) {
	e.ID = id
	e.PlayerStocks = cloneStocks(e.PlayerStocks)
	r.entries[id] = e
}

// Update records a participant's post-trade cash and holdings.
func (r *Registry) Update(id string, current int64, stocks []string) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.CurrentGameAssets = current
	e.PlayerStocks = cloneStocks(stocks)
	r.entries[id] = e
	return true
}

// Settle records a finished game: the merged total and empty game pools.
func (r *Registry) Settle(id string, total int64) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.TotalAssets = total
	e.CurrentGameAssets = 0
	e.PlayerStocks = []string{}
	r.entries[id] = e
	return true
}

func (r *Registry) Remove(id string) bool {
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

func (r *Registry) Get(id string) (protocol.Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) Len() int { return len(r.entries) }

// Snapshot copies the registry keyed by connection ID.
func (r *Registry) Snapshot() map[string]protocol.Entry {
	out := make(map[string]protocol.Entry, len(r.entries))
	for id, e := range r.entries {
		e.PlayerStocks = cloneStocks(e.PlayerStocks)
		out[id] = e
	}
	return out
}

// Entries lists participants ordered by connection ID.
func (r *Registry) Entries() []protocol.Entry {
	out := make([]protocol.Entry, 0, len(r.entries))
	for _, e := range r.entries {
		e.PlayerStocks = cloneStocks(e.PlayerStocks)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Leaderboard ranks participants by current game assets, capped at limit.
func (r *Registry) Leaderboard(limit int) []protocol.Entry {
	out := r.Entries()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CurrentGameAssets > out[j].CurrentGameAssets
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cloneStocks(in []string) []string {
	return append([]string{}, in...)
}
