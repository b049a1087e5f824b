package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Memory struct {
	mu      sync.Mutex
	initial int64
	records map[string]Record
	now     func() time.Time
}

func NewMemory(initialAssets int64) *Memory {
	return &Memory{
		initial: initialAssets,
		records: make(map[string]Record),
		now:     time.Now,
	}
}

func (m *Memory) Load(ctx context.Context, name string) (Record, error) {
	name, err := cleanName(name)
	if err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRecord(m.ensure(name)), nil
}

func (m *Memory) Save(ctx context.Context, name string, p Patch) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.ensure(name)
	p.apply(&rec)
	rec.UpdatedAt = m.now()
	m.records[name] = rec
	return nil
}

func (m *Memory) Leaderboard(ctx context.Context, limit int) ([]Record, error) {
	limit = clampLimit(limit)
	m.mu.Lock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, copyRecord(r))
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalAssets != out[j].TotalAssets {
			return out[i].TotalAssets > out[j].TotalAssets
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) ensure(name string) Record {
	rec, ok := m.records[name]
	if !ok {
		now := m.now()
		rec = Record{Name: name, TotalAssets: m.initial, Stocks: []string{}, CreatedAt: now, UpdatedAt: now}
		m.records[name] = rec
	}
	return rec
}

func copyRecord(r Record) Record {
	r.Stocks = append([]string{}, r.Stocks...)
	return r
}
