package syncq

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Item is one relay event that could not be delivered. Key mirrors the key
// inside a stockTransaction payload, which the relay uses to drop replays;
// other events carry none.
type Item struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Key      string          `json:"idempotency_key,omitempty"`
	QueuedAt time.Time       `json:"queued_at"`
}

// Queue is a JSON-file backed FIFO of undelivered events.
type Queue struct {
	mu   sync.Mutex
	path string
}

// Open returns the queue stored at dir/queue-<name>.json.
func Open(dir, name string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Queue{path: filepath.Join(dir, fmt.Sprintf("queue-%s.json", safeName(name)))}, nil
}

func (q *Queue) Path() string { return q.path }

// NewKey returns a fresh idempotency key for a relay event.
func NewKey() string { return uuid.NewString() }

func (q *Queue) Load() ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load()
}

func (q *Queue) Save(items []Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.save(items)
}

// Push appends item. An item whose key is already queued is dropped.
func (q *Queue) Push(item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, err := q.load()
	if err != nil {
		return err
	}
	if item.Key != "" {
		for _, it := range items {
			if it.Key == item.Key {
				return nil
			}
		}
	}
	if item.QueuedAt.IsZero() {
		item.QueuedAt = time.Now()
	}
	return q.save(append(items, item))
}

func (q *Queue) Len() (int, error) {
	items, err := q.Load()
	return len(items), err
}

// Drain hands items to send in order. It stops at the first failure and keeps
// that item and everything after it for the next attempt.
func (q *Queue) Drain(send func(Item) error) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items, err := q.load()
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, it := range items {
		if err := send(it); err != nil {
			if serr := q.save(items[sent:]); serr != nil {
				return sent, serr
			}
			return sent, err
		}
		sent++
	}
	return sent, q.save(nil)
}

func (q *Queue) load() ([]Item, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Item{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Item{}, nil
	}
	var out []Item
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) save(items []Item) error {
	if items == nil {
		items = []Item{}
	}
	raw, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(q.path, raw, 0o600)
}

func safeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == '.' || r < 0x20:
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "default"
	}
	return string(out)
}
