package feed

import (
	"net/url"
	"sync"
)

// MemoryHistory is an in-memory browser history of query strings. Push and
// Replace are silent; Back, Forward and Navigate notify subscribers, the way
// a popstate event would.
type MemoryHistory struct {
	mu          sync.Mutex
	entries     []url.Values
	index       int
	subscribers map[int]func()
	nextSub     int
}

// NewMemoryHistory starts at rawQuery, e.g. "postId=p1".
func NewMemoryHistory(rawQuery string) *MemoryHistory {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		values = url.Values{}
	}
	return &MemoryHistory{
		entries:     []url.Values{values},
		subscribers: make(map[int]func()),
	}
}

func (h *MemoryHistory) Query(key string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index].Get(key)
}

func (h *MemoryHistory) Push(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := with(h.entries[h.index], key, value)
	h.entries = append(h.entries[:h.index+1], next)
	h.index++
}

func (h *MemoryHistory) Replace(key, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.index] = with(h.entries[h.index], key, value)
}

// Back moves one entry back. It reports false at the start of history.
func (h *MemoryHistory) Back() bool {
	return h.move(-1)
}

// Forward moves one entry forward.
func (h *MemoryHistory) Forward() bool {
	return h.move(1)
}

// Navigate pushes a new entry from rawQuery as an outside navigation would.
func (h *MemoryHistory) Navigate(rawQuery string) error {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.entries = append(h.entries[:h.index+1], values)
	h.index++
	subs := h.snapshotSubscribers()
	h.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
	return nil
}

// Len is the number of history entries.
func (h *MemoryHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// String encodes the current query.
func (h *MemoryHistory) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[h.index].Encode()
}

func (h *MemoryHistory) Subscribe(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextSub
	h.nextSub++
	h.subscribers[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subscribers, id)
	}
}

func (h *MemoryHistory) move(delta int) bool {
	h.mu.Lock()
	target := h.index + delta
	if target < 0 || target >= len(h.entries) {
		h.mu.Unlock()
		return false
	}
	h.index = target
	subs := h.snapshotSubscribers()
	h.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
	return true
}

func (h *MemoryHistory) snapshotSubscribers() []func() {
	subs := make([]func(), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func with(values url.Values, key, value string) url.Values {
	next := make(url.Values, len(values)+1)
	for k, v := range values {
		next[k] = append([]string(nil), v...)
	}
	if value == "" {
		next.Del(key)
	} else {
		next.Set(key, value)
	}
	return next
}
