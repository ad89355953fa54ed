package session

import (
	"sync"
	"time"

	"github.com/danmuck/rammbock/internal/protocol/value"
)

// Entry is a frame nobody was waiting for when it arrived.
type Entry struct {
	Header     *value.Header
	Payload    []byte
	ReceivedAt time.Time
}

// Cache holds entries in arrival order.
type Cache struct {
	mu    sync.RWMutex
	items []Entry
}

func NewCache() *Cache {
	return &Cache{}
}

func (c *Cache) Push(e Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, e)
	return len(c.items)
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Take removes and returns the first entry accepted by match, scanning from
// the newest entry when latest is set.
func (c *Cache) Take(match func(Entry) bool, latest bool) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.items)
	for k := 0; k < n; k++ {
		i := k
		if latest {
			i = n - 1 - k
		}
		if match(c.items[i]) {
			e := c.items[i]
			c.items = append(c.items[:i], c.items[i+1:]...)
			return e, true
		}
	}
	return Entry{}, false
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}

func (c *Cache) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.items))
	copy(out, c.items)
	return out
}
