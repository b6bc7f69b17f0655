package buffer

import "sync"

// Cache holds one Window per session.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	windows  map[string]*Window
}

func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		windows:  make(map[string]*Window),
	}
}

func (c *Cache) Capacity() int {
	return c.capacity
}

// Get returns the cached window for sessionID. ok is false on a cache miss;
// callers rebuild with Load.
func (c *Cache) Get(sessionID string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.windows[sessionID]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{SessionID: sessionID, Capacity: c.capacity, Entries: w.Entries()}, true
}

// Load replaces the window for sessionID with entries, which must be
// ordered oldest first. Only the last Capacity entries are kept.
func (c *Cache) Load(sessionID string, entries []Entry) Snapshot {
	w := NewWindow(c.capacity)
	for _, e := range entries {
		w.Push(e)
	}
	c.mu.Lock()
	c.windows[sessionID] = w
	c.mu.Unlock()
	return Snapshot{SessionID: sessionID, Capacity: c.capacity, Entries: w.Entries()}
}

// Push appends e to a cached window. A miss is ignored: the next Get
// rebuilds from the repository, which already holds e.
func (c *Cache) Push(sessionID string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.windows[sessionID]; ok {
		w.Push(e)
	}
}

func (c *Cache) Drop(sessionID string) {
	c.mu.Lock()
	delete(c.windows, sessionID)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.windows)
}
