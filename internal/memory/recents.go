package memory

import (
	"sync"
	"time"
)

const (
	// recentsPerUser is the ring size of recently ingested hashes.
	recentsPerUser = 50
	// recentsTTL expires ring entries.
	recentsTTL = 24 * time.Hour
)

type recentEntry struct {
	hash    string
	id      string
	addedAt time.Time
}

// recentsCache remembers the content hashes of each user's latest
// adds so an exact re-send short-circuits without a vector round
// trip. It is a ring per user; stale entries fall off by position or
// by TTL.
type recentsCache struct {
	mu    sync.RWMutex
	rings map[string]*recentRing
}

type recentRing struct {
	entries []recentEntry
	head    int
	size    int
}

func newRecentsCache() *recentsCache {
	return &recentsCache{rings: make(map[string]*recentRing)}
}

// lookup returns the stored point id when the hash was seen recently.
func (c *recentsCache) lookup(userID, hash string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ring, ok := c.rings[userID]
	if !ok {
		return "", false
	}
	now := time.Now()
	for i := 0; i < ring.size; i++ {
		e := ring.entries[(ring.head-1-i+recentsPerUser)%recentsPerUser]
		if e.hash == hash && now.Sub(e.addedAt) < recentsTTL {
			return e.id, true
		}
	}
	return "", false
}

// remember records a hash after a successful insert.
func (c *recentsCache) remember(userID, hash, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ring, ok := c.rings[userID]
	if !ok {
		ring = &recentRing{entries: make([]recentEntry, recentsPerUser)}
		c.rings[userID] = ring
	}
	ring.entries[ring.head] = recentEntry{hash: hash, id: id, addedAt: time.Now()}
	ring.head = (ring.head + 1) % recentsPerUser
	if ring.size < recentsPerUser {
		ring.size++
	}
}

// forget drops entries pointing at deleted ids.
func (c *recentsCache) forget(ids []string) {
	if len(ids) == 0 {
		return
	}
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ring := range c.rings {
		for i := range ring.entries {
			if gone[ring.entries[i].id] {
				ring.entries[i] = recentEntry{}
			}
		}
	}
}
