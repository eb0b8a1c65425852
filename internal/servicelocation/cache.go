package servicelocation

import "sync"

// connectedCache mirrors connected.json in memory behind a reader-writer
// lock, per spec.md §5: "a separate in-process cache and a reader-writer
// lock; writes to connected.json are disk-first, then the cache; readers
// always prefer the cache." Disk is only consulted on startup.
type connectedCache struct {
	mu      sync.RWMutex
	entries []ConnectedEntry
}

func newConnectedCache(initial []ConnectedEntry) *connectedCache {
	return &connectedCache{entries: append([]ConnectedEntry(nil), initial...)}
}

func (c *connectedCache) list() []ConnectedEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ConnectedEntry(nil), c.entries...)
}

func (c *connectedCache) has(instanceUUID, pubkey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.InstanceUUID == instanceUUID && e.LocationPubkey == pubkey {
			return true
		}
	}
	return false
}

// replace swaps the cached contents after the disk write that must precede
// it has already succeeded.
func (c *connectedCache) replace(entries []ConnectedEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append([]ConnectedEntry(nil), entries...)
}

// add appends one entry to the cache (caller has already persisted it).
func (c *connectedCache) add(e ConnectedEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

// remove drops every cached entry matching filter (caller has already
// persisted the resulting set).
func (c *connectedCache) remove(filter func(ConnectedEntry) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.entries[:0:0]
	for _, e := range c.entries {
		if !filter(e) {
			kept = append(kept, e)
		}
	}
	c.entries = kept
}
