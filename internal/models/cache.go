package models

import (
	"sort"
	"sync/atomic"
	"time"
)

type snapshot struct {
	byID      map[string]Record
	updatedAt time.Time
}

// Cache holds the latest known set of upstream models. Update swaps the whole
// set at once, so a reader sees either the old set or the new one.
type Cache struct {
	current atomic.Pointer[snapshot]
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	c := &Cache{}
	c.current.Store(&snapshot{byID: map[string]Record{}})
	return c
}

// Update replaces the cached set with records. Later duplicates win.
func (c *Cache) Update(records []Record) {
	byID := make(map[string]Record, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		byID[rec.ID] = rec
	}
	c.current.Store(&snapshot{byID: byID, updatedAt: time.Now()})
}

// Get returns the record for id.
func (c *Cache) Get(id string) (Record, bool) {
	rec, ok := c.current.Load().byID[id]
	return rec, ok
}

// All returns the cached records sorted by id.
func (c *Cache) All() []Record {
	snap := c.current.Load()
	out := make([]Record, 0, len(snap.byID))
	for _, rec := range snap.byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of cached models.
func (c *Cache) Len() int {
	return len(c.current.Load().byID)
}

// UpdatedAt reports when the cache was last replaced. Zero means never.
func (c *Cache) UpdatedAt() time.Time {
	return c.current.Load().updatedAt
}
