package irs

import "github.com/tinyrange/gicv5/internal/gic"

// The LPI cache holds the L2 ISTE word of every LPI that is currently
// pending, keyed by (domain, id). The pending bit is the most-mutated
// field of an ISTE, so deferring the guest-memory writeback until an
// entry stops being pending saves a DMA round-trip on every edge. The
// entry also remembers the guest address of the ISTE so eviction and
// flushes can write back without re-walking the table.

type lpiKey struct {
	domain gic.Domain
	id     uint32
}

type lpiEntry struct {
	word uint32
	addr uint64
}

type lpiCache struct {
	entries map[lpiKey]lpiEntry
}

func newLPICache() *lpiCache {
	return &lpiCache{entries: make(map[lpiKey]lpiEntry)}
}

func (c *lpiCache) lookup(d gic.Domain, id uint32) (lpiEntry, bool) {
	e, ok := c.entries[lpiKey{domain: d, id: id}]
	return e, ok
}

func (c *lpiCache) insert(d gic.Domain, id uint32, e lpiEntry) {
	c.entries[lpiKey{domain: d, id: id}] = e
}

func (c *lpiCache) remove(d gic.Domain, id uint32) {
	delete(c.entries, lpiKey{domain: d, id: id})
}

// clear empties the cache without writeback (power-on reset).
func (c *lpiCache) clear() {
	c.entries = make(map[lpiKey]lpiEntry)
}

// forEach visits every cached entry of the given domain.
func (c *lpiCache) forEach(d gic.Domain, fn func(id uint32, e lpiEntry)) {
	for k, e := range c.entries {
		if k.domain == d {
			fn(k.id, e)
		}
	}
}

func (c *lpiCache) len() int { return len(c.entries) }
