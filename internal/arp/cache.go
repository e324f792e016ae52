package arp

import (
	"fmt"
	"sync"
	"time"

	"firestige.xyz/ustack/internal/core"
	"firestige.xyz/ustack/internal/log"
	"firestige.xyz/ustack/internal/metrics"
)

// CacheSize is the fixed number of slots in an ARP cache.
const CacheSize = 32

// State is the resolution state of a cache slot.
type State uint8

const (
	StateFree State = iota
	StateIncomplete
	StateResolved
	StateStatic
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateIncomplete:
		return "incomplete"
	case StateResolved:
		return "resolved"
	case StateStatic:
		return "static"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Entry is one cache slot. A free slot has zeroed addresses and a zero
// timestamp.
type Entry struct {
	State     State
	PA        core.IPAddr
	HA        core.HWAddr
	Timestamp time.Time
}

// Table is the slot array of a Cache. Its methods are only reachable through
// Cache.Do, which holds the cache lock for the whole call; entry pointers must
// not be retained after Do returns.
type Table struct {
	entries [CacheSize]Entry
	now     func() time.Time
	log     log.Logger
}

// Select returns the non-free entry holding pa, or nil.
func (t *Table) Select(pa core.IPAddr) *Entry {
	for i := range t.entries {
		e := &t.entries[i]
		if e.State == StateFree {
			continue
		}
		if e.PA == pa {
			return e
		}
	}
	return nil
}

// Alloc returns the first free slot. When every slot is in use the entry with
// the oldest timestamp is deleted and returned; the lowest slot wins ties.
func (t *Table) Alloc() *Entry {
	var oldest *Entry
	for i := range t.entries {
		e := &t.entries[i]
		if e.State == StateFree {
			return e
		}
		if oldest == nil || e.Timestamp.Before(oldest.Timestamp) {
			oldest = e
		}
	}

	t.log.Debugf("evict, pa=%s, ha=%s", oldest.PA, oldest.HA)
	metrics.ARPCacheEvictionsTotal.Inc()
	t.Delete(oldest)
	return oldest
}

// Update marks the entry for pa resolved and refreshes its timestamp. The
// stored hardware address is kept; ha is only logged. It never inserts and
// returns nil if pa is unknown.
func (t *Table) Update(pa core.IPAddr, ha core.HWAddr) *Entry {
	e := t.Select(pa)
	if e == nil {
		return nil
	}
	e.State = StateResolved
	e.Timestamp = t.now()
	t.log.Debugf("UPDATE: pa=%s, ha=%s (stored %s)", pa, ha, e.HA)
	return e
}

// Insert stores a resolved mapping in a newly allocated slot, evicting the
// oldest entry if the table is full. Callers check Select first; Insert does
// not look for an existing entry.
func (t *Table) Insert(pa core.IPAddr, ha core.HWAddr) *Entry {
	e := t.Alloc()
	e.State = StateResolved
	e.PA = pa
	e.HA = ha
	e.Timestamp = t.now()
	t.log.Debugf("INSERT: pa=%s, ha=%s", pa, ha)
	return e
}

// Delete frees e.
func (t *Table) Delete(e *Entry) {
	t.log.Debugf("DELETE: pa=%s, ha=%s", e.PA, e.HA)
	*e = Entry{}
}

// Entries returns a copy of every non-free entry in slot order.
func (t *Table) Entries() []Entry {
	var out []Entry
	for _, e := range t.entries {
		if e.State != StateFree {
			out = append(out, e)
		}
	}
	return out
}

func (t *Table) used() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].State != StateFree {
			n++
		}
	}
	return n
}

// Cache guards a Table with a single lock.
type Cache struct {
	mu    sync.Mutex
	table Table
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.table.now = now
	}
}

// NewCache returns an empty cache.
func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		table: Table{
			now: time.Now,
			log: log.GetLogger().WithField("component", "arp"),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do runs fn with the cache locked.
func (c *Cache) Do(fn func(t *Table)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn(&c.table)
	metrics.ARPCacheEntries.Set(float64(c.table.used()))
}

// Snapshot returns a copy of every non-free entry.
func (c *Cache) Snapshot() []Entry {
	var out []Entry
	c.Do(func(t *Table) {
		out = t.Entries()
	})
	return out
}
