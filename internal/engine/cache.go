package engine

import (
	"sort"
	"time"

	"github.com/noah-isme/backend-booking/internal/oracle"
	"github.com/noah-isme/backend-booking/internal/selection"
)

// Entry is the pricing state of one node. It is authoritative only while
// Loading is false. Fingerprint identifies the inputs Prices were resolved for.
type Entry struct {
	Prices      map[string]oracle.Price
	Status      selection.PriceStatus
	Loading     bool
	Fingerprint string
	Err         error
	UpdatedAt   time.Time

	resolved selection.PriceStatus
}

func (e Entry) clone() Entry {
	out := e
	if e.Prices != nil {
		out.Prices = make(map[string]oracle.Price, len(e.Prices))
		for k, v := range e.Prices {
			out.Prices[k] = v
		}
	}
	return out
}

// Cache holds the entries of one session. Updates are incremental; nothing
// replaces the whole map. Not safe for concurrent use.
type Cache struct {
	entries map[selection.NodeKey]*Entry
	now     func() time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: map[selection.NodeKey]*Entry{}, now: time.Now}
}

// MarkLoading flags key as refreshing. Existing prices stay in place so the
// last known values can be shown meanwhile.
func (c *Cache) MarkLoading(key selection.NodeKey) {
	entry, ok := c.entries[key]
	if !ok {
		entry = &Entry{resolved: selection.StatusPending}
		c.entries[key] = entry
	}
	if !entry.Loading {
		entry.resolved = entry.Status
	}
	entry.Loading = true
	entry.Status = selection.StatusLoading
}

// Unmark clears the loading flag of key and restores its resolved status.
// Used when the inputs returned to what the entry was resolved for.
func (c *Cache) Unmark(key selection.NodeKey) {
	entry, ok := c.entries[key]
	if !ok || !entry.Loading {
		return
	}
	entry.Loading = false
	entry.Status = entry.resolved
}

// Resolve stores the outcome for key and clears its loading flag.
func (c *Cache) Resolve(key selection.NodeKey, fp string, prices map[string]oracle.Price, status selection.PriceStatus, err error) {
	c.entries[key] = &Entry{
		Prices:      prices,
		Status:      status,
		Fingerprint: fp,
		Err:         err,
		UpdatedAt:   c.now(),
		resolved:    status,
	}
}

// Purge drops key.
func (c *Cache) Purge(key selection.NodeKey) {
	delete(c.entries, key)
}

// Get returns a copy of the entry for key.
func (c *Cache) Get(key selection.NodeKey) (Entry, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

// AnyLoading reports whether at least one entry is loading.
func (c *Cache) AnyLoading() bool {
	for _, entry := range c.entries {
		if entry.Loading {
			return true
		}
	}
	return false
}

// Loading lists the keys currently loading in key order.
func (c *Cache) Loading() []selection.NodeKey {
	var keys []selection.NodeKey
	for key, entry := range c.entries {
		if entry.Loading {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Snapshot copies every entry.
func (c *Cache) Snapshot() map[selection.NodeKey]Entry {
	out := make(map[selection.NodeKey]Entry, len(c.entries))
	for key, entry := range c.entries {
		out[key] = entry.clone()
	}
	return out
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(c.entries)
}
