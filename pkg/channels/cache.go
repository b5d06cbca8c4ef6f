package channels

// fifoCache is a bounded string cache that evicts the single oldest
// entry once full. Not safe for concurrent use; callers hold their own
// lock.
type fifoCache struct {
	max     int
	entries map[string]string
	order   []string
}

func newFIFOCache(max int) *fifoCache {
	return &fifoCache{
		max:     max,
		entries: make(map[string]string),
	}
}

func (c *fifoCache) Put(key, value string) {
	if key == "" {
		return
	}
	if _, exists := c.entries[key]; exists {
		c.entries[key] = value
		return
	}
	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = value
	c.order = append(c.order, key)
}

func (c *fifoCache) Get(key string) (string, bool) {
	v, ok := c.entries[key]
	return v, ok
}

func (c *fifoCache) Len() int {
	return len(c.order)
}

// dedupSet remembers message IDs already processed. When the set
// reaches capacity it evicts the oldest half in one sweep, so steady
// traffic amortizes to O(1) per ID. Not safe for concurrent use.
type dedupSet struct {
	max   int
	seen  map[string]struct{}
	order []string
}

func newDedupSet(max int) *dedupSet {
	return &dedupSet{
		max:  max,
		seen: make(map[string]struct{}),
	}
}

// Seen records id and reports whether it was already present. Empty
// IDs are never deduplicated.
func (d *dedupSet) Seen(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := d.seen[id]; ok {
		return true
	}
	if len(d.seen) >= d.max {
		half := len(d.order) / 2
		for _, old := range d.order[:half] {
			delete(d.seen, old)
		}
		d.order = append([]string(nil), d.order[half:]...)
	}
	d.seen[id] = struct{}{}
	d.order = append(d.order, id)
	return false
}

func (d *dedupSet) Len() int {
	return len(d.seen)
}
