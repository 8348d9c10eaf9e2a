package pcache

// Replacer is the eviction policy. It tracks the set of evictable slots (slots
// with no pins and no load in flight) by index and picks the next victim.
// The cache serializes every call under its own lock.
type Replacer interface {
	// Unpinned adds idx to the evictable set as its most recently idle member.
	Unpinned(idx int)
	// Pinned removes idx from the evictable set. No-op if absent.
	Pinned(idx int)
	// Accessed is called on every cache hit for idx, pinned or not.
	Accessed(idx int)
	// Restore puts idx back into the evictable set as the very next victim.
	Restore(idx int)
	// Victim removes and returns the slot to reclaim.
	Victim() (int, bool)
	// Contains reports whether idx is in the evictable set.
	Contains(idx int) bool
	Len() int
}

// clockReplacer is the second-chance policy: a slot that was hit since the hand
// last passed it survives one more sweep.
type clockReplacer struct {
	evictable []bool
	ref       []bool
	hand      int
	n         int
}

// NewClockReplacer returns a CLOCK policy. Unlike FIFO, a page hit while idle
// is kept over pages that were not, at the cost of one extra sweep.
func NewClockReplacer(capacity int) Replacer {
	return &clockReplacer{
		evictable: make([]bool, capacity),
		ref:       make([]bool, capacity),
	}
}

func (c *clockReplacer) Unpinned(idx int) {
	if !c.evictable[idx] {
		c.evictable[idx] = true
		c.n++
	}
	c.ref[idx] = true
}

func (c *clockReplacer) Pinned(idx int) {
	if c.evictable[idx] {
		c.evictable[idx] = false
		c.n--
	}
}

func (c *clockReplacer) Accessed(idx int) { c.ref[idx] = true }

func (c *clockReplacer) Restore(idx int) {
	if !c.evictable[idx] {
		c.evictable[idx] = true
		c.n++
	}
	c.ref[idx] = false
	c.hand = idx
}

func (c *clockReplacer) Victim() (int, bool) {
	if c.n == 0 {
		return -1, false
	}
	// Two full turns always suffice: the first clears every reference bit.
	for range 2*len(c.evictable) + 1 {
		idx := c.hand
		c.hand = (c.hand + 1) % len(c.evictable)
		if !c.evictable[idx] {
			continue
		}
		if c.ref[idx] {
			c.ref[idx] = false
			continue
		}
		c.evictable[idx] = false
		c.n--
		return idx, true
	}
	return -1, false
}

func (c *clockReplacer) Contains(idx int) bool { return c.evictable[idx] }
func (c *clockReplacer) Len() int              { return c.n }
