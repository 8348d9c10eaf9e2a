package pcache

const nilSlot = -1

// freeList is the default policy: an intrusive doubly-linked list threaded
// through slot indices. Slots join at the tail when their last pin is
// released and victims leave from the head, so the slot idle the longest is
// reclaimed first. Hits do not reorder it. Every operation is O(1).
type freeList struct {
	prev, next []int
	in         []bool
	head, tail int
	n          int
}

// NewFIFOReplacer returns the free list policy.
func NewFIFOReplacer(capacity int) Replacer {
	fl := &freeList{
		prev: make([]int, capacity),
		next: make([]int, capacity),
		in:   make([]bool, capacity),
		head: nilSlot,
		tail: nilSlot,
	}
	for i := range capacity {
		fl.prev[i], fl.next[i] = nilSlot, nilSlot
	}
	return fl
}

func (fl *freeList) pushTail(idx int) {
	fl.prev[idx], fl.next[idx] = fl.tail, nilSlot
	if fl.tail != nilSlot {
		fl.next[fl.tail] = idx
	} else {
		fl.head = idx
	}
	fl.tail = idx
	fl.in[idx] = true
	fl.n++
}

func (fl *freeList) pushHead(idx int) {
	fl.prev[idx], fl.next[idx] = nilSlot, fl.head
	if fl.head != nilSlot {
		fl.prev[fl.head] = idx
	} else {
		fl.tail = idx
	}
	fl.head = idx
	fl.in[idx] = true
	fl.n++
}

func (fl *freeList) unlink(idx int) {
	p, n := fl.prev[idx], fl.next[idx]
	if p != nilSlot {
		fl.next[p] = n
	} else {
		fl.head = n
	}
	if n != nilSlot {
		fl.prev[n] = p
	} else {
		fl.tail = p
	}
	fl.prev[idx], fl.next[idx] = nilSlot, nilSlot
	fl.in[idx] = false
	fl.n--
}

func (fl *freeList) Unpinned(idx int) {
	if fl.in[idx] {
		fl.unlink(idx)
	}
	fl.pushTail(idx)
}

func (fl *freeList) Pinned(idx int) {
	if fl.in[idx] {
		fl.unlink(idx)
	}
}

func (fl *freeList) Accessed(int) {}

func (fl *freeList) Restore(idx int) {
	if fl.in[idx] {
		fl.unlink(idx)
	}
	fl.pushHead(idx)
}

func (fl *freeList) Victim() (int, bool) {
	if fl.head == nilSlot {
		return nilSlot, false
	}
	idx := fl.head
	fl.unlink(idx)
	return idx, true
}

func (fl *freeList) Contains(idx int) bool { return fl.in[idx] }
func (fl *freeList) Len() int              { return fl.n }

// order lists the slots from head (next victim) to tail.
func (fl *freeList) order() []int {
	out := make([]int, 0, fl.n)
	for i := fl.head; i != nilSlot; i = fl.next[i] {
		out = append(out, i)
	}
	return out
}
