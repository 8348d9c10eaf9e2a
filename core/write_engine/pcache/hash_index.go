package pcache

import (
	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
)

// hashIndex maps a page id to the slot holding it. While a dirty victim is
// being written back, both its old id and the id being loaded map to the same
// slot.
type hashIndex struct {
	slots map[pagemanager.PageID]int
}

func newHashIndex(capacity int) *hashIndex {
	return &hashIndex{slots: make(map[pagemanager.PageID]int, capacity)}
}

func (h *hashIndex) get(id pagemanager.PageID) (int, bool) {
	idx, ok := h.slots[id]
	return idx, ok
}

func (h *hashIndex) put(id pagemanager.PageID, idx int) { h.slots[id] = idx }

// remove deletes id only if it still maps to idx.
func (h *hashIndex) remove(id pagemanager.PageID, idx int) bool {
	if cur, ok := h.slots[id]; ok && cur == idx {
		delete(h.slots, id)
		return true
	}
	return false
}

func (h *hashIndex) len() int { return len(h.slots) }
