package pcache

import (
	"testing"

	"github.com/stretchr/testify/require"
	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
)

func TestFreeList(t *testing.T) {
	fl := NewFIFOReplacer(4).(*freeList)
	for i := range 4 {
		fl.Unpinned(i)
	}
	require.Equal(t, []int{0, 1, 2, 3}, fl.order())

	fl.Pinned(2)
	require.False(t, fl.Contains(2))
	require.Equal(t, []int{0, 1, 3}, fl.order())

	// Hits do not reorder.
	fl.Accessed(1)
	require.Equal(t, []int{0, 1, 3}, fl.order())

	fl.Unpinned(2)
	require.Equal(t, []int{0, 1, 3, 2}, fl.order())

	fl.Restore(3)
	require.Equal(t, []int{3, 0, 1, 2}, fl.order())

	for _, want := range []int{3, 0, 1, 2} {
		got, ok := fl.Victim()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok := fl.Victim()
	require.False(t, ok)
	require.Zero(t, fl.Len())

	// Pinned on an absent slot is a no-op.
	fl.Pinned(1)
	require.Zero(t, fl.Len())
}

func TestClockReplacer_SecondChance(t *testing.T) {
	fifo := NewFIFOReplacer(3)
	clock := NewClockReplacer(3)
	for _, r := range []Replacer{fifo, clock} {
		for i := range 3 {
			r.Unpinned(i)
		}
		idx, ok := r.Victim()
		require.True(t, ok)
		require.Equal(t, 0, idx)
		r.Accessed(1)
	}

	// FIFO ignores the hit on slot 1; CLOCK spares it for one more sweep.
	idx, _ := fifo.Victim()
	require.Equal(t, 1, idx)
	idx, _ = clock.Victim()
	require.Equal(t, 2, idx)
	idx, _ = clock.Victim()
	require.Equal(t, 1, idx)
	_, ok := clock.Victim()
	require.False(t, ok)
}

func TestClockReplacer_NeverPicksPinned(t *testing.T) {
	clock := NewClockReplacer(4)
	for i := range 4 {
		clock.Unpinned(i)
	}
	clock.Pinned(0)
	clock.Pinned(2)
	require.Equal(t, 2, clock.Len())

	seen := map[int]bool{}
	for range 2 {
		idx, ok := clock.Victim()
		require.True(t, ok)
		seen[idx] = true
	}
	require.Equal(t, map[int]bool{1: true, 3: true}, seen)
	_, ok := clock.Victim()
	require.False(t, ok)

	clock.Unpinned(2)
	clock.Restore(0)
	idx, _ := clock.Victim()
	require.Equal(t, 0, idx, "restored slot goes next")
}

func TestHashIndex_RemoveOnlyOwnMapping(t *testing.T) {
	h := newHashIndex(2)
	a := pagemanager.PageID{File: testFile, Pgno: 1}
	h.put(a, 0)
	require.False(t, h.remove(a, 1))
	require.Equal(t, 1, h.len())
	require.True(t, h.remove(a, 0))
	_, ok := h.get(a)
	require.False(t, ok)
}
