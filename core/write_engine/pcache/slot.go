package pcache

import (
	"fmt"
	"sync"
	"sync/atomic"

	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	commonutils "github.com/sushant-115/gojodb-pcache/internal/common_utils"
)

// slot is one page frame of the arena. Everything but latch and the bytes
// behind data/extra is guarded by Cache.mu.
type slot struct {
	id       pagemanager.PageID
	resident bool
	pins     uint32
	dirty    bool
	dirtySeq uint64 // bumped on every MarkDirty so a flush can tell it raced a writer
	gen      uint64 // bumped on every install; handles carry it
	load     *pageLoad

	data  []byte
	extra []byte

	// latch protects the page body. The cache never takes it on the fetch
	// path; callers hold it across reads and writes of a shared page.
	latch sync.RWMutex
}

func (s *slot) reset() {
	s.id = pagemanager.PageID{}
	s.resident = false
	s.pins = 0
	s.dirty = false
	s.load = nil
}

// pageLoad is an install in flight. Fetches of either id wait on done.
type pageLoad struct {
	id     pagemanager.PageID
	old    pagemanager.PageID
	hasOld bool
	done   chan struct{}
	// err is set before done is closed when reading or validating id failed.
	// A write-back failure of old leaves it nil so waiters pick another slot.
	err error
}

// PinnedPage is a borrowed reference to a resident page. The bytes it exposes
// stay valid and are never reused for another page until Release. A handle
// must be released exactly once.
type PinnedPage struct {
	cache *Cache
	s     *slot
	idx   int
	id    pagemanager.PageID
	gen   uint64
	data  []byte
	extra []byte

	released   atomic.Bool
	releasedAt commonutils.CallSite // guarded by cache.mu
}

func (p *PinnedPage) ID() pagemanager.PageID { return p.id }

// Data returns the whole page including the header. The header is rewritten
// by the cache on write-back. Returns nil once released.
func (p *PinnedPage) Data() []byte {
	if p.released.Load() {
		return nil
	}
	return p.data
}

// Body returns the page after its header.
func (p *PinnedPage) Body() []byte {
	if p.released.Load() {
		return nil
	}
	return p.data[pagemanager.HeaderSize:]
}

// Extra returns the side buffer configured by extraSize. It is zeroed every
// time the slot is reused and never persisted.
func (p *PinnedPage) Extra() []byte {
	if p.released.Load() {
		return nil
	}
	return p.extra
}

// MarkDirty flags the page for write-back while keeping it pinned.
func (p *PinnedPage) MarkDirty() error {
	return p.cache.markDirty(p, commonutils.Caller(1))
}

// Release unpins the page, optionally marking it dirty first.
func (p *PinnedPage) Release(markDirty bool) error {
	return p.cache.release(p, markDirty, commonutils.Caller(1))
}

// Lock acquires the page latch exclusively. Hold it across writes to a page
// other callers may have pinned too.
func (p *PinnedPage) Lock()    { p.s.latch.Lock() }
func (p *PinnedPage) Unlock()  { p.s.latch.Unlock() }
func (p *PinnedPage) RLock()   { p.s.latch.RLock() }
func (p *PinnedPage) RUnlock() { p.s.latch.RUnlock() }

func (p *PinnedPage) String() string {
	return fmt.Sprintf("PinnedPage{%s slot=%d gen=%d}", p.id, p.idx, p.gen)
}
