// Package pcache is a fixed-size page cache (buffer pool). It hands out pinned
// handles to fixed-size pages, keeps at most one copy of each on-disk page in
// memory, and reclaims unpinned pages in the order they became idle.
package pcache

import (
	"context"
	"fmt"
	"math"
	"sync"

	flushmanager "github.com/sushant-115/gojodb-pcache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	internaltelemetry "github.com/sushant-115/gojodb-pcache/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Cache is the page cache manager. It is the only mutator of residency state:
// the hash index, the replacer and every slot's bookkeeping change only under mu.
type Cache struct {
	pageSize  int
	capacity  int
	extraSize int
	store     flushmanager.PageStore
	opts      options
	logger    *zap.Logger
	metrics   *internaltelemetry.CacheMetrics
	tracer    trace.Tracer

	mu       sync.Mutex
	slots    []slot
	index    *hashIndex
	replacer Replacer
	closed   bool
	counters counters
}

type counters struct {
	hits, misses, evictions, writebacks, loadFailures, exhausted uint64
}

// Open allocates capacity slots of pageSize bytes plus an extraSize side
// buffer each. This is the only allocation of page memory the cache makes.
func Open(pageSize, capacity, extraSize int, store flushmanager.PageStore, opts ...Option) (*Cache, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	switch {
	case pageSize <= 0:
		return nil, fmt.Errorf("%w: page size must be positive, got %d", ErrInvalidConfig, pageSize)
	case pageSize%PageAlignment != 0:
		return nil, fmt.Errorf("%w: page size %d is not a multiple of %d", ErrInvalidConfig, pageSize, PageAlignment)
	case pageSize > math.MaxUint16:
		return nil, fmt.Errorf("%w: page size %d does not fit the page header", ErrInvalidConfig, pageSize)
	case capacity <= 0:
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, capacity)
	case extraSize < 0:
		return nil, fmt.Errorf("%w: extra size must not be negative, got %d", ErrInvalidConfig, extraSize)
	case store == nil:
		return nil, fmt.Errorf("%w: page store is required", ErrInvalidConfig)
	}
	if _, err := pagemanager.ChecksumFor(o.formatVersion); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	metrics, err := internaltelemetry.NewCacheMetrics(o.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to register page cache metrics: %w", err)
	}

	c := &Cache{
		pageSize:  pageSize,
		capacity:  capacity,
		extraSize: extraSize,
		store:     store,
		opts:      o,
		logger:    o.logger.Named("pcache"),
		metrics:   metrics,
		tracer:    o.tracer,
		slots:     make([]slot, capacity),
		index:     newHashIndex(capacity),
		replacer:  o.newReplacer(capacity),
	}

	arena := make([]byte, capacity*pageSize)
	var extraArena []byte
	if extraSize > 0 {
		extraArena = make([]byte, capacity*extraSize)
	}
	for i := range c.slots {
		s := &c.slots[i]
		s.data = arena[i*pageSize : (i+1)*pageSize : (i+1)*pageSize]
		if extraSize > 0 {
			s.extra = extraArena[i*extraSize : (i+1)*extraSize : (i+1)*extraSize]
		}
		c.replacer.Unpinned(i)
	}

	c.logger.Info("Page cache opened",
		zap.Int("pageSize", pageSize),
		zap.Int("capacity", capacity),
		zap.Int("extraSize", extraSize),
		zap.Uint16("formatVersion", o.formatVersion),
		zap.Stringer("closeMode", o.closeMode))
	return c, nil
}

func (c *Cache) PageSize() int  { return c.pageSize }
func (c *Cache) Capacity() int  { return c.capacity }
func (c *Cache) ExtraSize() int { return c.extraSize }

// Store returns the store the cache reads through.
func (c *Cache) Store() flushmanager.PageStore { return c.store }

// Close tears the cache down. It fails with ErrBusy, leaving the cache fully
// usable, while any page is pinned or loading. Dirty pages are written back
// or dropped according to the close mode; a failed write-back also leaves the
// cache open so nothing is lost. The lock is held for the whole flush.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrAlreadyClosed
	}

	pinned, dirty := 0, 0
	for i := range c.slots {
		s := &c.slots[i]
		if s.pins > 0 || s.load != nil {
			pinned++
		}
		if s.resident && s.dirty {
			dirty++
		}
	}
	if pinned > 0 {
		return fmt.Errorf("%w: %d pages still pinned", ErrBusy, pinned)
	}

	switch c.opts.closeMode {
	case FlushOnClose:
		for i := range c.slots {
			s := &c.slots[i]
			if !s.resident || !s.dirty {
				continue
			}
			if err := c.writePage(ctx, s.id, s.data); err != nil {
				c.logger.Error("Failed to flush page on close", zap.Stringer("page", s.id), zap.Error(err))
				return err
			}
			s.dirty = false
			c.counters.writebacks++
			c.metrics.WritebacksCounter.Add(ctx, 1)
		}
		if err := flushmanager.Sync(c.store); err != nil {
			return fmt.Errorf("%w: syncing store on close: %w", ErrIO, err)
		}
	case DiscardOnClose:
		if dirty > 0 {
			c.logger.Warn("Discarding dirty pages on close", zap.Int("dirty", dirty))
		}
	}

	c.closed = true
	c.slots = nil
	c.index = nil
	c.replacer = nil
	c.logger.Info("Page cache closed",
		zap.Uint64("hits", c.counters.hits),
		zap.Uint64("misses", c.counters.misses),
		zap.Uint64("evictions", c.counters.evictions))
	return nil
}

// writePage seals the header of data and writes it to the store. Context
// errors are returned bare so IsRetryable recognizes them.
func (c *Cache) writePage(ctx context.Context, id pagemanager.PageID, data []byte) error {
	if err := pagemanager.Seal(data, c.opts.formatVersion); err != nil {
		return fmt.Errorf("sealing page %s: %w", id, err)
	}
	if err := c.store.WritePage(ctx, id, data); err != nil {
		if isContextErr(err) {
			return fmt.Errorf("writing back page %s: %w", id, err)
		}
		return fmt.Errorf("%w: writing back page %s: %w", ErrIO, id, err)
	}
	return nil
}

// pinLocked adds a pin, taking the slot off the free list on its first pin.
func (c *Cache) pinLocked(idx int) {
	s := &c.slots[idx]
	if s.pins == 0 {
		c.replacer.Pinned(idx)
	}
	s.pins++
}

// unpinLocked drops a pin; the last one puts the slot at the free list tail.
func (c *Cache) unpinLocked(idx int) {
	s := &c.slots[idx]
	s.pins--
	if s.pins == 0 {
		c.replacer.Unpinned(idx)
	}
}

// residentLocked finds the ready slot for id, waiting out any load in flight.
// It returns with mu held when ok; on error mu is released.
func (c *Cache) residentLocked(ctx context.Context, id pagemanager.PageID) (int, bool, error) {
	for {
		if c.closed {
			c.mu.Unlock()
			return 0, false, ErrClosed
		}
		idx, ok := c.index.get(id)
		if !ok {
			return 0, false, nil
		}
		ld := c.slots[idx].load
		if ld == nil {
			return idx, true, nil
		}
		c.mu.Unlock()
		if err := waitLoad(ctx, ld, id); err != nil {
			return 0, false, err
		}
		c.mu.Lock()
	}
}

// FlushPage writes one resident page back if it is dirty. The page is pinned
// for the duration of the write and its latch is taken exclusively, so the
// caller must not hold the latch itself.
func (c *Cache) FlushPage(ctx context.Context, id pagemanager.PageID) error {
	c.mu.Lock()
	idx, ok, err := c.residentLocked(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPageNotResident, id)
	}
	s := &c.slots[idx]
	if !s.dirty {
		c.mu.Unlock()
		c.logger.Debug("Page is clean, no flush needed", zap.Stringer("page", id))
		return nil
	}
	c.pinLocked(idx)
	seq := s.dirtySeq
	c.mu.Unlock()

	err = c.flushSlot(ctx, s, id)
	c.finishFlush(ctx, idx, seq, err)
	return err
}

// FlushAll writes back every dirty page and syncs the store. Pages dirtied
// again while their write is in flight stay dirty. Returns the first error.
func (c *Cache) FlushAll(ctx context.Context) error {
	type job struct {
		s   *slot
		idx int
		id  pagemanager.PageID
		seq uint64
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	var jobs []job
	for i := range c.slots {
		s := &c.slots[i]
		if s.resident && s.dirty && s.load == nil {
			c.pinLocked(i)
			jobs = append(jobs, job{s: s, idx: i, id: s.id, seq: s.dirtySeq})
		}
	}
	c.mu.Unlock()

	c.logger.Debug("Flushing all dirty pages", zap.Int("dirty", len(jobs)))
	var firstErr error
	for _, j := range jobs {
		err := c.flushSlot(ctx, j.s, j.id)
		c.finishFlush(ctx, j.idx, j.seq, err)
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := flushmanager.Sync(c.store); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("%w: syncing store: %w", ErrIO, err)
	}
	return firstErr
}

func (c *Cache) flushSlot(ctx context.Context, s *slot, id pagemanager.PageID) error {
	s.latch.Lock()
	defer s.latch.Unlock()
	return c.writePage(ctx, id, s.data)
}

func (c *Cache) finishFlush(ctx context.Context, idx int, seq uint64, err error) {
	c.mu.Lock()
	s := &c.slots[idx]
	if err == nil {
		if s.dirtySeq == seq {
			s.dirty = false
		}
		c.counters.writebacks++
	}
	id := s.id
	c.unpinLocked(idx)
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("Failed to flush page", zap.Stringer("page", id), zap.Error(err))
		return
	}
	c.metrics.WritebacksCounter.Add(ctx, 1)
}

// Discard drops a resident, unpinned page without writing it back, for pages
// the upper layer has freed. The slot becomes the next one reused.
func (c *Cache) Discard(id pagemanager.PageID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	idx, ok := c.index.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPageNotResident, id)
	}
	s := &c.slots[idx]
	if s.pins > 0 || s.load != nil {
		return fmt.Errorf("%w: %s has %d pins", ErrPagePinned, id, s.pins)
	}
	c.index.remove(id, idx)
	c.replacer.Pinned(idx)
	s.reset()
	c.replacer.Restore(idx)
	c.logger.Debug("Discarded page", zap.Stringer("page", id), zap.Int("slot", idx))
	return nil
}

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	Capacity     int
	Resident     int
	Pinned       int
	Dirty        int
	Loading      int
	Free         int
	Hits         uint64
	Misses       uint64
	Evictions    uint64
	Writebacks   uint64
	LoadFailures uint64
	Exhausted    uint64
}

func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"PageCache{Capacity: %d, Resident: %d, Pinned: %d, Dirty: %d, Loading: %d, Free: %d, Hits: %d, Misses: %d, Evictions: %d, Writebacks: %d, LoadFailures: %d, Exhausted: %d, HitRate: %.2f%%}",
		s.Capacity, s.Resident, s.Pinned, s.Dirty, s.Loading, s.Free, s.Hits, s.Misses, s.Evictions, s.Writebacks, s.LoadFailures, s.Exhausted, s.HitRate()*100,
	)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{
		Capacity:     c.capacity,
		Hits:         c.counters.hits,
		Misses:       c.counters.misses,
		Evictions:    c.counters.evictions,
		Writebacks:   c.counters.writebacks,
		LoadFailures: c.counters.loadFailures,
		Exhausted:    c.counters.exhausted,
	}
	if c.closed {
		return st
	}
	st.Free = c.replacer.Len()
	for i := range c.slots {
		s := &c.slots[i]
		switch {
		case s.load != nil:
			st.Loading++
		case s.resident:
			st.Resident++
			if s.pins > 0 {
				st.Pinned++
			}
			if s.dirty {
				st.Dirty++
			}
		}
	}
	return st
}
