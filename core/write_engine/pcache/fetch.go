package pcache

import (
	"context"
	"fmt"
	"time"

	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	commonutils "github.com/sushant-115/gojodb-pcache/internal/common_utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Fetch returns the page pinned. A resident page is returned without I/O. On a
// miss the cache reclaims the slot idle the longest, writes it back first if
// it is dirty, and then either zeroes it (allocateNew, for a page the caller is
// creating) or reads and validates the page from the store.
//
// Store I/O happens without the cache lock; concurrent fetches of a page being
// loaded wait for that one load and share its outcome. ctx bounds both the
// waiting and the I/O, and an expired fetch leaves nothing half-installed.
//
// allocateNew has no effect when the page is already resident.
func (c *Cache) Fetch(ctx context.Context, id pagemanager.PageID, allocateNew bool) (*PinnedPage, error) {
	if !id.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPageID, id)
	}
	c.mu.Lock()
	idx, ok, err := c.residentLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		c.pinLocked(idx)
		c.replacer.Accessed(idx)
		c.counters.hits++
		p := c.newHandleLocked(idx)
		pins := c.slots[idx].pins
		c.mu.Unlock()

		c.metrics.HitsCounter.Add(ctx, 1)
		c.metrics.PinnedUpDownCounter.Add(ctx, 1)
		c.logger.Debug("Page found in cache", zap.Stringer("page", id), zap.Int("slot", idx), zap.Uint32("pinCount", pins))
		return p, nil
	}
	return c.install(ctx, id, allocateNew)
}

// waitLoad blocks until ld finishes. It returns ld's error only when ld was
// loading id itself and failed for good; otherwise the caller looks again.
func waitLoad(ctx context.Context, ld *pageLoad, id pagemanager.PageID) error {
	select {
	case <-ld.done:
		if ld.id == id && ld.err != nil && !IsRetryable(ld.err) {
			return ld.err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// install handles a miss. It MUST be called with c.mu locked and returns with
// it unlocked.
func (c *Cache) install(ctx context.Context, id pagemanager.PageID, allocateNew bool) (*PinnedPage, error) {
	start := time.Now()
	idx, ok := c.replacer.Victim()
	if !ok {
		c.counters.exhausted++
		c.mu.Unlock()
		c.metrics.ExhaustedCounter.Add(ctx, 1)
		c.logger.Warn("Page cache exhausted, all slots pinned", zap.Stringer("page", id), zap.Int("capacity", c.capacity))
		return nil, fmt.Errorf("%w: %d slots, fetching %s", ErrPoolExhausted, c.capacity, id)
	}
	c.counters.misses++

	// Reserve the victim: pinned by this load and reachable through id, so
	// nobody else can pick it or issue a second read for id.
	s := &c.slots[idx]
	ld := &pageLoad{id: id, done: make(chan struct{})}
	writeBack := false
	if s.resident {
		ld.old, ld.hasOld = s.id, true
		writeBack = s.dirty
		if !writeBack {
			// Clean pages can go at once. Dirty ones stay reachable until
			// their bytes are durable so a fetch of them waits instead of
			// reading a stale copy.
			c.index.remove(s.id, idx)
		}
	}
	s.load = ld
	s.pins = 1
	c.index.put(id, idx)
	c.mu.Unlock()

	c.metrics.MissesCounter.Add(ctx, 1)
	ctx, span := c.tracer.Start(ctx, "pcache.load", trace.WithAttributes(
		attribute.String("pcache.page_id", id.String()),
		attribute.Int("pcache.slot", idx),
		attribute.Bool("pcache.allocate_new", allocateNew),
		attribute.Bool("pcache.write_back", writeBack),
	))
	defer span.End()
	defer func() {
		c.metrics.LoadLatencyHistogram.Record(ctx, float64(time.Since(start).Microseconds())/1000)
	}()
	c.logger.Debug("Page not in cache, loading",
		zap.Stringer("page", id), zap.Int("slot", idx), zap.Bool("allocateNew", allocateNew), zap.Bool("writeBack", writeBack))

	if writeBack {
		if err := c.writePage(ctx, ld.old, s.data); err != nil {
			c.abortWriteBack(idx, ld)
			c.metrics.LoadFailuresCounter.Add(ctx, 1)
			span.RecordError(err)
			span.SetStatus(codes.Error, "write-back failed")
			c.logger.Error("Failed to write back victim page", zap.Stringer("victim", ld.old), zap.Stringer("page", id), zap.Error(err))
			return nil, err
		}
	}

	err := c.populate(ctx, s, id, allocateNew)

	c.mu.Lock()
	if ld.hasOld {
		c.index.remove(ld.old, idx)
		c.counters.evictions++
	}
	if writeBack {
		c.counters.writebacks++
	}
	if err != nil {
		c.index.remove(id, idx)
		s.reset()
		c.replacer.Restore(idx)
		c.counters.loadFailures++
		ld.err = err
		close(ld.done)
		c.mu.Unlock()

		c.recordEviction(ctx, ld, writeBack)
		c.metrics.LoadFailuresCounter.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		if IsRetryable(err) {
			c.logger.Info("Page load abandoned", zap.Stringer("page", id), zap.Error(err))
		} else {
			c.logger.Error("Failed to load page", zap.Stringer("page", id), zap.Error(err))
		}
		return nil, err
	}
	s.id = id
	s.resident = true
	s.dirty = false
	s.gen++
	s.load = nil
	close(ld.done)
	p := c.newHandleLocked(idx)
	c.mu.Unlock()

	c.recordEviction(ctx, ld, writeBack)
	c.metrics.PinnedUpDownCounter.Add(ctx, 1)
	c.logger.Debug("Page loaded", zap.Stringer("page", id), zap.Int("slot", idx))
	return p, nil
}

func (c *Cache) recordEviction(ctx context.Context, ld *pageLoad, writeBack bool) {
	if !ld.hasOld {
		return
	}
	c.metrics.EvictionsCounter.Add(ctx, 1)
	if writeBack {
		c.metrics.WritebacksCounter.Add(ctx, 1)
	}
	c.logger.Debug("Evicted page", zap.Stringer("victim", ld.old), zap.Bool("writeBack", writeBack))
}

// abortWriteBack puts a victim whose write-back failed back exactly as it
// was: still resident, still dirty, first in line for reclamation.
func (c *Cache) abortWriteBack(idx int, ld *pageLoad) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.slots[idx]
	c.index.remove(ld.id, idx)
	s.load = nil
	s.pins = 0
	c.replacer.Restore(idx)
	c.counters.loadFailures++
	close(ld.done)
}

// populate fills a reserved slot for id. It runs without the cache lock.
func (c *Cache) populate(ctx context.Context, s *slot, id pagemanager.PageID, allocateNew bool) error {
	clear(s.extra)
	if allocateNew {
		// New pages are trusted until their first write-back seals them.
		clear(s.data)
		return nil
	}
	if err := c.store.ReadPage(ctx, id, s.data); err != nil {
		if isContextErr(err) {
			return fmt.Errorf("reading page %s: %w", id, err)
		}
		return fmt.Errorf("%w: reading page %s: %w", ErrIO, id, err)
	}
	if err := pagemanager.Validate(s.data, c.opts.formatVersion); err != nil {
		return fmt.Errorf("%w: page %s: %w", ErrCorruptPage, id, err)
	}
	return nil
}

// newHandleLocked builds the handle for a pin already taken on idx.
func (c *Cache) newHandleLocked(idx int) *PinnedPage {
	s := &c.slots[idx]
	return &PinnedPage{
		cache: c,
		s:     s,
		idx:   idx,
		id:    s.id,
		gen:   s.gen,
		data:  s.data,
		extra: s.extra,
	}
}

// Release unpins p. Same as p.Release.
func (c *Cache) Release(p *PinnedPage, markDirty bool) error {
	return c.release(p, markDirty, commonutils.Caller(1))
}

func (c *Cache) release(p *PinnedPage, markDirty bool, site commonutils.CallSite) error {
	if p == nil || p.cache != c {
		return c.misuse(fmt.Errorf("%w: handle does not belong to this cache (%s)", ErrDoubleRelease, site))
	}
	c.mu.Lock()
	if err := c.checkHandleLocked(p, site); err != nil {
		c.mu.Unlock()
		return c.misuse(err)
	}
	p.released.Store(true)
	p.releasedAt = site
	s := p.s
	if markDirty {
		s.dirty = true
		s.dirtySeq++
	}
	c.unpinLocked(p.idx)
	pins, dirty := s.pins, s.dirty
	c.mu.Unlock()

	c.metrics.PinnedUpDownCounter.Add(context.Background(), -1)
	c.logger.Debug("Unpinned page", zap.Stringer("page", p.id), zap.Int("slot", p.idx), zap.Uint32("pinCount", pins), zap.Bool("isDirty", dirty))
	return nil
}

func (c *Cache) markDirty(p *PinnedPage, site commonutils.CallSite) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkHandleLocked(p, site); err != nil {
		return c.misuse(err)
	}
	p.s.dirty = true
	p.s.dirtySeq++
	return nil
}

// checkHandleLocked rejects released and stale handles.
func (c *Cache) checkHandleLocked(p *PinnedPage, site commonutils.CallSite) error {
	if p.released.Load() {
		return fmt.Errorf("%w: page %s used at %s after release at %s", ErrDoubleRelease, p.id, site, p.releasedAt)
	}
	if c.closed {
		return fmt.Errorf("%w: page %s used at %s after close", ErrDoubleRelease, p.id, site)
	}
	s := p.s
	if s.gen != p.gen || s.id != p.id || !s.resident || s.pins == 0 || s.load != nil {
		return fmt.Errorf("%w: stale handle for page %s used at %s", ErrDoubleRelease, p.id, site)
	}
	return nil
}

func (c *Cache) misuse(err error) error {
	c.logger.Error("Page handle misuse", zap.Error(err))
	if c.opts.strictRelease {
		panic(err)
	}
	return err
}

// With fetches id, runs fn with the pinned page and releases it on every path,
// panics included. fn reports whether it dirtied the page.
func (c *Cache) With(ctx context.Context, id pagemanager.PageID, allocateNew bool, fn func(p *PinnedPage) (dirty bool, err error)) (err error) {
	p, err := c.Fetch(ctx, id, allocateNew)
	if err != nil {
		return err
	}
	dirty := false
	defer func() {
		if rerr := c.release(p, dirty, commonutils.Caller(1)); rerr != nil && err == nil {
			err = rerr
		}
	}()
	dirty, err = fn(p)
	return err
}
