package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync/atomic"
	"time"

	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	"github.com/sushant-115/gojodb-pcache/core/write_engine/pcache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type workload struct {
	Workers    int
	Pages      int
	Ops        int // per worker; 0 means until Duration elapses
	Duration   time.Duration
	DirtyRatio float64
	// OpsPerSec paces all workers together; 0 means unpaced.
	OpsPerSec float64
	Seed      uint64
	File      pagemanager.FileID
}

type result struct {
	Ops     int64
	Dirtied int64
	Retries int64
	Elapsed time.Duration
	Stats   pcache.Stats
}

func (r result) String() string {
	opsPerSec := float64(r.Ops) / max(r.Elapsed.Seconds(), 1e-9)
	return fmt.Sprintf("ops=%d dirtied=%d retries=%d elapsed=%s throughput=%.0f ops/s\n%s",
		r.Ops, r.Dirtied, r.Retries, r.Elapsed.Round(time.Millisecond), opsPerSec, r.Stats)
}

// prepare allocates every page of the working set and writes it out, so the
// measured phase exercises real reads and checksum validation.
func prepare(ctx context.Context, cache *pcache.Cache, w workload) error {
	for i := 1; i <= w.Pages; i++ {
		id := pagemanager.PageID{File: w.File, Pgno: pagemanager.Pgno(i)}
		err := cache.With(ctx, id, true, func(p *pcache.PinnedPage) (bool, error) {
			binary.LittleEndian.PutUint64(p.Body(), uint64(i))
			return true, nil
		})
		if err != nil {
			return fmt.Errorf("preparing page %d: %w", i, err)
		}
	}
	return cache.FlushAll(ctx)
}

// runWorkload drives random fetches from w.Workers goroutines. Each dirtying
// access increments a counter stored in the page, and the page number stored
// at the start of the body is checked on every access.
func runWorkload(ctx context.Context, cache *pcache.Cache, w workload, log *zap.Logger) (result, error) {
	if w.Workers <= 0 || w.Pages <= 0 {
		return result{}, errors.New("workers and pages must be positive")
	}
	if w.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Duration)
		defer cancel()
	}
	var limiter *rate.Limiter
	if w.OpsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(w.OpsPerSec), max(1, w.Workers))
	}

	var ops, dirtied, retries atomic.Int64
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for worker := range w.Workers {
		rng := rand.New(rand.NewPCG(w.Seed, uint64(worker)))
		g.Go(func() error {
			for n := 0; w.Ops == 0 || n < w.Ops; n++ {
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return nil
					}
				}
				if gctx.Err() != nil {
					return nil
				}
				pgno := pagemanager.Pgno(rng.IntN(w.Pages) + 1)
				id := pagemanager.PageID{File: w.File, Pgno: pgno}
				p, err := cache.Fetch(gctx, id, false)
				if pcache.IsRetryable(err) {
					retries.Add(1)
					runtime.Gosched()
					continue
				}
				if err != nil {
					return err
				}

				dirty := rng.Float64() < w.DirtyRatio
				if dirty {
					p.Lock()
				} else {
					p.RLock()
				}
				body := p.Body()
				stamp := binary.LittleEndian.Uint64(body)
				if dirty {
					binary.LittleEndian.PutUint64(body[8:], binary.LittleEndian.Uint64(body[8:])+1)
					p.Unlock()
				} else {
					p.RUnlock()
				}
				if err := p.Release(dirty); err != nil {
					return err
				}
				if stamp != uint64(pgno) {
					return fmt.Errorf("page %s holds the contents of page %d", id, stamp)
				}
				ops.Add(1)
				if dirty {
					dirtied.Add(1)
				}
			}
			return nil
		})
	}
	err := g.Wait()
	res := result{
		Ops:     ops.Load(),
		Dirtied: dirtied.Load(),
		Retries: retries.Load(),
		Elapsed: time.Since(start),
		Stats:   cache.Stats(),
	}
	log.Info("Workload finished",
		zap.Int64("ops", res.Ops),
		zap.Int64("dirtied", res.Dirtied),
		zap.Int64("retries", res.Retries),
		zap.Duration("elapsed", res.Elapsed),
		zap.Float64("hitRate", res.Stats.HitRate()))
	return res, err
}

// counterSum adds up the per-page counters bumped by dirtying accesses.
func counterSum(ctx context.Context, cache *pcache.Cache, w workload) (uint64, error) {
	var sum uint64
	for i := 1; i <= w.Pages; i++ {
		id := pagemanager.PageID{File: w.File, Pgno: pagemanager.Pgno(i)}
		err := cache.With(ctx, id, false, func(p *pcache.PinnedPage) (bool, error) {
			p.RLock()
			defer p.RUnlock()
			sum += binary.LittleEndian.Uint64(p.Body()[8:])
			return false, nil
		})
		if err != nil {
			return 0, err
		}
	}
	return sum, nil
}
