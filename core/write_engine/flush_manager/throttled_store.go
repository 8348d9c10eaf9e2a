package flushmanager

import (
	"context"
	"fmt"

	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	"golang.org/x/time/rate"
)

// ThrottledStore caps the byte throughput of an underlying PageStore. Reads and
// writes share one token bucket; the burst is a single page.
type ThrottledStore struct {
	PageStore
	limiter *rate.Limiter
}

// NewThrottledStore wraps store. bytesPerSec <= 0 disables throttling.
func NewThrottledStore(store PageStore, pageSize int, bytesPerSec int64) *ThrottledStore {
	limiter := rate.NewLimiter(rate.Inf, pageSize)
	if bytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), pageSize)
	}
	return &ThrottledStore{PageStore: store, limiter: limiter}
}

func (s *ThrottledStore) wait(ctx context.Context, n int) error {
	if err := s.limiter.WaitN(ctx, n); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("rate limiter error: %w", err)
	}
	return nil
}

func (s *ThrottledStore) ReadPage(ctx context.Context, id pagemanager.PageID, buf []byte) error {
	if err := s.wait(ctx, len(buf)); err != nil {
		return err
	}
	return s.PageStore.ReadPage(ctx, id, buf)
}

func (s *ThrottledStore) WritePage(ctx context.Context, id pagemanager.PageID, buf []byte) error {
	if err := s.wait(ctx, len(buf)); err != nil {
		return err
	}
	return s.PageStore.WritePage(ctx, id, buf)
}

// Sync forwards to the wrapped store.
func (s *ThrottledStore) Sync() error { return Sync(s.PageStore) }

// Unwrap returns the throttled store.
func (s *ThrottledStore) Unwrap() PageStore { return s.PageStore }
