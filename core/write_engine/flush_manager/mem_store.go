package flushmanager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
)

// MemStore is a PageStore kept entirely in memory. It counts reads and writes,
// which makes it the store of choice for tests and throwaway CLI sessions.
type MemStore struct {
	pageSize int

	mu    sync.RWMutex
	pages map[pagemanager.PageID][]byte

	reads  atomic.Int64
	writes atomic.Int64
}

func NewMemStore(pageSize int) *MemStore {
	return &MemStore{pageSize: pageSize, pages: make(map[pagemanager.PageID][]byte)}
}

func (s *MemStore) ReadPage(ctx context.Context, id pagemanager.PageID, buf []byte) error {
	if len(buf) != s.pageSize {
		return fmt.Errorf("%w: %d != %d", ErrShortBuffer, len(buf), s.pageSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.reads.Add(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[id]
	if !ok {
		return fmt.Errorf("%w: %w: page %s", ErrIO, ErrPageNotFound, id)
	}
	copy(buf, p)
	return nil
}

func (s *MemStore) WritePage(ctx context.Context, id pagemanager.PageID, buf []byte) error {
	if len(buf) != s.pageSize {
		return fmt.Errorf("%w: %d != %d", ErrShortBuffer, len(buf), s.pageSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writes.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pages[id]
	if !ok {
		p = make([]byte, s.pageSize)
		s.pages[id] = p
	}
	copy(p, buf)
	return nil
}

// Raw returns the stored bytes of a page for inspection or tampering; the
// caller must not use it concurrently with I/O on the same page.
func (s *MemStore) Raw(id pagemanager.PageID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pages[id]
	return p, ok
}

func (s *MemStore) Reads() int64  { return s.reads.Load() }
func (s *MemStore) Writes() int64 { return s.writes.Load() }

func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}
