package pcache

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojodb-pcache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	"go.uber.org/zap/zaptest"
)

const testPageSize = 512

var testFile = pagemanager.NewFileID()

func pid(pgno uint64) pagemanager.PageID {
	return pagemanager.PageID{File: testFile, Pgno: pagemanager.Pgno(pgno)}
}

// faultStore wraps a MemStore with injectable failures and an optional gate
// that holds reads until the test opens it.
type faultStore struct {
	*flushmanager.MemStore

	mu       sync.Mutex
	readErr  map[pagemanager.PageID]error
	writeErr map[pagemanager.PageID]error
	gate     chan struct{}
	started  chan pagemanager.PageID
}

func newFaultStore() *faultStore {
	return &faultStore{
		MemStore: flushmanager.NewMemStore(testPageSize),
		readErr:  map[pagemanager.PageID]error{},
		writeErr: map[pagemanager.PageID]error{},
		started:  make(chan pagemanager.PageID, 64),
	}
}

// holdReads makes every read block until the returned func is called.
func (s *faultStore) holdReads() (open func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (s *faultStore) failWrites(id pagemanager.PageID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.writeErr, id)
		return
	}
	s.writeErr[id] = err
}

func (s *faultStore) failReads(id pagemanager.PageID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr[id] = err
}

func (s *faultStore) ReadPage(ctx context.Context, id pagemanager.PageID, buf []byte) error {
	s.mu.Lock()
	gate, rerr := s.gate, s.readErr[id]
	s.mu.Unlock()
	if gate != nil {
		select {
		case s.started <- id:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if rerr != nil {
		return rerr
	}
	return s.MemStore.ReadPage(ctx, id, buf)
}

func (s *faultStore) WritePage(ctx context.Context, id pagemanager.PageID, buf []byte) error {
	s.mu.Lock()
	werr := s.writeErr[id]
	s.mu.Unlock()
	if werr != nil {
		return werr
	}
	return s.MemStore.WritePage(ctx, id, buf)
}

// seedPage stores a sealed page whose body starts with the page number
// followed by fill bytes.
func seedPage(t *testing.T, store flushmanager.PageStore, id pagemanager.PageID, fill byte, version uint16) {
	t.Helper()
	page := make([]byte, testPageSize)
	stampPage(page, id, fill)
	require.NoError(t, pagemanager.Seal(page, version))
	require.NoError(t, store.WritePage(context.Background(), id, page))
}

func stampPage(page []byte, id pagemanager.PageID, fill byte) {
	body := page[pagemanager.HeaderSize:]
	for i := range body {
		body[i] = fill
	}
	binary.LittleEndian.PutUint64(body, uint64(id.Pgno))
}

func newTestCache(t *testing.T, capacity int, store flushmanager.PageStore, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := Open(testPageSize, capacity, 16, store, opts...)
	require.NoError(t, err)
	return c
}

// checkInvariants verifies the bookkeeping the cache must keep under mu.
func checkInvariants(t *testing.T, c *Cache) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	free := 0
	for i := range c.slots {
		s := &c.slots[i]
		evictable := s.pins == 0 && s.load == nil
		require.Equal(t, evictable, c.replacer.Contains(i), "slot %d pins=%d loading=%v", i, s.pins, s.load != nil)
		if evictable {
			free++
		}
		if s.load != nil {
			require.Positive(t, s.pins, "loading slot %d must be pinned by its loader", i)
		}
		if s.resident && s.load == nil {
			idx, ok := c.index.get(s.id)
			require.True(t, ok, "resident page %s missing from index", s.id)
			require.Equal(t, i, idx)
		}
		if !s.resident {
			require.False(t, s.dirty, "empty slot %d is dirty", i)
		}
	}
	require.Equal(t, free, c.replacer.Len())
	for id, idx := range c.index.slots {
		s := &c.slots[idx]
		switch {
		case s.load != nil:
			require.True(t, id == s.load.id || (s.load.hasOld && id == s.load.old), "index entry %s points at slot %d loading %s", id, idx, s.load.id)
		default:
			require.True(t, s.resident, "index entry %s points at empty slot %d", id, idx)
			require.Equal(t, id, s.id)
		}
	}
}

func isMapped(c *Cache, id pagemanager.PageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index.get(id)
	return ok
}
