// Package flushmanager holds the disk side of the page cache: the PageStore
// contract the cache reads through and writes back to, and its implementations.
package flushmanager

import (
	"context"

	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
)

// PageStore loads and persists whole pages. buf is always exactly one page
// long. Implementations must be safe for concurrent use; the cache calls them
// without holding its own lock.
type PageStore interface {
	ReadPage(ctx context.Context, id pagemanager.PageID, buf []byte) error
	WritePage(ctx context.Context, id pagemanager.PageID, buf []byte) error
}

// Syncer is implemented by stores that buffer writes.
type Syncer interface {
	Sync() error
}

// Sync flushes store if it buffers writes.
func Sync(store PageStore) error {
	if s, ok := store.(Syncer); ok {
		return s.Sync()
	}
	return nil
}
