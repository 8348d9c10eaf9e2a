package pcache

import (
	"context"
	"errors"

	flushmanager "github.com/sushant-115/gojodb-pcache/core/write_engine/flush_manager"
)

// --- Error Definitions ---

var (
	ErrInvalidConfig   = errors.New("invalid page cache configuration")
	ErrInvalidPageID   = errors.New("invalid page id")
	ErrPoolExhausted   = errors.New("page cache is full and every slot is pinned")
	ErrIO              = flushmanager.ErrIO
	ErrCorruptPage     = errors.New("corrupt page")
	ErrBusy            = errors.New("page cache has pinned pages")
	ErrAlreadyClosed   = errors.New("page cache already closed")
	ErrClosed          = errors.New("page cache is closed")
	ErrDoubleRelease   = errors.New("page released twice or through a stale handle")
	ErrPageNotResident = errors.New("page not resident in cache")
	ErrPagePinned      = errors.New("page is pinned")
)

// IsRetryable reports whether a failed fetch may succeed if simply tried again
// later: the pool was exhausted, or the caller's context ran out. Corrupt pages
// and I/O errors are not retryable without outside help.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
