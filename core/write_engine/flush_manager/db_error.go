package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrIO           = errors.New("i/o error")
	ErrPageNotFound = errors.New("page not found in store")
	ErrShortBuffer  = errors.New("page buffer size does not match store page size")
	ErrStoreClosed  = errors.New("page store is closed")
)
