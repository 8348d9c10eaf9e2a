package flushmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// --- DiskManager ---

// DataFileExt is the extension of the per-file page files under the data directory.
const DataFileExt = ".pg"

// DiskManager stores each FileID in its own file under dir. Page n of a file
// lives at offset n*pageSize.
type DiskManager struct {
	dir      string
	pageSize int
	logger   *zap.Logger

	mu     sync.Mutex
	files  map[pagemanager.FileID]*os.File
	closed bool
}

// NewDiskManager creates dir if needed. Files are opened lazily on first access.
func NewDiskManager(dir string, pageSize int, logger *zap.Logger) (*DiskManager, error) {
	if pageSize <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", pageSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating data dir %s: %v", ErrIO, dir, err)
	}
	return &DiskManager{
		dir:      dir,
		pageSize: pageSize,
		logger:   logger.Named("disk_manager"),
		files:    make(map[pagemanager.FileID]*os.File),
	}, nil
}

// GetPageSize returns the page size the manager was created with.
func (dm *DiskManager) GetPageSize() int { return dm.pageSize }

// FilePath returns the on-disk path backing a file id.
func (dm *DiskManager) FilePath(f pagemanager.FileID) string {
	return filepath.Join(dm.dir, f.String()+DataFileExt)
}

// file returns the open handle for f, opening or creating it.
// This method MUST be called with dm.mu locked.
func (dm *DiskManager) file(f pagemanager.FileID) (*os.File, error) {
	if dm.closed {
		return nil, ErrStoreClosed
	}
	if fh, ok := dm.files[f]; ok {
		return fh, nil
	}
	path := dm.FilePath(f)
	fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, path, err)
	}
	dm.files[f] = fh
	dm.logger.Debug("Opened page file", zap.String("path", path))
	return fh, nil
}

func (dm *DiskManager) handle(f pagemanager.FileID) (*os.File, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.file(f)
}

// ReadPage reads a page's data from disk into buf. Reading past the end of the
// file reports ErrPageNotFound.
func (dm *DiskManager) ReadPage(ctx context.Context, id pagemanager.PageID, buf []byte) error {
	if len(buf) != dm.pageSize {
		return fmt.Errorf("%w: %d != %d", ErrShortBuffer, len(buf), dm.pageSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fh, err := dm.handle(id.File)
	if err != nil {
		return err
	}
	offset := int64(id.Pgno) * int64(dm.pageSize)
	n, err := fh.ReadAt(buf, offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %w: page %s at offset %d (read %d bytes)", ErrIO, ErrPageNotFound, id, offset, n)
		}
		return fmt.Errorf("%w: reading page %s at offset %d: %v", ErrIO, id, offset, err)
	}
	return nil
}

// WritePage writes buf at the page's offset, extending the file as needed.
// It does not sync; Sync does.
func (dm *DiskManager) WritePage(ctx context.Context, id pagemanager.PageID, buf []byte) error {
	if len(buf) != dm.pageSize {
		return fmt.Errorf("%w: %d != %d", ErrShortBuffer, len(buf), dm.pageSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	fh, err := dm.handle(id.File)
	if err != nil {
		return err
	}
	offset := int64(id.Pgno) * int64(dm.pageSize)
	if _, err := fh.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("%w: writing page %s at offset %d: %v", ErrIO, id, offset, err)
	}
	return nil
}

// NumPages returns the number of whole pages currently in the file for f.
func (dm *DiskManager) NumPages(f pagemanager.FileID) (uint64, error) {
	fh, err := dm.handle(f)
	if err != nil {
		return 0, err
	}
	fi, err := fh.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: getting file info: %v", ErrIO, err)
	}
	return uint64(fi.Size()) / uint64(dm.pageSize), nil
}

// Sync flushes all open files to stable storage.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	var firstErr error
	for f, fh := range dm.files {
		if err := fh.Sync(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: syncing file %s: %v", ErrIO, f, err)
		}
	}
	return firstErr
}

// Close syncs and closes every open file. Further I/O returns ErrStoreClosed.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.closed {
		return nil
	}
	dm.closed = true
	var firstErr error
	for f, fh := range dm.files {
		if err := fh.Sync(); err != nil {
			dm.logger.Error("Error syncing file on close", zap.Stringer("file", f), zap.Error(err))
		}
		if err := fh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	dm.files = nil
	return firstErr
}
