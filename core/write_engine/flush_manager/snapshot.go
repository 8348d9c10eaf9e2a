package flushmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"go.uber.org/zap"
)

const copyChunkSize = 1 << 20

var copyBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, copyChunkSize)
		return &b
	},
}

// Snapshotter is implemented by stores that can copy themselves elsewhere.
type Snapshotter interface {
	Snapshot(ctx context.Context, dstDir string, bytesPerSec int64) (SnapshotInfo, error)
}

type SnapshotInfo struct {
	Files   int
	Bytes   int64
	Elapsed time.Duration
}

// AsSnapshotter finds a Snapshotter in store or the stores it wraps.
func AsSnapshotter(store PageStore) (Snapshotter, bool) {
	for store != nil {
		if s, ok := store.(Snapshotter); ok {
			return s, true
		}
		u, ok := store.(interface{ Unwrap() PageStore })
		if !ok {
			return nil, false
		}
		store = u.Unwrap()
	}
	return nil, false
}

// Snapshot copies every page file into dstDir, throttled to bytesPerSec
// (<= 0 for unlimited) so a backup does not starve foreground I/O. The copy is
// only consistent if nothing writes to the manager meanwhile; flush the cache
// first and hold off writers.
func (dm *DiskManager) Snapshot(ctx context.Context, dstDir string, bytesPerSec int64) (SnapshotInfo, error) {
	start := time.Now()
	if err := dm.Sync(); err != nil {
		return SnapshotInfo{}, err
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return SnapshotInfo{}, fmt.Errorf("%w: creating snapshot dir %s: %v", ErrIO, dstDir, err)
	}
	files, err := filepath.Glob(filepath.Join(dm.dir, "*"+DataFileExt))
	if err != nil {
		return SnapshotInfo{}, err
	}

	limiter := rate.NewLimiter(rate.Inf, copyChunkSize)
	if bytesPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(bytesPerSec), copyChunkSize)
	}
	info := SnapshotInfo{}
	for _, src := range files {
		n, err := copyThrottled(ctx, src, filepath.Join(dstDir, filepath.Base(src)), limiter)
		info.Bytes += n
		if err != nil {
			return info, err
		}
		info.Files++
	}
	info.Elapsed = time.Since(start)
	dm.logger.Info("Snapshot written",
		zap.String("dir", dstDir),
		zap.Int("files", info.Files),
		zap.Int64("bytes", info.Bytes),
		zap.Duration("elapsed", info.Elapsed))
	return info, nil
}

func copyThrottled(ctx context.Context, srcPath, dstPath string, limiter *rate.Limiter) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("%w: open src: %v", ErrIO, err)
	}
	defer src.Close()
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: open dst: %v", ErrIO, err)
	}
	defer dst.Close()

	bp := copyBufPool.Get().(*[]byte)
	defer copyBufPool.Put(bp)
	buf := *bp

	var off int64
	for {
		n, rerr := src.ReadAt(buf, off)
		if n > 0 {
			if err := limiter.WaitN(ctx, n); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return off, ctxErr
				}
				return off, fmt.Errorf("rate limiter error: %w", err)
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return off, fmt.Errorf("%w: write %s: %v", ErrIO, dstPath, err)
			}
			off += int64(n)
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return off, fmt.Errorf("%w: read %s: %v", ErrIO, srcPath, rerr)
		}
	}
	if err := dst.Sync(); err != nil {
		return off, fmt.Errorf("%w: sync %s: %v", ErrIO, dstPath, err)
	}
	return off, nil
}
