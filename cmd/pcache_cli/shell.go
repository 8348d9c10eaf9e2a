package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	flushmanager "github.com/sushant-115/gojodb-pcache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	"github.com/sushant-115/gojodb-pcache/core/write_engine/pcache"
)

// shell runs commands against one cache. Pins taken by "fetch" are held
// across commands until "release", so pinning behavior can be explored by hand.
type shell struct {
	cache  *pcache.Cache
	file   pagemanager.FileID
	out    io.Writer
	pinned map[pagemanager.Pgno][]*pcache.PinnedPage
	closed bool
}

func newShell(cache *pcache.Cache, file pagemanager.FileID, out io.Writer) *shell {
	return &shell{
		cache:  cache,
		file:   file,
		out:    out,
		pinned: make(map[pagemanager.Pgno][]*pcache.PinnedPage),
	}
}

var errQuit = errors.New("quit")

// processCommand handles a single command line. It returns errQuit on exit.
func (s *shell) processCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return nil
	}
	command := strings.ToLower(args[0])
	switch command {
	case "fetch":
		if len(args) < 2 {
			return errors.New("fetch requires <pgno> [new]")
		}
		pgno, err := parsePgno(args[1])
		if err != nil {
			return err
		}
		allocateNew := len(args) > 2 && strings.EqualFold(args[2], "new")
		p, err := s.cache.Fetch(ctx, s.pageID(pgno), allocateNew)
		if err != nil {
			return err
		}
		s.pinned[pgno] = append(s.pinned[pgno], p)
		fmt.Fprintf(s.out, "Pinned page %d (held: %d)\n", pgno, len(s.pinned[pgno]))
	case "write":
		if len(args) < 3 {
			return errors.New("write requires <pgno> <text>")
		}
		pgno, err := parsePgno(args[1])
		if err != nil {
			return err
		}
		p, err := s.held(pgno)
		if err != nil {
			return err
		}
		text := strings.Join(args[2:], " ")
		p.Lock()
		body := p.Body()
		clear(body)
		n := copy(body, text)
		p.Unlock()
		if err := p.MarkDirty(); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Wrote %d bytes to page %d\n", n, pgno)
	case "show":
		if len(args) < 2 {
			return errors.New("show requires <pgno>")
		}
		pgno, err := parsePgno(args[1])
		if err != nil {
			return err
		}
		return s.cache.With(ctx, s.pageID(pgno), false, func(p *pcache.PinnedPage) (bool, error) {
			p.RLock()
			defer p.RUnlock()
			h, err := pagemanager.DecodeHeader(p.Data())
			if err != nil {
				return false, err
			}
			body := p.Body()
			if i := bytes.IndexByte(body, 0); i >= 0 {
				body = body[:i]
			}
			fmt.Fprintf(s.out, "Page %d: version=%d size=%d checksum=0x%08x\n", pgno, h.FormatVersion, h.PageSize, h.Checksum)
			if len(body) == 0 {
				fmt.Fprintln(s.out, "  (empty)")
			} else {
				fmt.Fprintf(s.out, "  %q\n", body)
				fmt.Fprint(s.out, hex.Dump(body[:min(len(body), 64)]))
			}
			return false, nil
		})
	case "release":
		if len(args) < 2 {
			return errors.New("release requires <pgno> [dirty]")
		}
		pgno, err := parsePgno(args[1])
		if err != nil {
			return err
		}
		p, err := s.held(pgno)
		if err != nil {
			return err
		}
		dirty := len(args) > 2 && strings.EqualFold(args[2], "dirty")
		if err := p.Release(dirty); err != nil {
			return err
		}
		held := s.pinned[pgno]
		s.pinned[pgno] = held[:len(held)-1]
		if len(s.pinned[pgno]) == 0 {
			delete(s.pinned, pgno)
		}
		fmt.Fprintf(s.out, "Released page %d\n", pgno)
	case "flush":
		if len(args) < 2 {
			if err := s.cache.FlushAll(ctx); err != nil {
				return err
			}
			fmt.Fprintln(s.out, "Flushed all dirty pages")
			return nil
		}
		pgno, err := parsePgno(args[1])
		if err != nil {
			return err
		}
		if err := s.cache.FlushPage(ctx, s.pageID(pgno)); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Flushed page %d\n", pgno)
	case "discard":
		if len(args) < 2 {
			return errors.New("discard requires <pgno>")
		}
		pgno, err := parsePgno(args[1])
		if err != nil {
			return err
		}
		if err := s.cache.Discard(s.pageID(pgno)); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Discarded page %d\n", pgno)
	case "snapshot":
		if len(args) < 2 {
			return errors.New("snapshot requires <dir> [bytes/sec]")
		}
		var limit int64
		if len(args) > 2 {
			n, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid rate %q", args[2])
			}
			limit = n
		}
		snap, ok := flushmanager.AsSnapshotter(s.cache.Store())
		if !ok {
			return errors.New("store does not support snapshots")
		}
		if err := s.cache.FlushAll(ctx); err != nil {
			return err
		}
		info, err := snap.Snapshot(ctx, args[1], limit)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Snapshot of %d files (%d bytes) written to %s in %s\n", info.Files, info.Bytes, args[1], info.Elapsed)
	case "stats":
		fmt.Fprintln(s.out, s.cache.Stats())
	case "close":
		if err := s.cache.Close(ctx); err != nil {
			return err
		}
		s.closed = true
		fmt.Fprintln(s.out, "Cache closed")
	case "help":
		fmt.Fprintln(s.out, "Commands:")
		fmt.Fprintln(s.out, "  fetch <pgno> [new]       pin a page, allocating it if 'new'")
		fmt.Fprintln(s.out, "  write <pgno> <text>      overwrite a pinned page body")
		fmt.Fprintln(s.out, "  show <pgno>              print a page")
		fmt.Fprintln(s.out, "  release <pgno> [dirty]   drop one pin")
		fmt.Fprintln(s.out, "  flush [pgno]             write back one or all dirty pages")
		fmt.Fprintln(s.out, "  discard <pgno>           drop an unpinned page without writing it")
		fmt.Fprintln(s.out, "  snapshot <dir> [rate]    flush, then copy the page files (file store only)")
		fmt.Fprintln(s.out, "  stats")
		fmt.Fprintln(s.out, "  close")
		fmt.Fprintln(s.out, "  help")
		fmt.Fprintln(s.out, "  exit / quit")
	case "exit", "quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type 'help' for a list of commands", command)
	}
	return nil
}

// shutdown releases every held pin and closes the cache if still open.
func (s *shell) shutdown(ctx context.Context) error {
	for pgno, held := range s.pinned {
		for _, p := range held {
			if err := p.Release(false); err != nil {
				return err
			}
		}
		delete(s.pinned, pgno)
	}
	if s.closed {
		return nil
	}
	s.closed = true
	return s.cache.Close(ctx)
}

func (s *shell) pageID(pgno pagemanager.Pgno) pagemanager.PageID {
	return pagemanager.PageID{File: s.file, Pgno: pgno}
}

func (s *shell) held(pgno pagemanager.Pgno) (*pcache.PinnedPage, error) {
	held := s.pinned[pgno]
	if len(held) == 0 {
		return nil, fmt.Errorf("page %d is not pinned, fetch it first", pgno)
	}
	return held[len(held)-1], nil
}

func parsePgno(s string) (pagemanager.Pgno, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == uint64(pagemanager.InvalidPgno) {
		return 0, fmt.Errorf("invalid page number %q", s)
	}
	return pagemanager.Pgno(n), nil
}
