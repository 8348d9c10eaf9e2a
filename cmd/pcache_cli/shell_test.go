package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	flushmanager "github.com/sushant-115/gojodb-pcache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	"github.com/sushant-115/gojodb-pcache/core/write_engine/pcache"
	"go.uber.org/zap/zaptest"
)

func newTestShell(t *testing.T, store flushmanager.PageStore) (*shell, *bytes.Buffer) {
	t.Helper()
	c, err := pcache.Open(512, 2, 0, store, pcache.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	out := &bytes.Buffer{}
	return newShell(c, pagemanager.FileIDFromName("test"), out), out
}

func execLine(t *testing.T, sh *shell, line string) error {
	t.Helper()
	return sh.processCommand(context.Background(), strings.Fields(line))
}

func TestShell_WriteFlushShow(t *testing.T) {
	store := flushmanager.NewMemStore(512)
	sh, out := newTestShell(t, store)

	require.NoError(t, execLine(t, sh, "fetch 3 new"))
	require.NoError(t, execLine(t, sh, "write 3 hello page cache"))
	require.NoError(t, execLine(t, sh, "release 3"))
	require.NoError(t, execLine(t, sh, "flush 3"))
	require.EqualValues(t, 1, store.Writes())

	out.Reset()
	require.NoError(t, execLine(t, sh, "show 3"))
	require.Contains(t, out.String(), `"hello page cache"`)
	require.Contains(t, out.String(), "version=1 size=512")

	out.Reset()
	require.NoError(t, execLine(t, sh, "stats"))
	require.Contains(t, out.String(), "Resident: 1")
	require.NoError(t, sh.shutdown(context.Background()))
}

func TestShell_PinsAreHeldAcrossCommands(t *testing.T) {
	sh, _ := newTestShell(t, flushmanager.NewMemStore(512))

	require.NoError(t, execLine(t, sh, "fetch 1 new"))
	require.NoError(t, execLine(t, sh, "fetch 2 new"))
	require.ErrorIs(t, execLine(t, sh, "fetch 3 new"), pcache.ErrPoolExhausted)
	require.ErrorIs(t, execLine(t, sh, "discard 1"), pcache.ErrPagePinned)
	require.ErrorIs(t, execLine(t, sh, "close"), pcache.ErrBusy)

	require.NoError(t, execLine(t, sh, "release 1 dirty"))
	require.NoError(t, execLine(t, sh, "discard 1"))
	require.Error(t, execLine(t, sh, "release 1"))

	// shutdown drops the remaining pin before closing.
	require.NoError(t, sh.shutdown(context.Background()))
	require.ErrorIs(t, execLine(t, sh, "fetch 1"), pcache.ErrClosed)
}

func TestShell_Snapshot(t *testing.T) {
	dm, err := flushmanager.NewDiskManager(t.TempDir(), 512, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer dm.Close()
	sh, out := newTestShell(t, dm)

	require.NoError(t, execLine(t, sh, "fetch 1 new"))
	require.NoError(t, execLine(t, sh, "write 1 snapshotted"))
	require.NoError(t, execLine(t, sh, "release 1"))

	dst := filepath.Join(t.TempDir(), "backup")
	require.NoError(t, execLine(t, sh, "snapshot "+dst))
	require.Contains(t, out.String(), "Snapshot of 1 files")

	copied, err := flushmanager.NewDiskManager(dst, 512, nil)
	require.NoError(t, err)
	defer copied.Close()
	buf := make([]byte, 512)
	require.NoError(t, copied.ReadPage(context.Background(), sh.pageID(1), buf))
	require.NoError(t, pagemanager.Validate(buf, pagemanager.DefaultFormatVersion))
	require.NoError(t, sh.shutdown(context.Background()))

	mem, _ := newTestShell(t, flushmanager.NewMemStore(512))
	require.Error(t, execLine(t, mem, "snapshot "+dst))
}

func TestShell_BadInput(t *testing.T) {
	sh, out := newTestShell(t, flushmanager.NewMemStore(512))
	require.Error(t, execLine(t, sh, "fetch"))
	require.Error(t, execLine(t, sh, "fetch 0"))
	require.Error(t, execLine(t, sh, "fetch x"))
	require.Error(t, execLine(t, sh, "write 1 text"))
	require.Error(t, execLine(t, sh, "frobnicate"))
	require.ErrorIs(t, execLine(t, sh, "exit"), errQuit)
	require.NoError(t, execLine(t, sh, ""))

	require.NoError(t, execLine(t, sh, "help"))
	require.Contains(t, out.String(), "fetch <pgno> [new]")
}
