package pagemanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageID_BinaryRoundTrip(t *testing.T) {
	id := PageID{File: NewFileID(), Pgno: 0xdeadbeef}

	b := id.AppendBinary(nil)
	require.Len(t, b, PageIDSize)

	got, err := PageIDFromBinary(b)
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = PageIDFromBinary(b[:10])
	require.Error(t, err)
}

func TestPageID_MapKey(t *testing.T) {
	f := NewFileID()
	m := map[PageID]int{{File: f, Pgno: 1}: 1}

	require.Contains(t, m, PageID{File: f, Pgno: 1})
	require.NotContains(t, m, PageID{File: f, Pgno: 2})
	require.NotContains(t, m, PageID{File: NewFileID(), Pgno: 1})
}

func TestParseFileID(t *testing.T) {
	f := NewFileID()
	parsed, err := ParseFileID(f.String())
	require.NoError(t, err)
	require.Equal(t, f, parsed)

	_, err = ParseFileID("not-a-uuid")
	require.Error(t, err)

	require.False(t, PageID{File: f}.IsValid())
	require.True(t, PageID{File: f, Pgno: 3}.IsValid())
}

func TestFileIDFromName(t *testing.T) {
	require.Equal(t, FileIDFromName("main"), FileIDFromName("main"))
	require.NotEqual(t, FileIDFromName("main"), FileIDFromName("index"))
}
