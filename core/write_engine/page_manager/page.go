package pagemanager

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// --- Page Identity ---

// InvalidPgno is reserved for the database file header and never names a data page.
const InvalidPgno Pgno = 0

// Pgno is the page number of a page inside its file.
type Pgno uint64

// FileID identifies one paged file of a database instance.
type FileID uuid.UUID

// NewFileID returns a random file id.
func NewFileID() FileID { return FileID(uuid.New()) }

// ParseFileID parses the textual uuid form of a file id.
func ParseFileID(s string) (FileID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return FileID{}, fmt.Errorf("invalid file id %q: %w", s, err)
	}
	return FileID(u), nil
}

// fileNamespace scopes name-derived file ids to this project.
var fileNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/sushant-115/gojodb-pcache/file"))

// FileIDFromName derives a stable file id from a human name, so tools can
// reopen the same file across runs without remembering a uuid.
func FileIDFromName(name string) FileID {
	return FileID(uuid.NewSHA1(fileNamespace, []byte(name)))
}

func (f FileID) String() string { return uuid.UUID(f).String() }

// PageID represents a unique identifier for a page on disk: the file it lives
// in and its page number within that file. It is comparable and used as a map key.
type PageID struct {
	File FileID
	Pgno Pgno
}

// PageIDSize is the length of the binary form produced by AppendBinary.
const PageIDSize = 16 + 8

func (id PageID) String() string {
	return fmt.Sprintf("%s/%d", id.File, id.Pgno)
}

// IsValid reports whether id names a data page.
func (id PageID) IsValid() bool { return id.Pgno != InvalidPgno }

// AppendBinary appends the file id followed by the big-endian page number, so
// ids of one file sort by page number.
func (id PageID) AppendBinary(b []byte) []byte {
	b = append(b, id.File[:]...)
	return binary.BigEndian.AppendUint64(b, uint64(id.Pgno))
}

// PageIDFromBinary decodes the AppendBinary form.
func PageIDFromBinary(b []byte) (PageID, error) {
	if len(b) != PageIDSize {
		return PageID{}, fmt.Errorf("page id must be %d bytes, got %d", PageIDSize, len(b))
	}
	var id PageID
	copy(id.File[:], b[:16])
	id.Pgno = Pgno(binary.BigEndian.Uint64(b[16:]))
	return id, nil
}
