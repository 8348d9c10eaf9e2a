package pagemanager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// --- Page Header ---

// HeaderSize is the size of the fixed header at the start of every page.
//
//	[0..2)  format version (u16, little-endian)
//	[2..4)  page size      (u16)
//	[4..8)  checksum       (u32) over [8..pageSize)
const HeaderSize = 8

// Format versions. A version fixes the checksum algorithm for the whole database.
const (
	FormatCRC32C uint16 = 1
	FormatXXHash uint16 = 2
	FormatBLAKE3 uint16 = 3

	DefaultFormatVersion = FormatCRC32C
)

var (
	ErrUnknownFormat    = errors.New("unknown page format version")
	ErrFormatMismatch   = errors.New("page format version mismatch")
	ErrPageSizeMismatch = errors.New("page size mismatch")
	ErrChecksumMismatch = errors.New("page checksum mismatch, data corruption suspected")
	ErrShortPage        = errors.New("page buffer shorter than header")
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ChecksumFunc computes the stored checksum of a page body.
type ChecksumFunc func(body []byte) uint32

var checksums = map[uint16]ChecksumFunc{
	FormatCRC32C: func(body []byte) uint32 { return crc32.Checksum(body, castagnoli) },
	FormatXXHash: func(body []byte) uint32 { return uint32(xxhash.Sum64(body)) },
	FormatBLAKE3: func(body []byte) uint32 {
		sum := blake3.Sum256(body)
		return binary.LittleEndian.Uint32(sum[:4])
	},
}

// ChecksumFor returns the checksum algorithm designated by a format version.
func ChecksumFor(version uint16) (ChecksumFunc, error) {
	fn, ok := checksums[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, version)
	}
	return fn, nil
}

// PageHeader is the decoded form of the first HeaderSize bytes of a page.
type PageHeader struct {
	FormatVersion uint16
	PageSize      uint16
	Checksum      uint32
}

// DecodeHeader reads the header from the start of page.
func DecodeHeader(page []byte) (PageHeader, error) {
	if len(page) < HeaderSize {
		return PageHeader{}, ErrShortPage
	}
	return PageHeader{
		FormatVersion: binary.LittleEndian.Uint16(page[0:2]),
		PageSize:      binary.LittleEndian.Uint16(page[2:4]),
		Checksum:      binary.LittleEndian.Uint32(page[4:8]),
	}, nil
}

// Encode writes h into the start of page.
func (h PageHeader) Encode(page []byte) {
	binary.LittleEndian.PutUint16(page[0:2], h.FormatVersion)
	binary.LittleEndian.PutUint16(page[2:4], h.PageSize)
	binary.LittleEndian.PutUint32(page[4:8], h.Checksum)
}

// Seal recomputes the header of page for the given format version. It is
// called on every write-back so the stored checksum matches the body.
func Seal(page []byte, version uint16) error {
	if len(page) <= HeaderSize {
		return ErrShortPage
	}
	sum, err := ChecksumFor(version)
	if err != nil {
		return err
	}
	PageHeader{
		FormatVersion: version,
		PageSize:      uint16(len(page)),
		Checksum:      sum(page[HeaderSize:]),
	}.Encode(page)
	return nil
}

// Validate checks a page loaded from disk against the expected format version
// and its own length. Any mismatch is corruption, never a soft failure.
func Validate(page []byte, version uint16) error {
	h, err := DecodeHeader(page)
	if err != nil {
		return err
	}
	if h.FormatVersion != version {
		return fmt.Errorf("%w: stored %d, expected %d", ErrFormatMismatch, h.FormatVersion, version)
	}
	if int(h.PageSize) != len(page) {
		return fmt.Errorf("%w: stored %d, expected %d", ErrPageSizeMismatch, h.PageSize, len(page))
	}
	sum, err := ChecksumFor(version)
	if err != nil {
		return err
	}
	if got := sum(page[HeaderSize:]); got != h.Checksum {
		return fmt.Errorf("%w: stored 0x%08x, computed 0x%08x", ErrChecksumMismatch, h.Checksum, got)
	}
	return nil
}
