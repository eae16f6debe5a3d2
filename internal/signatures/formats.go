package signatures

import (
	"bytes"
	"encoding/binary"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

// Magic is a byte pattern expected at a fixed offset from a match start
type Magic struct {
	Offset int
	Value  []byte
}

// Footer describes the end marker of a header/footer format
type Footer struct {
	Value []byte
	// Trailer returns how many bytes past the start of the footer belong to
	// the file. It may inspect the bytes following the footer.
	Trailer func(b []byte) (int, bool)
	// Need is the number of bytes Trailer inspects, counted from the footer start.
	Need int
}

// Pairing decides which open header a footer closes
type Pairing int

const (
	// PairInnermost closes the most recent open header, so nested files
	// such as embedded thumbnails are carved on their own.
	PairInnermost Pairing = iota
	// PairOutermost closes the oldest open header and absorbs the headers
	// opened after it, for containers that repeat their header per member.
	PairOutermost
)

// Format is one carvable file format
type Format struct {
	ID        string
	Extension string
	FileType  types.FileType
	// Magics must all match for a header to be reported.
	Magics []Magic
	// Size decodes the total file length from the header bytes. Formats with
	// a Size function are self-delimited.
	Size func(b []byte) (uint64, bool)
	// Need is the number of bytes from the header start required by Magics and Size.
	Need   int
	Footer *Footer
	// MinSize rejects implausibly small files.
	MinSize uint64
	Pairing Pairing
}

// SelfDelimited reports whether the header alone fixes the file length
func (f *Format) SelfDelimited() bool {
	return f.Size != nil
}

func (f *Format) matchesAt(b []byte) bool {
	for _, m := range f.Magics {
		if m.Offset+len(m.Value) > len(b) || !bytes.Equal(b[m.Offset:m.Offset+len(m.Value)], m.Value) {
			return false
		}
	}
	return true
}

func fixedTrailer(n int) func([]byte) (int, bool) {
	return func([]byte) (int, bool) { return n, true }
}

// DefaultFormats returns the built-in format table
func DefaultFormats() []*Format {
	return []*Format{
		{
			ID: "jpeg", Extension: "jpg", FileType: types.FileTypePhoto,
			Magics:  []Magic{{0, []byte{0xFF, 0xD8, 0xFF}}},
			Need:    4,
			Footer:  &Footer{Value: []byte{0xFF, 0xD9}, Trailer: fixedTrailer(2), Need: 2},
			MinSize: 128,
		},
		{
			ID: "png", Extension: "png", FileType: types.FileTypePhoto,
			Magics:  []Magic{{0, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}}},
			Need:    16,
			Footer:  &Footer{Value: []byte("IEND"), Trailer: fixedTrailer(8), Need: 8},
			MinSize: 57,
		},
		{
			ID: "gif", Extension: "gif", FileType: types.FileTypePhoto,
			Magics: []Magic{{0, []byte("GIF8")}},
			Need:   13,
			Footer: &Footer{Value: []byte{0x00, 0x3B}, Trailer: fixedTrailer(2), Need: 2},
			// header, logical screen descriptor, trailer
			MinSize: 14,
		},
		{
			ID: "pdf", Extension: "pdf", FileType: types.FileTypeDocument,
			Magics:  []Magic{{0, []byte("%PDF-")}},
			Need:    8,
			Footer:  &Footer{Value: []byte("%%EOF"), Trailer: fixedTrailer(5), Need: 5},
			MinSize: 64,
		},
		{
			ID: "zip", Extension: "zip", FileType: types.FileTypeArchive,
			Magics: []Magic{{0, []byte{'P', 'K', 0x03, 0x04}}},
			Need:   30,
			Footer: &Footer{
				Value: []byte{'P', 'K', 0x05, 0x06},
				Need:  22,
				Trailer: func(b []byte) (int, bool) {
					if len(b) < 22 {
						return 0, false
					}
					return 22 + int(binary.LittleEndian.Uint16(b[20:22])), true
				},
			},
			MinSize: 22 + 30,
			Pairing: PairOutermost,
		},
		{
			ID: "bmp", Extension: "bmp", FileType: types.FileTypePhoto,
			Magics: []Magic{{0, []byte("BM")}, {6, []byte{0, 0, 0, 0}}},
			Need:   18,
			Size:   bmpSize,
		},
		{
			ID: "wav", Extension: "wav", FileType: types.FileTypeAudio,
			Magics: []Magic{{0, []byte("RIFF")}, {8, []byte("WAVE")}},
			Need:   12,
			Size:   riffSize,
		},
		{
			ID: "avi", Extension: "avi", FileType: types.FileTypeVideo,
			Magics: []Magic{{0, []byte("RIFF")}, {8, []byte("AVI ")}},
			Need:   12,
			Size:   riffSize,
		},
		{
			ID: "aiff", Extension: "aiff", FileType: types.FileTypeAudio,
			Magics: []Magic{{0, []byte("FORM")}, {8, []byte("AIF")}},
			Need:   12,
			Size:   aiffSize,
		},
		{
			ID: "7z", Extension: "7z", FileType: types.FileTypeArchive,
			Magics: []Magic{{0, []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}}},
			Need:   32,
			Size:   sevenZipSize,
		},
		{
			ID: "sqlite", Extension: "sqlite", FileType: types.FileTypeDatabase,
			Magics: []Magic{{0, []byte("SQLite format 3\x00")}},
			Need:   32,
			Size:   sqliteSize,
		},
	}
}

func bmpSize(b []byte) (uint64, bool) {
	size := uint64(binary.LittleEndian.Uint32(b[2:6]))
	dataOffset := uint64(binary.LittleEndian.Uint32(b[10:14]))
	dibSize := binary.LittleEndian.Uint32(b[14:18])
	switch dibSize {
	case 12, 40, 52, 56, 64, 108, 124:
	default:
		return 0, false
	}
	if size < 26 || dataOffset < 14+uint64(dibSize) || dataOffset > size {
		return 0, false
	}
	return size, true
}

func riffSize(b []byte) (uint64, bool) {
	size := uint64(binary.LittleEndian.Uint32(b[4:8]))
	if size < 4 {
		return 0, false
	}
	return size + 8, true
}

func aiffSize(b []byte) (uint64, bool) {
	if b[11] != 'F' && b[11] != 'C' {
		return 0, false
	}
	size := uint64(binary.BigEndian.Uint32(b[4:8]))
	if size < 4 {
		return 0, false
	}
	return size + 8, true
}

func sevenZipSize(b []byte) (uint64, bool) {
	nextOffset := binary.LittleEndian.Uint64(b[12:20])
	nextSize := binary.LittleEndian.Uint64(b[20:28])
	if nextSize == 0 || nextOffset > 1<<48 || nextSize > 1<<32 {
		return 0, false
	}
	return 32 + nextOffset + nextSize, true
}

func sqliteSize(b []byte) (uint64, bool) {
	pageSize := uint64(binary.BigEndian.Uint16(b[16:18]))
	if pageSize == 1 {
		pageSize = 65536
	}
	if pageSize < 512 || pageSize&(pageSize-1) != 0 {
		return 0, false
	}
	pages := uint64(binary.BigEndian.Uint32(b[28:32]))
	if pages == 0 {
		return 0, false
	}
	return pageSize * pages, true
}
