package partition

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/types"
	"github.com/go-restruct/restruct"
)

const (
	mbrTableOffset = 446
	mbrEntrySize   = 16
	mbrEntries     = 4

	// logical partitions are numbered after the four primary slots
	firstLogicalIndex = 4
	maxLogical        = 128
)

var defaultEncoding = binary.LittleEndian

// MBR partition type codes with special handling
const (
	TypeEmpty         uint8 = 0x00
	TypeExtendedCHS   uint8 = 0x05
	TypeExtendedLBA   uint8 = 0x0F
	TypeLinuxExtended uint8 = 0x85
	TypeGPTProtective uint8 = 0xEE
)

// MBRTypes names the common MBR partition type codes
var MBRTypes = map[uint8]string{
	0x01: "FAT12",
	0x04: "FAT16 <32M",
	0x05: "Extended",
	0x06: "FAT16",
	0x07: "HPFS/NTFS/exFAT",
	0x0B: "W95 FAT32",
	0x0C: "W95 FAT32 (LBA)",
	0x0E: "W95 FAT16 (LBA)",
	0x0F: "W95 Extended (LBA)",
	0x17: "Hidden HPFS/NTFS",
	0x27: "Hidden NTFS WinRE",
	0x82: "Linux swap",
	0x83: "Linux",
	0x85: "Linux extended",
	0xAF: "HFS/HFS+",
	0xEE: "GPT protective",
	0xEF: "EFI System",
}

// errNoEntries is returned for a sector whose table holds no usable entry
var errNoEntries = errors.New("partition table has no usable entries")

// mbrEntry is one 16 byte slot of an MBR or EBR partition table
type mbrEntry struct {
	Status   uint8
	StartCHS [3]byte
	Type     uint8
	EndCHS   [3]byte
	StartLBA uint32
	Sectors  uint32
}

func (e mbrEntry) isExtended() bool {
	return e.Type == TypeExtendedCHS || e.Type == TypeExtendedLBA || e.Type == TypeLinuxExtended
}

// mbrTypeName describes a type code
func mbrTypeName(code uint8) string {
	if name, ok := MBRTypes[code]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", code)
}

// mbrFileSystem is the filesystem a type code implies, if any
func mbrFileSystem(code uint8) types.FileSystemType {
	switch code {
	case 0x01:
		return types.FileSystemFAT12
	case 0x04, 0x06, 0x0E:
		return types.FileSystemFAT16
	case 0x0B, 0x0C:
		return types.FileSystemFAT32
	}
	return types.FileSystemUnknown
}

// parseMBREntries decodes and validates the four slots of a table sector
func parseMBREntries(sector []byte) ([mbrEntries]mbrEntry, error) {
	var entries [mbrEntries]mbrEntry
	if len(sector) < 512 {
		return entries, fmt.Errorf("table sector too short: %d bytes", len(sector))
	}
	if sector[510] != 0x55 || sector[511] != 0xAA {
		return entries, fmt.Errorf("missing table signature")
	}
	for i := range entries {
		raw := sector[mbrTableOffset+i*mbrEntrySize : mbrTableOffset+(i+1)*mbrEntrySize]
		if err := restruct.Unpack(raw, defaultEncoding, &entries[i]); err != nil {
			return entries, fmt.Errorf("failed to decode entry %d: %w", i, err)
		}
		e := entries[i]
		if e.Status != 0x00 && e.Status != 0x80 {
			return entries, fmt.Errorf("entry %d has invalid status 0x%02X", i, e.Status)
		}
		if e.Type != TypeEmpty && (e.Sectors == 0 || e.StartLBA == 0) {
			return entries, fmt.Errorf("entry %d of type 0x%02X has no extent", i, e.Type)
		}
	}
	return entries, nil
}

// ParseMBR decodes a partition table sector found at base. Entry offsets are
// taken relative to base, which is exact for a master boot record at the
// start of a disk and for the first slot of an extended boot record.
// Extended and protective slots are not reported.
func ParseMBR(sector []byte, base uint64, sectorSize uint32, capacity uint64) (*Table, error) {
	entries, err := parseMBREntries(sector)
	if err != nil {
		return nil, err
	}
	ss := uint64(sectorSize)
	t := &Table{Scheme: types.SchemeMBR, Offset: base}
	for i, e := range entries {
		if e.Type == TypeEmpty || e.Type == TypeGPTProtective || e.isExtended() {
			continue
		}
		entry, ok := newMBREntry(i, e, base, ss, capacity)
		if !ok {
			return nil, fmt.Errorf("entry %d lies beyond the end of the volume", i)
		}
		t.Entries = append(t.Entries, entry)
	}
	if err := t.checkOverlaps(); err != nil {
		return nil, err
	}
	if len(t.Entries) == 0 {
		return t, errNoEntries
	}
	return t, nil
}

func newMBREntry(index int, e mbrEntry, base, ss, capacity uint64) (Entry, bool) {
	off := base + uint64(e.StartLBA)*ss
	size := uint64(e.Sectors) * ss
	if off >= capacity {
		return Entry{}, false
	}
	return Entry{
		Index:      index,
		Offset:     off,
		Size:       size,
		TypeCode:   e.Type,
		TypeName:   mbrTypeName(e.Type),
		Bootable:   e.Status == 0x80,
		FileSystem: mbrFileSystem(e.Type),
	}, true
}

// ReadMBR reads the table at offset and follows the extended boot record
// chain of any extended partition it describes
func ReadMBR(ctx context.Context, src interfaces.MetadataSource, offset uint64, sectorSize uint32) (*Table, error) {
	ss := uint64(sectorSize)
	sector, err := src.ReadCached(ctx, offset, 512)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition table: %w", err)
	}
	entries, err := parseMBREntries(sector)
	if err != nil {
		return nil, err
	}
	t, err := ParseMBR(sector, offset, sectorSize, src.Capacity())
	if err != nil && !errors.Is(err, errNoEntries) {
		return nil, err
	}

	for _, e := range entries {
		if !e.isExtended() {
			continue
		}
		logical, err := readExtended(ctx, src, offset+uint64(e.StartLBA)*ss, ss)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// logical partitions found before the break are still reported
			t.Warnings = append(t.Warnings, err.Error())
		}
		t.Entries = append(t.Entries, logical...)
	}

	if len(t.Entries) == 0 {
		return t, errNoEntries
	}
	return t, t.checkOverlaps()
}

// readExtended walks the extended boot record chain of an extended partition
// starting at extStart
func readExtended(ctx context.Context, src interfaces.MetadataSource, extStart, ss uint64) ([]Entry, error) {
	var out []Entry
	seen := make(map[uint64]bool)
	for ebr := extStart; len(out) < maxLogical; {
		if seen[ebr] {
			return out, fmt.Errorf("extended boot record chain loops at offset %d", ebr)
		}
		seen[ebr] = true

		sector, err := src.ReadCached(ctx, ebr, 512)
		if err != nil {
			return out, fmt.Errorf("failed to read extended boot record at %d: %w", ebr, err)
		}
		entries, err := parseMBREntries(sector)
		if err != nil {
			return out, fmt.Errorf("extended boot record at %d: %w", ebr, err)
		}

		if e := entries[0]; e.Type != TypeEmpty && !e.isExtended() {
			entry, ok := newMBREntry(firstLogicalIndex+len(out), e, ebr, ss, src.Capacity())
			if !ok {
				return out, fmt.Errorf("logical partition at %d lies beyond the end of the volume", ebr)
			}
			out = append(out, entry)
		}

		link := entries[1]
		if !link.isExtended() {
			return out, nil
		}
		// links are relative to the start of the extended partition
		ebr = extStart + uint64(link.StartLBA)*ss
	}
	return out, nil
}
