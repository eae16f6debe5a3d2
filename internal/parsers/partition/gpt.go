package partition

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/deploymenttheory/go-recovery/internal/helpers"
	"github.com/deploymenttheory/go-recovery/internal/interfaces"
	"github.com/deploymenttheory/go-recovery/internal/types"
	"github.com/go-restruct/restruct"
	"github.com/google/uuid"
)

const (
	gptHeaderSize    = 92
	gptEntrySize     = 128
	gptEntryNameSize = 72
	maxGPTEntries    = 1024
)

var gptSignature = []byte("EFI PART")

// Common GPT partition type GUIDs
const (
	GUIDEFISystem      = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	GUIDBasicData      = "EBD0A0A2-B9E5-4433-87C0-68B6B72699C7"
	GUIDMSReserved     = "E3C9E316-0B5C-4DB8-817D-F92DF00215AE"
	GUIDWindowsRecover = "DE94BBA4-06D1-4D40-A16A-BFD50179D6AC"
	GUIDAPFS           = "7C3457EF-0000-11AA-AA11-00306543ECAC"
	GUIDHFSPlus        = "48465300-0000-11AA-AA11-00306543ECAC"
	GUIDLinux          = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	GUIDLinuxSwap      = "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"
)

// GPTTypes names the common partition type GUIDs
var GPTTypes = map[string]string{
	GUIDEFISystem:      "EFI System",
	GUIDBasicData:      "Microsoft basic data",
	GUIDMSReserved:     "Microsoft reserved",
	GUIDWindowsRecover: "Windows recovery environment",
	GUIDAPFS:           "Apple APFS",
	GUIDHFSPlus:        "Apple HFS/HFS+",
	GUIDLinux:          "Linux filesystem",
	GUIDLinuxSwap:      "Linux swap",
}

// GPTHeader is the GUID partition table header
type GPTHeader struct {
	Signature                [8]byte
	Revision                 uint32
	HeaderSize               uint32
	HeaderCRC32              uint32
	Reserved                 uint32
	MyLBA                    uint64
	AlternateLBA             uint64
	FirstUsableLBA           uint64
	LastUsableLBA            uint64
	DiskGUID                 [16]byte
	PartitionEntryLBA        uint64
	NumberOfPartitionEntries uint32
	SizeOfPartitionEntry     uint32
	PartitionEntryArrayCRC32 uint32
}

// gptEntry is one slot of the partition entry array
type gptEntry struct {
	PartitionTypeGUID   [16]byte
	UniquePartitionGUID [16]byte
	FirstLBA            uint64
	LastLBA             uint64
	Attributes          uint64
	PartitionName       [gptEntryNameSize]byte
}

// GUIDFromBytes converts a GUID as stored on disk, with its first three
// fields little endian, to a UUID
func GUIDFromBytes(b [16]byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:])
	return u
}

// GUIDToBytes is the inverse of GUIDFromBytes
func GUIDToBytes(u uuid.UUID) [16]byte {
	var b [16]byte
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:])
	return b
}

func formatGUID(b [16]byte) string {
	return strings.ToUpper(GUIDFromBytes(b).String())
}

// ParseGPTHeader decodes and checksums a GPT header sector
func ParseGPTHeader(sector []byte) (*GPTHeader, error) {
	if len(sector) < gptHeaderSize {
		return nil, fmt.Errorf("GPT header too short: %d bytes", len(sector))
	}
	h := &GPTHeader{}
	if err := restruct.Unpack(sector[:gptHeaderSize], defaultEncoding, h); err != nil {
		return nil, fmt.Errorf("failed to decode GPT header: %w", err)
	}
	if !bytes.Equal(h.Signature[:], gptSignature) {
		return nil, fmt.Errorf("invalid GPT signature: %q", h.Signature[:])
	}
	if h.HeaderSize < gptHeaderSize || int(h.HeaderSize) > len(sector) {
		return nil, fmt.Errorf("invalid GPT header size: %d", h.HeaderSize)
	}

	raw := bytes.Clone(sector[:h.HeaderSize])
	clear(raw[16:20])
	if sum := crc32.ChecksumIEEE(raw); sum != h.HeaderCRC32 {
		return nil, fmt.Errorf("GPT header checksum mismatch: stored 0x%08X, computed 0x%08X", h.HeaderCRC32, sum)
	}

	if h.SizeOfPartitionEntry < gptEntrySize || h.SizeOfPartitionEntry%8 != 0 {
		return nil, fmt.Errorf("unsupported GPT entry size: %d", h.SizeOfPartitionEntry)
	}
	if h.NumberOfPartitionEntries == 0 || h.NumberOfPartitionEntries > maxGPTEntries {
		return nil, fmt.Errorf("invalid GPT entry count: %d", h.NumberOfPartitionEntries)
	}
	if h.FirstUsableLBA > h.LastUsableLBA {
		return nil, fmt.Errorf("GPT usable range %d-%d is empty", h.FirstUsableLBA, h.LastUsableLBA)
	}
	return h, nil
}

// ReadGPT reads the GPT whose header sector is at offset. The header's own
// LBA fixes where the disk starts, so the backup header at the end of a disk
// yields the same table as the primary.
func ReadGPT(ctx context.Context, src interfaces.MetadataSource, offset uint64, sectorSize uint32) (*Table, error) {
	ss := uint64(sectorSize)
	sector, err := src.ReadCached(ctx, offset, sectorSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read GPT header: %w", err)
	}
	h, err := ParseGPTHeader(sector)
	if err != nil {
		return nil, err
	}
	if h.MyLBA*ss > offset {
		return nil, fmt.Errorf("GPT header at %d claims LBA %d", offset, h.MyLBA)
	}
	origin := offset - h.MyLBA*ss

	arrayOffset := origin + h.PartitionEntryLBA*ss
	arraySize := uint64(h.NumberOfPartitionEntries) * uint64(h.SizeOfPartitionEntry)
	array, err := src.ReadCached(ctx, arrayOffset, uint32(arraySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read GPT entry array at %d: %w", arrayOffset, err)
	}
	if sum := crc32.ChecksumIEEE(array); sum != h.PartitionEntryArrayCRC32 {
		return nil, fmt.Errorf("GPT entry array checksum mismatch: stored 0x%08X, computed 0x%08X", h.PartitionEntryArrayCRC32, sum)
	}

	t := &Table{
		Scheme:   types.SchemeGPT,
		Offset:   offset,
		DiskGUID: formatGUID(h.DiskGUID),
		Backup:   h.MyLBA > h.AlternateLBA,
	}
	capacity := src.Capacity()
	for i := uint32(0); i < h.NumberOfPartitionEntries; i++ {
		raw := array[uint64(i)*uint64(h.SizeOfPartitionEntry):]
		var e gptEntry
		if err := restruct.Unpack(raw[:gptEntrySize], defaultEncoding, &e); err != nil {
			return nil, fmt.Errorf("failed to decode GPT entry %d: %w", i, err)
		}
		if e.PartitionTypeGUID == [16]byte{} {
			continue
		}
		if e.LastLBA < e.FirstLBA {
			t.Warnings = append(t.Warnings, fmt.Sprintf("entry %d ends before it starts", i))
			continue
		}
		off := origin + e.FirstLBA*ss
		if off >= capacity {
			t.Warnings = append(t.Warnings, fmt.Sprintf("entry %d lies beyond the end of the volume", i))
			continue
		}

		typeGUID := formatGUID(e.PartitionTypeGUID)
		typeName, ok := GPTTypes[typeGUID]
		if !ok {
			typeName = typeGUID
		}
		entry := Entry{
			Index:    int(i),
			Offset:   off,
			Size:     (e.LastLBA - e.FirstLBA + 1) * ss,
			TypeGUID: typeGUID,
			TypeName: typeName,
			UUID:     formatGUID(e.UniquePartitionGUID),
			Name:     helpers.DecodeUTF16(e.PartitionName[:]),
		}
		if typeGUID == GUIDAPFS {
			entry.FileSystem = types.FileSystemAPFS
		}
		t.Entries = append(t.Entries, entry)
	}

	if len(t.Entries) == 0 {
		return t, errNoEntries
	}
	return t, t.checkOverlaps()
}
