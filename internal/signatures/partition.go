package signatures

import "bytes"

// StructureKind names an on-disk structure found by a partition scan
type StructureKind string

const (
	StructureMBR   StructureKind = "mbr"
	StructureGPT   StructureKind = "gpt"
	StructureNTFS  StructureKind = "ntfs"
	StructureFAT   StructureKind = "fat"
	StructureFAT32 StructureKind = "fat32"
	StructureExFAT StructureKind = "exfat"
	StructureAPFS  StructureKind = "apfs"
)

// PartitionSignature is a magic that identifies a partition table or boot sector
type PartitionSignature struct {
	Kind   StructureKind
	Magics []Magic
}

// PartitionMatch is a sector-aligned structure candidate
type PartitionMatch struct {
	Kind   StructureKind
	Offset uint64
}

var bootMarker = Magic{510, []byte{0x55, 0xAA}}

// PartitionSignatures returns the built-in structure table. Order matters:
// boot sectors are checked before the generic MBR marker.
func PartitionSignatures() []PartitionSignature {
	return []PartitionSignature{
		{Kind: StructureGPT, Magics: []Magic{{0, []byte("EFI PART")}}},
		{Kind: StructureNTFS, Magics: []Magic{{3, []byte("NTFS    ")}, bootMarker}},
		{Kind: StructureExFAT, Magics: []Magic{{3, []byte("EXFAT   ")}, bootMarker}},
		{Kind: StructureFAT32, Magics: []Magic{{82, []byte("FAT32   ")}, bootMarker}},
		{Kind: StructureFAT, Magics: []Magic{{54, []byte("FAT1")}, bootMarker}},
		{Kind: StructureAPFS, Magics: []Magic{{32, []byte("NXSB")}}},
		{Kind: StructureMBR, Magics: []Magic{bootMarker}},
	}
}

// partitionLookahead covers the boot marker at 510..511
const partitionLookahead = 512

// PartitionLookahead is the overlap needed between partition scan windows
func PartitionLookahead() int {
	return partitionLookahead
}

// MatchPartitions checks every sector-aligned offset of window for a known
// structure. At most one match is reported per sector.
func MatchPartitions(window []byte, base uint64, sectorSize uint32) []PartitionMatch {
	if sectorSize == 0 {
		sectorSize = 512
	}
	ss := uint64(sectorSize)
	sigs := PartitionSignatures()

	start := uint64(0)
	if rem := base % ss; rem != 0 {
		start = ss - rem
	}

	var out []PartitionMatch
	for pos := start; pos+partitionLookahead <= uint64(len(window)); pos += ss {
		sector := window[pos : pos+partitionLookahead]
		for _, sig := range sigs {
			if matchAll(sector, sig.Magics) {
				out = append(out, PartitionMatch{Kind: sig.Kind, Offset: base + pos})
				break
			}
		}
	}
	return out
}

func matchAll(b []byte, magics []Magic) bool {
	for _, m := range magics {
		if m.Offset+len(m.Value) > len(b) || !bytes.Equal(b[m.Offset:m.Offset+len(m.Value)], m.Value) {
			return false
		}
	}
	return true
}
