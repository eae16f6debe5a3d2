package exfat

import (
	"fmt"

	"github.com/go-restruct/restruct"

	"github.com/deploymenttheory/go-recovery/internal/helpers"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

const (
	entrySize = 32

	// entry type codes with the InUse bit cleared
	typeEndOfDirectory = 0x00
	typeFile           = 0x05
	typeStream         = 0x40
	typeFileName       = 0x41

	typeInUse = 0x80

	attrDirectory = 0x10

	flagNoFatChain = 0x02

	nameCharsPerEntry = 15
	minSecondaryCount = 2
	maxSecondaryCount = 18
)

// FileEntry is the primary entry of a file entry set
type FileEntry struct {
	EntryType                 uint8
	SecondaryCount            uint8
	SetChecksum               uint16
	FileAttributes            uint16
	Reserved1                 uint16
	CreateTimestamp           uint32
	LastModifiedTimestamp     uint32
	LastAccessedTimestamp     uint32
	Create10msIncrement       uint8
	LastModified10msIncrement uint8
	CreateUtcOffset           uint8
	LastModifiedUtcOffset     uint8
	LastAccessedUtcOffset     uint8
	Reserved2                 [7]byte
}

// StreamExtensionEntry locates the data of a file
type StreamExtensionEntry struct {
	EntryType             uint8
	GeneralSecondaryFlags uint8
	Reserved1             uint8
	NameLength            uint8
	NameHash              uint16
	Reserved2             uint16
	ValidDataLength       uint64
	Reserved3             uint32
	FirstCluster          uint32
	DataLength            uint64
}

// NoFatChain reports whether the allocation is contiguous and absent from the FAT
func (s *StreamExtensionEntry) NoFatChain() bool {
	return s.GeneralSecondaryFlags&flagNoFatChain != 0
}

// EntrySet is a decoded file entry set
type EntrySet struct {
	File    FileEntry
	Stream  StreamExtensionEntry
	Name    string
	Deleted bool
	// Slots is the number of 32 byte entries the set occupies
	Slots int
}

// IsDirectory reports whether the set describes a directory
func (s *EntrySet) IsDirectory() bool {
	return s.File.FileAttributes&attrDirectory != 0
}

// Timestamps converts the three timestamps of the primary entry
func (s *EntrySet) Timestamps() types.Timestamps {
	f := &s.File
	return types.Timestamps{
		Created:  helpers.FromExFATTimestamp(f.CreateTimestamp, f.Create10msIncrement, f.CreateUtcOffset),
		Modified: helpers.FromExFATTimestamp(f.LastModifiedTimestamp, f.LastModified10msIncrement, f.LastModifiedUtcOffset),
		Accessed: helpers.FromExFATTimestamp(f.LastAccessedTimestamp, 0, f.LastAccessedUtcOffset),
	}
}

// setChecksum computes the checksum over an entry set, skipping the checksum
// field itself. Deleted sets are checked with their InUse bits restored.
func setChecksum(raw []byte, restoreInUse bool) uint16 {
	var sum uint16
	for i, b := range raw {
		if i == 2 || i == 3 {
			continue
		}
		if restoreInUse && i%entrySize == 0 {
			b |= typeInUse
		}
		sum = (sum&1)<<15 + sum>>1 + uint16(b)
	}
	return sum
}

// parseEntrySet decodes the entry set starting at data[0], which must be a
// file entry. It returns the number of slots consumed even on error so the
// caller can resume after the damaged set.
func parseEntrySet(data []byte) (*EntrySet, error) {
	set := &EntrySet{Slots: 1}
	if err := restruct.Unpack(data[:entrySize], defaultEncoding, &set.File); err != nil {
		return set, err
	}
	set.Deleted = set.File.EntryType&typeInUse == 0

	count := int(set.File.SecondaryCount)
	if count < minSecondaryCount || count > maxSecondaryCount {
		return set, fmt.Errorf("invalid secondary count %d", count)
	}
	if (count+1)*entrySize > len(data) {
		return set, fmt.Errorf("entry set of %d entries truncated", count+1)
	}
	raw := data[:(count+1)*entrySize]

	for i := 1; i <= count; i++ {
		e := raw[i*entrySize : (i+1)*entrySize]
		if e[0]&typeInUse != set.File.EntryType&typeInUse {
			return set, fmt.Errorf("secondary entry %d disagrees on deletion state", i)
		}
	}
	set.Slots = count + 1

	if raw[entrySize]&^typeInUse != typeStream {
		return set, fmt.Errorf("stream extension missing, found type %#x", raw[entrySize])
	}
	if err := restruct.Unpack(raw[entrySize:2*entrySize], defaultEncoding, &set.Stream); err != nil {
		return set, err
	}

	if got := setChecksum(raw, set.Deleted); got != set.File.SetChecksum {
		return set, fmt.Errorf("set checksum %#04x does not match stored %#04x", got, set.File.SetChecksum)
	}

	nameLen := int(set.Stream.NameLength)
	if nameLen == 0 || nameLen > (count-1)*nameCharsPerEntry {
		return set, fmt.Errorf("name length %d does not fit %d name entries", nameLen, count-1)
	}
	units := make([]byte, 0, nameLen*2)
	for i := 2; i <= count && len(units) < nameLen*2; i++ {
		e := raw[i*entrySize : (i+1)*entrySize]
		if e[0]&^typeInUse != typeFileName {
			return set, fmt.Errorf("name entry expected at %d, found type %#x", i, e[0])
		}
		units = append(units, e[2:entrySize]...)
	}
	set.Name = helpers.DecodeUTF16(units[:nameLen*2])
	return set, nil
}
