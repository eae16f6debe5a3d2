// Package partition decodes the on-disk structures that locate volumes:
// MBR and GPT partition tables, filesystem boot sectors and APFS container
// superblocks. A Locator turns what was found into candidate volumes.
package partition

import (
	"fmt"
	"slices"

	"github.com/deploymenttheory/go-recovery/internal/types"
)

// Entry is one partition described by a table. Offsets are absolute.
type Entry struct {
	Index  int
	Offset uint64
	Size   uint64

	// TypeCode is set for MBR entries, TypeGUID for GPT entries
	TypeCode uint8
	TypeGUID string
	TypeName string

	UUID     string
	Name     string
	Bootable bool

	// FileSystem is what the type alone implies; usually unknown
	FileSystem types.FileSystemType
}

// Range returns the byte range of the partition
func (e Entry) Range() types.ByteRange {
	return types.ByteRange{Offset: e.Offset, Length: e.Size}
}

// Table is a decoded MBR or GPT partition table
type Table struct {
	Scheme types.PartitionScheme
	// Offset is where the table structure was found
	Offset   uint64
	DiskGUID string
	// Backup is set for a GPT backup header
	Backup   bool
	Entries  []Entry
	Warnings []string
}

// checkOverlaps rejects tables whose entries claim the same sectors, which
// random data ending in a boot marker tends to produce
func (t *Table) checkOverlaps() error {
	sorted := slices.Clone(t.Entries)
	slices.SortFunc(sorted, func(a, b Entry) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		}
		return 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Range().Overlap(sorted[i].Range()) > 0 {
			return fmt.Errorf("entries %d and %d overlap", sorted[i-1].Index, sorted[i].Index)
		}
	}
	return nil
}

// String describes the table for diagnostics
func (t *Table) String() string {
	if t.DiskGUID != "" {
		return fmt.Sprintf("%s<offset=%d disk=%s entries=%d>", t.Scheme, t.Offset, t.DiskGUID, len(t.Entries))
	}
	return fmt.Sprintf("%s<offset=%d entries=%d>", t.Scheme, t.Offset, len(t.Entries))
}
