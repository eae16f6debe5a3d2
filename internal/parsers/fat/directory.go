package fat

import (
	"bytes"
	"strings"

	"github.com/go-restruct/restruct"

	"github.com/deploymenttheory/go-recovery/internal/helpers"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

const (
	dirEntrySize = 32

	markerEnd     = 0x00
	markerDeleted = 0xE5
	// markerKanji stands for a leading 0xE5 byte in a live name
	markerKanji = 0x05

	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = 0x0F

	lfnLastFlag = 0x40

	ntLowerBase = 0x08
	ntLowerExt  = 0x10
)

// DirEntry is the on-disk 8.3 directory entry
type DirEntry struct {
	Name           [11]byte
	Attr           uint8
	NTRes          uint8
	CreateTenths   uint8
	CreateTime     uint16
	CreateDate     uint16
	AccessDate     uint16
	FirstClusterHi uint16
	WriteTime      uint16
	WriteDate      uint16
	FirstClusterLo uint16
	FileSize       uint32
}

// FirstCluster combines the high and low cluster words
func (e *DirEntry) FirstCluster() uint32 {
	return uint32(e.FirstClusterHi)<<16 | uint32(e.FirstClusterLo)
}

// IsDeleted reports whether the entry carries the deletion marker
func (e *DirEntry) IsDeleted() bool {
	return e.Name[0] == markerDeleted
}

// IsDirectory reports whether the entry describes a directory
func (e *DirEntry) IsDirectory() bool {
	return e.Attr&AttrDirectory != 0
}

// IsDotEntry reports whether the entry is "." or ".."
func (e *DirEntry) IsDotEntry() bool {
	return e.Name[0] == '.' && (e.Name[1] == ' ' || (e.Name[1] == '.' && e.Name[2] == ' '))
}

// ShortName renders the 8.3 name. For deleted entries the lost first
// character is replaced by first, when known, or by an underscore.
func (e *DirEntry) ShortName(first byte) string {
	name := e.Name
	switch name[0] {
	case markerDeleted:
		if first == 0 {
			first = '_'
		}
		name[0] = first
	case markerKanji:
		name[0] = markerDeleted
	}

	base := strings.TrimRight(string(name[:8]), " ")
	ext := strings.TrimRight(string(name[8:]), " ")
	if e.NTRes&ntLowerBase != 0 {
		base = strings.ToLower(base)
	}
	if e.NTRes&ntLowerExt != 0 {
		ext = strings.ToLower(ext)
	}
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// Timestamps converts the DOS date and time fields
func (e *DirEntry) Timestamps() types.Timestamps {
	return types.Timestamps{
		Created:  helpers.FromDOSDateTime(e.CreateDate, e.CreateTime, e.CreateTenths),
		Modified: helpers.FromDOSDateTime(e.WriteDate, e.WriteTime, 0),
		Accessed: helpers.FromDOSDateTime(e.AccessDate, 0, 0),
	}
}

func parseDirEntry(raw []byte) (*DirEntry, error) {
	e := &DirEntry{}
	if err := restruct.Unpack(raw[:dirEntrySize], defaultEncoding, e); err != nil {
		return nil, err
	}
	return e, nil
}

// shortNameChecksum is the checksum long name entries store for their 8.3 name
func shortNameChecksum(name []byte) uint8 {
	var sum uint8
	for _, c := range name[:11] {
		sum = (sum&1)<<7 + sum>>1 + c
	}
	return sum
}

// longNamePart holds one decoded long name slot
type longNamePart struct {
	order    uint8
	checksum uint8
	units    []byte
}

func parseLongNamePart(raw []byte) longNamePart {
	units := make([]byte, 0, 26)
	units = append(units, raw[1:11]...)
	units = append(units, raw[14:26]...)
	units = append(units, raw[28:32]...)
	return longNamePart{order: raw[0], checksum: raw[13], units: units}
}

// longNameAccumulator collects long name slots preceding a short entry.
// Slots are stored on disk last part first.
type longNameAccumulator struct {
	parts []longNamePart
}

func (a *longNameAccumulator) add(p longNamePart) {
	// a live slot flagged as last starts a new sequence
	if p.order&lfnLastFlag != 0 && p.order != markerDeleted {
		a.parts = a.parts[:0]
	}
	a.parts = append(a.parts, p)
}

func (a *longNameAccumulator) reset() {
	a.parts = a.parts[:0]
}

// resolve returns the long name for the short entry, plus the recovered first
// character of a deleted short name. It returns "" when no consistent
// sequence precedes the entry.
func (a *longNameAccumulator) resolve(e *DirEntry) (string, byte) {
	defer a.reset()
	if len(a.parts) == 0 {
		return "", 0
	}

	want := a.parts[0].checksum
	for _, p := range a.parts[1:] {
		if p.checksum != want {
			return "", 0
		}
	}

	var first byte
	name := e.Name
	if e.IsDeleted() {
		found := false
		for c := 0x20; c < 0x100; c++ {
			name[0] = byte(c)
			if shortNameChecksum(name[:]) == want {
				first, found = byte(c), true
				break
			}
		}
		if !found {
			return "", 0
		}
	} else if shortNameChecksum(name[:]) != want {
		return "", 0
	}

	var units []byte
	for i := len(a.parts) - 1; i >= 0; i-- {
		units = append(units, a.parts[i].units...)
	}
	units = helpers.TrimPadding(units)
	return helpers.DecodeUTF16(units), first
}

// isLikelyDirectory checks that a cluster starts with "." and ".." entries
func isLikelyDirectory(data []byte) bool {
	if len(data) < 2*dirEntrySize {
		return false
	}
	dot := []byte(".          ")
	dotdot := []byte("..         ")
	return bytes.Equal(data[0:11], dot) && data[11]&AttrDirectory != 0 &&
		bytes.Equal(data[32:43], dotdot) && data[43]&AttrDirectory != 0
}
