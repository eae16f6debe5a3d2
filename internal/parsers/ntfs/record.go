package ntfs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-restruct/restruct"

	"github.com/deploymenttheory/go-recovery/internal/helpers"
	"github.com/deploymenttheory/go-recovery/internal/types"
)

const (
	recordHeaderSize = 48
	fixupStride      = 512

	RecordInUse     = 0x0001
	RecordDirectory = 0x0002

	AttrStandardInformation = 0x10
	AttrAttributeList       = 0x20
	AttrFileName            = 0x30
	AttrData                = 0x80
	attrEnd                 = 0xFFFFFFFF

	AttrFlagCompressed = 0x0001
	AttrFlagEncrypted  = 0x4000
	AttrFlagSparse     = 0x8000

	fileAttrSparse     = 0x0200
	fileAttrCompressed = 0x0800
	fileAttrEncrypted  = 0x4000

	NamespacePOSIX    = 0
	NamespaceWin32    = 1
	NamespaceDOS      = 2
	NamespaceWin32DOS = 3
)

var (
	signatureFile = []byte("FILE")

	// errNotRecord marks slots that never held a record
	errNotRecord = errors.New("not an MFT record")
)

// RecordHeader is the fixed header of an MFT record
type RecordHeader struct {
	Signature    [4]byte
	UsaOffset    uint16
	UsaCount     uint16
	LSN          uint64
	Sequence     uint16
	LinkCount    uint16
	AttrOffset   uint16
	Flags        uint16
	BytesInUse   uint32
	BytesAlloc   uint32
	BaseRecord   uint64
	NextAttrID   uint16
	Reserved     uint16
	RecordNumber uint32
}

// InUse reports whether the record is allocated
func (h *RecordHeader) InUse() bool {
	return h.Flags&RecordInUse != 0
}

// IsDirectory reports whether the record describes a directory
func (h *RecordHeader) IsDirectory() bool {
	return h.Flags&RecordDirectory != 0
}

// BaseReference returns the base record number of an extension record, or 0
func (h *RecordHeader) BaseReference() uint64 {
	return h.BaseRecord & 0x0000FFFFFFFFFFFF
}

// attributeHeader is the common part of every attribute
type attributeHeader struct {
	Type        uint32
	Length      uint32
	NonResident uint8
	NameLength  uint8
	NameOffset  uint16
	Flags       uint16
	AttributeID uint16
}

type residentHeader struct {
	ValueLength uint32
	ValueOffset uint16
	Indexed     uint8
	Padding     uint8
}

type nonResidentHeader struct {
	StartVCN        uint64
	LastVCN         uint64
	RunlistOffset   uint16
	CompressionUnit uint16
	Padding         uint32
	AllocatedSize   uint64
	DataSize        uint64
	InitializedSize uint64
}

// Attribute is a decoded attribute of a record
type Attribute struct {
	Type        uint32
	Name        string
	NonResident bool
	Flags       uint16

	// resident attributes
	Value       []byte
	ValueOffset uint32

	// non-resident attributes
	StartVCN uint64
	DataSize uint64
	Runs     []Run
}

// StandardInformation is the $STANDARD_INFORMATION attribute
type StandardInformation struct {
	Created        uint64
	Modified       uint64
	MFTModified    uint64
	Accessed       uint64
	FileAttributes uint32
}

// FileName is the $FILE_NAME attribute
type FileName struct {
	ParentReference uint64
	Created         uint64
	Modified        uint64
	MFTModified     uint64
	Accessed        uint64
	AllocatedSize   uint64
	RealSize        uint64
	Flags           uint32
	Reparse         uint32
	NameLength      uint8
	Namespace       uint8

	Name string `struct:"-"`
}

// Parent returns the parent record number and sequence
func (fn *FileName) Parent() (uint64, uint16) {
	return fn.ParentReference & 0x0000FFFFFFFFFFFF, uint16(fn.ParentReference >> 48)
}

// Record is a decoded MFT record
type Record struct {
	Number     uint64
	Header     RecordHeader
	Attributes []Attribute
}

// applyFixups verifies the update sequence number at the end of each stride
// and restores the original bytes from the update sequence array
func applyFixups(buf []byte, h *RecordHeader) error {
	count := int(h.UsaCount)
	if count < 2 {
		return fmt.Errorf("update sequence array too short: %d", count)
	}
	usaEnd := int(h.UsaOffset) + 2*count
	if int(h.UsaOffset) < recordHeaderSize-6 || usaEnd > len(buf) {
		return fmt.Errorf("update sequence array at %d out of bounds", h.UsaOffset)
	}
	if (count-1)*fixupStride > len(buf) {
		return fmt.Errorf("update sequence array covers %d strides beyond the record", count-1)
	}

	usn := buf[h.UsaOffset : h.UsaOffset+2]
	for i := 1; i < count; i++ {
		end := i*fixupStride - 2
		if !bytes.Equal(buf[end:end+2], usn) {
			return fmt.Errorf("torn write: stride %d does not carry the update sequence number", i-1)
		}
		copy(buf[end:end+2], buf[int(h.UsaOffset)+2*i:])
	}
	return nil
}

// parseRecord decodes a raw record in place
func parseRecord(number uint64, buf []byte) (*Record, error) {
	if len(buf) < recordHeaderSize {
		return nil, errNotRecord
	}
	if !bytes.Equal(buf[:4], signatureFile) {
		return nil, errNotRecord
	}

	r := &Record{Number: number}
	if err := restruct.Unpack(buf[:recordHeaderSize], defaultEncoding, &r.Header); err != nil {
		return nil, err
	}
	if err := applyFixups(buf, &r.Header); err != nil {
		return nil, err
	}

	attrs, err := parseAttributes(buf, &r.Header)
	if err != nil {
		return nil, err
	}
	r.Attributes = attrs
	return r, nil
}

func parseAttributes(buf []byte, h *RecordHeader) ([]Attribute, error) {
	limit := min(int(h.BytesInUse), len(buf))
	var attrs []Attribute

	for off := int(h.AttrOffset); ; {
		if off+4 > limit {
			return nil, fmt.Errorf("attribute list runs past the record at %d", off)
		}
		if binary.LittleEndian.Uint32(buf[off:]) == attrEnd {
			return attrs, nil
		}
		if off+16 > limit {
			return nil, fmt.Errorf("attribute header at %d truncated", off)
		}

		var ah attributeHeader
		if err := restruct.Unpack(buf[off:off+16], defaultEncoding, &ah); err != nil {
			return nil, err
		}
		if ah.Length < 16 || ah.Length%8 != 0 || off+int(ah.Length) > limit {
			return nil, fmt.Errorf("attribute %#x at %d has invalid length %d", ah.Type, off, ah.Length)
		}
		raw := buf[off : off+int(ah.Length)]

		a := Attribute{Type: ah.Type, Flags: ah.Flags, NonResident: ah.NonResident != 0}
		if ah.NameLength > 0 {
			end := int(ah.NameOffset) + 2*int(ah.NameLength)
			if end > len(raw) {
				return nil, fmt.Errorf("attribute %#x name out of bounds", ah.Type)
			}
			a.Name = helpers.DecodeUTF16(raw[ah.NameOffset:end])
		}

		if a.NonResident {
			var nr nonResidentHeader
			if len(raw) < 64 {
				return nil, fmt.Errorf("non-resident attribute %#x truncated", ah.Type)
			}
			if err := restruct.Unpack(raw[16:64], defaultEncoding, &nr); err != nil {
				return nil, err
			}
			if int(nr.RunlistOffset) >= len(raw) {
				return nil, fmt.Errorf("runlist of attribute %#x out of bounds", ah.Type)
			}
			runs, err := decodeRunlist(raw[nr.RunlistOffset:])
			if err != nil {
				return nil, fmt.Errorf("attribute %#x: %w", ah.Type, err)
			}
			a.StartVCN = nr.StartVCN
			a.DataSize = nr.DataSize
			a.Runs = runs
		} else {
			var rh residentHeader
			if len(raw) < 24 {
				return nil, fmt.Errorf("resident attribute %#x truncated", ah.Type)
			}
			if err := restruct.Unpack(raw[16:24], defaultEncoding, &rh); err != nil {
				return nil, err
			}
			end := int(rh.ValueOffset) + int(rh.ValueLength)
			if end > len(raw) {
				return nil, fmt.Errorf("resident value of attribute %#x out of bounds", ah.Type)
			}
			a.Value = raw[rh.ValueOffset:end]
			a.ValueOffset = uint32(off) + uint32(rh.ValueOffset)
			a.DataSize = uint64(rh.ValueLength)
		}

		attrs = append(attrs, a)
		off += int(ah.Length)
	}
}

// find returns the first attribute of a type with the given name
func (r *Record) find(kind uint32, name string) *Attribute {
	for i := range r.Attributes {
		if r.Attributes[i].Type == kind && r.Attributes[i].Name == name {
			return &r.Attributes[i]
		}
	}
	return nil
}

// Data returns the unnamed $DATA attribute starting at VCN 0
func (r *Record) Data() *Attribute {
	for i := range r.Attributes {
		a := &r.Attributes[i]
		if a.Type == AttrData && a.Name == "" && a.StartVCN == 0 {
			return a
		}
	}
	return nil
}

// StandardInformation decodes $STANDARD_INFORMATION
func (r *Record) StandardInformation() *StandardInformation {
	a := r.find(AttrStandardInformation, "")
	if a == nil || a.NonResident || len(a.Value) < 36 {
		return nil
	}
	si := &StandardInformation{}
	if err := restruct.Unpack(a.Value[:36], defaultEncoding, si); err != nil {
		return nil
	}
	return si
}

// FileName returns the $FILE_NAME preferred for display: Win32 names first,
// then POSIX, then DOS short names
func (r *Record) FileName() *FileName {
	rank := map[uint8]int{NamespaceWin32: 0, NamespaceWin32DOS: 0, NamespacePOSIX: 1, NamespaceDOS: 2}
	var best *FileName
	bestRank := 3
	for i := range r.Attributes {
		a := &r.Attributes[i]
		if a.Type != AttrFileName || a.NonResident {
			continue
		}
		fn, err := parseFileName(a.Value)
		if err != nil {
			continue
		}
		if rk, ok := rank[fn.Namespace]; ok && rk < bestRank {
			best, bestRank = fn, rk
		}
	}
	return best
}

func parseFileName(v []byte) (*FileName, error) {
	if len(v) < 66 {
		return nil, fmt.Errorf("file name attribute truncated")
	}
	fn := &FileName{}
	if err := restruct.Unpack(v[:66], defaultEncoding, fn); err != nil {
		return nil, err
	}
	end := 66 + 2*int(fn.NameLength)
	if end > len(v) {
		return nil, fmt.Errorf("file name runs past the attribute")
	}
	fn.Name = helpers.DecodeUTF16(v[66:end])
	return fn, nil
}

// Timestamps prefers $STANDARD_INFORMATION and falls back to $FILE_NAME
func (r *Record) Timestamps() types.Timestamps {
	if si := r.StandardInformation(); si != nil {
		return types.Timestamps{
			Created:  helpers.FromFiletime(si.Created),
			Modified: helpers.FromFiletime(si.Modified),
			Accessed: helpers.FromFiletime(si.Accessed),
		}
	}
	if fn := r.FileName(); fn != nil {
		return types.Timestamps{
			Created:  helpers.FromFiletime(fn.Created),
			Modified: helpers.FromFiletime(fn.Modified),
			Accessed: helpers.FromFiletime(fn.Accessed),
		}
	}
	return types.Timestamps{}
}

// fileFlags combines attribute flags with the DOS attributes of $STANDARD_INFORMATION
func (r *Record) fileFlags(data *Attribute) (compressed, encrypted, sparse bool) {
	if data != nil {
		compressed = data.Flags&AttrFlagCompressed != 0
		encrypted = data.Flags&AttrFlagEncrypted != 0
		sparse = data.Flags&AttrFlagSparse != 0
	}
	if si := r.StandardInformation(); si != nil {
		compressed = compressed || si.FileAttributes&fileAttrCompressed != 0
		encrypted = encrypted || si.FileAttributes&fileAttrEncrypted != 0
		sparse = sparse || si.FileAttributes&fileAttrSparse != 0
	}
	return compressed, encrypted, sparse
}

// attributeListEntry is one entry of a resident $ATTRIBUTE_LIST
type attributeListEntry struct {
	Type       uint32
	Length     uint16
	NameLength uint8
	NameOffset uint8
	StartVCN   uint64
	Reference  uint64
	AttrID     uint16
}

// Record returns the record number the entry points to
func (e *attributeListEntry) Record() uint64 {
	return e.Reference & 0x0000FFFFFFFFFFFF
}

func parseAttributeList(v []byte) ([]attributeListEntry, error) {
	var entries []attributeListEntry
	for off := 0; off+26 <= len(v); {
		var e attributeListEntry
		if err := restruct.Unpack(v[off:off+26], defaultEncoding, &e); err != nil {
			return nil, err
		}
		if e.Length < 26 || off+int(e.Length) > len(v) {
			return nil, fmt.Errorf("attribute list entry at %d has invalid length %d", off, e.Length)
		}
		entries = append(entries, e)
		off += int(e.Length)
	}
	return entries, nil
}
